package core

import (
	"regexp"
	"strings"
	"time"
)

var walletAddressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// Nonce is a single-use challenge issued to one wallet
type Nonce struct {
	WalletAddress string    // Lowercase wallet address, unique key
	Value         string    // Random value embedded in the challenge message
	CreatedAt     time.Time // When the nonce was issued
	ExpiresAt     time.Time // When the nonce stops being accepted
}

// Expired reports whether the nonce is no longer live at now
func (n *Nonce) Expired(now time.Time) bool {
	return !n.ExpiresAt.After(now)
}

// Session represents an authenticated user session
type Session struct {
	ID            string    // Unique token identifier
	UserID        string    // Identity the session is bound to
	WalletAddress string    // Lowercase wallet address of the user
	IssuedAt      time.Time // When the session was created
	ExpiresAt     time.Time // When the session token stops being accepted
}

// ValidWalletAddress reports whether address is 0x followed by 40 hex characters
func ValidWalletAddress(address string) bool {
	return walletAddressPattern.MatchString(address)
}

// NormalizeWalletAddress returns the canonical key form of a wallet address
func NormalizeWalletAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}
