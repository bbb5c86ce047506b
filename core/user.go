package core

import "time"

const (
	KYCStatusNotSubmitted = "not_submitted"

	// PlaceholderUserID identifies the stand-in identity used when the
	// durable store cannot resolve a user and degraded mode is enabled.
	PlaceholderUserID = "00000000-0000-0000-0000-000000000000"
)

// User is the identity bound to a wallet address
type User struct {
	ID                  string
	WalletAddress       string
	SmartAccountAddress *string
	Email               *string
	Name                *string
	Institution         *string
	Role                *string
	KYCStatus           string
	TermsAccepted       bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// PlaceholderUser builds the anonymous identity for wallet
func PlaceholderUser(wallet string, now time.Time) *User {
	name := "Development User"
	return &User{
		ID:            PlaceholderUserID,
		WalletAddress: wallet,
		Name:          &name,
		KYCStatus:     KYCStatusNotSubmitted,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}
