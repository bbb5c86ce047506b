package service

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const DefaultPlatformName = "VELTIS"

var nonceLimit = new(big.Int).Lsh(big.NewInt(1), 128)

// ChallengeMessage renders the text the wallet signs. The address appears
// exactly as the client submitted it.
func ChallengeMessage(platform, address, nonce string) string {
	return fmt.Sprintf(
		"Welcome to %s!\n\nPlease sign this message to authenticate.\n\nWallet: %s\nNonce: %s",
		platform, address, nonce,
	)
}

// GenerateNonce returns a uniformly random 128-bit integer in decimal
func GenerateNonce() (string, error) {
	n, err := rand.Int(rand.Reader, nonceLimit)
	if err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return n.String(), nil
}
