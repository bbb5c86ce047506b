// Package ethsig verifies Ethereum personal-message signatures (EIP-191).
package ethsig

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/veltis-io/veltis-api/core"
	"github.com/veltis-io/veltis-api/ports"
)

// Verifier recovers the signer of a personal_sign message
type Verifier struct{}

// NewVerifier creates a new personal-message verifier
func NewVerifier() ports.SignatureVerifier {
	return Verifier{}
}

// VerifySignature checks that signature is address's signature over message.
// Every failure, including malformed input, is reported as core.ErrInvalidSignature.
func (Verifier) VerifySignature(message, signature, address string) error {
	recovered, err := RecoverAddress(message, signature)
	if err != nil {
		return err
	}

	if !strings.EqualFold(recovered.Hex(), strings.TrimSpace(address)) {
		return fmt.Errorf("recovered %s: %w", recovered.Hex(), core.ErrInvalidSignature)
	}

	return nil
}

// RecoverAddress returns the address that produced signature over message
func RecoverAddress(message, signature string) (common.Address, error) {
	sig, err := hexutil.Decode(normalizeHex(signature))
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to decode signature: %w", core.ErrInvalidSignature)
	}
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature must be %d bytes: %w", crypto.SignatureLength, core.ErrInvalidSignature)
	}

	// Wallets emit v as 27/28, recovery expects 0/1
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	if sig[crypto.RecoveryIDOffset] > 1 {
		return common.Address{}, fmt.Errorf("invalid recovery id: %w", core.ErrInvalidSignature)
	}

	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("signature recovery failed: %w", core.ErrInvalidSignature)
	}

	return crypto.PubkeyToAddress(*pub), nil
}

func normalizeHex(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0X") {
		return "0x" + s[2:]
	}
	if !strings.HasPrefix(s, "0x") {
		return "0x" + s
	}
	return s
}
