package core

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput         = errors.New("invalid input")
	ErrNotFound             = errors.New("not found")
	ErrNonceNotFound        = errors.New("nonce not found or expired")
	ErrNonceIssuanceFailed  = errors.New("nonce issuance failed")
	ErrInvalidSignature     = errors.New("invalid signature")
	ErrStoreUnavailable     = errors.New("store unavailable")
	ErrUserResolutionFailed = errors.New("user resolution failed")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrTokenExpired         = errors.New("token has expired")
	ErrInvalidToken         = errors.New("invalid token")
)

var (
	ErrInvalidWalletAddress = fmt.Errorf("invalid wallet address: %w", ErrInvalidInput)
	ErrSignatureRequired    = fmt.Errorf("signature is required: %w", ErrInvalidInput)
)
