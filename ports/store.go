package ports

import (
	"context"

	"github.com/veltis-io/veltis-api/core"
)

// NonceStore holds at most one outstanding nonce per wallet address.
// Get returns core.ErrNotFound when the wallet has no record.
type NonceStore interface {
	Name() string
	Put(ctx context.Context, nonce *core.Nonce) error
	Get(ctx context.Context, wallet string) (*core.Nonce, error)
	Delete(ctx context.Context, wallet string) error
}

// UserStore owns the persisted user identities
type UserStore interface {
	// GetOrCreateUser returns the identity for wallet, creating it on first use
	GetOrCreateUser(ctx context.Context, wallet string) (*core.User, error)
	GetUserByID(ctx context.Context, id string) (*core.User, error)
}
