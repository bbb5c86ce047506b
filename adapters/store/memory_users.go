package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/veltis-io/veltis-api/core"
	"github.com/veltis-io/veltis-api/ports"
)

// MemoryUserStore keeps identities in process memory. It backs the memory
// nonce backend for local runs without Postgres; identities do not survive
// a restart.
type MemoryUserStore struct {
	byWallet *cache.Cache
	byID     *cache.Cache
}

func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{
		byWallet: cache.New(cache.NoExpiration, 0),
		byID:     cache.New(cache.NoExpiration, 0),
	}
}

var _ ports.UserStore = (*MemoryUserStore)(nil)

// GetOrCreateUser returns the identity for wallet. Add is atomic, so
// concurrent first logins converge on whichever identity was added first.
// The id index is written before the wallet index, so any identity visible
// by wallet is also visible by id.
func (s *MemoryUserStore) GetOrCreateUser(ctx context.Context, wallet string) (*core.User, error) {
	if v, ok := s.byWallet.Get(wallet); ok {
		return copyUser(v.(*core.User)), nil
	}

	now := time.Now().UTC()
	u := &core.User{
		ID:            uuid.New().String(),
		WalletAddress: wallet,
		KYCStatus:     core.KYCStatusNotSubmitted,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.byID.Set(u.ID, u, cache.NoExpiration)
	if err := s.byWallet.Add(wallet, u, cache.NoExpiration); err != nil {
		s.byID.Delete(u.ID)
		v, _ := s.byWallet.Get(wallet)
		return copyUser(v.(*core.User)), nil
	}

	return copyUser(u), nil
}

func (s *MemoryUserStore) GetUserByID(ctx context.Context, id string) (*core.User, error) {
	v, ok := s.byID.Get(id)
	if !ok {
		return nil, core.ErrNotFound
	}
	return copyUser(v.(*core.User)), nil
}

func copyUser(u *core.User) *core.User {
	c := *u
	return &c
}
