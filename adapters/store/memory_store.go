package store

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/veltis-io/veltis-api/core"
	"github.com/veltis-io/veltis-api/ports"
)

// DefaultSweepInterval is how often expired volatile nonces are removed
const DefaultSweepInterval = 15 * time.Minute

// MemoryNonceStore is a process-local nonce store backed by go-cache.
// Entries are lost on restart. A single janitor goroutine per store sweeps
// expired entries, so create one store per process and share it.
type MemoryNonceStore struct {
	nonces *cache.Cache
	now    func() time.Time
}

// NewMemoryNonceStore creates a new in-memory nonce store. now decides
// expiry on reads and writes; nil means time.Now.
func NewMemoryNonceStore(sweepInterval time.Duration, now func() time.Time) *MemoryNonceStore {
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}
	if now == nil {
		now = time.Now
	}
	return &MemoryNonceStore{
		nonces: cache.New(cache.NoExpiration, sweepInterval),
		now:    now,
	}
}

var _ ports.NonceStore = (*MemoryNonceStore)(nil)

func (s *MemoryNonceStore) Name() string { return "memory" }

// Put inserts or overwrites the entry for the nonce's wallet
func (s *MemoryNonceStore) Put(ctx context.Context, nonce *core.Nonce) error {
	ttl := nonce.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		// go-cache treats a zero duration as "use the default", which here never expires
		s.nonces.Delete(nonce.WalletAddress)
		return nil
	}

	n := *nonce
	s.nonces.Set(nonce.WalletAddress, &n, ttl)
	return nil
}

// Get returns the live nonce for wallet. Expired entries read as absent but
// stay in place until the sweep or an explicit Delete removes them.
func (s *MemoryNonceStore) Get(ctx context.Context, wallet string) (*core.Nonce, error) {
	v, ok := s.nonces.Get(wallet)
	if !ok {
		return nil, core.ErrNotFound
	}

	stored := v.(*core.Nonce)
	if stored.Expired(s.now()) {
		return nil, core.ErrNotFound
	}

	n := *stored
	return &n, nil
}

// Delete removes the entry for wallet; deleting a missing entry is a no-op
func (s *MemoryNonceStore) Delete(ctx context.Context, wallet string) error {
	s.nonces.Delete(wallet)
	return nil
}

// Len returns the number of held entries, including expired ones not yet swept
func (s *MemoryNonceStore) Len() int {
	return s.nonces.ItemCount()
}
