package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/veltis-io/veltis-api/core"
	"github.com/veltis-io/veltis-api/ports"
)

// RedisNonceStore is a durable nonce store backed by Redis key expiry
type RedisNonceStore struct {
	client redis.UniversalClient
	prefix string
}

type redisNonce struct {
	Nonce     string    `json:"nonce"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewRedisNonceStore creates a new Redis nonce store
func NewRedisNonceStore(client redis.UniversalClient) *RedisNonceStore {
	return &RedisNonceStore{
		client: client,
		prefix: "veltis:nonce:",
	}
}

var _ ports.NonceStore = (*RedisNonceStore)(nil)

func (s *RedisNonceStore) Name() string { return "redis" }

// Put stores the nonce with a TTL matching its expiry
func (s *RedisNonceStore) Put(ctx context.Context, nonce *core.Nonce) error {
	ttl := time.Until(nonce.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("nonce already expired: %w", core.ErrInvalidInput)
	}

	payload, err := json.Marshal(redisNonce{
		Nonce:     nonce.Value,
		CreatedAt: nonce.CreatedAt,
		ExpiresAt: nonce.ExpiresAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal nonce: %w", err)
	}

	if err := s.client.Set(ctx, s.prefix+nonce.WalletAddress, payload, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store nonce: %w: %w", core.ErrStoreUnavailable, err)
	}

	return nil
}

// Get retrieves the nonce record for wallet
func (s *RedisNonceStore) Get(ctx context.Context, wallet string) (*core.Nonce, error) {
	payload, err := s.client.Get(ctx, s.prefix+wallet).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, core.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get nonce: %w: %w", core.ErrStoreUnavailable, err)
	}

	var rec redisNonce
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode nonce: %w", err)
	}

	return &core.Nonce{
		WalletAddress: wallet,
		Value:         rec.Nonce,
		CreatedAt:     rec.CreatedAt,
		ExpiresAt:     rec.ExpiresAt,
	}, nil
}

// Delete removes the nonce for wallet
func (s *RedisNonceStore) Delete(ctx context.Context, wallet string) error {
	if err := s.client.Del(ctx, s.prefix+wallet).Err(); err != nil {
		return fmt.Errorf("failed to delete nonce: %w: %w", core.ErrStoreUnavailable, err)
	}
	return nil
}
