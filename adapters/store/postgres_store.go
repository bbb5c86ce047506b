package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/veltis-io/veltis-api/core"
	"github.com/veltis-io/veltis-api/ports"
	"go.uber.org/zap"
)

//go:embed schema.sql
var schemaSQL string

const userColumns = `id::text, wallet_address, smart_account_address, email, name, institution, role, kyc_status, terms_accepted, created_at, updated_at`

// PostgresStore keeps nonces and user identities in Postgres
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore opens a connection pool. The pool connects lazily, so the
// service starts even while the database is down and runs in degraded mode.
func NewPostgresStore(ctx context.Context, dsn string, maxConns int32, logger *zap.Logger) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		logger.Warn("postgres ping failed at startup, continuing", zap.Error(err))
	} else {
		logger.Info("postgres pool ready", zap.Int32("max_conns", cfg.MaxConns))
	}

	return &PostgresStore{pool: pool}, nil
}

var (
	_ ports.NonceStore = (*PostgresStore)(nil)
	_ ports.UserStore  = (*PostgresStore)(nil)
)

func (s *PostgresStore) Name() string { return "postgres" }

// Ping checks database connectivity
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the underlying pool
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Migrate applies the embedded schema; it is safe to run repeatedly
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Put stores the nonce, replacing any record left for the same wallet
func (s *PostgresStore) Put(ctx context.Context, nonce *core.Nonce) error {
	const q = `INSERT INTO nonces (wallet_address, nonce, created_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (wallet_address) DO UPDATE
		SET nonce = EXCLUDED.nonce, created_at = EXCLUDED.created_at, expires_at = EXCLUDED.expires_at`

	if _, err := s.pool.Exec(ctx, q, nonce.WalletAddress, nonce.Value, nonce.CreatedAt, nonce.ExpiresAt); err != nil {
		return fmt.Errorf("failed to store nonce: %w: %w", core.ErrStoreUnavailable, err)
	}
	return nil
}

// Get retrieves the nonce record for wallet, expired or not
func (s *PostgresStore) Get(ctx context.Context, wallet string) (*core.Nonce, error) {
	const q = `SELECT nonce, created_at, expires_at FROM nonces WHERE wallet_address = $1`

	n := &core.Nonce{WalletAddress: wallet}
	err := s.pool.QueryRow(ctx, q, wallet).Scan(&n.Value, &n.CreatedAt, &n.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get nonce: %w: %w", core.ErrStoreUnavailable, err)
	}

	return n, nil
}

// Delete removes the nonce for wallet
func (s *PostgresStore) Delete(ctx context.Context, wallet string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM nonces WHERE wallet_address = $1`, wallet); err != nil {
		return fmt.Errorf("failed to delete nonce: %w: %w", core.ErrStoreUnavailable, err)
	}
	return nil
}

// DeleteExpiredNonces removes every nonce whose expiry is at or before now
func (s *PostgresStore) DeleteExpiredNonces(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM nonces WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired nonces: %w: %w", core.ErrStoreUnavailable, err)
	}
	return tag.RowsAffected(), nil
}

// GetOrCreateUser returns the identity for wallet in one statement, so
// concurrent first logins for the same wallet converge on a single row.
func (s *PostgresStore) GetOrCreateUser(ctx context.Context, wallet string) (*core.User, error) {
	q := `INSERT INTO users (wallet_address) VALUES ($1)
		ON CONFLICT (wallet_address) DO UPDATE SET wallet_address = EXCLUDED.wallet_address
		RETURNING ` + userColumns

	u, err := scanUser(s.pool.QueryRow(ctx, q, wallet))
	if err != nil {
		return nil, fmt.Errorf("failed to get or create user: %w: %w", core.ErrStoreUnavailable, err)
	}
	return u, nil
}

// GetUserByID retrieves a user by id
func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (*core.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, core.ErrNotFound
	}

	u, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1::uuid`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w: %w", core.ErrStoreUnavailable, err)
	}
	return u, nil
}

func scanUser(row pgx.Row) (*core.User, error) {
	var u core.User
	err := row.Scan(
		&u.ID,
		&u.WalletAddress,
		&u.SmartAccountAddress,
		&u.Email,
		&u.Name,
		&u.Institution,
		&u.Role,
		&u.KYCStatus,
		&u.TermsAccepted,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}
