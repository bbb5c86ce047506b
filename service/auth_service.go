package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/veltis-io/veltis-api/core"
	"github.com/veltis-io/veltis-api/metrics"
	"github.com/veltis-io/veltis-api/ports"
	"go.uber.org/zap"
)

const (
	DefaultNonceTTL      = 15 * time.Minute
	DefaultSessionTTL    = 24 * time.Hour
	DefaultFallbackNonce = "123456"
)

// Options tunes the authentication service. The Allow* switches enable the
// degraded paths used when the durable store cannot serve a request.
type Options struct {
	Platform   string
	NonceTTL   time.Duration
	SessionTTL time.Duration
	Retry      RetryPolicy

	AllowFallbackNonce   bool
	FallbackNonce        string
	AllowPlaceholderUser bool

	Logger  *zap.Logger
	Metrics *metrics.Metrics
	// Now stamps nonces and sessions. Build the NonceChain and the nonce
	// stores with the same clock.
	Now func() time.Time
}

// VerifyResult is the outcome of a successful wallet verification
type VerifyResult struct {
	Token   string
	User    *core.User
	Session *core.Session
}

// AuthService handles authentication business logic
type AuthService struct {
	nonces    *NonceChain
	users     ports.UserStore
	verifier  ports.SignatureVerifier
	tokenizer ports.Tokenizer
	eventPub  ports.EventPublisher

	opts    Options
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewAuthService creates a new authentication service
func NewAuthService(
	nonces *NonceChain,
	users ports.UserStore,
	verifier ports.SignatureVerifier,
	tokenizer ports.Tokenizer,
	eventPub ports.EventPublisher,
	opts Options,
) *AuthService {
	if opts.Platform == "" {
		opts.Platform = DefaultPlatformName
	}
	if opts.NonceTTL <= 0 {
		opts.NonceTTL = DefaultNonceTTL
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = DefaultSessionTTL
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = DefaultRetryPolicy()
	}
	if opts.FallbackNonce == "" {
		opts.FallbackNonce = DefaultFallbackNonce
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &AuthService{
		nonces:    nonces,
		users:     users,
		verifier:  verifier,
		tokenizer: tokenizer,
		eventPub:  eventPub,
		opts:      opts,
		logger:    opts.Logger.Named("auth"),
		metrics:   opts.Metrics,
		now:       opts.Now,
	}
}

// IssueNonce creates a fresh challenge nonce for address, superseding any
// earlier one, and returns its value.
func (s *AuthService) IssueNonce(ctx context.Context, address string) (string, error) {
	address = strings.TrimSpace(address)
	if !core.ValidWalletAddress(address) {
		return "", core.ErrInvalidWalletAddress
	}

	value, err := GenerateNonce()
	if err != nil {
		return "", fmt.Errorf("%w: %w", core.ErrNonceIssuanceFailed, err)
	}

	now := s.now()
	nonce := &core.Nonce{
		WalletAddress: core.NormalizeWalletAddress(address),
		Value:         value,
		CreatedAt:     now,
		ExpiresAt:     now.Add(s.opts.NonceTTL),
	}

	store, err := s.nonces.Issue(ctx, nonce)
	if err != nil {
		return "", err
	}

	s.logger.Debug("nonce issued",
		zap.String("wallet", nonce.WalletAddress),
		zap.String("store", store.Name()),
	)
	return value, nil
}

// Verify checks that signature signs the challenge issued to address and,
// on success, consumes the nonce and opens a session.
func (s *AuthService) Verify(ctx context.Context, address, signature string) (*VerifyResult, error) {
	address = strings.TrimSpace(address)
	if !core.ValidWalletAddress(address) {
		return nil, core.ErrInvalidWalletAddress
	}
	if strings.TrimSpace(signature) == "" {
		return nil, core.ErrSignatureRequired
	}
	wallet := core.NormalizeWalletAddress(address)

	nonce, _, err := s.nonces.Lookup(ctx, wallet)
	if err != nil {
		if !s.opts.AllowFallbackNonce || !errors.Is(err, core.ErrStoreUnavailable) {
			s.metrics.IncVerification("nonce_not_found")
			return nil, err
		}
		s.logger.Warn("nonce stores unavailable, using fallback nonce", zap.String("wallet", wallet), zap.Error(err))
		nonce = &core.Nonce{WalletAddress: wallet, Value: s.opts.FallbackNonce}
	}

	message := ChallengeMessage(s.opts.Platform, address, nonce.Value)
	if err := s.verifier.VerifySignature(message, signature, address); err != nil {
		s.metrics.IncVerification("invalid_signature")
		if !errors.Is(err, core.ErrInvalidSignature) {
			err = fmt.Errorf("%w: %w", core.ErrInvalidSignature, err)
		}
		return nil, err
	}

	user, err := s.resolveUser(ctx, wallet)
	if err != nil {
		s.metrics.IncVerification("user_resolution_failed")
		return nil, err
	}

	now := s.now()
	session := &core.Session{
		ID:            uuid.New().String(),
		UserID:        user.ID,
		WalletAddress: wallet,
		IssuedAt:      now,
		ExpiresAt:     now.Add(s.opts.SessionTTL),
	}

	token, err := s.tokenizer.SessionToAccessToken(session)
	if err != nil {
		s.metrics.IncVerification("token_failed")
		return nil, fmt.Errorf("failed to create access token: %w", err)
	}

	s.nonces.Consume(ctx, wallet)

	if err := s.eventPub.PublishLogin(ctx, wallet, user.ID); err != nil {
		s.logger.Warn("failed to publish login event", zap.String("wallet", wallet), zap.Error(err))
	}

	s.metrics.IncVerification("success")
	s.logger.Info("wallet authenticated", zap.String("wallet", wallet), zap.String("user_id", user.ID))

	return &VerifyResult{Token: token, User: user, Session: session}, nil
}

func (s *AuthService) resolveUser(ctx context.Context, wallet string) (*core.User, error) {
	user, err := retryValue(ctx, s.opts.Retry, s.notify("get_or_create_user"), func() (*core.User, error) {
		return s.users.GetOrCreateUser(ctx, wallet)
	})
	if err == nil {
		return user, nil
	}

	s.metrics.IncStoreError("users", "get_or_create_user")
	if !s.opts.AllowPlaceholderUser {
		return nil, fmt.Errorf("%w: %w", core.ErrUserResolutionFailed, err)
	}

	s.logger.Warn("user store unavailable, issuing placeholder identity", zap.String("wallet", wallet), zap.Error(err))
	return core.PlaceholderUser(wallet, s.now()), nil
}

func (s *AuthService) notify(op string) backoff.Notify {
	return func(err error, next time.Duration) {
		s.logger.Warn("user store call failed, retrying",
			zap.String("op", op),
			zap.Duration("next", next),
			zap.Error(err),
		)
	}
}

// ValidateAccessToken parses accessToken and returns the session it carries
func (s *AuthService) ValidateAccessToken(ctx context.Context, accessToken string) (*core.Session, error) {
	session, err := s.tokenizer.AccessTokenToSession(accessToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrUnauthorized, err)
	}

	if !session.ExpiresAt.After(s.now()) {
		return nil, fmt.Errorf("%w: %w", core.ErrUnauthorized, core.ErrTokenExpired)
	}

	return session, nil
}

// CurrentUser loads the identity the session is bound to
func (s *AuthService) CurrentUser(ctx context.Context, session *core.Session) (*core.User, error) {
	if session.UserID == core.PlaceholderUserID && s.opts.AllowPlaceholderUser {
		return core.PlaceholderUser(session.WalletAddress, session.IssuedAt), nil
	}

	user, err := retryValue(ctx, s.opts.Retry, s.notify("get_user"), func() (*core.User, error) {
		return s.users.GetUserByID(ctx, session.UserID)
	})
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, fmt.Errorf("user %s: %w", session.UserID, core.ErrNotFound)
		}
		return nil, fmt.Errorf("%w: %w", core.ErrUserResolutionFailed, err)
	}
	return user, nil
}

// Logout ends the session. Tokens are stateless, so this only announces the
// logout; the token itself stays valid until it expires.
func (s *AuthService) Logout(ctx context.Context, session *core.Session) error {
	if err := s.eventPub.PublishLogout(ctx, session.WalletAddress, session.UserID); err != nil {
		s.logger.Warn("failed to publish logout event", zap.String("wallet", session.WalletAddress), zap.Error(err))
	}
	return nil
}
