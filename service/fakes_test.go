package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/veltis-io/veltis-api/core"
	"github.com/veltis-io/veltis-api/ports"
)

var (
	errConnRefused = fmt.Errorf("connection refused: %w", core.ErrStoreUnavailable)

	fastRetry = RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, Multiplier: 2}
)

// testClock is a settable clock shared by the service and its stores
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Now()}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// mapStore is a NonceStore whose operations can be made to fail
type mapStore struct {
	mu      sync.Mutex
	name    string
	nonces  map[string]core.Nonce
	failPut bool
	failGet bool
	failDel bool
	calls   map[string]int
}

func newMapStore(name string) *mapStore {
	return &mapStore{name: name, nonces: map[string]core.Nonce{}, calls: map[string]int{}}
}

var _ ports.NonceStore = (*mapStore)(nil)

func (s *mapStore) Name() string { return s.name }

func (s *mapStore) Put(_ context.Context, n *core.Nonce) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["put"]++
	if s.failPut {
		return errConnRefused
	}
	s.nonces[n.WalletAddress] = *n
	return nil
}

func (s *mapStore) Get(_ context.Context, wallet string) (*core.Nonce, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["get"]++
	if s.failGet {
		return nil, errConnRefused
	}
	n, ok := s.nonces[wallet]
	if !ok {
		return nil, core.ErrNotFound
	}
	return &n, nil
}

func (s *mapStore) Delete(_ context.Context, wallet string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["delete"]++
	if s.failDel {
		return errConnRefused
	}
	delete(s.nonces, wallet)
	return nil
}

func (s *mapStore) has(wallet string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.nonces[wallet]
	return ok
}

func (s *mapStore) count(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *mapStore) down() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failPut, s.failGet, s.failDel = true, true, true
}

func (s *mapStore) up() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failPut, s.failGet, s.failDel = false, false, false
}

type memUsers struct {
	mu       sync.Mutex
	byWallet map[string]*core.User
	fail     bool
	calls    int
}

func newMemUsers() *memUsers {
	return &memUsers{byWallet: map[string]*core.User{}}
}

func (u *memUsers) GetOrCreateUser(_ context.Context, wallet string) (*core.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls++
	if u.fail {
		return nil, errConnRefused
	}
	if user, ok := u.byWallet[wallet]; ok {
		return user, nil
	}
	now := time.Now()
	user := &core.User{
		ID:            uuid.New().String(),
		WalletAddress: wallet,
		KYCStatus:     core.KYCStatusNotSubmitted,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	u.byWallet[wallet] = user
	return user, nil
}

func (u *memUsers) GetUserByID(_ context.Context, id string) (*core.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.fail {
		return nil, errConnRefused
	}
	for _, user := range u.byWallet {
		if user.ID == id {
			return user, nil
		}
	}
	return nil, core.ErrNotFound
}

// spyVerifier counts calls and delegates to next
type spyVerifier struct {
	next  ports.SignatureVerifier
	calls int
}

func (v *spyVerifier) VerifySignature(message, signature, address string) error {
	v.calls++
	return v.next.VerifySignature(message, signature, address)
}

type event struct {
	topic   string
	address string
	userID  string
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []event
}

func (p *recordingPublisher) PublishLogin(_ context.Context, address, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event{"login", address, userID})
	return nil
}

func (p *recordingPublisher) PublishLogout(_ context.Context, address, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event{"logout", address, userID})
	return nil
}
