// Package session holds the client-side state of a connected delegator:
// the selected account and its last known balance.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"subnet-delegation-service/internal/model"
	"subnet-delegation-service/internal/transport"

	"github.com/jonboulle/clockwork"
)

var ErrNotConnected = errors.New("no account connected")

// DefaultMaxAge is how long a fetched balance is served from cache.
const DefaultMaxAge = 30 * time.Second

type BalanceFetcher interface {
	FetchBalance(ctx context.Context, address string) (model.Balance, error)
}

type Session struct {
	chain  BalanceFetcher
	clock  clockwork.Clock
	maxAge time.Duration

	mu        sync.Mutex
	account   string
	balance   *model.Balance
	fetchedAt time.Time
}

type Option func(*Session)

func WithClock(clock clockwork.Clock) Option {
	return func(s *Session) { s.clock = clock }
}

func New(chain BalanceFetcher, opts ...Option) *Session {
	s := &Session{
		chain:  chain,
		clock:  clockwork.NewRealClock(),
		maxAge: DefaultMaxAge,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect selects the account the session acts for. Any cached balance
// of a previous account is dropped.
func (s *Session) Connect(account string) error {
	if _, err := transport.ParseAddress(account); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if account != s.account {
		s.balance = nil
	}
	s.account = account
	return nil
}

func (s *Session) Account() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.account == "" {
		return "", ErrNotConnected
	}
	return s.account, nil
}

// Balance returns the cached balance while it is fresh, otherwise it
// refreshes from the chain.
func (s *Session) Balance(ctx context.Context) (model.Balance, error) {
	s.mu.Lock()
	if s.balance != nil && s.clock.Since(s.fetchedAt) < s.maxAge {
		b := *s.balance
		s.mu.Unlock()
		return b, nil
	}
	s.mu.Unlock()
	return s.RefreshBalance(ctx)
}

func (s *Session) RefreshBalance(ctx context.Context) (model.Balance, error) {
	account, err := s.Account()
	if err != nil {
		return model.Balance{}, err
	}
	b, err := s.chain.FetchBalance(ctx, account)
	if err != nil {
		return model.Balance{}, fmt.Errorf("fetch balance for %s: %w", account, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.account == account {
		s.balance = &b
		s.fetchedAt = s.clock.Now()
	}
	return b, nil
}

// Invalidate forces the next Balance call to hit the chain, e.g. after a
// stake transaction.
func (s *Session) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balance = nil
}
