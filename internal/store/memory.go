// Package store provides the persistence implementations behind the
// engine's Store interface: an in-memory store for tests and development,
// and a Postgres store for production.
package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"SynthPerp/internal/engine"
)

// Memory is an in-memory Store. All reads return deep copies, so callers
// can mutate freely and write back through Apply.
type Memory struct {
	mu          sync.RWMutex
	initialized bool
	admin       uuid.UUID
	markets     map[engine.Asset]*engine.Market
	accounts    map[uuid.UUID]*engine.UserAccount
}

func NewMemory() *Memory {
	return &Memory{
		markets:  make(map[engine.Asset]*engine.Market),
		accounts: make(map[uuid.UUID]*engine.UserAccount),
	}
}

func (s *Memory) Initialize(ctx context.Context, admin uuid.UUID, markets []*engine.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return engine.ErrAlreadyInitialized
	}
	s.initialized = true
	s.admin = admin
	for _, m := range markets {
		s.markets[m.Asset] = m.Clone()
	}
	return nil
}

func (s *Memory) Admin(ctx context.Context) (uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return uuid.Nil, engine.ErrNotInitialized
	}
	return s.admin, nil
}

func (s *Memory) Market(ctx context.Context, asset engine.Asset) (*engine.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[asset]
	if !ok {
		return nil, fmt.Errorf("%w: %s", engine.ErrMarketNotFound, asset)
	}
	return m.Clone(), nil
}

func (s *Memory) Markets(ctx context.Context) ([]*engine.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	markets := make([]*engine.Market, 0, len(s.markets))
	for _, asset := range engine.Assets() {
		if m, ok := s.markets[asset]; ok {
			markets = append(markets, m.Clone())
		}
	}
	return markets, nil
}

func (s *Memory) CreateAccount(ctx context.Context, account *engine.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[account.Owner]; ok {
		return fmt.Errorf("%w: %s", engine.ErrAccountExists, account.Owner)
	}
	s.accounts[account.Owner] = account.Clone()
	return nil
}

func (s *Memory) Account(ctx context.Context, owner uuid.UUID) (*engine.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[owner]
	if !ok {
		return nil, fmt.Errorf("%w: %s", engine.ErrAccountNotFound, owner)
	}
	return a.Clone(), nil
}

func (s *Memory) Apply(ctx context.Context, markets []*engine.Market, accounts []*engine.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Validate everything before touching the maps so a failed Apply
	// leaves no partial write behind.
	for _, a := range accounts {
		if _, ok := s.accounts[a.Owner]; !ok {
			return fmt.Errorf("%w: %s", engine.ErrAccountNotFound, a.Owner)
		}
	}
	for _, m := range markets {
		s.markets[m.Asset] = m.Clone()
	}
	for _, a := range accounts {
		s.accounts[a.Owner] = a.Clone()
	}
	return nil
}
