// Package oracle defines the price-feed boundary. The engine never talks to
// a price source directly; it receives a Resolver and the opaque feed
// handles registered per market.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// FeedID is an opaque handle to an external price feed. The engine only
// ever compares handles and passes them to a Resolver.
type FeedID string

var (
	// ErrUnknownFeed is returned when a resolver has no source for the handle.
	ErrUnknownFeed = errors.New("unknown price feed")

	// ErrBadPrice is returned when a feed resolves to a malformed or
	// non-positive price.
	ErrBadPrice = errors.New("invalid oracle price")
)

// Resolver turns a feed handle into a normalized price with 6 decimal
// places.
type Resolver interface {
	Price(ctx context.Context, feed FeedID) (int64, error)
}

// Static is a fixed-table resolver used in tests and local development.
// Prices can be repointed at runtime; reads and writes are safe for
// concurrent use.
type Static struct {
	mu     sync.RWMutex
	prices map[FeedID]int64
}

// NewStatic creates a Static resolver seeded with the given prices.
func NewStatic(prices map[FeedID]int64) *Static {
	table := make(map[FeedID]int64, len(prices))
	for k, v := range prices {
		table[k] = v
	}
	return &Static{prices: table}
}

// Set updates or adds a feed price.
func (s *Static) Set(feed FeedID, price int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[feed] = price
}

// Price implements Resolver.
func (s *Static) Price(_ context.Context, feed FeedID) (int64, error) {
	s.mu.RLock()
	price, ok := s.prices[feed]
	s.mu.RUnlock()

	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownFeed, feed)
	}
	if price <= 0 {
		return 0, fmt.Errorf("%w: feed %s resolved to %d", ErrBadPrice, feed, price)
	}
	return price, nil
}
