package oracle_test

import (
	"context"
	"errors"
	"testing"

	"SynthPerp/internal/oracle"
)

func TestStatic_KnownFeed(t *testing.T) {
	resolver := oracle.NewStatic(map[oracle.FeedID]int64{
		"feed:gold": 2_000_000_000,
	})

	price, err := resolver.Price(context.Background(), "feed:gold")
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if price != 2_000_000_000 {
		t.Errorf("got %d, want 2_000_000_000", price)
	}
}

func TestStatic_UnknownFeed(t *testing.T) {
	resolver := oracle.NewStatic(nil)

	_, err := resolver.Price(context.Background(), "feed:missing")
	if !errors.Is(err, oracle.ErrUnknownFeed) {
		t.Fatalf("got %v, want ErrUnknownFeed", err)
	}
}

func TestStatic_NonPositivePriceRejected(t *testing.T) {
	resolver := oracle.NewStatic(map[oracle.FeedID]int64{
		"feed:zero": 0,
		"feed:neg":  -5,
	})

	for _, feed := range []oracle.FeedID{"feed:zero", "feed:neg"} {
		if _, err := resolver.Price(context.Background(), feed); !errors.Is(err, oracle.ErrBadPrice) {
			t.Errorf("%s: got %v, want ErrBadPrice", feed, err)
		}
	}
}

func TestStatic_SetRepointsFeed(t *testing.T) {
	resolver := oracle.NewStatic(map[oracle.FeedID]int64{
		"feed:sol": 150_000_000,
	})
	resolver.Set("feed:sol", 175_000_000)

	price, err := resolver.Price(context.Background(), "feed:sol")
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if price != 175_000_000 {
		t.Errorf("got %d, want 175_000_000", price)
	}
}
