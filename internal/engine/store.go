package engine

import (
	"context"

	"github.com/google/uuid"

	"SynthPerp/internal/event"
)

// Store is the persistence boundary. Implementations must return records
// that the caller owns outright: mutations to a returned Market or
// UserAccount are invisible until passed back through Apply.
type Store interface {
	// Initialize records the admin identity and the full market set.
	// Fails with ErrAlreadyInitialized on a second call.
	Initialize(ctx context.Context, admin uuid.UUID, markets []*Market) error

	// Admin returns the registered admin identity, or ErrNotInitialized.
	Admin(ctx context.Context) (uuid.UUID, error)

	// Market returns an independent copy of one market, or ErrMarketNotFound.
	Market(ctx context.Context, asset Asset) (*Market, error)

	// Markets returns independent copies of every market in asset order.
	Markets(ctx context.Context) ([]*Market, error)

	// CreateAccount stores a new account, or ErrAccountExists.
	CreateAccount(ctx context.Context, account *UserAccount) error

	// Account returns an independent copy of one account, or
	// ErrAccountNotFound.
	Account(ctx context.Context, owner uuid.UUID) (*UserAccount, error)

	// Apply persists the given records atomically: either every record is
	// written or none is.
	Apply(ctx context.Context, markets []*Market, accounts []*UserAccount) error
}

// Publisher receives outbound events after a state change has been
// persisted. Delivery is best-effort; implementations must not block the
// engine.
type Publisher interface {
	Publish(evt event.Event)
}
