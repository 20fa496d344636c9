package engine

import (
	"SynthPerp/internal/fpmath"

	"github.com/google/uuid"
)

// Position is one user's exposure on one instrument. The canonical empty
// slot is all-zero: Size == 0 ⇔ EntryPrice == 0 ⇔ Leverage == 0.
type Position struct {
	// Size is signed: positive long, negative short, zero empty.
	Size       int64
	EntryPrice int64
	Leverage   int64

	// LastFundingIndex is the market's global funding index as of the
	// last settlement against this position.
	LastFundingIndex int64
}

// IsOpen reports whether the slot holds a live position.
func (p *Position) IsOpen() bool {
	return p.Size != 0
}

// SideSign returns +1 for long, -1 for short, 0 for empty.
func (p *Position) SideSign() int64 {
	switch {
	case p.Size > 0:
		return 1
	case p.Size < 0:
		return -1
	default:
		return 0
	}
}

// clear resets the slot to the canonical empty state.
func (p *Position) clear() {
	*p = Position{}
}

// UserAccount is one user's ledger entry: free cash plus one position slot
// per instrument. Margin is not stored separately; it is re-derived from
// the open position on close.
type UserAccount struct {
	Owner   uuid.UUID
	Balance int64

	// Positions is keyed by Asset and always holds exactly AssetCount
	// entries.
	Positions map[Asset]*Position
}

// NewUserAccount creates an account with the starting balance and all
// position slots empty.
func NewUserAccount(owner uuid.UUID) *UserAccount {
	positions := make(map[Asset]*Position, AssetCount)
	for _, asset := range Assets() {
		positions[asset] = &Position{}
	}
	return &UserAccount{
		Owner:     owner,
		Balance:   fpmath.InitialBalance,
		Positions: positions,
	}
}

// Clone returns a deep copy of the account.
func (a *UserAccount) Clone() *UserAccount {
	positions := make(map[Asset]*Position, len(a.Positions))
	for asset, pos := range a.Positions {
		p := *pos
		positions[asset] = &p
	}
	return &UserAccount{
		Owner:     a.Owner,
		Balance:   a.Balance,
		Positions: positions,
	}
}

// Position returns the slot for an asset, creating an empty one if the
// account was restored without it.
func (a *UserAccount) Position(asset Asset) *Position {
	pos, ok := a.Positions[asset]
	if !ok {
		pos = &Position{}
		a.Positions[asset] = pos
	}
	return pos
}
