// Package event defines the outbound events the engine emits after a
// successful state transition. Downstream consumers receive them over NATS;
// delivery is best-effort and never gates engine correctness.
package event

import (
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypeAccountCreated       Type = "account_created"
	TypePositionOpened       Type = "position_opened"
	TypePositionClosed       Type = "position_closed"
	TypeFundingIndexAdvanced Type = "funding_index_advanced"
	TypeFundingApplied       Type = "funding_applied"
)

// Event is implemented by every outbound payload.
type Event interface {
	EventType() Type
}

type AccountCreated struct {
	Owner     uuid.UUID `json:"owner"`
	Balance   int64     `json:"balance"`
	Timestamp time.Time `json:"timestamp"`
}

func (AccountCreated) EventType() Type { return TypeAccountCreated }

type PositionOpened struct {
	Owner      uuid.UUID `json:"owner"`
	Asset      string    `json:"asset"`
	Size       int64     `json:"size"`
	Leverage   int64     `json:"leverage"`
	EntryPrice int64     `json:"entry_price"`
	Margin     int64     `json:"margin"`
	Skew       int64     `json:"skew"`
	Timestamp  time.Time `json:"timestamp"`
}

func (PositionOpened) EventType() Type { return TypePositionOpened }

type PositionClosed struct {
	Owner     uuid.UUID `json:"owner"`
	Asset     string    `json:"asset"`
	Size      int64     `json:"size"`
	ExitPrice int64     `json:"exit_price"`
	PnL       int64     `json:"pnl"`
	Margin    int64     `json:"margin"`
	Skew      int64     `json:"skew"`
	Timestamp time.Time `json:"timestamp"`
}

func (PositionClosed) EventType() Type { return TypePositionClosed }

type FundingIndexAdvanced struct {
	Asset       string    `json:"asset"`
	FundingRate int64     `json:"funding_rate"`
	IndexDelta  int64     `json:"index_delta"`
	GlobalIndex int64     `json:"global_index"`
	ElapsedSecs int64     `json:"elapsed_seconds"`
	Timestamp   time.Time `json:"timestamp"`
}

func (FundingIndexAdvanced) EventType() Type { return TypeFundingIndexAdvanced }

type FundingApplied struct {
	Owner uuid.UUID `json:"owner"`
	Asset string    `json:"asset"`

	// Paid is positive when the user paid funding, negative when the
	// user received it. It reflects the applied amount after the
	// balance cap.
	Paid      int64     `json:"paid"`
	Index     int64     `json:"index"`
	Timestamp time.Time `json:"timestamp"`
}

func (FundingApplied) EventType() Type { return TypeFundingApplied }
