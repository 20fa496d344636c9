package engine

import (
	"fmt"

	"github.com/google/uuid"

	"SynthPerp/internal/fpmath"
)

// PositionStatus is a read-only projection of one position slot combined
// with its market and a fresh oracle price. Size is reported leveraged.
type PositionStatus struct {
	Asset             Asset `json:"asset_id"`
	Size              int64 `json:"size"`
	EntryPrice        int64 `json:"entry_price"`
	OraclePrice       int64 `json:"current_price_oracle"`
	MarkPrice         int64 `json:"current_price_amm"`
	UnrealizedPnL     int64 `json:"unrealized_pnl"`
	InitialMargin     int64 `json:"initial_margin"`
	MaintenanceMargin int64 `json:"maintenance_margin"`
	ClaimableValue    int64 `json:"claimable_value"`
	FundingIndex      int64 `json:"funding_index"`
	FundingRate       int64 `json:"funding_rate"`
	LastFundingTime   int64 `json:"last_funding_time"`
	Leverage          int64 `json:"leverage"`
}

// UserSnapshot is the full read-only view of one account.
type UserSnapshot struct {
	Owner     uuid.UUID                  `json:"owner"`
	Balance   int64                      `json:"balance"`
	Positions [AssetCount]PositionStatus `json:"positions"`
}

// MarketSnapshot is the read-only view of one market.
type MarketSnapshot struct {
	Asset           Asset `json:"asset_id"`
	OraclePrice     int64 `json:"current_price_oracle"`
	MarkPrice       int64 `json:"current_price_amm"`
	Skew            int64 `json:"skew"`
	FundingIndex    int64 `json:"funding_index"`
	FundingRate     int64 `json:"funding_rate"`
	LastFundingTime int64 `json:"last_funding_time"`
}

// positionStatus projects one slot. Maintenance margin is a conservative
// worst case: it uses the current mark value and the system maximum
// leverage, not the position's own leverage. Claimable value is the PnL
// when the position is still above water against its initial margin, and
// zero once pnl + initial margin has gone nonpositive.
func positionStatus(m *Market, pos *Position, oraclePrice int64) (PositionStatus, error) {
	markPrice := fpmath.PriceFromSkew(oraclePrice, m.Skew, fpmath.SkewScale)

	status := PositionStatus{
		Asset:           m.Asset,
		OraclePrice:     oraclePrice,
		MarkPrice:       markPrice,
		FundingIndex:    m.GlobalFundingIndex,
		FundingRate:     m.FundingRate(),
		LastFundingTime: m.LastFundingTime,
	}
	if !pos.IsOpen() {
		return status, nil
	}

	absSize := fpmath.Abs(pos.Size)
	entryValue, err := fpmath.LeveragedNotional(absSize, pos.Leverage, pos.EntryPrice)
	if err != nil {
		return PositionStatus{}, fmt.Errorf("entry value: %w", ErrMathOverflow)
	}
	currentValue, err := fpmath.LeveragedNotional(absSize, pos.Leverage, markPrice)
	if err != nil {
		return PositionStatus{}, fmt.Errorf("current value: %w", ErrMathOverflow)
	}

	pnl, err := fpmath.CheckedSub(currentValue, entryValue)
	if err != nil {
		return PositionStatus{}, fmt.Errorf("unrealized pnl: %w", ErrMathOverflow)
	}
	if pos.Size < 0 {
		pnl = -pnl
	}

	initialMargin, err := fpmath.RequiredMargin(entryValue, pos.Leverage)
	if err != nil {
		return PositionStatus{}, fmt.Errorf("initial margin: %w", ErrMathOverflow)
	}
	maintenanceMargin, err := fpmath.RequiredMargin(currentValue, fpmath.MaxLeverage)
	if err != nil {
		return PositionStatus{}, fmt.Errorf("maintenance margin: %w", ErrMathOverflow)
	}

	claimable := int64(0)
	if pnl+initialMargin > 0 {
		claimable = pnl
	}

	status.Size = pos.Size * pos.Leverage
	status.EntryPrice = pos.EntryPrice
	status.UnrealizedPnL = pnl
	status.InitialMargin = initialMargin
	status.MaintenanceMargin = maintenanceMargin
	status.ClaimableValue = claimable
	status.Leverage = pos.Leverage
	return status, nil
}

// marketSnapshot projects one market with a fresh oracle price.
func marketSnapshot(m *Market, oraclePrice int64) MarketSnapshot {
	return MarketSnapshot{
		Asset:           m.Asset,
		OraclePrice:     oraclePrice,
		MarkPrice:       fpmath.PriceFromSkew(oraclePrice, m.Skew, fpmath.SkewScale),
		Skew:            m.Skew,
		FundingIndex:    m.GlobalFundingIndex,
		FundingRate:     m.FundingRate(),
		LastFundingTime: m.LastFundingTime,
	}
}
