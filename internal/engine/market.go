package engine

import (
	"SynthPerp/internal/fpmath"
	"SynthPerp/internal/oracle"
)

// Market holds the aggregate state of one instrument. Exactly one Market
// exists per Asset; it is shared by every position on that instrument.
type Market struct {
	Asset      Asset
	OracleFeed oracle.FeedID

	// Skew is TotalLongSize - TotalShortSize. It drives both the
	// synthetic AMM price and the funding rate.
	Skew           int64
	TotalLongSize  int64
	TotalShortSize int64

	// LastFundingTime is the unix timestamp of the last funding-index
	// update.
	LastFundingTime int64

	// GlobalFundingIndex is the cumulative funding accumulator at 12
	// decimal places. It moves in either direction and is never reset.
	GlobalFundingIndex int64
}

// NewMarket creates a zeroed market for an asset.
func NewMarket(asset Asset, feed oracle.FeedID, now int64) *Market {
	return &Market{
		Asset:           asset,
		OracleFeed:      feed,
		LastFundingTime: now,
	}
}

// Clone returns an independent copy. Operations mutate clones and only
// persist them on success.
func (m *Market) Clone() *Market {
	c := *m
	return &c
}

// recomputeSkew refreshes Skew from the side totals. It must be called
// after every change to TotalLongSize or TotalShortSize.
func (m *Market) recomputeSkew() error {
	skew, err := fpmath.CheckedSub(m.TotalLongSize, m.TotalShortSize)
	if err != nil {
		return ErrMathOverflow
	}
	m.Skew = skew
	return nil
}

// FundingRate returns the market's current funding rate from its skew.
func (m *Market) FundingRate() int64 {
	return fpmath.FundingRateFromSkew(m.Skew, fpmath.SkewScale, fpmath.MaxFundingRate)
}
