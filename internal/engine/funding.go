package engine

import (
	"fmt"

	"SynthPerp/internal/fpmath"
)

// fundingAdvance describes one market's index advance.
type fundingAdvance struct {
	asset       Asset
	rate        int64
	increment   int64
	newIndex    int64
	elapsedSecs int64
}

// advanceMarketFunding moves a market's global funding index forward if a
// full funding interval has elapsed. LastFundingTime is always advanced
// once the interval has passed, even when the computed increment is zero,
// so flat markets do not accumulate unbounded catch-up time.
func advanceMarketFunding(m *Market, now int64) (fundingAdvance, bool, error) {
	elapsed := now - m.LastFundingTime
	if elapsed < fpmath.FundingIntervalSeconds {
		return fundingAdvance{}, false, nil
	}

	rate := m.FundingRate()
	increment, err := fpmath.FundingIncrement(rate, elapsed)
	if err != nil {
		return fundingAdvance{}, false, fmt.Errorf("funding increment for %s: %w", m.Asset, ErrMathOverflow)
	}

	newIndex, err := fpmath.CheckedAdd(m.GlobalFundingIndex, increment)
	if err != nil {
		return fundingAdvance{}, false, fmt.Errorf("funding index for %s: %w", m.Asset, ErrMathOverflow)
	}

	m.GlobalFundingIndex = newIndex
	m.LastFundingTime = now

	return fundingAdvance{
		asset:       m.Asset,
		rate:        rate,
		increment:   increment,
		newIndex:    newIndex,
		elapsedSecs: elapsed,
	}, true, nil
}

// fundingOutcome describes funding applied to one position. Paid is the
// amount actually moved: positive when the user paid, negative when the
// user was credited.
type fundingOutcome struct {
	asset     Asset
	paid      int64
	index     int64
	shortfall bool
}

// settlePositionFunding reconciles one position against its market's global
// funding index. Longs pay when the index delta is positive, shorts when it
// is negative. A debit is capped at the available balance; the shortfall is
// absorbed, not carried as debt. The position's index is always advanced.
func settlePositionFunding(account *UserAccount, pos *Position, m *Market) (fundingOutcome, bool, error) {
	if !pos.IsOpen() {
		return fundingOutcome{}, false, nil
	}

	delta, err := fpmath.CheckedSub(m.GlobalFundingIndex, pos.LastFundingIndex)
	if err != nil {
		return fundingOutcome{}, false, fmt.Errorf("funding delta for %s: %w", m.Asset, ErrMathOverflow)
	}
	if delta == 0 {
		return fundingOutcome{}, false, nil
	}

	notional, err := fpmath.Notional(fpmath.Abs(pos.Size), pos.EntryPrice)
	if err != nil {
		return fundingOutcome{}, false, fmt.Errorf("funding notional for %s: %w", m.Asset, ErrMathOverflow)
	}
	amount, err := fpmath.FundingPayment(notional, delta)
	if err != nil {
		return fundingOutcome{}, false, fmt.Errorf("funding amount for %s: %w", m.Asset, ErrMathOverflow)
	}
	if pos.Size < 0 {
		amount = -amount
	}

	out := fundingOutcome{asset: m.Asset, index: m.GlobalFundingIndex}

	switch {
	case amount > 0:
		payment := amount
		if payment > account.Balance {
			payment = account.Balance
			out.shortfall = true
		}
		account.Balance -= payment
		out.paid = payment
	case amount < 0:
		balance, err := fpmath.CheckedAdd(account.Balance, -amount)
		if err != nil {
			return fundingOutcome{}, false, fmt.Errorf("funding credit for %s: %w", m.Asset, ErrMathOverflow)
		}
		account.Balance = balance
		out.paid = amount
	}

	pos.LastFundingIndex = m.GlobalFundingIndex
	return out, true, nil
}

// settleAccountFunding applies accrued funding across every instrument. It
// must run before any position or balance mutation so stale funding cannot
// be skipped by a size change.
func settleAccountFunding(account *UserAccount, markets map[Asset]*Market) ([]fundingOutcome, error) {
	var outcomes []fundingOutcome
	for _, asset := range Assets() {
		m, ok := markets[asset]
		if !ok {
			return nil, fmt.Errorf("settle funding: %w: %s", ErrMarketNotFound, asset)
		}
		out, applied, err := settlePositionFunding(account, account.Position(asset), m)
		if err != nil {
			return nil, err
		}
		if applied {
			outcomes = append(outcomes, out)
		}
	}
	return outcomes, nil
}
