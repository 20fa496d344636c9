package engine

import (
	"fmt"

	"SynthPerp/internal/fpmath"
)

// OpenResult reports the state written by a successful open.
type OpenResult struct {
	Asset      Asset
	Size       int64
	Leverage   int64
	EntryPrice int64
	Margin     int64
	Skew       int64
}

// CloseResult reports the settlement of a successful close.
type CloseResult struct {
	Asset     Asset
	Size      int64
	ExitPrice int64
	PnL       int64
	Margin    int64
	Skew      int64
}

// openPosition opens a position against a market, mutating both records.
// Funding must already be settled for the account. The entry price is
// derived from the skew AFTER this trade's size is applied, so opening
// always moves the price against the opener.
func openPosition(account *UserAccount, m *Market, size, leverage, basePrice int64) (OpenResult, error) {
	absSize := fpmath.Abs(size)

	if size > 0 {
		total, err := fpmath.CheckedAdd(m.TotalLongSize, absSize)
		if err != nil {
			return OpenResult{}, fmt.Errorf("long open interest: %w", ErrMathOverflow)
		}
		m.TotalLongSize = total
	} else {
		total, err := fpmath.CheckedAdd(m.TotalShortSize, absSize)
		if err != nil {
			return OpenResult{}, fmt.Errorf("short open interest: %w", ErrMathOverflow)
		}
		m.TotalShortSize = total
	}
	if err := m.recomputeSkew(); err != nil {
		return OpenResult{}, err
	}

	entryPrice := fpmath.PriceFromSkew(basePrice, m.Skew, fpmath.SkewScale)
	if entryPrice == 0 {
		// A skew at or below -SkewScale clamps the price to zero. A zero
		// entry would write a slot with size != 0 and entry == 0, breaking
		// the canonical-empty invariant and locking no margin at all.
		return OpenResult{}, fmt.Errorf("%w: skew-adjusted entry price is zero", ErrInvalidOraclePrice)
	}

	notional, err := fpmath.LeveragedNotional(absSize, leverage, entryPrice)
	if err != nil {
		return OpenResult{}, fmt.Errorf("open notional: %w", ErrMathOverflow)
	}
	margin, err := fpmath.RequiredMargin(notional, leverage)
	if err != nil {
		return OpenResult{}, fmt.Errorf("required margin: %w", ErrMathOverflow)
	}

	if account.Balance < margin {
		return OpenResult{}, fmt.Errorf("%w: need %d, have %d", ErrInsufficientBalance, margin, account.Balance)
	}

	pos := account.Position(m.Asset)
	if pos.IsOpen() {
		return OpenResult{}, fmt.Errorf("%w: %s", ErrPositionAlreadyExists, m.Asset)
	}

	balance, err := fpmath.CheckedSub(account.Balance, margin)
	if err != nil {
		return OpenResult{}, fmt.Errorf("margin debit: %w", ErrMathOverflow)
	}
	account.Balance = balance

	// Seed the position with the market's current index so it only accrues
	// funding from this point forward.
	*pos = Position{
		Size:             size,
		EntryPrice:       entryPrice,
		Leverage:         leverage,
		LastFundingIndex: m.GlobalFundingIndex,
	}

	return OpenResult{
		Asset:      m.Asset,
		Size:       size,
		Leverage:   leverage,
		EntryPrice: entryPrice,
		Margin:     margin,
		Skew:       m.Skew,
	}, nil
}

// closePosition closes a position, realizing PnL against the margin locked
// at open. The exit price uses the skew BEFORE this position's size is
// removed, so closing pays slippage too. A loss at or beyond the locked
// margin forfeits exactly the margin; the balance is never debited further.
func closePosition(account *UserAccount, m *Market, basePrice int64) (CloseResult, error) {
	pos := account.Position(m.Asset)
	if !pos.IsOpen() {
		return CloseResult{}, fmt.Errorf("%w: %s", ErrNoPositionExists, m.Asset)
	}

	exitPrice := fpmath.PriceFromSkew(basePrice, m.Skew, fpmath.SkewScale)

	absSize := fpmath.Abs(pos.Size)
	entryValue, err := fpmath.LeveragedNotional(absSize, pos.Leverage, pos.EntryPrice)
	if err != nil {
		return CloseResult{}, fmt.Errorf("entry value: %w", ErrMathOverflow)
	}
	exitValue, err := fpmath.LeveragedNotional(absSize, pos.Leverage, exitPrice)
	if err != nil {
		return CloseResult{}, fmt.Errorf("exit value: %w", ErrMathOverflow)
	}

	pnl, err := fpmath.CheckedSub(exitValue, entryValue)
	if err != nil {
		return CloseResult{}, fmt.Errorf("pnl: %w", ErrMathOverflow)
	}
	if pos.Size < 0 {
		pnl = -pnl
	}

	margin, err := fpmath.RequiredMargin(entryValue, pos.Leverage)
	if err != nil {
		return CloseResult{}, fmt.Errorf("locked margin: %w", ErrMathOverflow)
	}

	if pnl >= 0 {
		balance, err := fpmath.CheckedAdd(account.Balance, margin)
		if err != nil {
			return CloseResult{}, fmt.Errorf("margin release: %w", ErrMathOverflow)
		}
		balance, err = fpmath.CheckedAdd(balance, pnl)
		if err != nil {
			return CloseResult{}, fmt.Errorf("profit credit: %w", ErrMathOverflow)
		}
		account.Balance = balance
	} else if loss := -pnl; loss < margin {
		balance, err := fpmath.CheckedAdd(account.Balance, margin-loss)
		if err != nil {
			return CloseResult{}, fmt.Errorf("margin release: %w", ErrMathOverflow)
		}
		account.Balance = balance
	}
	// loss >= margin: the margin was removed at open and is now forfeited
	// in full; the balance is untouched.

	if pos.Size > 0 {
		if m.TotalLongSize < absSize {
			return CloseResult{}, fmt.Errorf("long open interest underflow: %w", ErrMathOverflow)
		}
		m.TotalLongSize -= absSize
	} else {
		if m.TotalShortSize < absSize {
			return CloseResult{}, fmt.Errorf("short open interest underflow: %w", ErrMathOverflow)
		}
		m.TotalShortSize -= absSize
	}
	if err := m.recomputeSkew(); err != nil {
		return CloseResult{}, err
	}

	size := pos.Size
	pos.clear()

	return CloseResult{
		Asset:     m.Asset,
		Size:      size,
		ExitPrice: exitPrice,
		PnL:       pnl,
		Margin:    margin,
		Skew:      m.Skew,
	}, nil
}
