// Package fpmath implements the fixed-point arithmetic used by the engine.
// All quantities are int64 at a documented decimal scale; every product of
// two 64-bit values goes through a big.Int intermediate so it cannot
// overflow before the final division.
package fpmath

import (
	"errors"
	"math"
	"math/big"
)

// Engine parameters. Percentages carry 4 decimals, prices 6, the funding
// index 12.
const (
	InitialBalance               int64 = 10_000_000_000 // $10,000 at 6 decimals
	InitialMarginRequirement     int64 = 1_000          // 10%
	MaintenanceMarginRequirement int64 = 500            // 5%
	MaxLeverage                  int64 = 10

	FundingIndexDecimals int64 = 1_000_000_000_000
	SkewScale            int64 = 1_000_000_000
	PriceDecimals        int64 = 1_000_000
	PercentageDecimals   int64 = 10_000

	FundingIntervalSeconds int64 = 3_600
	SecondsInDay           int64 = 86_400
	MaxFundingRate         int64 = 100 // 1% at 4 decimals
	TimeFactorDecimals     int64 = 1_000_000
)

// ErrOverflow is returned when a checked operation does not fit in int64.
var ErrOverflow = errors.New("fixed-point overflow")

// CheckedAdd returns a+b or ErrOverflow.
func CheckedAdd(a, b int64) (int64, error) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, ErrOverflow
	}
	return sum, nil
}

// CheckedSub returns a-b or ErrOverflow.
func CheckedSub(a, b int64) (int64, error) {
	diff := a - b
	if (b < 0 && diff < a) || (b > 0 && diff > a) {
		return 0, ErrOverflow
	}
	return diff, nil
}

// MulQuo computes a*b/den with a 128-bit intermediate, truncating toward
// zero. den must be nonzero.
func MulQuo(a, b, den int64) (int64, error) {
	prod := new(big.Int).Mul(big.NewInt(a), big.NewInt(b))
	prod.Quo(prod, big.NewInt(den))
	if !prod.IsInt64() {
		return 0, ErrOverflow
	}
	return prod.Int64(), nil
}

// mulQuoBig computes a*b/den in big.Int without the int64 range check.
func mulQuoBig(a, b, den int64) *big.Int {
	prod := new(big.Int).Mul(big.NewInt(a), big.NewInt(b))
	return prod.Quo(prod, big.NewInt(den))
}

// PriceFromSkew returns basePrice adjusted by skew/skewScale of itself.
// Positive skew (net long) raises the price, negative lowers it. The
// result is clamped to the valid price range instead of wrapping.
func PriceFromSkew(basePrice, skew, skewScale int64) int64 {
	adjusted := mulQuoBig(skew, basePrice, skewScale)
	adjusted.Add(adjusted, big.NewInt(basePrice))
	if adjusted.Sign() < 0 {
		return 0
	}
	if !adjusted.IsInt64() {
		return math.MaxInt64
	}
	return adjusted.Int64()
}

// FundingRateFromSkew returns skew*maxRate/skewScale, signed. A fully
// long-skewed market (skew == skewScale) pays exactly maxRate. Callers are
// responsible for configuring skewScale so open interest cannot exceed it.
func FundingRateFromSkew(skew, skewScale, maxRate int64) int64 {
	rate := mulQuoBig(skew, maxRate, skewScale)
	// Cannot exceed int64: |skew| and maxRate are both int64 and
	// skewScale >= 1, so the quotient fits whenever skew does.
	return rate.Int64()
}

// FundingIncrement converts a funding rate and elapsed seconds into a
// funding-index increment at FundingIndexDecimals precision. Hourly cadence
// accrues 1/24 of the daily rate.
func FundingIncrement(rate, elapsedSeconds int64) (int64, error) {
	timeFactor, err := MulQuo(elapsedSeconds, TimeFactorDecimals, SecondsInDay)
	if err != nil {
		return 0, err
	}
	return MulQuo(rate, timeFactor, PercentageDecimals*TimeFactorDecimals)
}

// Notional returns absSize*price/PriceDecimals.
func Notional(absSize, price int64) (int64, error) {
	return MulQuo(absSize, price, PriceDecimals)
}

// LeveragedNotional returns absSize*leverage*price/PriceDecimals.
func LeveragedNotional(absSize, leverage, price int64) (int64, error) {
	prod := new(big.Int).Mul(big.NewInt(absSize), big.NewInt(leverage))
	prod.Mul(prod, big.NewInt(price))
	prod.Quo(prod, big.NewInt(PriceDecimals))
	if !prod.IsInt64() {
		return 0, ErrOverflow
	}
	return prod.Int64(), nil
}

// RequiredMargin returns the initial margin locked against a leveraged
// notional: notional * InitialMarginRequirement / PercentageDecimals /
// leverage.
func RequiredMargin(leveragedNotional, leverage int64) (int64, error) {
	return MulQuo(leveragedNotional, InitialMarginRequirement, PercentageDecimals*leverage)
}

// FundingPayment returns notional*indexDelta/FundingIndexDecimals, signed
// with the sign of indexDelta.
func FundingPayment(notional, indexDelta int64) (int64, error) {
	return MulQuo(notional, indexDelta, FundingIndexDecimals)
}

// Abs returns |v|. MinInt64 has no positive counterpart and is rejected by
// the engine's size validation before this is reached.
func Abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
