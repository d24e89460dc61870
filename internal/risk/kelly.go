package risk

import "github.com/shopspring/decimal"

// Kelly criterion position sizing.
//
// Formula: f* = (p*b - q) / b, where p is the win rate, q = 1-p and b is the
// ratio of average win to average loss. Full Kelly is too volatile for live
// capital, so a fixed fractional multiplier is applied uniformly.

var (
	// DefaultKellyFraction is the conservative fraction of full Kelly used
	// when the caller has no reason to choose another.
	DefaultKellyFraction = decimal.RequireFromString("0.25")

	// MinWinRate is the minimum edge below which Kelly refuses to size a bet.
	MinWinRate = decimal.RequireFromString("0.51")
)

var one = decimal.NewFromInt(1)

// Kelly returns the recommended position size as a fraction of portfolio
// value in [0, 1]. It fails safe, returning zero, when the win rate is below
// MinWinRate, the average loss is zero, or the average win is not positive.
func Kelly(winRate, avgWin, avgLoss, fractional decimal.Decimal) decimal.Decimal {
	if winRate.LessThan(MinWinRate) {
		return decimal.Zero
	}
	if avgLoss.IsZero() {
		return decimal.Zero
	}
	if avgWin.Sign() <= 0 {
		return decimal.Zero
	}

	lossRate := one.Sub(winRate)
	winLossRatio := avgWin.Div(avgLoss)

	kelly := winRate.Mul(winLossRatio).Sub(lossRate).Div(winLossRatio)
	fractionalKelly := kelly.Mul(fractional)

	// Never negative, never above 100%.
	return decimal.Max(decimal.Zero, decimal.Min(fractionalKelly, one))
}
