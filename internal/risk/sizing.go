package risk

import (
	"fmt"

	"github.com/shopspring/decimal"

	"paperbot/internal/domain"
)

var (
	hundred = decimal.NewFromInt(100)
	half    = decimal.RequireFromString("0.5")

	// Per-position caps as a percentage of portfolio value.
	tierPositionLimits = map[domain.AssetTier]decimal.Decimal{
		domain.TierFoundation:  decimal.RequireFromString("5.0"),
		domain.TierGrowth:      decimal.RequireFromString("3.0"),
		domain.TierOpportunity: decimal.RequireFromString("1.0"),
	}

	// Portfolio-level allocation caps per tier.
	tierPortfolioLimits = map[domain.AssetTier]decimal.Decimal{
		domain.TierFoundation:  decimal.RequireFromString("60.0"),
		domain.TierGrowth:      decimal.RequireFromString("40.0"),
		domain.TierOpportunity: decimal.RequireFromString("20.0"),
	}

	// DefaultMaxPositionPct is the hard per-trade cap when none is configured.
	DefaultMaxPositionPct = decimal.RequireFromString("2.0")

	// DefaultStopLossPct is the stop distance used when none is supplied.
	DefaultStopLossPct = decimal.RequireFromString("5.0")

	// Opportunity-tier positions never get a stop wider than this.
	opportunityMaxStopPct = decimal.RequireFromString("3.0")
)

// SizerParams holds the immutable inputs for one sizing decision.
type SizerParams struct {
	PortfolioValue decimal.Decimal
	WinRate        decimal.Decimal // 0.0 to 1.0
	AvgWin         decimal.Decimal // Average winning trade amount
	AvgLoss        decimal.Decimal // Average losing trade amount (positive)
	Confidence     decimal.Decimal // AI confidence score 0.0 to 1.0
	AssetTier      domain.AssetTier
	MaxPositionPct decimal.Decimal // Hard cap per trade (zero -> default 2%)
	KellyFraction  decimal.Decimal // Fraction of full Kelly (zero -> default 0.25)
}

// PositionSizer converts trade statistics, AI confidence and tier limits into
// a dollar position size, stop price and quantity. A single overly permissive
// signal can never override the others: the final size is the minimum of four
// independently computed caps.
type PositionSizer struct {
	params SizerParams
}

// NewPositionSizer validates the parameters and returns a sizer.
func NewPositionSizer(params SizerParams) (*PositionSizer, error) {
	if params.MaxPositionPct.IsZero() {
		params.MaxPositionPct = DefaultMaxPositionPct
	}
	if params.KellyFraction.IsZero() {
		params.KellyFraction = DefaultKellyFraction
	}

	if params.PortfolioValue.Sign() <= 0 {
		return nil, fmt.Errorf("portfolio value must be positive, got %s", params.PortfolioValue)
	}
	if params.WinRate.Sign() < 0 || params.WinRate.GreaterThan(one) {
		return nil, fmt.Errorf("win rate must be between 0 and 1, got %s", params.WinRate)
	}
	if params.Confidence.Sign() < 0 || params.Confidence.GreaterThan(one) {
		return nil, fmt.Errorf("confidence must be between 0 and 1, got %s", params.Confidence)
	}
	if params.AvgWin.Sign() <= 0 {
		return nil, fmt.Errorf("average win must be positive, got %s", params.AvgWin)
	}
	if params.AvgLoss.Sign() <= 0 {
		return nil, fmt.Errorf("average loss must be positive, got %s", params.AvgLoss)
	}
	if _, ok := tierPositionLimits[params.AssetTier]; !ok {
		return nil, fmt.Errorf("unknown asset tier %q", params.AssetTier)
	}

	return &PositionSizer{params: params}, nil
}

// PositionSize returns the dollar position size: the minimum of the
// fractional-Kelly fraction, the confidence-scaled fraction, the tier cap and
// the hard per-trade cap, applied to portfolio value.
func (s *PositionSizer) PositionSize() decimal.Decimal {
	kellyFraction := Kelly(s.params.WinRate, s.params.AvgWin, s.params.AvgLoss, s.params.KellyFraction)

	// Low confidence scales the hard cap down to half, full confidence keeps it.
	confidenceMultiplier := s.params.Confidence.Mul(half).Add(half)
	confidenceFraction := s.params.MaxPositionPct.Mul(confidenceMultiplier).Div(hundred)

	tierFraction := tierPositionLimits[s.params.AssetTier].Div(hundred)
	hardMax := s.params.MaxPositionPct.Div(hundred)

	fraction := decimal.Min(kellyFraction, confidenceFraction, tierFraction, hardMax)
	return fraction.Mul(s.params.PortfolioValue)
}

// StopLoss returns the stop-loss price for the given entry. The stop distance
// is clamped to 3% for OPPORTUNITY-tier assets regardless of the requested
// percentage.
func (s *PositionSizer) StopLoss(entryPrice, stopLossPct decimal.Decimal) (decimal.Decimal, error) {
	if entryPrice.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("entry price must be positive, got %s", entryPrice)
	}
	if stopLossPct.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("stop loss percentage must be positive, got %s", stopLossPct)
	}

	if s.params.AssetTier == domain.TierOpportunity {
		stopLossPct = decimal.Min(stopLossPct, opportunityMaxStopPct)
	}

	return entryPrice.Mul(one.Sub(stopLossPct.Div(hundred))), nil
}

// Quantity returns the position quantity at the given entry price.
func (s *PositionSizer) Quantity(entryPrice decimal.Decimal) (decimal.Decimal, error) {
	if entryPrice.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("entry price must be positive, got %s", entryPrice)
	}
	return s.PositionSize().Div(entryPrice), nil
}

// ValidateTierAllocation reports whether adding this position keeps the total
// tier exposure within the portfolio-level cap for the sizer's tier.
func (s *PositionSizer) ValidateTierAllocation(currentTierExposurePct decimal.Decimal) bool {
	tierLimit := tierPortfolioLimits[s.params.AssetTier]
	positionPct := s.PositionSize().Div(s.params.PortfolioValue).Mul(hundred)
	newExposure := currentTierExposurePct.Add(positionPct)
	return newExposure.LessThanOrEqual(tierLimit)
}

// RiskRewardRatio returns (takeProfit - entry) / (entry - stopLoss).
// The stop must be below the entry and the target above it.
func RiskRewardRatio(entryPrice, takeProfitPrice, stopLossPrice decimal.Decimal) (decimal.Decimal, error) {
	if entryPrice.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("entry price must be positive, got %s", entryPrice)
	}
	if stopLossPrice.GreaterThanOrEqual(entryPrice) {
		return decimal.Zero, fmt.Errorf("stop loss %s must be below entry price %s", stopLossPrice, entryPrice)
	}
	if takeProfitPrice.LessThanOrEqual(entryPrice) {
		return decimal.Zero, fmt.Errorf("take profit %s must be above entry price %s", takeProfitPrice, entryPrice)
	}

	potentialProfit := takeProfitPrice.Sub(entryPrice)
	potentialLoss := entryPrice.Sub(stopLossPrice)
	return potentialProfit.Div(potentialLoss), nil
}

// MinWinRateForProfitability returns the minimum win rate needed to break
// even at the given risk-reward ratio: 1 / (1 + rr).
func MinWinRateForProfitability(riskRewardRatio decimal.Decimal) decimal.Decimal {
	if riskRewardRatio.Sign() <= 0 {
		return one
	}
	return one.Div(one.Add(riskRewardRatio))
}
