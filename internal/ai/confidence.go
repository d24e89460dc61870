package ai

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"paperbot/internal/domain"
)

// ErrInsufficientData is returned by metric queries when too few outcomes
// have been recorded to say anything meaningful.
var ErrInsufficientData = errors.New("insufficient outcome history")

const (
	calibrationBins    = 10
	minSamplesForCalib = 20
	minSamplesPerBin   = 5
	minSamplesMetrics  = 10
	minSamplesRecent   = 5
	maxHistory         = 1000
)

var (
	one = decimal.NewFromInt(1)
	two = decimal.NewFromInt(2)

	weightTechnical  = decimal.RequireFromString("0.25")
	weightSentiment  = decimal.RequireFromString("0.15")
	weightLiquidity  = decimal.RequireFromString("0.20")
	weightRiskReward = decimal.RequireFromString("0.25")
	weightHistorical = decimal.RequireFromString("0.15")

	// Higher-risk tiers get their confidence discounted before calibration.
	tierAdjustments = map[domain.AssetTier]decimal.Decimal{
		domain.TierFoundation:  decimal.RequireFromString("1.0"),
		domain.TierGrowth:      decimal.RequireFromString("0.9"),
		domain.TierOpportunity: decimal.RequireFromString("0.8"),
	}

	// Unknown tiers are treated as the riskiest.
	defaultTierAdjustment = decimal.RequireFromString("0.8")

	wellCalibratedBrier = decimal.RequireFromString("0.2")
)

// ConfidenceFactors are the five independent 0-1 scores blended into a raw
// confidence value.
type ConfidenceFactors struct {
	TechnicalScore     decimal.Decimal // Technical indicator alignment
	SentimentScore     decimal.Decimal // Market sentiment strength
	LiquidityScore     decimal.Decimal // Liquidity adequacy
	RiskRewardScore    decimal.Decimal // Risk/reward ratio quality
	HistoricalAccuracy decimal.Decimal // Past accuracy for similar trades
}

// Validate checks that every factor is within [0, 1].
func (f ConfidenceFactors) Validate() error {
	for _, v := range []struct {
		name  string
		value decimal.Decimal
	}{
		{"technical score", f.TechnicalScore},
		{"sentiment score", f.SentimentScore},
		{"liquidity score", f.LiquidityScore},
		{"risk reward score", f.RiskRewardScore},
		{"historical accuracy", f.HistoricalAccuracy},
	} {
		if v.value.Sign() < 0 || v.value.GreaterThan(one) {
			return fmt.Errorf("%s must be between 0 and 1, got %s", v.name, v.value)
		}
	}
	return nil
}

// WeightedConfidence blends the factors with fixed weights, capped at 1.0.
func (f ConfidenceFactors) WeightedConfidence() decimal.Decimal {
	confidence := f.TechnicalScore.Mul(weightTechnical).
		Add(f.SentimentScore.Mul(weightSentiment)).
		Add(f.LiquidityScore.Mul(weightLiquidity)).
		Add(f.RiskRewardScore.Mul(weightRiskReward)).
		Add(f.HistoricalAccuracy.Mul(weightHistorical))
	return decimal.Min(confidence, one)
}

// TradeOutcome is an immutable calibration sample: what was predicted and
// what actually happened.
type TradeOutcome struct {
	PredictedConfidence decimal.Decimal
	Success             bool
	PNLPct              decimal.Decimal
	Timestamp           time.Time
}

// BinMetrics describes predicted-versus-actual accuracy in one confidence bin.
type BinMetrics struct {
	Bin                 string
	PredictedConfidence decimal.Decimal
	ActualSuccessRate   decimal.Decimal
	AvgPNLPct           decimal.Decimal
	Count               int
}

// CalibrationMetrics summarizes how well confidence predicts outcomes.
type CalibrationMetrics struct {
	TotalTrades        int
	OverallSuccessRate decimal.Decimal
	AverageConfidence  decimal.Decimal
	BrierScore         decimal.Decimal // Lower is better (0 = perfect)
	Bins               []BinMetrics
	WellCalibrated     bool
}

// ConfidenceScorer computes calibrated confidence scores from weighted
// factors and a bounded history of past outcomes.
type ConfidenceScorer struct {
	mu      sync.Mutex
	history []TradeOutcome
	now     func() time.Time
}

// NewConfidenceScorer creates a scorer with empty history.
func NewConfidenceScorer() *ConfidenceScorer {
	return &ConfidenceScorer{now: time.Now}
}

// CalculateConfidence returns the calibrated confidence for the factors and
// tier: the weighted blend, discounted by tier, then blended 50/50 with the
// empirical success rate of the matching confidence bin when enough history
// exists. The result is clamped to [0, 1].
func (s *ConfidenceScorer) CalculateConfidence(factors ConfidenceFactors, tier domain.AssetTier) (decimal.Decimal, error) {
	if err := factors.Validate(); err != nil {
		return decimal.Zero, err
	}

	base := factors.WeightedConfidence()

	adjustment, ok := tierAdjustments[tier]
	if !ok {
		adjustment = defaultTierAdjustment
	}
	adjusted := base.Mul(adjustment)

	s.mu.Lock()
	calibrated := s.applyCalibration(adjusted)
	s.mu.Unlock()

	return decimal.Max(decimal.Zero, decimal.Min(calibrated, one)), nil
}

// applyCalibration blends the raw value with the empirical success rate of
// its bin. Skipped entirely below minSamplesForCalib outcomes, and per bin
// below minSamplesPerBin. Caller must hold the mutex.
func (s *ConfidenceScorer) applyCalibration(raw decimal.Decimal) decimal.Decimal {
	if len(s.history) < minSamplesForCalib {
		return raw
	}

	binIndex := binFor(raw)
	trades := s.outcomesInBin(binIndex)
	if len(trades) < minSamplesPerBin {
		return raw
	}

	successes := 0
	for _, t := range trades {
		if t.Success {
			successes++
		}
	}
	successRate := decimal.NewFromInt(int64(successes)).Div(decimal.NewFromInt(int64(len(trades))))

	// 50/50 blend with the raw value to avoid over-fitting to the bin.
	return raw.Add(successRate).Div(two)
}

func binFor(confidence decimal.Decimal) int {
	idx := int(confidence.Mul(decimal.NewFromInt(calibrationBins)).IntPart())
	if idx >= calibrationBins {
		idx = calibrationBins - 1
	}
	if idx < 0 {
		idx = 0
	}
	return idx
}

// outcomesInBin returns recorded outcomes whose predicted confidence falls in
// [bin/10, (bin+1)/10). Caller must hold the mutex.
func (s *ConfidenceScorer) outcomesInBin(binIndex int) []TradeOutcome {
	binMin := decimal.NewFromInt(int64(binIndex)).Div(decimal.NewFromInt(calibrationBins))
	binMax := decimal.NewFromInt(int64(binIndex + 1)).Div(decimal.NewFromInt(calibrationBins))

	var trades []TradeOutcome
	for _, t := range s.history {
		if t.PredictedConfidence.GreaterThanOrEqual(binMin) && t.PredictedConfidence.LessThan(binMax) {
			trades = append(trades, t)
		}
	}
	return trades
}

// RecordOutcome appends one outcome to the history, dropping the oldest
// entries beyond the cap of 1000.
func (s *ConfidenceScorer) RecordOutcome(predictedConfidence decimal.Decimal, success bool, pnlPct decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history, TradeOutcome{
		PredictedConfidence: predictedConfidence,
		Success:             success,
		PNLPct:              pnlPct,
		Timestamp:           s.now(),
	})
	if len(s.history) > maxHistory {
		s.history = s.history[len(s.history)-maxHistory:]
	}
}

// OutcomeCount returns the number of outcomes currently held.
func (s *ConfidenceScorer) OutcomeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history)
}

// CalibrationMetrics computes per-bin and overall calibration statistics.
// Returns ErrInsufficientData below 10 recorded outcomes.
func (s *ConfidenceScorer) CalibrationMetrics() (*CalibrationMetrics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.history) < minSamplesMetrics {
		return nil, fmt.Errorf("calibration metrics need at least %d outcomes, have %d: %w",
			minSamplesMetrics, len(s.history), ErrInsufficientData)
	}

	metrics := &CalibrationMetrics{TotalTrades: len(s.history)}

	for binIdx := 0; binIdx < calibrationBins; binIdx++ {
		trades := s.outcomesInBin(binIdx)
		if len(trades) == 0 {
			continue
		}

		successes := 0
		avgPNL := decimal.Zero
		for _, t := range trades {
			if t.Success {
				successes++
			}
			avgPNL = avgPNL.Add(t.PNLPct)
		}
		count := decimal.NewFromInt(int64(len(trades)))

		binMin := decimal.NewFromInt(int64(binIdx)).Div(decimal.NewFromInt(calibrationBins))
		binMax := decimal.NewFromInt(int64(binIdx + 1)).Div(decimal.NewFromInt(calibrationBins))

		metrics.Bins = append(metrics.Bins, BinMetrics{
			Bin:                 fmt.Sprintf("%s-%s", binMin.StringFixed(1), binMax.StringFixed(1)),
			PredictedConfidence: binMin.Add(binMax).Div(two),
			ActualSuccessRate:   decimal.NewFromInt(int64(successes)).Div(count),
			AvgPNLPct:           avgPNL.Div(count),
			Count:               len(trades),
		})
	}

	total := decimal.NewFromInt(int64(len(s.history)))
	successes := 0
	sumConfidence := decimal.Zero
	brier := decimal.Zero
	for _, t := range s.history {
		actual := decimal.Zero
		if t.Success {
			successes++
			actual = one
		}
		sumConfidence = sumConfidence.Add(t.PredictedConfidence)
		diff := t.PredictedConfidence.Sub(actual)
		brier = brier.Add(diff.Mul(diff))
	}

	metrics.OverallSuccessRate = decimal.NewFromInt(int64(successes)).Div(total)
	metrics.AverageConfidence = sumConfidence.Div(total)
	metrics.BrierScore = brier.Div(total)
	metrics.WellCalibrated = metrics.BrierScore.LessThan(wellCalibratedBrier)

	return metrics, nil
}

// RecentAccuracy returns the success rate over outcomes recorded in the last
// N days. Returns ErrInsufficientData below 5 outcomes in the window.
func (s *ConfidenceScorer) RecentAccuracy(days int) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().AddDate(0, 0, -days)
	successes, count := 0, 0
	for _, t := range s.history {
		if t.Timestamp.After(cutoff) {
			count++
			if t.Success {
				successes++
			}
		}
	}

	if count < minSamplesRecent {
		return decimal.Zero, fmt.Errorf("recent accuracy needs at least %d outcomes in window, have %d: %w",
			minSamplesRecent, count, ErrInsufficientData)
	}
	return decimal.NewFromInt(int64(successes)).Div(decimal.NewFromInt(int64(count))), nil
}
