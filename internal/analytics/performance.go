package analytics

import (
	"math"

	"github.com/shopspring/decimal"

	"paperbot/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// Performance holds aggregate metrics over a sequence of closed round-trip
// trades.
type Performance struct {
	TotalTrades    int
	WinningTrades  int
	LosingTrades   int
	WinRate        decimal.Decimal
	TotalPNL       decimal.Decimal
	AvgWin         decimal.Decimal
	AvgLoss        decimal.Decimal // Reported as a positive number
	GrossProfit    decimal.Decimal
	GrossLoss      decimal.Decimal // Reported as a positive number
	ProfitFactor   decimal.Decimal // Gross profit / gross loss
	MaxDrawdownPct decimal.Decimal
	SharpeRatio    float64 // Simplified: mean / stddev of per-trade return %
	TotalFees      decimal.Decimal
	AvgHoldingHrs  float64
}

// Analyze computes performance metrics from closed trades in their original
// sequence. Drawdown is tracked over the running realized-P/L curve starting
// from initial capital.
func Analyze(trades []domain.ClosedTrade, initialCapital decimal.Decimal) Performance {
	p := Performance{
		WinRate:        decimal.Zero,
		TotalPNL:       decimal.Zero,
		AvgWin:         decimal.Zero,
		AvgLoss:        decimal.Zero,
		GrossProfit:    decimal.Zero,
		GrossLoss:      decimal.Zero,
		ProfitFactor:   decimal.Zero,
		MaxDrawdownPct: decimal.Zero,
		TotalFees:      decimal.Zero,
	}
	if len(trades) == 0 {
		return p
	}

	running := initialCapital
	peak := initialCapital
	var totalHolding float64

	for _, t := range trades {
		p.TotalTrades++
		p.TotalPNL = p.TotalPNL.Add(t.PNL)
		p.TotalFees = p.TotalFees.Add(t.FeesPaid)
		totalHolding += t.HoldingHours

		if t.PNL.Sign() > 0 {
			p.WinningTrades++
			p.GrossProfit = p.GrossProfit.Add(t.PNL)
		} else {
			p.LosingTrades++
			p.GrossLoss = p.GrossLoss.Add(t.PNL.Abs())
		}

		running = running.Add(t.PNL)
		if running.GreaterThan(peak) {
			peak = running
		}
		if peak.Sign() > 0 {
			drawdown := peak.Sub(running).Div(peak).Mul(hundred)
			if drawdown.GreaterThan(p.MaxDrawdownPct) {
				p.MaxDrawdownPct = drawdown
			}
		}
	}

	total := decimal.NewFromInt(int64(p.TotalTrades))
	p.WinRate = decimal.NewFromInt(int64(p.WinningTrades)).Div(total)
	if p.WinningTrades > 0 {
		p.AvgWin = p.GrossProfit.Div(decimal.NewFromInt(int64(p.WinningTrades)))
	}
	if p.LosingTrades > 0 {
		p.AvgLoss = p.GrossLoss.Div(decimal.NewFromInt(int64(p.LosingTrades)))
	}
	if p.GrossLoss.Sign() > 0 {
		p.ProfitFactor = p.GrossProfit.Div(p.GrossLoss)
	}
	p.SharpeRatio = sharpeRatio(trades)
	p.AvgHoldingHrs = totalHolding / float64(p.TotalTrades)

	return p
}

// sharpeRatio is the simplified per-trade Sharpe: mean return % divided by
// its population standard deviation. Needs at least two trades.
func sharpeRatio(trades []domain.ClosedTrade) float64 {
	if len(trades) < 2 {
		return 0
	}

	returns := make([]float64, len(trades))
	var sum float64
	for i, t := range trades {
		returns[i] = t.PNLPct.InexactFloat64()
		sum += returns[i]
	}
	mean := sum / float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns))

	std := math.Sqrt(variance)
	if std == 0 {
		return 0
	}
	return mean / std
}
