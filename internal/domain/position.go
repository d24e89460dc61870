package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position represents an open paper trading position.
//
// Quantity is strictly positive while the position exists; the engine deletes
// a position outright when its quantity reaches exactly zero rather than
// keeping a zeroed record. Market value, cost basis and unrealized P/L are
// derived from (Quantity, EntryPrice, CurrentPrice) and never stored.
type Position struct {
	Symbol       string
	Quantity     decimal.Decimal
	EntryPrice   decimal.Decimal
	EntryTime    time.Time
	Side         PositionSide
	CurrentPrice decimal.Decimal // Last marked price (zero until first update)
	RealizedPL   decimal.Decimal // Accumulated P/L from partial sells
}

// MarketValue returns the current market value of the position.
func (p *Position) MarketValue() decimal.Decimal {
	return p.Quantity.Mul(p.CurrentPrice)
}

// CostBasis returns the original cost of the position.
func (p *Position) CostBasis() decimal.Decimal {
	return p.Quantity.Mul(p.EntryPrice)
}

// UnrealizedPL returns the unrealized profit or loss at the current mark.
func (p *Position) UnrealizedPL() decimal.Decimal {
	if p.Side == Short {
		return p.EntryPrice.Sub(p.CurrentPrice).Mul(p.Quantity)
	}
	return p.CurrentPrice.Sub(p.EntryPrice).Mul(p.Quantity)
}

// UnrealizedPLPct returns the unrealized P/L as a percentage of cost basis.
func (p *Position) UnrealizedPLPct() decimal.Decimal {
	basis := p.CostBasis()
	if basis.IsZero() {
		return decimal.Zero
	}
	return p.UnrealizedPL().Div(basis).Mul(decimal.NewFromInt(100))
}
