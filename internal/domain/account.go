package domain

import "github.com/shopspring/decimal"

// AccountInfo is a derived snapshot of the engine's account state.
// Every field is computed from cash and open positions at query time.
type AccountInfo struct {
	Cash           decimal.Decimal
	BuyingPower    decimal.Decimal // Equal to cash; no margin is modeled
	Equity         decimal.Decimal // Cash plus total position market value
	PortfolioValue decimal.Decimal
	InitialCapital decimal.Decimal
	TotalPL        decimal.Decimal // Realized plus unrealized
	RealizedPL     decimal.Decimal
	UnrealizedPL   decimal.Decimal
	TotalReturnPct decimal.Decimal // (equity - initial) / initial * 100
	PositionCount  int
	TradeCount     int
}
