package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade is an immutable record of one completed fill. Trades are appended to
// the engine ledger in fill order and never mutated afterwards.
type Trade struct {
	ID         int64 // Assigned by the repository when persisted (0 otherwise)
	Symbol     string
	Side       OrderSide
	Quantity   decimal.Decimal
	Price      decimal.Decimal
	Commission decimal.Decimal
	Timestamp  time.Time
	OrderID    string // Originating order
}

// ClosedTrade is an immutable round-trip record produced by the simulator:
// one position opened and fully closed, with the exit reason that closed it.
type ClosedTrade struct {
	Symbol       string
	EntryPrice   decimal.Decimal
	ExitPrice    decimal.Decimal
	Quantity     decimal.Decimal
	EntryTime    time.Time
	ExitTime     time.Time
	PNL          decimal.Decimal
	PNLPct       decimal.Decimal
	FeesPaid     decimal.Decimal
	ExitReason   CloseReason
	Strategy     string
	Confidence   decimal.Decimal
	HoldingHours float64
}
