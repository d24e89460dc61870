package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order represents a paper trading order.
//
// Orders are identified by a monotonic per-engine sequence encoded into the
// ID string, so listing orders by creation preserves submission order.
type Order struct {
	ID          string
	Symbol      string
	Side        OrderSide
	Quantity    decimal.Decimal
	Type        OrderType
	LimitPrice  *decimal.Decimal // nil for market orders
	Status      OrderStatus
	SubmittedAt time.Time
	FilledAt    time.Time       // zero value until filled
	FillPrice   decimal.Decimal // zero until filled
}

// IsPending reports whether the order can still be filled or cancelled.
func (o *Order) IsPending() bool {
	return o.Status == OrderPending
}
