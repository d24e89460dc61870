package domain

// OrderSide represents the side of an order (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// OrderType represents how an order is priced.
type OrderType string

const (
	Market OrderType = "market"
	Limit  OrderType = "limit"
)

// OrderStatus represents the lifecycle state of an order.
// An order is created pending and moves to exactly one terminal state.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderFilled    OrderStatus = "filled"
	OrderCancelled OrderStatus = "cancelled"
)

// PositionSide represents the direction of a position.
type PositionSide string

const (
	Long  PositionSide = "long"
	Short PositionSide = "short"
)

// AssetTier classifies tradeable assets for risk management.
// Tier drives per-position caps, portfolio allocation caps and stop tightness.
type AssetTier string

const (
	TierFoundation  AssetTier = "FOUNDATION"
	TierGrowth      AssetTier = "GROWTH"
	TierOpportunity AssetTier = "OPPORTUNITY"
)

// CloseReason indicates why a simulated position was exited.
type CloseReason string

const (
	CloseReasonStopLoss   CloseReason = "stop_loss"
	CloseReasonTakeProfit CloseReason = "take_profit"
	CloseReasonManual     CloseReason = "manual"
	CloseReasonTimeout    CloseReason = "timeout"
)
