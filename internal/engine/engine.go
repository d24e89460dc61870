package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"paperbot/internal/domain"
	"paperbot/internal/ports"
)

var (
	one         = decimal.NewFromInt(1)
	hundred     = decimal.NewFromInt(100)
	tenThousand = decimal.NewFromInt(10000)

	// DefaultSlippageBps is a flat 5 basis points (0.05%) of slippage.
	DefaultSlippageBps = decimal.NewFromInt(5)

	// DefaultCommissionPerShare is the per-share commission charged on fills.
	DefaultCommissionPerShare = decimal.RequireFromString("0.005")
)

// Config holds configuration for the paper trading engine.
type Config struct {
	InitialCapital     decimal.Decimal
	EnableSlippage     bool
	SlippageBps        decimal.Decimal // Basis points applied against the taker
	EnableCommission   bool
	CommissionPerShare decimal.Decimal
	Logger             ports.Logger
}

// PaperTradingEngine maintains virtual cash, positions, orders and the trade
// ledger, executing simulated fills against real market prices.
//
// No funds are reserved at submission time; affordability is only checked at
// fill, where an unaffordable buy cancels the order. Callers sharing one
// engine are serialized by an internal mutex; there are no internal
// suspension points and no I/O inside any operation.
type PaperTradingEngine struct {
	mu sync.Mutex

	initialCapital decimal.Decimal
	cash           decimal.Decimal
	positions      map[string]*domain.Position
	orders         map[string]*domain.Order
	orderIDs       []string // Submission order, for deterministic listings
	trades         []*domain.Trade
	orderCounter   int64

	enableSlippage     bool
	slippageBps        decimal.Decimal
	enableCommission   bool
	commissionPerShare decimal.Decimal

	logger ports.Logger
	now    func() time.Time
}

// New creates a paper trading engine.
func New(cfg Config) (*PaperTradingEngine, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for paper trading engine")
	}
	if cfg.InitialCapital.Sign() <= 0 {
		return nil, fmt.Errorf("initial capital must be positive, got %s", cfg.InitialCapital)
	}
	if cfg.SlippageBps.IsZero() {
		cfg.SlippageBps = DefaultSlippageBps
	}
	if cfg.SlippageBps.Sign() < 0 {
		return nil, fmt.Errorf("slippage bps cannot be negative, got %s", cfg.SlippageBps)
	}
	if cfg.CommissionPerShare.IsZero() {
		cfg.CommissionPerShare = DefaultCommissionPerShare
	}
	if cfg.CommissionPerShare.Sign() < 0 {
		return nil, fmt.Errorf("commission per share cannot be negative, got %s", cfg.CommissionPerShare)
	}

	return &PaperTradingEngine{
		initialCapital:     cfg.InitialCapital,
		cash:               cfg.InitialCapital,
		positions:          make(map[string]*domain.Position),
		orders:             make(map[string]*domain.Order),
		enableSlippage:     cfg.EnableSlippage,
		slippageBps:        cfg.SlippageBps,
		enableCommission:   cfg.EnableCommission,
		commissionPerShare: cfg.CommissionPerShare,
		logger:             cfg.Logger,
		now:                time.Now,
	}, nil
}

// nextOrderID generates the next order ID from the monotonic counter.
// Caller must hold the mutex.
func (e *PaperTradingEngine) nextOrderID() string {
	e.orderCounter++
	return fmt.Sprintf("PAPER-%s-%06d", e.now().Format("20060102"), e.orderCounter)
}

// applySlippage adjusts the nominal price against the taker: buys pay more,
// sells receive less. A flat basis-point adjustment independent of size.
func (e *PaperTradingEngine) applySlippage(price decimal.Decimal, side domain.OrderSide) decimal.Decimal {
	if !e.enableSlippage {
		return price
	}
	slippagePct := e.slippageBps.Div(tenThousand)
	if side == domain.Buy {
		return price.Mul(one.Add(slippagePct))
	}
	return price.Mul(one.Sub(slippagePct))
}

func (e *PaperTradingEngine) commission(quantity decimal.Decimal) decimal.Decimal {
	if !e.enableCommission {
		return decimal.Zero
	}
	return quantity.Mul(e.commissionPerShare)
}

// SubmitOrder creates a pending order. No funds are reserved; a caller can
// submit more orders than it can afford and only discovers insufficiency at
// fill time.
func (e *PaperTradingEngine) SubmitOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity decimal.Decimal, orderType domain.OrderType, limitPrice *decimal.Decimal) (*domain.Order, error) {
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required: %w", ports.ErrInvalidRequest)
	}
	if side != domain.Buy && side != domain.Sell {
		return nil, fmt.Errorf("invalid order side %q: %w", side, ports.ErrInvalidRequest)
	}
	if quantity.Sign() <= 0 {
		return nil, fmt.Errorf("quantity must be positive, got %s: %w", quantity, ports.ErrInvalidRequest)
	}
	switch orderType {
	case domain.Market:
	case domain.Limit:
		if limitPrice == nil || limitPrice.Sign() <= 0 {
			return nil, fmt.Errorf("limit orders require a positive limit price: %w", ports.ErrInvalidRequest)
		}
	default:
		return nil, fmt.Errorf("invalid order type %q: %w", orderType, ports.ErrInvalidRequest)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	order := &domain.Order{
		ID:          e.nextOrderID(),
		Symbol:      symbol,
		Side:        side,
		Quantity:    quantity,
		Type:        orderType,
		LimitPrice:  limitPrice,
		Status:      domain.OrderPending,
		SubmittedAt: e.now(),
	}
	e.orders[order.ID] = order
	e.orderIDs = append(e.orderIDs, order.ID)

	e.logger.Info(ctx, "Order submitted", map[string]interface{}{
		"orderID": order.ID, "symbol": symbol, "side": side, "quantity": quantity.String(), "type": orderType,
	})

	orderCopy := *order
	return &orderCopy, nil
}

// FillOrder attempts to fill a pending order at the current market price.
//
// Soft failures return (nil, nil) and leave all state unchanged except where
// noted: unknown or non-pending orders and unmet limit conditions are pure
// no-ops; an unaffordable buy and a missing or oversized sell cancel the
// order without touching cash, positions or the ledger.
func (e *PaperTradingEngine) FillOrder(ctx context.Context, orderID string, currentPrice decimal.Decimal) (*domain.Trade, error) {
	if currentPrice.Sign() <= 0 {
		return nil, fmt.Errorf("current price must be positive, got %s: %w", currentPrice, ports.ErrInvalidRequest)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	order, ok := e.orders[orderID]
	if !ok {
		e.logger.Warn(ctx, "Order not found", map[string]interface{}{"orderID": orderID})
		return nil, nil
	}
	if order.Status != domain.OrderPending {
		e.logger.Warn(ctx, "Order is not pending", map[string]interface{}{"orderID": orderID, "status": order.Status})
		return nil, nil
	}

	// Resting-limit condition: buys fill only at or under the limit, sells
	// only at or over it.
	if order.Type == domain.Limit && order.LimitPrice != nil {
		if order.Side == domain.Buy && currentPrice.GreaterThan(*order.LimitPrice) {
			e.logger.Debug(ctx, "Buy limit not met", map[string]interface{}{
				"orderID": orderID, "price": currentPrice.String(), "limit": order.LimitPrice.String(),
			})
			return nil, nil
		}
		if order.Side == domain.Sell && currentPrice.LessThan(*order.LimitPrice) {
			e.logger.Debug(ctx, "Sell limit not met", map[string]interface{}{
				"orderID": orderID, "price": currentPrice.String(), "limit": order.LimitPrice.String(),
			})
			return nil, nil
		}
	}

	fillPrice := e.applySlippage(currentPrice, order.Side)
	commission := e.commission(order.Quantity)

	if order.Side == domain.Buy {
		if trade := e.fillBuy(ctx, order, fillPrice, currentPrice, commission); trade != nil {
			return trade, nil
		}
		return nil, nil
	}
	if trade := e.fillSell(ctx, order, fillPrice, commission); trade != nil {
		return trade, nil
	}
	return nil, nil
}

// fillBuy executes a buy fill. Caller must hold the mutex.
func (e *PaperTradingEngine) fillBuy(ctx context.Context, order *domain.Order, fillPrice, currentPrice, commission decimal.Decimal) *domain.Trade {
	totalCost := fillPrice.Mul(order.Quantity).Add(commission)

	if totalCost.GreaterThan(e.cash) {
		e.logger.Warn(ctx, "Insufficient funds, order cancelled", map[string]interface{}{
			"orderID": order.ID, "needed": totalCost.String(), "cash": e.cash.String(),
		})
		order.Status = domain.OrderCancelled
		return nil
	}

	e.cash = e.cash.Sub(totalCost)

	if pos, ok := e.positions[order.Symbol]; ok {
		// Weighted-average cost basis across the old and new lots. The old
		// quantity must be used before it is incremented or realized P/L on
		// the eventual sell is silently corrupted.
		totalQuantity := pos.Quantity.Add(order.Quantity)
		pos.EntryPrice = pos.EntryPrice.Mul(pos.Quantity).
			Add(fillPrice.Mul(order.Quantity)).
			Div(totalQuantity)
		pos.Quantity = totalQuantity
	} else {
		e.positions[order.Symbol] = &domain.Position{
			Symbol:       order.Symbol,
			Quantity:     order.Quantity,
			EntryPrice:   fillPrice,
			EntryTime:    e.now(),
			Side:         domain.Long,
			CurrentPrice: currentPrice,
		}
	}

	return e.completeFill(ctx, order, fillPrice, commission)
}

// fillSell executes a sell fill. Caller must hold the mutex.
func (e *PaperTradingEngine) fillSell(ctx context.Context, order *domain.Order, fillPrice, commission decimal.Decimal) *domain.Trade {
	pos, ok := e.positions[order.Symbol]
	if !ok {
		e.logger.Warn(ctx, "Cannot sell, no position exists", map[string]interface{}{
			"orderID": order.ID, "symbol": order.Symbol,
		})
		order.Status = domain.OrderCancelled
		return nil
	}
	if order.Quantity.GreaterThan(pos.Quantity) {
		e.logger.Warn(ctx, "Cannot sell more than held", map[string]interface{}{
			"orderID": order.ID, "symbol": order.Symbol,
			"requested": order.Quantity.String(), "held": pos.Quantity.String(),
		})
		order.Status = domain.OrderCancelled
		return nil
	}

	proceeds := fillPrice.Mul(order.Quantity).Sub(commission)
	e.cash = e.cash.Add(proceeds)

	realized := fillPrice.Sub(pos.EntryPrice).Mul(order.Quantity)
	pos.RealizedPL = pos.RealizedPL.Add(realized)
	pos.Quantity = pos.Quantity.Sub(order.Quantity)

	// The position is deleted, not zeroed, when quantity reaches exactly zero.
	if pos.Quantity.IsZero() {
		delete(e.positions, order.Symbol)
		e.logger.Info(ctx, "Position closed", map[string]interface{}{
			"symbol": order.Symbol, "realizedPL": realized.String(),
		})
	}

	return e.completeFill(ctx, order, fillPrice, commission)
}

// completeFill appends the trade record and marks the order filled.
// Caller must hold the mutex.
func (e *PaperTradingEngine) completeFill(ctx context.Context, order *domain.Order, fillPrice, commission decimal.Decimal) *domain.Trade {
	now := e.now()
	trade := &domain.Trade{
		Symbol:     order.Symbol,
		Side:       order.Side,
		Quantity:   order.Quantity,
		Price:      fillPrice,
		Commission: commission,
		Timestamp:  now,
		OrderID:    order.ID,
	}
	e.trades = append(e.trades, trade)

	order.Status = domain.OrderFilled
	order.FilledAt = now
	order.FillPrice = fillPrice

	e.logger.Info(ctx, "Order filled", map[string]interface{}{
		"orderID": order.ID, "side": order.Side, "symbol": order.Symbol,
		"quantity": order.Quantity.String(), "fillPrice": fillPrice.String(),
	})

	tradeCopy := *trade
	return &tradeCopy
}

// CancelOrder transitions a pending order to cancelled. Returns false for
// unknown orders and orders already in a terminal state.
func (e *PaperTradingEngine) CancelOrder(ctx context.Context, orderID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	order, ok := e.orders[orderID]
	if !ok || order.Status != domain.OrderPending {
		return false
	}
	order.Status = domain.OrderCancelled
	e.logger.Info(ctx, "Order cancelled", map[string]interface{}{"orderID": orderID})
	return true
}

// UpdatePrices marks every open position with the price from the map.
// Symbols absent from the map are left unmarked.
func (e *PaperTradingEngine) UpdatePrices(prices map[string]decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for symbol, pos := range e.positions {
		if price, ok := prices[symbol]; ok {
			pos.CurrentPrice = price
		}
	}
}

// GetAccountInfo derives the current account snapshot.
func (e *PaperTradingEngine) GetAccountInfo() domain.AccountInfo {
	e.mu.Lock()
	defer e.mu.Unlock()

	totalMarketValue := decimal.Zero
	unrealizedPL := decimal.Zero
	realizedPL := decimal.Zero
	for _, pos := range e.positions {
		totalMarketValue = totalMarketValue.Add(pos.MarketValue())
		unrealizedPL = unrealizedPL.Add(pos.UnrealizedPL())
		realizedPL = realizedPL.Add(pos.RealizedPL)
	}

	equity := e.cash.Add(totalMarketValue)
	totalReturn := decimal.Zero
	if e.initialCapital.Sign() > 0 {
		totalReturn = equity.Sub(e.initialCapital).Div(e.initialCapital).Mul(hundred)
	}

	return domain.AccountInfo{
		Cash:           e.cash,
		BuyingPower:    e.cash,
		Equity:         equity,
		PortfolioValue: equity,
		InitialCapital: e.initialCapital,
		TotalPL:        realizedPL.Add(unrealizedPL),
		RealizedPL:     realizedPL,
		UnrealizedPL:   unrealizedPL,
		TotalReturnPct: totalReturn,
		PositionCount:  len(e.positions),
		TradeCount:     len(e.trades),
	}
}

// GetPosition returns a copy of the open position for the symbol, if any.
func (e *PaperTradingEngine) GetPosition(symbol string) (domain.Position, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	pos, ok := e.positions[symbol]
	if !ok {
		return domain.Position{}, false
	}
	return *pos, true
}

// GetPositions returns copies of all open positions.
func (e *PaperTradingEngine) GetPositions() []domain.Position {
	e.mu.Lock()
	defer e.mu.Unlock()

	positions := make([]domain.Position, 0, len(e.positions))
	for _, pos := range e.positions {
		positions = append(positions, *pos)
	}
	return positions
}

// GetOrder returns a copy of the order with the given ID.
func (e *PaperTradingEngine) GetOrder(orderID string) (domain.Order, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	order, ok := e.orders[orderID]
	if !ok {
		return domain.Order{}, false
	}
	return *order, true
}

// GetOrders returns copies of all orders in submission order, optionally
// filtered by status (empty string means all).
func (e *PaperTradingEngine) GetOrders(status domain.OrderStatus) []domain.Order {
	e.mu.Lock()
	defer e.mu.Unlock()

	orders := make([]domain.Order, 0, len(e.orderIDs))
	for _, id := range e.orderIDs {
		order := e.orders[id]
		if status != "" && order.Status != status {
			continue
		}
		orders = append(orders, *order)
	}
	return orders
}

// GetTrades returns copies of the most recent trades in fill order, up to
// limit (non-positive means all).
func (e *PaperTradingEngine) GetTrades(limit int) []domain.Trade {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := 0
	if limit > 0 && len(e.trades) > limit {
		start = len(e.trades) - limit
	}
	trades := make([]domain.Trade, 0, len(e.trades)-start)
	for _, t := range e.trades[start:] {
		trades = append(trades, *t)
	}
	return trades
}

// Reset restores cash to initial capital and clears all positions, orders,
// trades and the order counter. Full state wipe, used for test isolation.
func (e *PaperTradingEngine) Reset(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.cash = e.initialCapital
	e.positions = make(map[string]*domain.Position)
	e.orders = make(map[string]*domain.Order)
	e.orderIDs = nil
	e.trades = nil
	e.orderCounter = 0

	e.logger.Info(ctx, "Paper trading engine reset")
}
