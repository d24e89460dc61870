package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"paperbot/internal/analytics"
	"paperbot/internal/domain"
	"paperbot/internal/ports"
)

var (
	// DefaultSimFeeRate is 0.1% of notional per trade.
	DefaultSimFeeRate = decimal.RequireFromString("0.001")

	// DefaultSimSlippageRate is 0.2% of price per execution.
	DefaultSimSlippageRate = decimal.RequireFromString("0.002")
)

// SimPosition is a position held by the Simulator. Unlike the order-book
// engine's position it carries protective exit levels set at buy time.
type SimPosition struct {
	Symbol     string
	EntryPrice decimal.Decimal
	Quantity   decimal.Decimal
	EntryTime  time.Time
	StopLoss   *decimal.Decimal // nil when no stop is set
	TakeProfit *decimal.Decimal // nil when no target is set
	FeesPaid   decimal.Decimal
	Strategy   string
	Confidence decimal.Decimal
}

// CostBasis returns the total cost including fees.
func (p *SimPosition) CostBasis() decimal.Decimal {
	return p.EntryPrice.Mul(p.Quantity).Add(p.FeesPaid)
}

// CurrentValue returns the position value at the given price.
func (p *SimPosition) CurrentValue(currentPrice decimal.Decimal) decimal.Decimal {
	return currentPrice.Mul(p.Quantity)
}

// UnrealizedPNL returns the unrealized profit or loss at the given price.
func (p *SimPosition) UnrealizedPNL(currentPrice decimal.Decimal) decimal.Decimal {
	return p.CurrentValue(currentPrice).Sub(p.CostBasis())
}

// SimConfig holds configuration for the Simulator.
type SimConfig struct {
	InitialCapital decimal.Decimal
	FeeRate        decimal.Decimal // Fraction of notional (zero -> 0.1%)
	SlippageRate   decimal.Decimal // Fraction of price (zero -> 0.2%)
	Logger         ports.Logger
}

// Simulator is the self-contained engine variant used for autonomous-agent
// simulation. It executes buys and sells directly (no order book), enforces
// per-position stop-loss and take-profit exits on every price update, and
// tracks peak portfolio value and per-day realized P/L.
type Simulator struct {
	mu sync.Mutex

	initialCapital decimal.Decimal
	cash           decimal.Decimal
	feeRate        decimal.Decimal
	slippageRate   decimal.Decimal

	positions    map[string]*SimPosition
	closedTrades []domain.ClosedTrade

	startTime time.Time
	peakValue decimal.Decimal
	dailyPNL  map[string]decimal.Decimal // calendar date -> realized P/L

	logger ports.Logger
	now    func() time.Time
}

// NewSimulator creates a simulator with the given configuration.
func NewSimulator(cfg SimConfig) (*Simulator, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for simulator")
	}
	if cfg.InitialCapital.Sign() <= 0 {
		return nil, fmt.Errorf("initial capital must be positive, got %s", cfg.InitialCapital)
	}
	if cfg.FeeRate.IsZero() {
		cfg.FeeRate = DefaultSimFeeRate
	}
	if cfg.SlippageRate.IsZero() {
		cfg.SlippageRate = DefaultSimSlippageRate
	}

	now := time.Now
	return &Simulator{
		initialCapital: cfg.InitialCapital,
		cash:           cfg.InitialCapital,
		feeRate:        cfg.FeeRate,
		slippageRate:   cfg.SlippageRate,
		positions:      make(map[string]*SimPosition),
		startTime:      now(),
		peakValue:      cfg.InitialCapital,
		dailyPNL:       make(map[string]decimal.Decimal),
		logger:         cfg.Logger,
		now:            now,
	}, nil
}

// ExecuteBuy opens a long position at the market price plus slippage.
// Protective levels are validated against the execution price: a stop at or
// above it, or a target at or below it, rejects the buy. Returns false on any
// rejection (invalid inputs, existing position, insufficient cash) without
// changing state.
func (s *Simulator) ExecuteBuy(ctx context.Context, symbol string, quantity, price decimal.Decimal, stopLoss, takeProfit *decimal.Decimal, strategy string, confidence decimal.Decimal) bool {
	if quantity.Sign() <= 0 {
		s.logger.Error(ctx, nil, "Invalid buy quantity", map[string]interface{}{"symbol": symbol, "quantity": quantity.String()})
		return false
	}
	if price.Sign() <= 0 {
		s.logger.Error(ctx, nil, "Invalid buy price", map[string]interface{}{"symbol": symbol, "price": price.String()})
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Buys execute at a slightly higher price.
	executionPrice := price.Mul(one.Add(s.slippageRate))

	cost := executionPrice.Mul(quantity)
	fees := cost.Mul(s.feeRate)
	totalCost := cost.Add(fees)

	if totalCost.GreaterThan(s.cash) {
		s.logger.Warn(ctx, "Insufficient cash for buy", map[string]interface{}{
			"symbol": symbol, "needed": totalCost.StringFixed(2), "cash": s.cash.StringFixed(2),
		})
		return false
	}
	if _, exists := s.positions[symbol]; exists {
		s.logger.Warn(ctx, "Already have position", map[string]interface{}{"symbol": symbol})
		return false
	}
	if stopLoss != nil && stopLoss.GreaterThanOrEqual(executionPrice) {
		s.logger.Error(ctx, nil, "Stop loss must be below entry", map[string]interface{}{
			"symbol": symbol, "stopLoss": stopLoss.String(), "entry": executionPrice.String(),
		})
		return false
	}
	if takeProfit != nil && takeProfit.LessThanOrEqual(executionPrice) {
		s.logger.Error(ctx, nil, "Take profit must be above entry", map[string]interface{}{
			"symbol": symbol, "takeProfit": takeProfit.String(), "entry": executionPrice.String(),
		})
		return false
	}

	s.cash = s.cash.Sub(totalCost)
	s.positions[symbol] = &SimPosition{
		Symbol:     symbol,
		EntryPrice: executionPrice,
		Quantity:   quantity,
		EntryTime:  s.now(),
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
		FeesPaid:   fees,
		Strategy:   strategy,
		Confidence: confidence,
	}

	s.logger.Info(ctx, "Simulated buy executed", map[string]interface{}{
		"symbol": symbol, "quantity": quantity.String(),
		"executionPrice": executionPrice.StringFixed(4), "fees": fees.StringFixed(2),
	})
	return true
}

// ExecuteSell closes the position at the market price minus slippage and
// returns the completed round-trip record, or nil when no position exists.
func (s *Simulator) ExecuteSell(ctx context.Context, symbol string, currentPrice decimal.Decimal, reason domain.CloseReason) *domain.ClosedTrade {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.executeSell(ctx, symbol, currentPrice, reason)
}

// executeSell does the work of ExecuteSell. Caller must hold the mutex.
func (s *Simulator) executeSell(ctx context.Context, symbol string, currentPrice decimal.Decimal, reason domain.CloseReason) *domain.ClosedTrade {
	position, ok := s.positions[symbol]
	if !ok {
		s.logger.Warn(ctx, "No position to sell", map[string]interface{}{"symbol": symbol})
		return nil
	}

	// Sells execute at a slightly lower price.
	executionPrice := currentPrice.Mul(one.Sub(s.slippageRate))

	proceeds := executionPrice.Mul(position.Quantity)
	fees := proceeds.Mul(s.feeRate)
	netProceeds := proceeds.Sub(fees)

	costBasis := position.CostBasis()
	pnl := netProceeds.Sub(costBasis)
	pnlPct := decimal.Zero
	if costBasis.Sign() > 0 {
		pnlPct = pnl.Div(costBasis).Mul(hundred)
	}

	s.cash = s.cash.Add(netProceeds)

	exitTime := s.now()
	trade := domain.ClosedTrade{
		Symbol:       symbol,
		EntryPrice:   position.EntryPrice,
		ExitPrice:    executionPrice,
		Quantity:     position.Quantity,
		EntryTime:    position.EntryTime,
		ExitTime:     exitTime,
		PNL:          pnl,
		PNLPct:       pnlPct,
		FeesPaid:     position.FeesPaid.Add(fees),
		ExitReason:   reason,
		Strategy:     position.Strategy,
		Confidence:   position.Confidence,
		HoldingHours: exitTime.Sub(position.EntryTime).Hours(),
	}
	s.closedTrades = append(s.closedTrades, trade)

	day := exitTime.Format("2006-01-02")
	s.dailyPNL[day] = s.dailyPNL[day].Add(pnl)

	delete(s.positions, symbol)

	s.logger.Info(ctx, "Simulated sell executed", map[string]interface{}{
		"symbol": symbol, "executionPrice": executionPrice.StringFixed(4),
		"pnl": pnl.StringFixed(2), "reason": reason,
	})
	return &trade
}

// checkProtectiveExit returns the exit reason triggered by the price, if any.
// Caller must hold the mutex.
func (s *Simulator) checkProtectiveExit(symbol string, currentPrice decimal.Decimal) (domain.CloseReason, bool) {
	position, ok := s.positions[symbol]
	if !ok {
		return "", false
	}
	if position.StopLoss != nil && currentPrice.LessThanOrEqual(*position.StopLoss) {
		return domain.CloseReasonStopLoss, true
	}
	if position.TakeProfit != nil && currentPrice.GreaterThanOrEqual(*position.TakeProfit) {
		return domain.CloseReasonTakeProfit, true
	}
	return "", false
}

// UpdatePositions checks every open position against the price map, executes
// protective exits tagged with the triggering reason, updates the running
// peak portfolio value and returns the trades that were closed.
func (s *Simulator) UpdatePositions(ctx context.Context, prices map[string]decimal.Decimal) []domain.ClosedTrade {
	s.mu.Lock()
	defer s.mu.Unlock()

	var closed []domain.ClosedTrade
	for symbol := range s.positions {
		price, ok := prices[symbol]
		if !ok {
			s.logger.Warn(ctx, "No price data for symbol", map[string]interface{}{"symbol": symbol})
			continue
		}
		if reason, triggered := s.checkProtectiveExit(symbol, price); triggered {
			if trade := s.executeSell(ctx, symbol, price, reason); trade != nil {
				closed = append(closed, *trade)
			}
		}
	}

	current := s.portfolioValue(prices)
	if current.GreaterThan(s.peakValue) {
		s.peakValue = current
	}
	return closed
}

// PortfolioValue returns cash plus the value of open positions at the given
// prices. Symbols missing from the map contribute zero.
func (s *Simulator) PortfolioValue(prices map[string]decimal.Decimal) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.portfolioValue(prices)
}

func (s *Simulator) portfolioValue(prices map[string]decimal.Decimal) decimal.Decimal {
	value := s.cash
	for symbol, pos := range s.positions {
		value = value.Add(pos.CurrentValue(prices[symbol]))
	}
	return value
}

// Cash returns the current cash balance.
func (s *Simulator) Cash() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cash
}

// PeakValue returns the highest portfolio value seen so far.
func (s *Simulator) PeakValue() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peakValue
}

// DailyPNL returns the realized P/L for the given calendar date (format
// 2006-01-02).
func (s *Simulator) DailyPNL(date string) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dailyPNL[date]
}

// TotalPNL returns the total realized P/L across all closed trades.
func (s *Simulator) TotalPNL() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := decimal.Zero
	for _, t := range s.closedTrades {
		total = total.Add(t.PNL)
	}
	return total
}

// OpenPositions returns copies of all open positions.
func (s *Simulator) OpenPositions() []SimPosition {
	s.mu.Lock()
	defer s.mu.Unlock()

	positions := make([]SimPosition, 0, len(s.positions))
	for _, pos := range s.positions {
		positions = append(positions, *pos)
	}
	return positions
}

// ClosedTrades returns a copy of the closed-trade ledger in close order.
func (s *Simulator) ClosedTrades() []domain.ClosedTrade {
	s.mu.Lock()
	defer s.mu.Unlock()

	trades := make([]domain.ClosedTrade, len(s.closedTrades))
	copy(trades, s.closedTrades)
	return trades
}

// PerformanceMetrics computes aggregate metrics over the closed trades.
func (s *Simulator) PerformanceMetrics() analytics.Performance {
	s.mu.Lock()
	trades := make([]domain.ClosedTrade, len(s.closedTrades))
	copy(trades, s.closedTrades)
	initial := s.initialCapital
	s.mu.Unlock()

	return analytics.Analyze(trades, initial)
}
