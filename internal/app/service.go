package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"paperbot/internal/ai"
	"paperbot/internal/domain"
	"paperbot/internal/engine"
	"paperbot/internal/ports"
	"paperbot/internal/risk"
)

// TradeRequest describes one candidate trade for the service to evaluate,
// size and execute.
type TradeRequest struct {
	Symbol      string
	Tier        domain.AssetTier
	Factors     ai.ConfidenceFactors
	WinRate     decimal.Decimal
	AvgWin      decimal.Decimal
	AvgLoss     decimal.Decimal
	StopLossPct decimal.Decimal // zero -> configured default
}

// TradeDecision is the result of evaluating a trade request. A request can be
// declined (breakers open, size collapsed to zero) without being an error.
type TradeDecision struct {
	Accepted     bool
	Reason       string
	Confidence   decimal.Decimal
	PositionSize decimal.Decimal
	StopPrice    decimal.Decimal
	Order        *domain.Order
	Trade        *domain.Trade
}

// Config holds configuration for the trading service.
type Config struct {
	MaxPositionPct decimal.Decimal
	KellyFraction  decimal.Decimal
	StopLossPct    decimal.Decimal
	Symbols        []string
}

// Service wires the paper trading engine, risk layer and confidence scorer to
// live market data. It owns the price stream and is the only component that
// calls the engine once Start has returned.
type Service struct {
	cfg      Config
	engine   *engine.PaperTradingEngine
	breakers *risk.CircuitBreaker
	scorer   *ai.ConfidenceScorer
	market   ports.MarketDataClient
	repo     ports.TradeRepository
	outcomes ports.OutcomeRepository
	logger   ports.Logger

	mu          sync.Mutex
	lastPrices  map[string]decimal.Decimal
	startOfDay  decimal.Decimal
	startOfWeek decimal.Decimal
	peakEquity  decimal.Decimal
	dayAnchor   time.Time
	weekAnchor  time.Time

	now func() time.Time
}

// Deps groups the collaborators required by NewService.
type Deps struct {
	Config   Config
	Engine   *engine.PaperTradingEngine
	Breakers *risk.CircuitBreaker
	Scorer   *ai.ConfidenceScorer
	Market   ports.MarketDataClient
	Repo     ports.TradeRepository
	Outcomes ports.OutcomeRepository
	Logger   ports.Logger
}

// NewService validates dependencies and creates the service.
func NewService(deps Deps) (*Service, error) {
	if deps.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if deps.Engine == nil {
		return nil, errors.New("paper trading engine is required")
	}
	if deps.Breakers == nil {
		return nil, errors.New("circuit breaker is required")
	}
	if deps.Scorer == nil {
		return nil, errors.New("confidence scorer is required")
	}
	if deps.Market == nil {
		return nil, errors.New("market data client is required")
	}
	if len(deps.Config.Symbols) == 0 {
		return nil, errors.New("at least one symbol is required")
	}

	equity := deps.Engine.GetAccountInfo().Equity
	nowFn := time.Now
	return &Service{
		cfg:         deps.Config,
		engine:      deps.Engine,
		breakers:    deps.Breakers,
		scorer:      deps.Scorer,
		market:      deps.Market,
		repo:        deps.Repo,
		outcomes:    deps.Outcomes,
		logger:      deps.Logger,
		lastPrices:  make(map[string]decimal.Decimal),
		startOfDay:  equity,
		startOfWeek: equity,
		peakEquity:  equity,
		dayAnchor:   nowFn(),
		weekAnchor:  nowFn(),
		now:         nowFn,
	}, nil
}

// Start runs the price stream until the context is cancelled. Each price
// batch marks open positions, attempts pending fills and re-evaluates the
// loss breakers against current equity.
func (s *Service) Start(ctx context.Context) error {
	s.logger.Info(ctx, "Trading service starting", map[string]interface{}{"symbols": s.cfg.Symbols})

	done, stop, err := s.market.StreamPrices(ctx, s.cfg.Symbols, func(prices map[string]decimal.Decimal) {
		s.breakers.RecordAPISuccess()
		s.handlePrices(ctx, prices)
	}, func(err error) {
		s.logger.Warn(ctx, "Price stream error", map[string]interface{}{"error": err.Error()})
		if s.breakers.RecordAPIFailure() {
			s.logger.Error(ctx, err, "API failure breaker tripped, trading halted")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to start price stream: %w", err)
	}

	select {
	case <-ctx.Done():
		select {
		case stop <- struct{}{}:
		default: // Stream already observed ctx.Done and is winding down
		}
		<-done
		s.logger.Info(context.Background(), "Trading service stopped")
		return ctx.Err()
	case <-done:
		return errors.New("price stream terminated unexpectedly")
	}
}

// handlePrices is the per-batch hot path: mark positions, try pending fills,
// then sweep the equity-based breakers.
func (s *Service) handlePrices(ctx context.Context, prices map[string]decimal.Decimal) {
	s.engine.UpdatePrices(prices)

	for _, order := range s.engine.GetOrders(domain.OrderPending) {
		price, ok := prices[order.Symbol]
		if !ok {
			continue
		}
		trade, err := s.engine.FillOrder(ctx, order.ID, price)
		if err != nil {
			s.logger.Error(ctx, err, "Fill attempt failed", map[string]interface{}{"orderID": order.ID})
			continue
		}
		if trade != nil {
			s.persistTrade(ctx, trade)
		}
	}

	s.mu.Lock()
	for sym, p := range prices {
		s.lastPrices[sym] = p
	}
	s.mu.Unlock()

	s.checkEquityBreakers(ctx)
}

// checkEquityBreakers rolls the daily/weekly anchors forward and feeds
// current equity to the loss and drawdown breakers.
func (s *Service) checkEquityBreakers(ctx context.Context) {
	equity := s.engine.GetAccountInfo().Equity

	s.mu.Lock()
	now := s.now()
	if now.YearDay() != s.dayAnchor.YearDay() || now.Year() != s.dayAnchor.Year() {
		s.startOfDay = equity
		s.dayAnchor = now
	}
	if now.Sub(s.weekAnchor) >= 7*24*time.Hour {
		s.startOfWeek = equity
		s.weekAnchor = now
	}
	if equity.GreaterThan(s.peakEquity) {
		s.peakEquity = equity
	}
	startOfDay, startOfWeek, peak := s.startOfDay, s.startOfWeek, s.peakEquity
	s.mu.Unlock()

	if s.breakers.CheckDailyLoss(equity, startOfDay) {
		s.logger.Warn(ctx, "Daily loss breaker tripped", map[string]interface{}{"equity": equity.String()})
	}
	if s.breakers.CheckWeeklyLoss(equity, startOfWeek) {
		s.logger.Warn(ctx, "Weekly loss breaker tripped", map[string]interface{}{"equity": equity.String()})
	}
	if s.breakers.CheckDrawdown(equity, peak) {
		s.logger.Warn(ctx, "Drawdown breaker tripped", map[string]interface{}{"equity": equity.String()})
	}
}

// PlaceTrade evaluates, sizes and executes one trade request. The circuit
// breaker bank is consulted first and wins unconditionally: no order is
// submitted while any breaker is open.
func (s *Service) PlaceTrade(ctx context.Context, req TradeRequest) (*TradeDecision, error) {
	if !s.breakers.IsTradingAllowed() {
		active := s.breakers.ActiveBreakers()
		s.logger.Warn(ctx, "Trade declined, circuit breakers open", map[string]interface{}{"symbol": req.Symbol, "active": active})
		return &TradeDecision{Accepted: false, Reason: fmt.Sprintf("circuit breakers open: %v", active)}, nil
	}

	confidence, err := s.scorer.CalculateConfidence(req.Factors, req.Tier)
	if err != nil {
		return nil, fmt.Errorf("confidence calculation failed: %w", err)
	}

	account := s.engine.GetAccountInfo()
	sizer, err := risk.NewPositionSizer(risk.SizerParams{
		PortfolioValue: account.PortfolioValue,
		WinRate:        req.WinRate,
		AvgWin:         req.AvgWin,
		AvgLoss:        req.AvgLoss,
		Confidence:     confidence,
		AssetTier:      req.Tier,
		MaxPositionPct: s.cfg.MaxPositionPct,
		KellyFraction:  s.cfg.KellyFraction,
	})
	if err != nil {
		return nil, fmt.Errorf("position sizing failed: %w", err)
	}

	size := sizer.PositionSize()
	if size.Sign() <= 0 {
		s.logger.Info(ctx, "Trade declined, position size is zero", map[string]interface{}{"symbol": req.Symbol, "confidence": confidence.String()})
		return &TradeDecision{Accepted: false, Reason: "position size is zero", Confidence: confidence}, nil
	}

	price, err := s.currentPrice(ctx, req.Symbol)
	if err != nil {
		s.breakers.RecordAPIFailure()
		return nil, err
	}
	s.breakers.RecordAPISuccess()

	quantity, err := sizer.Quantity(price)
	if err != nil {
		return nil, err
	}

	stopLossPct := req.StopLossPct
	if stopLossPct.IsZero() {
		stopLossPct = s.cfg.StopLossPct
	}
	stopPrice, err := sizer.StopLoss(price, stopLossPct)
	if err != nil {
		return nil, err
	}

	order, err := s.engine.SubmitOrder(ctx, req.Symbol, domain.Buy, quantity, domain.Market, nil)
	if err != nil {
		return nil, fmt.Errorf("order submission failed: %w", err)
	}

	trade, err := s.engine.FillOrder(ctx, order.ID, price)
	if err != nil {
		return nil, fmt.Errorf("order fill failed: %w", err)
	}
	if trade == nil {
		// Fill declined softly (insufficient funds); the order was cancelled.
		s.logger.Warn(ctx, "Trade declined at fill", map[string]interface{}{"orderID": order.ID, "symbol": req.Symbol})
		return &TradeDecision{Accepted: false, Reason: "fill declined", Confidence: confidence, PositionSize: size, StopPrice: stopPrice, Order: order}, nil
	}
	s.persistTrade(ctx, trade)

	s.logger.Info(ctx, "Trade executed", map[string]interface{}{
		"symbol": req.Symbol, "quantity": quantity.String(), "price": trade.Price.String(),
		"confidence": confidence.String(), "stop": stopPrice.String(),
	})

	return &TradeDecision{
		Accepted:     true,
		Confidence:   confidence,
		PositionSize: size,
		StopPrice:    stopPrice,
		Order:        order,
		Trade:        trade,
	}, nil
}

// ClosePosition sells the full open position for the symbol at the current
// market price.
func (s *Service) ClosePosition(ctx context.Context, symbol string) (*domain.Trade, error) {
	pos, ok := s.engine.GetPosition(symbol)
	if !ok {
		return nil, fmt.Errorf("no open position for %s: %w", symbol, ports.ErrNotFound)
	}

	price, err := s.currentPrice(ctx, symbol)
	if err != nil {
		return nil, err
	}

	order, err := s.engine.SubmitOrder(ctx, symbol, domain.Sell, pos.Quantity, domain.Market, nil)
	if err != nil {
		return nil, err
	}
	trade, err := s.engine.FillOrder(ctx, order.ID, price)
	if err != nil {
		return nil, err
	}
	if trade == nil {
		return nil, fmt.Errorf("close of %s declined at fill", symbol)
	}
	s.persistTrade(ctx, trade)
	return trade, nil
}

// RecordOutcome feeds one completed round trip back into the calibration
// history and the consecutive-loss breaker, and persists it when an outcome
// repository is configured.
func (s *Service) RecordOutcome(ctx context.Context, predictedConfidence decimal.Decimal, success bool, pnlPct decimal.Decimal) {
	s.scorer.RecordOutcome(predictedConfidence, success, pnlPct)
	if s.breakers.RecordTradeResult(success) {
		s.logger.Warn(ctx, "Consecutive-loss breaker tripped")
	}

	if s.outcomes == nil {
		return
	}
	rec := &ports.OutcomeRecord{
		Confidence: predictedConfidence,
		Success:    success,
		PNLPct:     pnlPct,
		RecordedAt: s.now(),
	}
	if _, err := s.outcomes.RecordOutcome(ctx, rec); err != nil {
		s.logger.Error(ctx, err, "Failed to persist trade outcome")
	}
}

// AccountInfo exposes the engine's account snapshot.
func (s *Service) AccountInfo() domain.AccountInfo {
	return s.engine.GetAccountInfo()
}

// BreakerStatus exposes the breaker bank's observability snapshot.
func (s *Service) BreakerStatus() []risk.BreakerStatus {
	return s.breakers.Status()
}

// currentPrice serves from the last streamed batch when available, falling
// back to a direct ticker fetch.
func (s *Service) currentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	s.mu.Lock()
	price, ok := s.lastPrices[symbol]
	s.mu.Unlock()
	if ok {
		return price, nil
	}
	return s.market.GetTickerPrice(ctx, symbol)
}

// persistTrade writes a fill to the trade ledger when a repository is
// configured. Persistence failures are logged, never propagated; the
// in-memory engine remains the source of truth.
func (s *Service) persistTrade(ctx context.Context, trade *domain.Trade) {
	if s.repo == nil {
		return
	}
	if _, err := s.repo.RecordTrade(ctx, trade); err != nil {
		s.logger.Error(ctx, err, "Failed to persist trade", map[string]interface{}{"orderID": trade.OrderID})
	}
}
