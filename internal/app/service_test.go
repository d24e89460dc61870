package app

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paperbot/internal/ai"
	"paperbot/internal/domain"
	"paperbot/internal/engine"
	"paperbot/internal/ports"
	"paperbot/internal/risk"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// fakeMarket serves canned prices without any network access.
type fakeMarket struct {
	prices map[string]decimal.Decimal
}

func (f *fakeMarket) GetTickerPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	price, ok := f.prices[symbol]
	if !ok {
		return decimal.Zero, ports.ErrSymbolNotFound
	}
	return price, nil
}

func (f *fakeMarket) GetPrices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(symbols))
	for _, s := range symbols {
		price, ok := f.prices[s]
		if !ok {
			return nil, ports.ErrSymbolNotFound
		}
		out[s] = price
	}
	return out, nil
}

func (f *fakeMarket) StreamPrices(ctx context.Context, symbols []string, handler ports.PriceHandler, errHandler ports.StreamErrorHandler) (<-chan struct{}, chan<- struct{}, error) {
	done := make(chan struct{})
	stop := make(chan struct{})
	go func() {
		defer close(done)
		prices, _ := f.GetPrices(ctx, symbols)
		handler(prices)
		select {
		case <-ctx.Done():
		case <-stop:
		}
	}()
	return done, stop, nil
}

// memTradeRepo records trades in memory.
type memTradeRepo struct {
	trades   []*domain.Trade
	outcomes []*ports.OutcomeRecord
}

func (r *memTradeRepo) RecordTrade(ctx context.Context, trade *domain.Trade) (int64, error) {
	r.trades = append(r.trades, trade)
	return int64(len(r.trades)), nil
}

func (r *memTradeRepo) RecentTrades(ctx context.Context, limit int) ([]*domain.Trade, error) {
	return r.trades, nil
}

func (r *memTradeRepo) RecentTradesBySymbol(ctx context.Context, symbol string, limit int) ([]*domain.Trade, error) {
	return r.trades, nil
}

func (r *memTradeRepo) RecordOutcome(ctx context.Context, rec *ports.OutcomeRecord) (int64, error) {
	r.outcomes = append(r.outcomes, rec)
	return int64(len(r.outcomes)), nil
}

func (r *memTradeRepo) RecentOutcomes(ctx context.Context, limit int) ([]*ports.OutcomeRecord, error) {
	return r.outcomes, nil
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type testHarness struct {
	service  *Service
	engine   *engine.PaperTradingEngine
	breakers *risk.CircuitBreaker
	scorer   *ai.ConfidenceScorer
	market   *fakeMarket
	repo     *memTradeRepo
}

func newTestService(t *testing.T) *testHarness {
	t.Helper()

	log := &mockLogger{}
	eng, err := engine.New(engine.Config{
		InitialCapital: decimal.NewFromInt(100000),
		Logger:         log,
	})
	require.NoError(t, err)

	breakers := risk.NewCircuitBreaker(nil)
	scorer := ai.NewConfidenceScorer()
	market := &fakeMarket{prices: map[string]decimal.Decimal{
		"BTCUSDT": decimal.NewFromInt(50000),
		"ETHUSDT": decimal.NewFromInt(2000),
	}}
	repo := &memTradeRepo{}

	service, err := NewService(Deps{
		Config: Config{
			MaxPositionPct: d("2.0"),
			KellyFraction:  d("0.25"),
			StopLossPct:    d("5.0"),
			Symbols:        []string{"BTCUSDT", "ETHUSDT"},
		},
		Engine:   eng,
		Breakers: breakers,
		Scorer:   scorer,
		Market:   market,
		Repo:     repo,
		Outcomes: repo,
		Logger:   log,
	})
	require.NoError(t, err)

	return &testHarness{service: service, engine: eng, breakers: breakers, scorer: scorer, market: market, repo: repo}
}

func goodRequest() TradeRequest {
	return TradeRequest{
		Symbol: "BTCUSDT",
		Tier:   domain.TierFoundation,
		Factors: ai.ConfidenceFactors{
			TechnicalScore:     d("0.8"),
			SentimentScore:     d("0.7"),
			LiquidityScore:     d("0.9"),
			RiskRewardScore:    d("0.8"),
			HistoricalAccuracy: d("0.6"),
		},
		WinRate: d("0.6"),
		AvgWin:  decimal.NewFromInt(300),
		AvgLoss: decimal.NewFromInt(200),
	}
}

func TestNewServiceValidation(t *testing.T) {
	_, err := NewService(Deps{})
	assert.Error(t, err)

	h := newTestService(t)
	deps := Deps{
		Config:   Config{Symbols: nil},
		Engine:   h.engine,
		Breakers: h.breakers,
		Scorer:   h.scorer,
		Market:   h.market,
		Logger:   &mockLogger{},
	}
	_, err = NewService(deps)
	assert.Error(t, err, "empty symbol list must be rejected")
}

func TestPlaceTradeExecutes(t *testing.T) {
	h := newTestService(t)
	ctx := context.Background()

	decision, err := h.service.PlaceTrade(ctx, goodRequest())
	require.NoError(t, err)
	require.True(t, decision.Accepted, "reason: %s", decision.Reason)

	assert.True(t, decision.Confidence.Sign() > 0)
	assert.True(t, decision.PositionSize.Sign() > 0)
	assert.True(t, decision.StopPrice.Sign() > 0)
	require.NotNil(t, decision.Trade)

	pos, ok := h.engine.GetPosition("BTCUSDT")
	require.True(t, ok)
	assert.True(t, pos.Quantity.Sign() > 0)

	require.Len(t, h.repo.trades, 1, "fill persisted to the trade ledger")
	assert.Equal(t, "BTCUSDT", h.repo.trades[0].Symbol)
}

func TestPlaceTradeBlockedByBreakers(t *testing.T) {
	h := newTestService(t)
	ctx := context.Background()

	h.breakers.CheckVolatility(d("150"))

	decision, err := h.service.PlaceTrade(ctx, goodRequest())
	require.NoError(t, err)
	assert.False(t, decision.Accepted)
	assert.Contains(t, decision.Reason, "circuit breakers open")
	assert.Empty(t, h.engine.GetOrders(""), "no order may be submitted while halted")
}

func TestPlaceTradeDeclinedWhenNoEdge(t *testing.T) {
	h := newTestService(t)
	ctx := context.Background()

	req := goodRequest()
	req.WinRate = d("0.45") // Below the Kelly minimum: size collapses to zero

	decision, err := h.service.PlaceTrade(ctx, req)
	require.NoError(t, err)
	assert.False(t, decision.Accepted)
	assert.Equal(t, "position size is zero", decision.Reason)
}

func TestPlaceTradeUnknownSymbol(t *testing.T) {
	h := newTestService(t)
	ctx := context.Background()

	req := goodRequest()
	req.Symbol = "DOGEUSDT"

	_, err := h.service.PlaceTrade(ctx, req)
	assert.Error(t, err)
}

func TestClosePosition(t *testing.T) {
	h := newTestService(t)
	ctx := context.Background()

	decision, err := h.service.PlaceTrade(ctx, goodRequest())
	require.NoError(t, err)
	require.True(t, decision.Accepted)

	trade, err := h.service.ClosePosition(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, trade)
	assert.Equal(t, domain.Sell, trade.Side)

	_, ok := h.engine.GetPosition("BTCUSDT")
	assert.False(t, ok)
	assert.Len(t, h.repo.trades, 2)
}

func TestClosePositionNotFound(t *testing.T) {
	h := newTestService(t)
	_, err := h.service.ClosePosition(context.Background(), "BTCUSDT")
	assert.ErrorIs(t, err, ports.ErrNotFound)
}

func TestRecordOutcomeFeedsBreakersAndScorer(t *testing.T) {
	h := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		h.service.RecordOutcome(ctx, d("0.7"), false, d("-1"))
	}

	assert.False(t, h.breakers.IsTradingAllowed(), "five straight losses must trip the breaker")
	assert.Equal(t, 5, h.scorer.OutcomeCount())
	assert.Len(t, h.repo.outcomes, 5)
}

func TestHandlePricesFillsPendingOrders(t *testing.T) {
	h := newTestService(t)
	ctx := context.Background()

	limit := decimal.NewFromInt(49000)
	order, err := h.engine.SubmitOrder(ctx, "BTCUSDT", domain.Buy, d("0.1"), domain.Limit, &limit)
	require.NoError(t, err)

	// Above the limit: the order keeps resting.
	h.service.handlePrices(ctx, map[string]decimal.Decimal{"BTCUSDT": decimal.NewFromInt(50000)})
	got, _ := h.engine.GetOrder(order.ID)
	assert.Equal(t, domain.OrderPending, got.Status)

	// Price crosses the limit: the sweep fills and persists it.
	h.service.handlePrices(ctx, map[string]decimal.Decimal{"BTCUSDT": decimal.NewFromInt(48500)})
	got, _ = h.engine.GetOrder(order.ID)
	assert.Equal(t, domain.OrderFilled, got.Status)
	assert.Len(t, h.repo.trades, 1)
}

func TestHandlePricesTripsDailyLossBreaker(t *testing.T) {
	h := newTestService(t)
	ctx := context.Background()

	// Simulate a session that opened the day well above current equity.
	h.service.mu.Lock()
	h.service.startOfDay = decimal.NewFromInt(120000)
	h.service.mu.Unlock()

	h.service.handlePrices(ctx, map[string]decimal.Decimal{"BTCUSDT": decimal.NewFromInt(50000)})

	assert.False(t, h.breakers.IsTradingAllowed(), "a 16%% intraday loss must trip the daily breaker")
	assert.Contains(t, h.breakers.ActiveBreakers(), risk.DailyLoss)
}

func TestAccountInfoAndBreakerStatus(t *testing.T) {
	h := newTestService(t)

	account := h.service.AccountInfo()
	assert.True(t, decimal.NewFromInt(100000).Equal(account.Cash))

	statuses := h.service.BreakerStatus()
	assert.Len(t, statuses, 7)
}
