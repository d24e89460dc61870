package engine

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paperbot/internal/domain"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestEngine(t *testing.T, cfg Config) *PaperTradingEngine {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = &mockLogger{}
	}
	if cfg.InitialCapital.IsZero() {
		cfg.InitialCapital = decimal.NewFromInt(100000)
	}
	eng, err := New(cfg)
	require.NoError(t, err)
	return eng
}

func TestNewValidation(t *testing.T) {
	_, err := New(Config{InitialCapital: decimal.NewFromInt(1000)})
	assert.Error(t, err, "missing logger must be rejected")

	_, err = New(Config{Logger: &mockLogger{}})
	assert.Error(t, err, "zero capital must be rejected")

	_, err = New(Config{Logger: &mockLogger{}, InitialCapital: decimal.NewFromInt(1000), SlippageBps: d("-1")})
	assert.Error(t, err, "negative slippage must be rejected")
}

func TestSubmitOrderValidation(t *testing.T) {
	eng := newTestEngine(t, Config{})
	ctx := context.Background()
	qty := decimal.NewFromInt(10)

	_, err := eng.SubmitOrder(ctx, "", domain.Buy, qty, domain.Market, nil)
	assert.Error(t, err, "empty symbol")

	_, err = eng.SubmitOrder(ctx, "AAPL", "HOLD", qty, domain.Market, nil)
	assert.Error(t, err, "invalid side")

	_, err = eng.SubmitOrder(ctx, "AAPL", domain.Buy, decimal.Zero, domain.Market, nil)
	assert.Error(t, err, "zero quantity")

	_, err = eng.SubmitOrder(ctx, "AAPL", domain.Buy, qty, domain.Limit, nil)
	assert.Error(t, err, "limit order without price")

	zero := decimal.Zero
	_, err = eng.SubmitOrder(ctx, "AAPL", domain.Buy, qty, domain.Limit, &zero)
	assert.Error(t, err, "limit order with zero price")

	_, err = eng.SubmitOrder(ctx, "AAPL", domain.Buy, qty, "stop", nil)
	assert.Error(t, err, "unknown order type")
}

func TestSubmitOrderReservesNoFunds(t *testing.T) {
	eng := newTestEngine(t, Config{})
	ctx := context.Background()

	// Submit far more than the account can afford: submission still succeeds.
	order, err := eng.SubmitOrder(ctx, "AAPL", domain.Buy, decimal.NewFromInt(1000000), domain.Market, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderPending, order.Status)
	assert.True(t, decimal.NewFromInt(100000).Equal(eng.GetAccountInfo().Cash))
}

func TestOrderIDFormat(t *testing.T) {
	eng := newTestEngine(t, Config{})
	ctx := context.Background()

	first, err := eng.SubmitOrder(ctx, "AAPL", domain.Buy, decimal.NewFromInt(1), domain.Market, nil)
	require.NoError(t, err)
	second, err := eng.SubmitOrder(ctx, "AAPL", domain.Buy, decimal.NewFromInt(1), domain.Market, nil)
	require.NoError(t, err)

	assert.Regexp(t, `^PAPER-\d{8}-000001$`, first.ID)
	assert.Regexp(t, `^PAPER-\d{8}-000002$`, second.ID)
}

func TestBuyFillWithSlippageAndCommission(t *testing.T) {
	eng := newTestEngine(t, Config{
		EnableSlippage:     true,
		SlippageBps:        decimal.NewFromInt(20), // 0.2%
		EnableCommission:   true,
		CommissionPerShare: d("0.1002"),
	})
	ctx := context.Background()

	order, err := eng.SubmitOrder(ctx, "AAPL", domain.Buy, decimal.NewFromInt(10), domain.Market, nil)
	require.NoError(t, err)

	trade, err := eng.FillOrder(ctx, order.ID, decimal.NewFromInt(100))
	require.NoError(t, err)
	require.NotNil(t, trade)

	// Fill at 100 * 1.002 = 100.2, commission 10 * 0.1002 = 1.002,
	// total debit 1002 + 1.002 = 1003.002.
	assert.True(t, d("100.2").Equal(trade.Price), "fill price %s", trade.Price)
	assert.True(t, d("1.002").Equal(trade.Commission), "commission %s", trade.Commission)
	assert.True(t, d("98996.998").Equal(eng.GetAccountInfo().Cash), "cash %s", eng.GetAccountInfo().Cash)

	pos, ok := eng.GetPosition("AAPL")
	require.True(t, ok)
	assert.True(t, d("100.2").Equal(pos.EntryPrice))
	assert.True(t, decimal.NewFromInt(10).Equal(pos.Quantity))
	assert.Equal(t, domain.Long, pos.Side)
}

func TestRoundTripWithFrictions(t *testing.T) {
	eng := newTestEngine(t, Config{
		EnableSlippage:     true,
		SlippageBps:        decimal.NewFromInt(20),
		EnableCommission:   true,
		CommissionPerShare: d("0.1002"),
	})
	ctx := context.Background()

	buy, err := eng.SubmitOrder(ctx, "AAPL", domain.Buy, decimal.NewFromInt(10), domain.Market, nil)
	require.NoError(t, err)
	_, err = eng.FillOrder(ctx, buy.ID, decimal.NewFromInt(100))
	require.NoError(t, err)

	sell, err := eng.SubmitOrder(ctx, "AAPL", domain.Sell, decimal.NewFromInt(10), domain.Market, nil)
	require.NoError(t, err)
	trade, err := eng.FillOrder(ctx, sell.ID, decimal.NewFromInt(110))
	require.NoError(t, err)
	require.NotNil(t, trade)

	// Sell fill at 110 * 0.998 = 109.78, proceeds 1097.8 - 1.002 = 1096.798.
	assert.True(t, d("109.78").Equal(trade.Price), "sell fill %s", trade.Price)

	account := eng.GetAccountInfo()
	assert.True(t, d("100093.796").Equal(account.Cash), "cash %s", account.Cash)
	assert.Equal(t, 0, account.PositionCount, "position deleted at zero quantity")
	assert.Equal(t, 2, account.TradeCount)

	_, ok := eng.GetPosition("AAPL")
	assert.False(t, ok)
}

func TestZeroCostRoundTripIsLossless(t *testing.T) {
	eng := newTestEngine(t, Config{})
	ctx := context.Background()
	price := decimal.NewFromInt(250)

	buy, _ := eng.SubmitOrder(ctx, "MSFT", domain.Buy, decimal.NewFromInt(40), domain.Market, nil)
	_, err := eng.FillOrder(ctx, buy.ID, price)
	require.NoError(t, err)

	sell, _ := eng.SubmitOrder(ctx, "MSFT", domain.Sell, decimal.NewFromInt(40), domain.Market, nil)
	_, err = eng.FillOrder(ctx, sell.ID, price)
	require.NoError(t, err)

	// With slippage and commission disabled a flat round trip is exactly free.
	assert.True(t, decimal.NewFromInt(100000).Equal(eng.GetAccountInfo().Cash))
}

func TestFillOrderInvalidPrice(t *testing.T) {
	eng := newTestEngine(t, Config{})
	_, err := eng.FillOrder(context.Background(), "PAPER-20260310-000001", decimal.Zero)
	assert.Error(t, err)
}

func TestFillUnknownOrderIsNoOp(t *testing.T) {
	eng := newTestEngine(t, Config{})
	trade, err := eng.FillOrder(context.Background(), "PAPER-20260310-000099", decimal.NewFromInt(100))
	assert.NoError(t, err)
	assert.Nil(t, trade)
}

func TestFillNonPendingOrderIsNoOp(t *testing.T) {
	eng := newTestEngine(t, Config{})
	ctx := context.Background()

	order, _ := eng.SubmitOrder(ctx, "AAPL", domain.Buy, decimal.NewFromInt(1), domain.Market, nil)
	_, err := eng.FillOrder(ctx, order.ID, decimal.NewFromInt(100))
	require.NoError(t, err)

	trade, err := eng.FillOrder(ctx, order.ID, decimal.NewFromInt(100))
	assert.NoError(t, err)
	assert.Nil(t, trade, "already-filled order must not fill again")
	assert.Equal(t, 1, eng.GetAccountInfo().TradeCount)
}

func TestInsufficientFundsCancelsOrder(t *testing.T) {
	eng := newTestEngine(t, Config{InitialCapital: decimal.NewFromInt(500)})
	ctx := context.Background()

	order, err := eng.SubmitOrder(ctx, "AAPL", domain.Buy, decimal.NewFromInt(10), domain.Market, nil)
	require.NoError(t, err)

	trade, err := eng.FillOrder(ctx, order.ID, decimal.NewFromInt(100))
	assert.NoError(t, err, "insufficient funds is a soft failure")
	assert.Nil(t, trade)

	got, ok := eng.GetOrder(order.ID)
	require.True(t, ok)
	assert.Equal(t, domain.OrderCancelled, got.Status)
	assert.True(t, decimal.NewFromInt(500).Equal(eng.GetAccountInfo().Cash), "cash untouched")
	assert.Equal(t, 0, eng.GetAccountInfo().TradeCount)
}

func TestSellWithoutPositionCancelsOrder(t *testing.T) {
	eng := newTestEngine(t, Config{})
	ctx := context.Background()

	order, _ := eng.SubmitOrder(ctx, "AAPL", domain.Sell, decimal.NewFromInt(10), domain.Market, nil)
	trade, err := eng.FillOrder(ctx, order.ID, decimal.NewFromInt(100))
	assert.NoError(t, err)
	assert.Nil(t, trade)

	got, _ := eng.GetOrder(order.ID)
	assert.Equal(t, domain.OrderCancelled, got.Status)
}

func TestOversizedSellCancelsOrder(t *testing.T) {
	eng := newTestEngine(t, Config{})
	ctx := context.Background()

	buy, _ := eng.SubmitOrder(ctx, "AAPL", domain.Buy, decimal.NewFromInt(5), domain.Market, nil)
	_, err := eng.FillOrder(ctx, buy.ID, decimal.NewFromInt(100))
	require.NoError(t, err)

	sell, _ := eng.SubmitOrder(ctx, "AAPL", domain.Sell, decimal.NewFromInt(6), domain.Market, nil)
	trade, err := eng.FillOrder(ctx, sell.ID, decimal.NewFromInt(100))
	assert.NoError(t, err)
	assert.Nil(t, trade)

	got, _ := eng.GetOrder(sell.ID)
	assert.Equal(t, domain.OrderCancelled, got.Status)

	pos, ok := eng.GetPosition("AAPL")
	require.True(t, ok, "position untouched by the cancelled sell")
	assert.True(t, decimal.NewFromInt(5).Equal(pos.Quantity))
}

func TestLimitOrderConditions(t *testing.T) {
	eng := newTestEngine(t, Config{})
	ctx := context.Background()
	limit := decimal.NewFromInt(100)

	buy, err := eng.SubmitOrder(ctx, "AAPL", domain.Buy, decimal.NewFromInt(10), domain.Limit, &limit)
	require.NoError(t, err)

	// Above the limit: the order rests.
	trade, err := eng.FillOrder(ctx, buy.ID, decimal.NewFromInt(101))
	assert.NoError(t, err)
	assert.Nil(t, trade)
	got, _ := eng.GetOrder(buy.ID)
	assert.Equal(t, domain.OrderPending, got.Status)

	// At the limit: fills.
	trade, err = eng.FillOrder(ctx, buy.ID, limit)
	require.NoError(t, err)
	require.NotNil(t, trade)

	// Sell limit: rests below, fills at or above.
	sell, err := eng.SubmitOrder(ctx, "AAPL", domain.Sell, decimal.NewFromInt(10), domain.Limit, &limit)
	require.NoError(t, err)
	trade, err = eng.FillOrder(ctx, sell.ID, decimal.NewFromInt(99))
	assert.NoError(t, err)
	assert.Nil(t, trade)
	trade, err = eng.FillOrder(ctx, sell.ID, decimal.NewFromInt(100))
	require.NoError(t, err)
	assert.NotNil(t, trade)
}

func TestWeightedAverageEntry(t *testing.T) {
	eng := newTestEngine(t, Config{})
	ctx := context.Background()

	first, _ := eng.SubmitOrder(ctx, "AAPL", domain.Buy, decimal.NewFromInt(10), domain.Market, nil)
	_, err := eng.FillOrder(ctx, first.ID, decimal.NewFromInt(100))
	require.NoError(t, err)

	second, _ := eng.SubmitOrder(ctx, "AAPL", domain.Buy, decimal.NewFromInt(10), domain.Market, nil)
	_, err = eng.FillOrder(ctx, second.ID, decimal.NewFromInt(200))
	require.NoError(t, err)

	pos, ok := eng.GetPosition("AAPL")
	require.True(t, ok)
	assert.True(t, decimal.NewFromInt(20).Equal(pos.Quantity))
	assert.True(t, decimal.NewFromInt(150).Equal(pos.EntryPrice), "weighted average entry, got %s", pos.EntryPrice)
}

func TestPartialSellKeepsPosition(t *testing.T) {
	eng := newTestEngine(t, Config{})
	ctx := context.Background()

	buy, _ := eng.SubmitOrder(ctx, "AAPL", domain.Buy, decimal.NewFromInt(10), domain.Market, nil)
	_, err := eng.FillOrder(ctx, buy.ID, decimal.NewFromInt(100))
	require.NoError(t, err)

	sell, _ := eng.SubmitOrder(ctx, "AAPL", domain.Sell, decimal.NewFromInt(4), domain.Market, nil)
	_, err = eng.FillOrder(ctx, sell.ID, decimal.NewFromInt(120))
	require.NoError(t, err)

	pos, ok := eng.GetPosition("AAPL")
	require.True(t, ok)
	assert.True(t, decimal.NewFromInt(6).Equal(pos.Quantity))
	assert.True(t, decimal.NewFromInt(80).Equal(pos.RealizedPL), "realized (120-100)*4, got %s", pos.RealizedPL)
}

func TestCancelOrder(t *testing.T) {
	eng := newTestEngine(t, Config{})
	ctx := context.Background()

	order, _ := eng.SubmitOrder(ctx, "AAPL", domain.Buy, decimal.NewFromInt(1), domain.Market, nil)
	assert.True(t, eng.CancelOrder(ctx, order.ID))
	assert.False(t, eng.CancelOrder(ctx, order.ID), "cancel is not idempotent on terminal orders")
	assert.False(t, eng.CancelOrder(ctx, "PAPER-20260310-000099"))

	trade, err := eng.FillOrder(ctx, order.ID, decimal.NewFromInt(100))
	assert.NoError(t, err)
	assert.Nil(t, trade, "cancelled order must not fill")
}

func TestUpdatePricesAndAccountInfo(t *testing.T) {
	eng := newTestEngine(t, Config{})
	ctx := context.Background()

	buy, _ := eng.SubmitOrder(ctx, "AAPL", domain.Buy, decimal.NewFromInt(10), domain.Market, nil)
	_, err := eng.FillOrder(ctx, buy.ID, decimal.NewFromInt(100))
	require.NoError(t, err)

	eng.UpdatePrices(map[string]decimal.Decimal{"AAPL": decimal.NewFromInt(110), "MSFT": decimal.NewFromInt(999)})

	pos, _ := eng.GetPosition("AAPL")
	assert.True(t, decimal.NewFromInt(110).Equal(pos.CurrentPrice))
	assert.True(t, decimal.NewFromInt(100).Equal(pos.UnrealizedPL()), "(110-100)*10")

	account := eng.GetAccountInfo()
	assert.True(t, decimal.NewFromInt(99000).Equal(account.Cash))
	assert.True(t, decimal.NewFromInt(100100).Equal(account.Equity), "99000 cash + 1100 market value")
	assert.True(t, d("0.1").Equal(account.TotalReturnPct), "got %s", account.TotalReturnPct)
}

func TestGetOrdersFilterAndOrdering(t *testing.T) {
	eng := newTestEngine(t, Config{})
	ctx := context.Background()

	first, _ := eng.SubmitOrder(ctx, "AAPL", domain.Buy, decimal.NewFromInt(1), domain.Market, nil)
	second, _ := eng.SubmitOrder(ctx, "MSFT", domain.Buy, decimal.NewFromInt(1), domain.Market, nil)
	third, _ := eng.SubmitOrder(ctx, "GOOG", domain.Buy, decimal.NewFromInt(1), domain.Market, nil)

	_, err := eng.FillOrder(ctx, second.ID, decimal.NewFromInt(10))
	require.NoError(t, err)

	all := eng.GetOrders("")
	require.Len(t, all, 3)
	assert.Equal(t, []string{first.ID, second.ID, third.ID}, []string{all[0].ID, all[1].ID, all[2].ID})

	pending := eng.GetOrders(domain.OrderPending)
	require.Len(t, pending, 2)
	filled := eng.GetOrders(domain.OrderFilled)
	require.Len(t, filled, 1)
	assert.Equal(t, second.ID, filled[0].ID)
}

func TestGetTradesLimit(t *testing.T) {
	eng := newTestEngine(t, Config{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		order, _ := eng.SubmitOrder(ctx, "AAPL", domain.Buy, decimal.NewFromInt(1), domain.Market, nil)
		_, err := eng.FillOrder(ctx, order.ID, decimal.NewFromInt(100))
		require.NoError(t, err)
	}

	assert.Len(t, eng.GetTrades(0), 3)
	assert.Len(t, eng.GetTrades(-1), 3)
	last := eng.GetTrades(2)
	require.Len(t, last, 2)
	assert.Regexp(t, `-000002$`, last[0].OrderID, "oldest of the two most recent fills")
}

func TestReset(t *testing.T) {
	eng := newTestEngine(t, Config{})
	ctx := context.Background()

	order, _ := eng.SubmitOrder(ctx, "AAPL", domain.Buy, decimal.NewFromInt(10), domain.Market, nil)
	_, err := eng.FillOrder(ctx, order.ID, decimal.NewFromInt(100))
	require.NoError(t, err)

	eng.Reset(ctx)

	account := eng.GetAccountInfo()
	assert.True(t, decimal.NewFromInt(100000).Equal(account.Cash))
	assert.Equal(t, 0, account.PositionCount)
	assert.Equal(t, 0, account.TradeCount)
	assert.Empty(t, eng.GetOrders(""))

	// The counter restarted: the next order ID is 000001 again.
	next, _ := eng.SubmitOrder(ctx, "AAPL", domain.Buy, decimal.NewFromInt(1), domain.Market, nil)
	assert.Regexp(t, `^PAPER-\d{8}-000001$`, next.ID)
}
