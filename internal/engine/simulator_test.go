package engine

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paperbot/internal/domain"
)

func newTestSimulator(t *testing.T, cfg SimConfig) *Simulator {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = &mockLogger{}
	}
	if cfg.InitialCapital.IsZero() {
		cfg.InitialCapital = decimal.NewFromInt(100000)
	}
	sim, err := NewSimulator(cfg)
	require.NoError(t, err)
	return sim
}

func TestNewSimulatorValidation(t *testing.T) {
	_, err := NewSimulator(SimConfig{InitialCapital: decimal.NewFromInt(1000)})
	assert.Error(t, err, "missing logger must be rejected")

	_, err = NewSimulator(SimConfig{Logger: &mockLogger{}})
	assert.Error(t, err, "zero capital must be rejected")
}

func TestExecuteBuy(t *testing.T) {
	sim := newTestSimulator(t, SimConfig{})
	ctx := context.Background()

	ok := sim.ExecuteBuy(ctx, "BTCUSDT", decimal.NewFromInt(1), decimal.NewFromInt(50000), nil, nil, "momentum", d("0.8"))
	require.True(t, ok)

	// Execution at 50000 * 1.002 = 50100, fees 50100 * 0.001 = 50.1,
	// total debit 50150.1.
	assert.True(t, d("49849.9").Equal(sim.Cash()), "cash %s", sim.Cash())

	positions := sim.OpenPositions()
	require.Len(t, positions, 1)
	pos := positions[0]
	assert.True(t, d("50100").Equal(pos.EntryPrice))
	assert.True(t, d("50.1").Equal(pos.FeesPaid))
	assert.Equal(t, "momentum", pos.Strategy)
}

func TestExecuteBuyRejections(t *testing.T) {
	sim := newTestSimulator(t, SimConfig{})
	ctx := context.Background()
	price := decimal.NewFromInt(100)

	assert.False(t, sim.ExecuteBuy(ctx, "X", decimal.Zero, price, nil, nil, "", decimal.Zero), "zero quantity")
	assert.False(t, sim.ExecuteBuy(ctx, "X", decimal.NewFromInt(1), decimal.Zero, nil, nil, "", decimal.Zero), "zero price")

	// Too large for available cash.
	assert.False(t, sim.ExecuteBuy(ctx, "X", decimal.NewFromInt(10000), price, nil, nil, "", decimal.Zero))

	// Stop at or above execution price (100 * 1.002 = 100.2).
	badStop := d("100.2")
	assert.False(t, sim.ExecuteBuy(ctx, "X", decimal.NewFromInt(1), price, &badStop, nil, "", decimal.Zero))

	// Target at or below execution price.
	badTarget := d("100.2")
	assert.False(t, sim.ExecuteBuy(ctx, "X", decimal.NewFromInt(1), price, nil, &badTarget, "", decimal.Zero))

	// Duplicate position.
	require.True(t, sim.ExecuteBuy(ctx, "X", decimal.NewFromInt(1), price, nil, nil, "", decimal.Zero))
	assert.False(t, sim.ExecuteBuy(ctx, "X", decimal.NewFromInt(1), price, nil, nil, "", decimal.Zero))

	// Only the one successful buy changed state.
	assert.Len(t, sim.OpenPositions(), 1)
}

func TestExecuteSell(t *testing.T) {
	sim := newTestSimulator(t, SimConfig{})
	ctx := context.Background()

	require.True(t, sim.ExecuteBuy(ctx, "ETHUSDT", decimal.NewFromInt(10), decimal.NewFromInt(2000), nil, nil, "swing", d("0.7")))

	trade := sim.ExecuteSell(ctx, "ETHUSDT", decimal.NewFromInt(2200), domain.CloseReasonManual)
	require.NotNil(t, trade)

	// Entry 2004, cost basis 20040 + 20.04 = 20060.04.
	// Exit 2200 * 0.998 = 2195.6, proceeds 21956 - 21.956 = 21934.044.
	// PNL = 21934.044 - 20060.04 = 1874.004.
	assert.True(t, d("2195.6").Equal(trade.ExitPrice), "exit %s", trade.ExitPrice)
	assert.True(t, d("1874.004").Equal(trade.PNL), "pnl %s", trade.PNL)
	assert.Equal(t, domain.CloseReasonManual, trade.ExitReason)
	assert.Equal(t, "swing", trade.Strategy)
	assert.True(t, d("41.996").Equal(trade.FeesPaid), "fees %s", trade.FeesPaid)

	assert.Empty(t, sim.OpenPositions())
	assert.True(t, trade.PNL.Equal(sim.TotalPNL()))
	assert.True(t, trade.PNL.Equal(sim.DailyPNL(trade.ExitTime.Format("2006-01-02"))))
}

func TestExecuteSellNoPosition(t *testing.T) {
	sim := newTestSimulator(t, SimConfig{})
	trade := sim.ExecuteSell(context.Background(), "NONE", decimal.NewFromInt(100), domain.CloseReasonManual)
	assert.Nil(t, trade)
}

func TestStopLossExit(t *testing.T) {
	sim := newTestSimulator(t, SimConfig{})
	ctx := context.Background()

	stop := decimal.NewFromInt(95)
	require.True(t, sim.ExecuteBuy(ctx, "X", decimal.NewFromInt(10), decimal.NewFromInt(100), &stop, nil, "", decimal.Zero))

	// Above the stop: nothing closes.
	closed := sim.UpdatePositions(ctx, map[string]decimal.Decimal{"X": decimal.NewFromInt(96)})
	assert.Empty(t, closed)
	assert.Len(t, sim.OpenPositions(), 1)

	// At the stop: the protective exit fires with the stop-loss reason.
	closed = sim.UpdatePositions(ctx, map[string]decimal.Decimal{"X": stop})
	require.Len(t, closed, 1)
	assert.Equal(t, domain.CloseReasonStopLoss, closed[0].ExitReason)
	assert.Empty(t, sim.OpenPositions())
}

func TestTakeProfitExit(t *testing.T) {
	sim := newTestSimulator(t, SimConfig{})
	ctx := context.Background()

	target := decimal.NewFromInt(120)
	require.True(t, sim.ExecuteBuy(ctx, "X", decimal.NewFromInt(10), decimal.NewFromInt(100), nil, &target, "", decimal.Zero))

	closed := sim.UpdatePositions(ctx, map[string]decimal.Decimal{"X": decimal.NewFromInt(119)})
	assert.Empty(t, closed)

	closed = sim.UpdatePositions(ctx, map[string]decimal.Decimal{"X": decimal.NewFromInt(121)})
	require.Len(t, closed, 1)
	assert.Equal(t, domain.CloseReasonTakeProfit, closed[0].ExitReason)
	assert.True(t, closed[0].PNL.Sign() > 0)
}

func TestUpdatePositionsMissingPrice(t *testing.T) {
	sim := newTestSimulator(t, SimConfig{})
	ctx := context.Background()

	stop := decimal.NewFromInt(95)
	require.True(t, sim.ExecuteBuy(ctx, "X", decimal.NewFromInt(10), decimal.NewFromInt(100), &stop, nil, "", decimal.Zero))

	closed := sim.UpdatePositions(ctx, map[string]decimal.Decimal{"OTHER": decimal.NewFromInt(1)})
	assert.Empty(t, closed)
	assert.Len(t, sim.OpenPositions(), 1, "position without price data is left alone")
}

func TestPeakValueTracking(t *testing.T) {
	sim := newTestSimulator(t, SimConfig{})
	ctx := context.Background()

	require.True(t, sim.ExecuteBuy(ctx, "X", decimal.NewFromInt(100), decimal.NewFromInt(100), nil, nil, "", decimal.Zero))

	sim.UpdatePositions(ctx, map[string]decimal.Decimal{"X": decimal.NewFromInt(150)})
	peakAfterRally := sim.PeakValue()
	assert.True(t, peakAfterRally.GreaterThan(decimal.NewFromInt(100000)))

	// A decline never lowers the recorded peak.
	sim.UpdatePositions(ctx, map[string]decimal.Decimal{"X": decimal.NewFromInt(90)})
	assert.True(t, peakAfterRally.Equal(sim.PeakValue()))
}

func TestPortfolioValue(t *testing.T) {
	sim := newTestSimulator(t, SimConfig{})
	ctx := context.Background()

	require.True(t, sim.ExecuteBuy(ctx, "X", decimal.NewFromInt(10), decimal.NewFromInt(100), nil, nil, "", decimal.Zero))

	// Cash 100000 - 1003.002 = 98996.998, position 10 * 110 = 1100.
	value := sim.PortfolioValue(map[string]decimal.Decimal{"X": decimal.NewFromInt(110)})
	assert.True(t, d("100096.998").Equal(value), "got %s", value)
}

func TestPerformanceMetricsFromSimulator(t *testing.T) {
	sim := newTestSimulator(t, SimConfig{})
	ctx := context.Background()

	require.True(t, sim.ExecuteBuy(ctx, "A", decimal.NewFromInt(10), decimal.NewFromInt(100), nil, nil, "", decimal.Zero))
	require.NotNil(t, sim.ExecuteSell(ctx, "A", decimal.NewFromInt(120), domain.CloseReasonManual))

	require.True(t, sim.ExecuteBuy(ctx, "B", decimal.NewFromInt(10), decimal.NewFromInt(100), nil, nil, "", decimal.Zero))
	require.NotNil(t, sim.ExecuteSell(ctx, "B", decimal.NewFromInt(90), domain.CloseReasonStopLoss))

	perf := sim.PerformanceMetrics()
	assert.Equal(t, 2, perf.TotalTrades)
	assert.Equal(t, 1, perf.WinningTrades)
	assert.Equal(t, 1, perf.LosingTrades)
	assert.True(t, d("0.5").Equal(perf.WinRate))
	assert.True(t, perf.TotalFees.Sign() > 0)
}
