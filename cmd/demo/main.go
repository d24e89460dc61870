// Command demo runs a scripted paper trading session against canned prices.
// It exercises order submission, fills, position tracking, the circuit
// breaker bank and the round-trip simulator without touching any exchange.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"paperbot/internal/adapters/logger"
	"paperbot/internal/ai"
	"paperbot/internal/domain"
	"paperbot/internal/engine"
	"paperbot/internal/risk"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "demo failed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()
	log := logger.NewStdLogger(logger.LevelInfo)

	capital := decimal.NewFromInt(100000)
	eng, err := engine.New(engine.Config{
		InitialCapital:   capital,
		EnableSlippage:   true,
		EnableCommission: true,
		Logger:           log,
	})
	if err != nil {
		return err
	}

	scorer := ai.NewConfidenceScorer()
	breakers := risk.NewCircuitBreaker(nil)

	fmt.Println("=== Paper Trading Demo ===")
	fmt.Printf("Starting capital: $%s\n\n", capital.StringFixed(2))

	// Scripted price path for one symbol.
	prices := []string{"50000", "50500", "51200", "50800", "52000"}
	symbol := "BTCUSDT"

	confidence, err := scorer.CalculateConfidence(ai.ConfidenceFactors{
		TechnicalScore:     decimal.RequireFromString("0.8"),
		SentimentScore:     decimal.RequireFromString("0.7"),
		LiquidityScore:     decimal.RequireFromString("0.9"),
		RiskRewardScore:    decimal.RequireFromString("0.75"),
		HistoricalAccuracy: decimal.RequireFromString("0.6"),
	}, domain.TierFoundation)
	if err != nil {
		return err
	}
	fmt.Printf("Calibrated confidence for %s: %s\n", symbol, confidence.StringFixed(3))

	sizer, err := risk.NewPositionSizer(risk.SizerParams{
		PortfolioValue: capital,
		WinRate:        decimal.RequireFromString("0.58"),
		AvgWin:         decimal.NewFromInt(300),
		AvgLoss:        decimal.NewFromInt(200),
		Confidence:     confidence,
		AssetTier:      domain.TierFoundation,
	})
	if err != nil {
		return err
	}

	entry := decimal.RequireFromString(prices[0])
	size := sizer.PositionSize()
	quantity, err := sizer.Quantity(entry)
	if err != nil {
		return err
	}
	stop, err := sizer.StopLoss(entry, decimal.NewFromInt(5))
	if err != nil {
		return err
	}
	fmt.Printf("Position size: $%s (%s units), stop at $%s\n\n", size.StringFixed(2), quantity.StringFixed(6), stop.StringFixed(2))

	if !breakers.IsTradingAllowed() {
		return fmt.Errorf("circuit breakers open before first trade")
	}

	order, err := eng.SubmitOrder(ctx, symbol, domain.Buy, quantity, domain.Market, nil)
	if err != nil {
		return err
	}
	if _, err := eng.FillOrder(ctx, order.ID, entry); err != nil {
		return err
	}

	for _, p := range prices[1:] {
		price := decimal.RequireFromString(p)
		eng.UpdatePrices(map[string]decimal.Decimal{symbol: price})
		if pos, ok := eng.GetPosition(symbol); ok {
			fmt.Printf("Price $%s  unrealized P/L $%s\n", price.StringFixed(2), pos.UnrealizedPL().StringFixed(2))
		}
		time.Sleep(100 * time.Millisecond)
	}

	exit := decimal.RequireFromString(prices[len(prices)-1])
	sellOrder, err := eng.SubmitOrder(ctx, symbol, domain.Sell, quantity, domain.Market, nil)
	if err != nil {
		return err
	}
	trade, err := eng.FillOrder(ctx, sellOrder.ID, exit)
	if err != nil {
		return err
	}

	account := eng.GetAccountInfo()
	win := account.TotalReturnPct.Sign() > 0
	scorer.RecordOutcome(confidence, win, account.TotalReturnPct)
	breakers.RecordTradeResult(win)

	fmt.Println("\n=== Session Summary ===")
	fmt.Printf("Exit fill: $%s\n", trade.Price.StringFixed(2))
	fmt.Printf("Cash: $%s\n", account.Cash.StringFixed(2))
	fmt.Printf("Equity: $%s\n", account.Equity.StringFixed(2))
	fmt.Printf("Total P/L: $%s (%s%%)\n", account.TotalPL.StringFixed(2), account.TotalReturnPct.StringFixed(3))
	fmt.Printf("Trades executed: %d\n", account.TradeCount)
	fmt.Printf("Trading allowed: %v\n", breakers.IsTradingAllowed())

	return nil
}
