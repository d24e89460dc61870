package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"paperbot/config"
	"paperbot/internal/adapters/binanceclient"
	"paperbot/internal/adapters/logger"
	"paperbot/internal/adapters/sqlite"
	"paperbot/internal/ai"
	"paperbot/internal/app"
	"paperbot/internal/engine"
	"paperbot/internal/ports"
	"paperbot/internal/risk"
)

func main() {
	if err := run(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	var appLogger ports.Logger
	if cfg.LogFormat == "json" {
		zl, err := logger.NewZapLogger(cfg.LogLevel)
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}
		defer zl.Sync()
		appLogger = zl
	} else {
		appLogger = logger.NewStdLogger(cfg.LogLevel)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: cfg.DBPath, Logger: appLogger})
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	defer repo.Close()

	market, err := binanceclient.New(binanceclient.Config{
		APIKey:       cfg.APIKey,
		SecretKey:    cfg.SecretKey,
		UseTestnet:   cfg.IsTestnet,
		Logger:       appLogger,
		PollInterval: cfg.PollInterval,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize market data client: %w", err)
	}

	paperEngine, err := engine.New(engine.Config{
		InitialCapital:     cfg.InitialCapital,
		EnableSlippage:     cfg.EnableSlippage,
		SlippageBps:        cfg.SlippageBps,
		EnableCommission:   cfg.EnableCommission,
		CommissionPerShare: cfg.CommissionPerShare,
		Logger:             appLogger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize paper trading engine: %w", err)
	}

	service, err := app.NewService(app.Deps{
		Config: app.Config{
			MaxPositionPct: cfg.MaxPositionPct,
			KellyFraction:  cfg.KellyFraction,
			StopLossPct:    cfg.StopLossPct,
			Symbols:        cfg.Symbols,
		},
		Engine:   paperEngine,
		Breakers: risk.NewCircuitBreaker(nil),
		Scorer:   ai.NewConfidenceScorer(),
		Market:   market,
		Repo:     repo,
		Outcomes: repo,
		Logger:   appLogger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize trading service: %w", err)
	}

	appLogger.Info(ctx, "Paper trading service starting", map[string]interface{}{
		"symbols":        cfg.Symbols,
		"initialCapital": cfg.InitialCapital.String(),
		"testnet":        cfg.IsTestnet,
	})
	return service.Start(ctx)
}
