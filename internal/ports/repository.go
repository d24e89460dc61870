package ports

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"paperbot/internal/domain"
)

// TradeRepository persists the append-only trade ledger.
// The engine's in-memory state is authoritative; the repository exists for
// observability and history across restarts.
type TradeRepository interface {
	// RecordTrade saves a fill record and returns its assigned ID.
	RecordTrade(ctx context.Context, trade *domain.Trade) (int64, error)
	// RecentTrades retrieves the most recent trades, newest first, up to limit.
	RecentTrades(ctx context.Context, limit int) ([]*domain.Trade, error)
	// RecentTradesBySymbol retrieves the most recent trades for one symbol.
	RecentTradesBySymbol(ctx context.Context, symbol string, limit int) ([]*domain.Trade, error)
}

// OutcomeRecord is a persisted confidence-calibration outcome.
type OutcomeRecord struct {
	ID         int64
	Confidence decimal.Decimal
	Success    bool
	PNLPct     decimal.Decimal
	RecordedAt time.Time
}

// OutcomeRepository persists trade outcomes used for confidence calibration,
// so the scorer's history survives restarts.
type OutcomeRepository interface {
	// RecordOutcome saves one calibration outcome.
	RecordOutcome(ctx context.Context, rec *OutcomeRecord) (int64, error)
	// RecentOutcomes retrieves the most recent outcomes, newest first.
	RecentOutcomes(ctx context.Context, limit int) ([]*OutcomeRecord, error)
}
