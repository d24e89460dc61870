package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	"paperbot/internal/domain"
	"paperbot/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements ports.TradeRepository and ports.OutcomeRepository
// using SQLite. Decimal values are stored as TEXT to preserve exactness.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/paperbot.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// WAL mode for better concurrency.
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// SQLite serializes writers; limiting connections avoids busy errors.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	repo := &Repository{db: db, logger: cfg.Logger}

	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "SQLite repository ready", map[string]interface{}{"path": dbPath})

	return repo, nil
}

func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		order_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity TEXT NOT NULL,
		price TEXT NOT NULL,
		commission TEXT NOT NULL,
		executed_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS trade_outcomes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		confidence TEXT NOT NULL,
		success INTEGER NOT NULL,
		pnl_pct TEXT NOT NULL,
		recorded_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_trades_symbol_executed_at ON trades (symbol, executed_at);
	CREATE INDEX IF NOT EXISTS idx_trade_outcomes_recorded_at ON trade_outcomes (recorded_at);
	`
	_, err := r.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// --- TradeRepository Implementation ---

// RecordTrade saves a fill record and returns its assigned ID.
func (r *Repository) RecordTrade(ctx context.Context, trade *domain.Trade) (int64, error) {
	const query = `
	INSERT INTO trades (order_id, symbol, side, quantity, price, commission, executed_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

	result, err := r.db.ExecContext(ctx, query,
		trade.OrderID, trade.Symbol, string(trade.Side),
		trade.Quantity.String(), trade.Price.String(), trade.Commission.String(),
		trade.Timestamp)
	if err != nil {
		return 0, fmt.Errorf("failed to insert trade for symbol %s: %w", trade.Symbol, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for trade %s: %w", trade.Symbol, err)
	}
	trade.ID = id
	r.logger.Debug(ctx, "Trade persisted", map[string]interface{}{"tradeID": id, "symbol": trade.Symbol})
	return id, nil
}

// RecentTrades retrieves the most recent trades, newest first.
func (r *Repository) RecentTrades(ctx context.Context, limit int) ([]*domain.Trade, error) {
	const query = `
	SELECT id, order_id, symbol, side, quantity, price, commission, executed_at
	FROM trades ORDER BY executed_at DESC, id DESC LIMIT ?`
	return r.queryTrades(ctx, query, limit)
}

// RecentTradesBySymbol retrieves the most recent trades for one symbol.
func (r *Repository) RecentTradesBySymbol(ctx context.Context, symbol string, limit int) ([]*domain.Trade, error) {
	const query = `
	SELECT id, order_id, symbol, side, quantity, price, commission, executed_at
	FROM trades WHERE symbol = ? ORDER BY executed_at DESC, id DESC LIMIT ?`
	return r.queryTrades(ctx, query, symbol, limit)
}

func (r *Repository) queryTrades(ctx context.Context, query string, args ...interface{}) ([]*domain.Trade, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	trades := make([]*domain.Trade, 0)
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade row: %w", err)
		}
		trades = append(trades, trade)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade rows: %w", err)
	}
	return trades, nil
}

// --- OutcomeRepository Implementation ---

// RecordOutcome saves one calibration outcome.
func (r *Repository) RecordOutcome(ctx context.Context, rec *ports.OutcomeRecord) (int64, error) {
	const query = `
	INSERT INTO trade_outcomes (confidence, success, pnl_pct, recorded_at)
	VALUES (?, ?, ?, ?)`

	success := 0
	if rec.Success {
		success = 1
	}
	result, err := r.db.ExecContext(ctx, query,
		rec.Confidence.String(), success, rec.PNLPct.String(), rec.RecordedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to insert trade outcome: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for trade outcome: %w", err)
	}
	rec.ID = id
	return id, nil
}

// RecentOutcomes retrieves the most recent outcomes, newest first.
func (r *Repository) RecentOutcomes(ctx context.Context, limit int) ([]*ports.OutcomeRecord, error) {
	const query = `
	SELECT id, confidence, success, pnl_pct, recorded_at
	FROM trade_outcomes ORDER BY recorded_at DESC, id DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query trade outcomes: %w", err)
	}
	defer rows.Close()

	outcomes := make([]*ports.OutcomeRecord, 0)
	for rows.Next() {
		rec := &ports.OutcomeRecord{}
		var confidence, pnlPct string
		var success int
		if err := rows.Scan(&rec.ID, &confidence, &success, &pnlPct, &rec.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan trade outcome row: %w", err)
		}
		if rec.Confidence, err = decimal.NewFromString(confidence); err != nil {
			return nil, fmt.Errorf("invalid confidence value %q: %w", confidence, err)
		}
		if rec.PNLPct, err = decimal.NewFromString(pnlPct); err != nil {
			return nil, fmt.Errorf("invalid pnl_pct value %q: %w", pnlPct, err)
		}
		rec.Success = success != 0
		outcomes = append(outcomes, rec)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade outcome rows: %w", err)
	}
	return outcomes, nil
}

// --- Helper Scan Functions ---

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanTrade scans a row into a domain.Trade struct.
func scanTrade(s scanner) (*domain.Trade, error) {
	t := &domain.Trade{}
	var side, quantity, price, commission string
	err := s.Scan(&t.ID, &t.OrderID, &t.Symbol, &side, &quantity, &price, &commission, &t.Timestamp)
	if err != nil {
		return nil, err
	}
	t.Side = domain.OrderSide(side)
	if t.Quantity, err = decimal.NewFromString(quantity); err != nil {
		return nil, fmt.Errorf("invalid quantity value %q: %w", quantity, err)
	}
	if t.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("invalid price value %q: %w", price, err)
	}
	if t.Commission, err = decimal.NewFromString(commission); err != nil {
		return nil, fmt.Errorf("invalid commission value %q: %w", commission, err)
	}
	return t, nil
}
