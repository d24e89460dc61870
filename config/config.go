package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"paperbot/internal/adapters/logger" // Import the logger package for LogLevel
)

// Config holds all application configuration.
type Config struct {
	// Binance API (optional, public market-data endpoints only)
	APIKey    string
	SecretKey string
	IsTestnet bool

	// Paper Trading Engine
	InitialCapital     decimal.Decimal
	SlippageBps        decimal.Decimal // Flat slippage in basis points
	CommissionPerShare decimal.Decimal
	EnableSlippage     bool
	EnableCommission   bool

	// Position Sizing
	MaxPositionPct decimal.Decimal // Hard cap as % of portfolio (e.g., 2.0)
	KellyFraction  decimal.Decimal // Fractional Kelly multiplier (e.g., 0.25)
	StopLossPct    decimal.Decimal // Default stop distance % (e.g., 5.0)

	// Market Data
	Symbols      []string
	PollInterval time.Duration

	// Database
	DBPath string

	// Logging
	LogLevel  logger.LogLevel // Use the LogLevel type from the logger adapter
	LogFormat string          // "std" or "json"
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	// Binance API. Keys are optional since only public endpoints are used.
	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", true) // Default to testnet for safety

	// Paper Trading Engine
	cfg.InitialCapital, err = getEnvAsDecimal("INITIAL_CAPITAL", "100000")
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid INITIAL_CAPITAL: %v", err))
	} else if cfg.InitialCapital.Sign() <= 0 {
		errs = append(errs, "INITIAL_CAPITAL must be positive")
	}

	cfg.SlippageBps, err = getEnvAsDecimal("SLIPPAGE_BPS", "5")
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid SLIPPAGE_BPS: %v", err))
	} else if cfg.SlippageBps.Sign() < 0 {
		errs = append(errs, "SLIPPAGE_BPS cannot be negative")
	}

	cfg.CommissionPerShare, err = getEnvAsDecimal("COMMISSION_PER_SHARE", "0.005")
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid COMMISSION_PER_SHARE: %v", err))
	} else if cfg.CommissionPerShare.Sign() < 0 {
		errs = append(errs, "COMMISSION_PER_SHARE cannot be negative")
	}

	cfg.EnableSlippage = getEnvAsBool("ENABLE_SLIPPAGE", true)
	cfg.EnableCommission = getEnvAsBool("ENABLE_COMMISSION", true)

	// Position Sizing
	cfg.MaxPositionPct, err = getEnvAsDecimal("MAX_POSITION_PCT", "2.0")
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_POSITION_PCT: %v", err))
	} else if cfg.MaxPositionPct.Sign() <= 0 {
		errs = append(errs, "MAX_POSITION_PCT must be positive")
	}

	cfg.KellyFraction, err = getEnvAsDecimal("KELLY_FRACTION", "0.25")
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid KELLY_FRACTION: %v", err))
	} else if cfg.KellyFraction.Sign() <= 0 || cfg.KellyFraction.GreaterThan(decimal.NewFromInt(1)) {
		errs = append(errs, "KELLY_FRACTION must be between 0.0 (exclusive) and 1.0 (inclusive)")
	}

	cfg.StopLossPct, err = getEnvAsDecimal("STOP_LOSS_PCT", "5.0")
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid STOP_LOSS_PCT: %v", err))
	} else if cfg.StopLossPct.Sign() <= 0 || cfg.StopLossPct.GreaterThanOrEqual(decimal.NewFromInt(100)) {
		errs = append(errs, "STOP_LOSS_PCT must be between 0 and 100 (exclusive)")
	}

	// Market Data
	symbolsStr := getEnv("SYMBOLS", "BTCUSDT,ETHUSDT")
	for _, s := range strings.Split(symbolsStr, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			cfg.Symbols = append(cfg.Symbols, s)
		}
	}
	if len(cfg.Symbols) == 0 {
		errs = append(errs, "SYMBOLS must contain at least one symbol")
	}

	pollIntervalSeconds := getEnvAsInt("POLL_INTERVAL_SECONDS", 5)
	if pollIntervalSeconds <= 0 {
		errs = append(errs, "POLL_INTERVAL_SECONDS must be positive")
	}
	cfg.PollInterval = time.Duration(pollIntervalSeconds) * time.Second

	// Database
	cfg.DBPath = getEnv("DB_PATH", "./data/paperbot.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	// Logging
	logLevelStr := getEnv("LOG_LEVEL", "INFO")
	cfg.LogLevel = logger.ParseLevel(logLevelStr) // Use the parser from the logger package

	cfg.LogFormat = strings.ToLower(getEnv("LOG_FORMAT", "std"))
	if cfg.LogFormat != "std" && cfg.LogFormat != "json" {
		errs = append(errs, fmt.Sprintf("invalid LOG_FORMAT '%s': must be 'std' or 'json'", cfg.LogFormat))
	}

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		// Log warning? For non-required fields, default is often acceptable.
		return defaultValue
	}
	return value
}

func getEnvAsDecimal(key string, defaultValue string) (decimal.Decimal, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		// Defaults are compile-time constants and always parse
		valueStr = defaultValue
	}
	value, err := decimal.NewFromString(valueStr)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
