package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/shopspring/decimal"

	"paperbot/internal/ports"
)

const (
	baseURLProduction = "https://api.binance.com"
	baseURLTestnet    = "https://testnet.binance.vision"
)

// Client implements the ports.MarketDataClient interface using the go-binance
// library. Only public market-data endpoints are used, so API keys are
// optional.
type Client struct {
	spotClient   *binance.Client
	logger       ports.Logger
	pollInterval time.Duration
}

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey       string
	SecretKey    string
	UseTestnet   bool
	Logger       ports.Logger
	PollInterval time.Duration // Cadence of StreamPrices batches (e.g., 5 * time.Second)
}

// New creates a new Binance market-data adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}

	client := binance.NewClient(cfg.APIKey, cfg.SecretKey)

	// Set BaseURL directly instead of using the global binance.UseTestnet
	if cfg.UseTestnet {
		client.BaseURL = baseURLTestnet
		cfg.Logger.Info(context.Background(), "Binance client configured for Testnet", map[string]interface{}{"baseURL": client.BaseURL})
	} else {
		client.BaseURL = baseURLProduction
		cfg.Logger.Info(context.Background(), "Binance client configured for Production", map[string]interface{}{"baseURL": client.BaseURL})
	}

	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}

	return &Client{
		spotClient:   client,
		logger:       cfg.Logger,
		pollInterval: pollInterval,
	}, nil
}

// handleError translates common Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		var mappedErr error
		switch apiErr.Code {
		case -1003: // Too many requests
			mappedErr = ports.ErrRateLimited
		case -1121: // Invalid symbol
			mappedErr = ports.ErrSymbolNotFound
		case -1100, -1101, -1102, -1103, -1104, -1105, -1106: // Parameter/request format errors
			mappedErr = ports.ErrInvalidRequest
		default:
			mappedErr = ports.ErrMarketDataUnavailable
		}
		finalErr := fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return finalErr
	}

	var finalErr error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		finalErr = fmt.Errorf("%s failed: %w", operation, err)
	} else {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrMarketDataUnavailable, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

// Ping checks connectivity to the exchange API.
func (c *Client) Ping(ctx context.Context) error {
	op := "Ping"
	if err := c.spotClient.NewPingService().Do(ctx); err != nil {
		return c.handleError(ctx, err, op)
	}
	c.logger.Debug(ctx, op+" successful")
	return nil
}

// GetTickerPrice retrieves the last ticker price for a given symbol.
func (c *Client) GetTickerPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	op := "GetTickerPrice"
	prices, err := c.spotClient.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return decimal.Zero, c.handleError(ctx, err, op)
	}
	if len(prices) == 0 {
		err := fmt.Errorf("no ticker data returned for symbol %s: %w", symbol, ports.ErrSymbolNotFound)
		return decimal.Zero, c.handleError(ctx, err, op)
	}

	price, err := decimal.NewFromString(prices[0].Price)
	if err != nil {
		parseErr := fmt.Errorf("could not parse price '%s': %w", prices[0].Price, err)
		return decimal.Zero, c.handleError(ctx, parseErr, op)
	}
	return price, nil
}

// GetPrices retrieves the latest prices for a set of symbols in one request.
func (c *Client) GetPrices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	op := "GetPrices"
	if len(symbols) == 0 {
		return map[string]decimal.Decimal{}, nil
	}

	prices, err := c.spotClient.NewListPricesService().Symbols(symbols).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	result := make(map[string]decimal.Decimal, len(symbols))
	for _, p := range prices {
		price, err := decimal.NewFromString(p.Price)
		if err != nil {
			parseErr := fmt.Errorf("could not parse price '%s' for symbol %s: %w", p.Price, p.Symbol, err)
			return nil, c.handleError(ctx, parseErr, op)
		}
		result[p.Symbol] = price
	}

	for _, s := range symbols {
		if _, ok := result[s]; !ok {
			err := fmt.Errorf("no price returned for symbol %s: %w", s, ports.ErrSymbolNotFound)
			return nil, c.handleError(ctx, err, op)
		}
	}
	return result, nil
}

// StreamPrices polls the ticker endpoint at the configured interval and
// delivers each batch to the handler. Fetch errors go to errHandler and the
// stream keeps running; it stops on context cancellation or a stop signal.
func (c *Client) StreamPrices(ctx context.Context, symbols []string, handler ports.PriceHandler, errHandler ports.StreamErrorHandler) (<-chan struct{}, chan<- struct{}, error) {
	op := "StreamPrices"
	if len(symbols) == 0 {
		return nil, nil, fmt.Errorf("%s: at least one symbol is required: %w", op, ports.ErrInvalidRequest)
	}

	// Initial fetch validates the symbol set before the poll loop starts.
	initial, err := c.GetPrices(ctx, symbols)
	if err != nil {
		return nil, nil, err
	}

	doneCh := make(chan struct{})
	stopCh := make(chan struct{})

	go func() {
		defer close(doneCh)

		c.logger.Info(ctx, op+": price polling started", map[string]interface{}{"symbols": symbols, "interval": c.pollInterval.String()})
		handler(initial)

		ticker := time.NewTicker(c.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				c.logger.Info(ctx, op+": context cancelled, stopping price polling", map[string]interface{}{"symbols": symbols})
				return
			case <-stopCh:
				c.logger.Info(ctx, op+": received stop signal, stopping price polling", map[string]interface{}{"symbols": symbols})
				return
			case <-ticker.C:
				prices, err := c.GetPrices(ctx, symbols)
				if err != nil {
					if errHandler != nil {
						errHandler(err)
					}
					continue
				}
				handler(prices)
			}
		}
	}()

	return doneCh, stopCh, nil
}
