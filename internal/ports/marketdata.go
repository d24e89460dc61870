package ports

import (
	"context"

	"github.com/shopspring/decimal"
)

// PriceHandler receives one batch of symbol -> price updates.
type PriceHandler func(prices map[string]decimal.Decimal)

// StreamErrorHandler handles errors reported by a running price stream.
type StreamErrorHandler func(err error)

// MarketDataClient provides real market prices for the paper trading core.
// It is the only collaborator the core needs from a broker.
type MarketDataClient interface {
	// GetTickerPrice returns the latest price for one symbol.
	GetTickerPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	// GetPrices returns the latest prices for a set of symbols.
	GetPrices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error)
	// StreamPrices delivers price batches to the handler at the client's
	// cadence until the context is cancelled or a value is sent on the
	// returned stop channel. The done channel closes when the stream ends.
	StreamPrices(ctx context.Context, symbols []string, handler PriceHandler, errHandler StreamErrorHandler) (done <-chan struct{}, stop chan<- struct{}, err error)
}
