package fetcher

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Quote is one current price/volume observation for a coin.
type Quote struct {
	ID        string
	Symbol    string
	Price     decimal.Decimal
	Volume    decimal.Decimal
	UpdatedAt time.Time
}

// HistoryPoint is one historical observation used for backfill.
type HistoryPoint struct {
	Timestamp time.Time
	Price     decimal.Decimal
	Volume    decimal.Decimal
}

// DominanceFetcher retrieves the current global BTC dominance percentage.
type DominanceFetcher interface {
	FetchDominance(ctx context.Context) (decimal.Decimal, error)
}

// MarketFetcher retrieves current market data for a set of coin ids.
type MarketFetcher interface {
	FetchMarkets(ctx context.Context, ids []string) ([]Quote, error)
}

// HistoryFetcher retrieves a historical price/volume range for one coin.
type HistoryFetcher interface {
	FetchRange(ctx context.Context, id string, from, to time.Time) ([]HistoryPoint, error)
}
