package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceSample is one persisted price/volume observation for a tracked asset.
type PriceSample struct {
	Symbol    string
	Kind      string
	Bucket    time.Time
	Price     decimal.Decimal
	Volume    decimal.Decimal
	CreatedAt time.Time
}

// DominanceSample is one persisted BTC.D observation.
type DominanceSample struct {
	Bucket       time.Time
	DominancePct decimal.Decimal
	CreatedAt    time.Time
}

// AlertRecord captures an emitted alert. (Rule, Symbol, Bucket) is the dedup
// key, enforced by a unique constraint.
type AlertRecord struct {
	ID        int64
	Rule      string
	Symbol    string
	Bucket    time.Time
	Payload   map[string]string
	CreatedAt time.Time
}
