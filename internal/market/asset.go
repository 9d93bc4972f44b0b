package market

import (
	"time"

	"github.com/shopspring/decimal"
)

// Kind classifies a tracked series.
type Kind int

const (
	// KindBTC is the benchmark asset.
	KindBTC Kind = iota
	// KindDominanceIndex is the BTC.D global dominance series.
	KindDominanceIndex
	// KindAlt is a tracked altcoin.
	KindAlt
)

// String returns the canonical name of the kind.
func (k Kind) String() string {
	switch k {
	case KindBTC:
		return "btc"
	case KindDominanceIndex:
		return "dominance_index"
	case KindAlt:
		return "alt"
	default:
		return "unknown"
	}
}

// Asset identifies one tracked series.
type Asset struct {
	Symbol string
	Kind   Kind
}

// DominanceIndex is the synthetic asset carrying the BTC.D series.
var DominanceIndex = Asset{Symbol: "BTC.D", Kind: KindDominanceIndex}

// BTC is the benchmark asset.
var BTC = Asset{Symbol: "BTC", Kind: KindBTC}

// PricePoint is a single immutable observation for one asset.
type PricePoint struct {
	Timestamp time.Time
	Price     decimal.Decimal
	Volume    decimal.Decimal
}

// SeriesWindow holds the recorded points for one asset within [From, To].
// Gaps stay visible: the window carries exactly the points that exist.
type SeriesWindow struct {
	Asset  Asset
	From   time.Time
	To     time.Time
	Points []PricePoint
}

// First returns the oldest point in the window.
func (w SeriesWindow) First() PricePoint {
	return w.Points[0]
}

// Last returns the most recent point in the window.
func (w SeriesWindow) Last() PricePoint {
	return w.Points[len(w.Points)-1]
}

// Len reports the number of recorded points.
func (w SeriesWindow) Len() int {
	return len(w.Points)
}
