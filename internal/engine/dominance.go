package engine

import (
	"time"

	"github.com/shopspring/decimal"

	"btc-dominance-alerts/internal/market"
)

// TrendDirection classifies BTC.D movement over the analysis window.
type TrendDirection int

const (
	// TrendFlat means the change stayed inside the threshold band.
	TrendFlat TrendDirection = iota
	// TrendRising means BTC.D gained at least the threshold.
	TrendRising
	// TrendFalling means BTC.D lost at least the threshold.
	TrendFalling
)

// String returns the canonical direction name.
func (d TrendDirection) String() string {
	switch d {
	case TrendRising:
		return "rising"
	case TrendFalling:
		return "falling"
	default:
		return "flat"
	}
}

// DominanceTrend is the classified BTC.D state for one evaluation cycle.
type DominanceTrend struct {
	Direction TrendDirection
	// Magnitude is the signed percentage change over the window.
	Magnitude decimal.Decimal
	// Level is the latest dominance percentage.
	Level  decimal.Decimal
	Window time.Duration
}

// DominanceOptions tune trend classification. The threshold is configuration,
// not a constant: key levels are user-defined in this domain.
type DominanceOptions struct {
	Window       time.Duration
	ThresholdPct decimal.Decimal
	IndexSymbol  string
}

// DominanceAnalyzer classifies the BTC.D series from one cycle snapshot.
type DominanceAnalyzer struct {
	snap *market.Snapshot
	opts DominanceOptions
}

// NewDominanceAnalyzer binds the analyzer to one cycle snapshot.
func NewDominanceAnalyzer(snap *market.Snapshot, opts DominanceOptions) *DominanceAnalyzer {
	if opts.Window <= 0 {
		opts.Window = 24 * time.Hour
	}
	if opts.IndexSymbol == "" {
		opts.IndexSymbol = market.DominanceIndex.Symbol
	}
	return &DominanceAnalyzer{snap: snap, opts: opts}
}

// Trend computes the percentage change of BTC.D over the window ending at asOf
// and classifies it against the configured threshold.
func (a *DominanceAnalyzer) Trend(asOf time.Time) (DominanceTrend, error) {
	window, err := a.snap.Window(a.opts.IndexSymbol, a.opts.Window, asOf)
	if err != nil {
		return DominanceTrend{}, err
	}

	change, err := changePct(window)
	if err != nil {
		return DominanceTrend{}, err
	}

	trend := DominanceTrend{
		Direction: TrendFlat,
		Magnitude: change,
		Level:     window.Last().Price,
		Window:    a.opts.Window,
	}

	switch {
	case change.GreaterThanOrEqual(a.opts.ThresholdPct):
		trend.Direction = TrendRising
	case change.LessThanOrEqual(a.opts.ThresholdPct.Neg()):
		trend.Direction = TrendFalling
	}
	return trend, nil
}
