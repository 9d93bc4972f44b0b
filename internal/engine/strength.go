package engine

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"btc-dominance-alerts/internal/market"
)

var decHundred = decimal.NewFromInt(100)

// StrengthScore is one relative-strength observation for an alt versus BTC.
type StrengthScore struct {
	Asset      market.Asset
	Value      decimal.Decimal
	AltChange  decimal.Decimal
	BTCChange  decimal.Decimal
	ComputedAt time.Time
}

// StrengthOptions parameterise the relative-strength computation.
type StrengthOptions struct {
	// Lookback is the trailing comparison window, 7 days by default.
	Lookback time.Duration
	// BTCSymbol names the benchmark series in the store.
	BTCSymbol string
}

// StrengthEngine scores alts against BTC over a fixed lookback. It reads only
// from the snapshot it was built with, so identical inputs yield identical scores.
type StrengthEngine struct {
	snap *market.Snapshot
	opts StrengthOptions
}

// NewStrengthEngine binds the engine to one cycle snapshot.
func NewStrengthEngine(snap *market.Snapshot, opts StrengthOptions) *StrengthEngine {
	if opts.Lookback <= 0 {
		opts.Lookback = 7 * 24 * time.Hour
	}
	if opts.BTCSymbol == "" {
		opts.BTCSymbol = market.BTC.Symbol
	}
	return &StrengthEngine{snap: snap, opts: opts}
}

// Score returns alt percentage change minus BTC percentage change over the
// lookback ending at asOf. Propagates market.ErrInsufficientData when either
// window is too thin.
func (e *StrengthEngine) Score(alt string, asOf time.Time) (StrengthScore, error) {
	altWindow, err := e.snap.Window(alt, e.opts.Lookback, asOf)
	if err != nil {
		return StrengthScore{}, err
	}

	btcWindow, err := e.snap.Window(e.opts.BTCSymbol, e.opts.Lookback, asOf)
	if err != nil {
		return StrengthScore{}, err
	}

	altChange, err := changePct(altWindow)
	if err != nil {
		return StrengthScore{}, err
	}
	btcChange, err := changePct(btcWindow)
	if err != nil {
		return StrengthScore{}, err
	}

	return StrengthScore{
		Asset:      altWindow.Asset,
		Value:      altChange.Sub(btcChange),
		AltChange:  altChange,
		BTCChange:  btcChange,
		ComputedAt: asOf,
	}, nil
}

// changePct computes (last-first)/first * 100 over a window.
func changePct(w market.SeriesWindow) (decimal.Decimal, error) {
	first := w.First().Price
	if first.IsZero() {
		return decimal.Decimal{}, fmt.Errorf("change pct %s: first price is zero", w.Asset.Symbol)
	}
	last := w.Last().Price
	return last.Sub(first).Div(first).Mul(decHundred), nil
}
