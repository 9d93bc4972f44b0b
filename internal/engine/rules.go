package engine

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"btc-dominance-alerts/internal/market"
)

// CycleInput aggregates one cycle's analysis output for rule evaluation.
type CycleInput struct {
	AsOf    time.Time
	Trend   DominanceTrend
	Ranking Ranking
	Spikes  map[string]SpikeResult
}

// Match is one asset a rule wants to fire for, with the alert payload.
type Match struct {
	Asset   market.Asset
	Payload map[string]string
}

// Rule decides which assets satisfy an alert condition for the current cycle.
// Rules are pure functions of the cycle input.
type Rule interface {
	Name() string
	Matches(input CycleInput) []Match
}

// StrengthBreakoutRule fires when dominance is rising and an alt's adjusted
// relative strength clears the threshold (the "BTC.D rising AND alt up" rule).
type StrengthBreakoutRule struct {
	ThresholdPct decimal.Decimal
}

// Name identifies the rule in alerts and persistence.
func (r StrengthBreakoutRule) Name() string { return "rs_breakout" }

// Matches returns the ranking entries clearing the threshold while BTC.D rises.
func (r StrengthBreakoutRule) Matches(input CycleInput) []Match {
	if input.Trend.Direction != TrendRising {
		return nil
	}

	var matches []Match
	for _, entry := range input.Ranking.Entries {
		if entry.Adjusted.LessThan(r.ThresholdPct) {
			continue
		}
		matches = append(matches, Match{
			Asset: entry.Asset,
			Payload: map[string]string{
				"rs_score":       entry.Score.Value.StringFixed(2),
				"adjusted_score": entry.Adjusted.StringFixed(2),
				"alt_change_pct": entry.Score.AltChange.StringFixed(2),
				"btc_change_pct": entry.Score.BTCChange.StringFixed(2),
				"dominance_pct":  input.Trend.Level.StringFixed(2),
			},
		})
	}
	return matches
}

// AccumulationRule fires on detected volume spikes.
type AccumulationRule struct{}

// Name identifies the rule in alerts and persistence.
func (r AccumulationRule) Name() string { return "accumulation" }

// Matches returns every asset whose current volume spiked over its baseline.
func (r AccumulationRule) Matches(input CycleInput) []Match {
	symbols := make([]string, 0, len(input.Spikes))
	for symbol := range input.Spikes {
		symbols = append(symbols, symbol)
	}
	// Map order is random; keep emission order deterministic.
	sort.Strings(symbols)

	var matches []Match
	for _, symbol := range symbols {
		spike := input.Spikes[symbol]
		if !spike.Spike {
			continue
		}
		matches = append(matches, Match{
			Asset: spike.Asset,
			Payload: map[string]string{
				"volume":          spike.Current.StringFixed(0),
				"baseline_volume": spike.Baseline.StringFixed(0),
				"magnitude":       spike.Magnitude.StringFixed(2),
			},
		})
	}
	return matches
}

// DominanceLevelRule fires when BTC.D crosses a configured band. This is the
// original high/low level alert, kept alongside the trend rules.
type DominanceLevelRule struct {
	name  string
	level decimal.Decimal
	above bool
}

// NewDominanceHighRule alerts once BTC.D reaches or exceeds level.
func NewDominanceHighRule(level decimal.Decimal) DominanceLevelRule {
	return DominanceLevelRule{name: "dominance_high", level: level, above: true}
}

// NewDominanceLowRule alerts once BTC.D drops to or below level.
func NewDominanceLowRule(level decimal.Decimal) DominanceLevelRule {
	return DominanceLevelRule{name: "dominance_low", level: level}
}

// Name identifies the rule in alerts and persistence.
func (r DominanceLevelRule) Name() string { return r.name }

// Matches compares the latest dominance level against the band.
func (r DominanceLevelRule) Matches(input CycleInput) []Match {
	level := input.Trend.Level
	hit := level.GreaterThanOrEqual(r.level)
	if !r.above {
		hit = level.LessThanOrEqual(r.level)
	}
	if !hit {
		return nil
	}
	return []Match{{
		Asset: market.DominanceIndex,
		Payload: map[string]string{
			"dominance_pct": level.StringFixed(2),
			"level":         r.level.StringFixed(2),
			"direction":     input.Trend.Direction.String(),
		},
	}}
}
