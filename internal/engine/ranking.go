package engine

import (
	"errors"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"btc-dominance-alerts/internal/market"
)

// RankingEntry pairs an alt with its base and adjusted relative-strength scores.
type RankingEntry struct {
	Asset    market.Asset
	Score    StrengthScore
	Adjusted decimal.Decimal
}

// Ranking is strictly ordered: adjusted score descending, symbol ascending on ties.
type Ranking struct {
	Entries    []RankingEntry
	Trend      DominanceTrend
	ComputedAt time.Time
	// Skipped lists alts left out of the ranking for this cycle, usually for
	// lack of data. They are absent, never present with a default score.
	Skipped []string
}

// RankingOptions tune the dominance-shift weighting. The bonus factor is a
// tunable policy knob, not fixed logic.
type RankingOptions struct {
	// BonusFactor multiplies positive scores while dominance is rising.
	BonusFactor decimal.Decimal
}

// Ranker merges relative strength with the dominance trend: alts that outperform
// while BTC.D rises get extra weight.
type Ranker struct {
	strength *StrengthEngine
	opts     RankingOptions
	logger   zerolog.Logger
}

// NewRanker constructs a ranking adjuster over one cycle's strength engine.
func NewRanker(strength *StrengthEngine, opts RankingOptions, logger zerolog.Logger) *Ranker {
	if opts.BonusFactor.LessThanOrEqual(decimal.Zero) {
		opts.BonusFactor = decimal.NewFromInt(1)
	}
	return &Ranker{
		strength: strength,
		opts:     opts,
		logger:   logger.With().Str("component", "ranker").Logger(),
	}
}

// Rank scores every alt and sorts by adjusted score. Alts without enough data
// are skipped and logged; one thin series never fails the whole ranking.
func (r *Ranker) Rank(alts []string, trend DominanceTrend, asOf time.Time) Ranking {
	ranking := Ranking{Trend: trend, ComputedAt: asOf}

	for _, alt := range alts {
		score, err := r.strength.Score(alt, asOf)
		if err != nil {
			if errors.Is(err, market.ErrInsufficientData) || errors.Is(err, market.ErrUnknownAsset) {
				r.logger.Debug().Str("asset", alt).Err(err).Msg("skipping asset for this cycle")
			} else {
				r.logger.Warn().Str("asset", alt).Err(err).Msg("score failed")
			}
			ranking.Skipped = append(ranking.Skipped, alt)
			continue
		}

		adjusted := score.Value
		if trend.Direction == TrendRising && score.Value.IsPositive() {
			adjusted = score.Value.Mul(r.opts.BonusFactor)
		}

		ranking.Entries = append(ranking.Entries, RankingEntry{
			Asset:    score.Asset,
			Score:    score,
			Adjusted: adjusted,
		})
	}

	sort.Slice(ranking.Entries, func(i, j int) bool {
		a, b := ranking.Entries[i], ranking.Entries[j]
		if !a.Adjusted.Equal(b.Adjusted) {
			return a.Adjusted.GreaterThan(b.Adjusted)
		}
		return a.Asset.Symbol < b.Asset.Symbol
	})
	return ranking
}

// Entry looks up one asset's ranking entry.
func (rk Ranking) Entry(symbol string) (RankingEntry, bool) {
	for _, e := range rk.Entries {
		if e.Asset.Symbol == symbol {
			return e, true
		}
	}
	return RankingEntry{}, false
}
