package engine

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"btc-dominance-alerts/internal/market"
)

func dominanceAnalyzer(store *market.Store, thresholdPct float64) *DominanceAnalyzer {
	return NewDominanceAnalyzer(store.Snapshot(), DominanceOptions{
		Window:       24 * time.Hour,
		ThresholdPct: decimal.NewFromFloat(thresholdPct),
	})
}

func TestTrendRising(t *testing.T) {
	store := newTestStore()
	seed(t, store, market.DominanceIndex, rampSeries(8, 50, 51), nil)

	trend, err := dominanceAnalyzer(store, 0.5).Trend(asOfHours(7))
	require.NoError(t, err)

	require.Equal(t, TrendRising, trend.Direction)
	require.True(t, trend.Level.Equal(decimal.NewFromInt(51)), "level %s", trend.Level)
	// (51-50)/50 = +2%
	require.True(t, trend.Magnitude.Equal(decimal.NewFromInt(2)), "magnitude %s", trend.Magnitude)
}

func TestTrendFalling(t *testing.T) {
	store := newTestStore()
	seed(t, store, market.DominanceIndex, rampSeries(8, 50, 49), nil)

	trend, err := dominanceAnalyzer(store, 0.5).Trend(asOfHours(7))
	require.NoError(t, err)
	require.Equal(t, TrendFalling, trend.Direction)
}

func TestTrendFlatInsideBand(t *testing.T) {
	store := newTestStore()
	seed(t, store, market.DominanceIndex, rampSeries(8, 50, 50.1), nil)

	trend, err := dominanceAnalyzer(store, 0.5).Trend(asOfHours(7))
	require.NoError(t, err)
	require.Equal(t, TrendFlat, trend.Direction)
}

func TestTrendThresholdBoundaryIsRising(t *testing.T) {
	store := newTestStore()
	// Change is exactly the threshold; the band is inclusive.
	seed(t, store, market.DominanceIndex, rampSeries(8, 50, 50.25), nil)

	trend, err := dominanceAnalyzer(store, 0.5).Trend(asOfHours(7))
	require.NoError(t, err)
	require.Equal(t, TrendRising, trend.Direction)
}

func TestTrendInsufficientData(t *testing.T) {
	store := newTestStore()
	seed(t, store, market.DominanceIndex, flatSeries(2, 50), nil)

	_, err := dominanceAnalyzer(store, 0.5).Trend(asOfHours(1))
	require.ErrorIs(t, err, market.ErrInsufficientData)
}

func TestTrendDirectionString(t *testing.T) {
	require.Equal(t, "rising", TrendRising.String())
	require.Equal(t, "falling", TrendFalling.String())
	require.Equal(t, "flat", TrendFlat.String())
}
