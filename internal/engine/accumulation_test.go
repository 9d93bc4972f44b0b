package engine

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"btc-dominance-alerts/internal/market"
)

func TestDetectFlatVolumeNeverSpikes(t *testing.T) {
	store := newTestStore()
	seed(t, store, altSOL, flatSeries(24, 100), flatSeries(24, 1000))

	detector := NewAccumulationDetector(store.Snapshot(), AccumulationOptions{
		Lookback:        24 * time.Hour,
		BaselinePeriods: 20,
		Multiplier:      decimal.NewFromInt(3),
	})

	result, err := detector.Detect("SOL", asOfHours(23))
	require.NoError(t, err)
	require.False(t, result.Spike)
	require.True(t, result.Magnitude.Equal(decimal.NewFromInt(1)), "got %s", result.Magnitude)
}

func TestDetectSpikeOverMedianBaseline(t *testing.T) {
	store := newTestStore()
	volumes := flatSeries(21, 1000)
	volumes[20] = 3000
	seed(t, store, altSOL, flatSeries(21, 100), volumes)

	detector := NewAccumulationDetector(store.Snapshot(), AccumulationOptions{
		Lookback:        24 * time.Hour,
		BaselinePeriods: 20,
		Multiplier:      decimal.NewFromInt(3),
	})

	result, err := detector.Detect("SOL", asOfHours(20))
	require.NoError(t, err)
	require.True(t, result.Spike)
	require.True(t, result.Baseline.Equal(decimal.NewFromInt(1000)), "baseline %s", result.Baseline)
	require.True(t, result.Magnitude.Equal(decimal.NewFromInt(3)), "magnitude %s", result.Magnitude)
}

func TestDetectBelowMultiplierNoSpike(t *testing.T) {
	store := newTestStore()
	volumes := flatSeries(21, 1000)
	volumes[20] = 2900
	seed(t, store, altSOL, flatSeries(21, 100), volumes)

	detector := NewAccumulationDetector(store.Snapshot(), AccumulationOptions{
		Lookback:        24 * time.Hour,
		BaselinePeriods: 20,
		Multiplier:      decimal.NewFromInt(3),
	})

	result, err := detector.Detect("SOL", asOfHours(20))
	require.NoError(t, err)
	require.False(t, result.Spike)
}

func TestDetectZeroBaselineNeverSpikes(t *testing.T) {
	store := newTestStore()
	volumes := flatSeries(10, 0)
	volumes[9] = 5000
	seed(t, store, altSOL, flatSeries(10, 100), volumes)

	detector := NewAccumulationDetector(store.Snapshot(), AccumulationOptions{
		Lookback:        24 * time.Hour,
		BaselinePeriods: 20,
		Multiplier:      decimal.NewFromInt(3),
	})

	result, err := detector.Detect("SOL", asOfHours(9))
	require.NoError(t, err)
	require.False(t, result.Spike)
	require.True(t, result.Baseline.IsZero())
}

func TestDetectBaselinePeriodsCap(t *testing.T) {
	store := newTestStore()
	// Old outsized volumes must fall out of the capped baseline.
	volumes := flatSeries(10, 50000)
	for i := 5; i < 9; i++ {
		volumes[i] = 1000
	}
	volumes[9] = 3000
	seed(t, store, altSOL, flatSeries(10, 100), volumes)

	detector := NewAccumulationDetector(store.Snapshot(), AccumulationOptions{
		Lookback:        24 * time.Hour,
		BaselinePeriods: 4,
		Multiplier:      decimal.NewFromInt(3),
	})

	result, err := detector.Detect("SOL", asOfHours(9))
	require.NoError(t, err)
	require.True(t, result.Spike)
	require.True(t, result.Baseline.Equal(decimal.NewFromInt(1000)), "baseline %s", result.Baseline)
}

func TestDetectInsufficientData(t *testing.T) {
	store := newTestStore()
	seed(t, store, altSOL, flatSeries(3, 100), nil)

	detector := NewAccumulationDetector(store.Snapshot(), AccumulationOptions{})
	_, err := detector.Detect("SOL", asOfHours(2))
	require.ErrorIs(t, err, market.ErrInsufficientData)
}
