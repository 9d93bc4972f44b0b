package market

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

func point(offset time.Duration, price float64) PricePoint {
	return PricePoint{
		Timestamp: base.Add(offset),
		Price:     decimal.NewFromFloat(price),
		Volume:    decimal.NewFromInt(1000),
	}
}

func TestRecordMonotonicTimestamps(t *testing.T) {
	store := NewStore(StoreOptions{MinPoints: 2})

	for i := 0; i < 10; i++ {
		err := store.Record(BTC, point(time.Duration(i)*time.Minute, 100))
		require.NoError(t, err)
	}
}

func TestRecordOutOfOrderRejected(t *testing.T) {
	store := NewStore(StoreOptions{MinPoints: 2})

	require.NoError(t, store.Record(BTC, point(10*time.Minute, 100)))

	err := store.Record(BTC, point(5*time.Minute, 101))
	require.ErrorIs(t, err, ErrOutOfOrder)

	// Equal timestamp counts as backdated too.
	err = store.Record(BTC, point(10*time.Minute, 101))
	require.ErrorIs(t, err, ErrOutOfOrder)

	// The rejected writes must not have touched the series.
	snap := store.Snapshot()
	window, err := snap.Window(BTC.Symbol, time.Hour, base.Add(10*time.Minute))
	require.ErrorIs(t, err, ErrInsufficientData)
	_ = window
}

func TestWindowInsufficientData(t *testing.T) {
	store := NewStore(StoreOptions{MinPoints: 5})

	for i := 0; i < 3; i++ {
		require.NoError(t, store.Record(BTC, point(time.Duration(i)*time.Minute, 100)))
	}

	_, err := store.Snapshot().Window(BTC.Symbol, time.Hour, base.Add(3*time.Minute))
	require.ErrorIs(t, err, ErrInsufficientData)
}

func TestWindowBounds(t *testing.T) {
	store := NewStore(StoreOptions{MinPoints: 2})

	for i := 0; i < 10; i++ {
		require.NoError(t, store.Record(BTC, point(time.Duration(i)*time.Hour, float64(100+i))))
	}

	asOf := base.Add(9 * time.Hour)
	window, err := store.Snapshot().Window(BTC.Symbol, 4*time.Hour, asOf)
	require.NoError(t, err)

	require.Equal(t, 5, window.Len())
	require.Equal(t, base.Add(5*time.Hour), window.First().Timestamp)
	require.Equal(t, asOf, window.Last().Timestamp)
}

func TestWindowUnknownAsset(t *testing.T) {
	store := NewStore(StoreOptions{MinPoints: 2})
	_, err := store.Snapshot().Window("NOPE", time.Hour, base)
	require.ErrorIs(t, err, ErrUnknownAsset)
}

func TestSnapshotIsolation(t *testing.T) {
	store := NewStore(StoreOptions{MinPoints: 2})
	for i := 0; i < 5; i++ {
		require.NoError(t, store.Record(BTC, point(time.Duration(i)*time.Minute, 100)))
	}

	snap := store.Snapshot()

	// Ingestion after the snapshot must not leak into it.
	require.NoError(t, store.Record(BTC, point(10*time.Minute, 200)))

	window, err := snap.Window(BTC.Symbol, time.Hour, base.Add(10*time.Minute))
	require.NoError(t, err)
	require.Equal(t, 5, window.Len())

	latest, ok := snap.Latest(BTC.Symbol)
	require.True(t, ok)
	require.Equal(t, base.Add(4*time.Minute), latest.Timestamp)
}

func TestRetentionTrim(t *testing.T) {
	store := NewStore(StoreOptions{MinPoints: 2, Retention: 2 * time.Hour})

	for i := 0; i < 10; i++ {
		require.NoError(t, store.Record(BTC, point(time.Duration(i)*time.Hour, 100)))
	}

	window, err := store.Snapshot().Window(BTC.Symbol, 24*time.Hour, base.Add(9*time.Hour))
	require.NoError(t, err)
	require.Equal(t, 3, window.Len())
	require.Equal(t, base.Add(7*time.Hour), window.First().Timestamp)
}
