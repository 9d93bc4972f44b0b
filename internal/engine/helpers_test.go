package engine

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"btc-dominance-alerts/internal/market"
)

var (
	testBase = time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	altSOL   = market.Asset{Symbol: "SOL", Kind: market.KindAlt}
	altXRP   = market.Asset{Symbol: "XRP", Kind: market.KindAlt}
)

// seed records hourly points for one asset starting at testBase. Volumes may be
// nil for a flat default.
func seed(t *testing.T, store *market.Store, asset market.Asset, prices []float64, volumes []float64) {
	t.Helper()
	for i, price := range prices {
		volume := 1000.0
		if volumes != nil {
			volume = volumes[i]
		}
		err := store.Record(asset, market.PricePoint{
			Timestamp: testBase.Add(time.Duration(i) * time.Hour),
			Price:     decimal.NewFromFloat(price),
			Volume:    decimal.NewFromFloat(volume),
		})
		require.NoError(t, err)
	}
}

// flatSeries returns n copies of value.
func flatSeries(n int, value float64) []float64 {
	series := make([]float64, n)
	for i := range series {
		series[i] = value
	}
	return series
}

// rampSeries returns n values moving linearly from start to end inclusive.
func rampSeries(n int, start, end float64) []float64 {
	series := make([]float64, n)
	if n == 1 {
		series[0] = end
		return series
	}
	step := (end - start) / float64(n-1)
	for i := range series {
		series[i] = start + step*float64(i)
	}
	// Pin the endpoints so percentage-change assertions stay exact.
	series[0] = start
	series[n-1] = end
	return series
}

func asOfHours(n int) time.Time {
	return testBase.Add(time.Duration(n) * time.Hour)
}

func newTestStore() *market.Store {
	return market.NewStore(market.StoreOptions{MinPoints: 5})
}
