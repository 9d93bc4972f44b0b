package service

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"btc-dominance-alerts/internal/alerting"
	"btc-dominance-alerts/internal/config"
	"btc-dominance-alerts/internal/fetcher"
	"btc-dominance-alerts/internal/market"
)

var testBase = time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

// scriptedDominanceFetcher returns whatever the test set last.
type scriptedDominanceFetcher struct {
	pct decimal.Decimal
}

func (f *scriptedDominanceFetcher) FetchDominance(_ context.Context) (decimal.Decimal, error) {
	return f.pct, nil
}

type scriptedMarketFetcher struct {
	quotes []fetcher.Quote
}

func (f *scriptedMarketFetcher) FetchMarkets(_ context.Context, _ []string) ([]fetcher.Quote, error) {
	return f.quotes, nil
}

type recordingNotifier struct {
	sent []alerting.Notification
}

func (n *recordingNotifier) Notify(_ context.Context, note alerting.Notification) error {
	n.sent = append(n.sent, note)
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		Market: config.MarketConfig{
			BTCID: "bitcoin",
			Alts:  []config.TrackedAsset{{Symbol: "SOL", ID: "solana"}},
		},
		Engine: config.EngineConfig{
			RSLookback:            7 * 24 * time.Hour,
			RSAlertThresholdPct:   5.0,
			DominanceWindow:       24 * time.Hour,
			DominanceThresholdPct: 0.5,
			DominanceBonusFactor:  1.25,
			DominanceHighLevel:    55.0,
			DominanceLowLevel:     45.0,
			VolumeLookback:        24 * time.Hour,
			VolumeBaselinePeriods: 20,
			VolumeSpikeMultiplier: 3.0,
		},
		Alerting: config.AlertingConfig{
			Enabled:  true,
			Cooldown: 30 * time.Minute,
			Channels: []string{"telegram"},
		},
	}
}

func seedHistory(t *testing.T, store *market.Store, asset market.Asset, prices []float64) {
	t.Helper()
	for i, price := range prices {
		err := store.Record(asset, market.PricePoint{
			Timestamp: testBase.Add(time.Duration(i) * time.Hour),
			Price:     decimal.NewFromFloat(price),
			Volume:    decimal.NewFromInt(1000),
		})
		require.NoError(t, err)
	}
}

func quote(id, symbol string, price float64) fetcher.Quote {
	return fetcher.Quote{
		ID:     id,
		Symbol: symbol,
		Price:  decimal.NewFromFloat(price),
		Volume: decimal.NewFromInt(1000),
	}
}

// 场景：BTC 持平、SOL 七日涨 5%、BTC.D 上行，首个周期恰好触发一条
// rs_breakout，冷却期内不重复。
func TestProcessBucketBreakoutFiresOnceWithinCooldown(t *testing.T) {
	store := market.NewStore(market.StoreOptions{MinPoints: 5})

	// Seven hourly points of history; the processed bucket supplies the eighth.
	seedHistory(t, store, market.DominanceIndex, []float64{50, 50.1, 50.2, 50.3, 50.4, 50.5, 50.6})
	seedHistory(t, store, market.BTC, []float64{100, 100, 100, 100, 100, 100, 100})
	seedHistory(t, store, market.Asset{Symbol: "SOL", Kind: market.KindAlt}, []float64{100, 100.5, 101, 102, 103, 104, 104.5})

	dominance := &scriptedDominanceFetcher{pct: decimal.NewFromFloat(51)}
	markets := &scriptedMarketFetcher{quotes: []fetcher.Quote{
		quote("bitcoin", "BTC", 100),
		quote("solana", "SOL", 105),
	}}
	notifier := &recordingNotifier{}

	svc := New(testConfig(), nil, dominance, markets, store, nil, nil, nil, notifier, zerolog.Nop())

	bucket := testBase.Add(7 * time.Hour)
	require.NoError(t, svc.ProcessBucket(context.Background(), bucket))

	require.Len(t, notifier.sent, 1, "第一个周期应恰好触发一条告警")
	require.Equal(t, "rs_breakout", notifier.sent[0].Rule)
	require.Equal(t, "SOL", notifier.sent[0].Asset)
	require.Equal(t, bucket, notifier.sent[0].TriggeredAt)

	// Next bucket: the predicate still holds but the cooldown suppresses it.
	dominance.pct = decimal.NewFromFloat(51.1)
	markets.quotes = []fetcher.Quote{
		quote("bitcoin", "BTC", 100),
		quote("solana", "SOL", 105.2),
	}
	require.NoError(t, svc.ProcessBucket(context.Background(), bucket.Add(5*time.Minute)))
	require.Len(t, notifier.sent, 1, "冷却期内不得重复告警")
}

func TestProcessBucketSkipsWhileWarmingUp(t *testing.T) {
	store := market.NewStore(market.StoreOptions{MinPoints: 5})

	dominance := &scriptedDominanceFetcher{pct: decimal.NewFromFloat(50)}
	markets := &scriptedMarketFetcher{quotes: []fetcher.Quote{
		quote("bitcoin", "BTC", 100),
		quote("solana", "SOL", 100),
	}}
	notifier := &recordingNotifier{}

	svc := New(testConfig(), nil, dominance, markets, store, nil, nil, nil, notifier, zerolog.Nop())

	// A fresh series has one point; the cycle ingests and then skips evaluation.
	require.NoError(t, svc.ProcessBucket(context.Background(), testBase))
	require.Empty(t, notifier.sent)

	snap := store.Snapshot()
	latest, ok := snap.Latest(market.DominanceIndex.Symbol)
	require.True(t, ok)
	require.Equal(t, testBase, latest.Timestamp)
}

func TestProcessBucketDominanceLevelAlert(t *testing.T) {
	store := market.NewStore(market.StoreOptions{MinPoints: 5})

	seedHistory(t, store, market.DominanceIndex, []float64{54.5, 54.6, 54.7, 54.8, 54.9, 54.9, 55.0})
	seedHistory(t, store, market.BTC, []float64{100, 100, 100, 100, 100, 100, 100})
	seedHistory(t, store, market.Asset{Symbol: "SOL", Kind: market.KindAlt}, []float64{100, 100, 100, 100, 100, 100, 100})

	dominance := &scriptedDominanceFetcher{pct: decimal.NewFromFloat(55.4)}
	markets := &scriptedMarketFetcher{quotes: []fetcher.Quote{
		quote("bitcoin", "BTC", 100),
		quote("solana", "SOL", 100),
	}}
	notifier := &recordingNotifier{}

	svc := New(testConfig(), nil, dominance, markets, store, nil, nil, nil, notifier, zerolog.Nop())

	require.NoError(t, svc.ProcessBucket(context.Background(), testBase.Add(7*time.Hour)))

	require.Len(t, notifier.sent, 1)
	require.Equal(t, "dominance_high", notifier.sent[0].Rule)
	require.Equal(t, market.DominanceIndex.Symbol, notifier.sent[0].Asset)
	require.Equal(t, "55.40", notifier.sent[0].Payload["dominance_pct"])
}

func TestProcessBucketDropsOutOfOrderQuotes(t *testing.T) {
	store := market.NewStore(market.StoreOptions{MinPoints: 5})

	dominance := &scriptedDominanceFetcher{pct: decimal.NewFromFloat(50)}
	markets := &scriptedMarketFetcher{quotes: []fetcher.Quote{
		quote("bitcoin", "BTC", 100),
		quote("solana", "SOL", 100),
	}}
	notifier := &recordingNotifier{}

	svc := New(testConfig(), nil, dominance, markets, store, nil, nil, nil, notifier, zerolog.Nop())

	require.NoError(t, svc.ProcessBucket(context.Background(), testBase.Add(time.Hour)))
	// A replayed earlier bucket is dropped, not fatal.
	require.NoError(t, svc.ProcessBucket(context.Background(), testBase))

	latest, ok := store.Snapshot().Latest(market.BTC.Symbol)
	require.True(t, ok)
	require.Equal(t, testBase.Add(time.Hour), latest.Timestamp)
}
