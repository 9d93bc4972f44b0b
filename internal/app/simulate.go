package app

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"btc-dominance-alerts/internal/config"
	"btc-dominance-alerts/internal/fetcher"
	"btc-dominance-alerts/internal/market"
	"btc-dominance-alerts/internal/service"
)

// SimulateAlert 构造一段合成行情并走完整条评估管道，用于验证告警链路。
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting 未启用")
	}

	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("未配置任何告警通道")
	}

	cfg := *a.Config
	cfg.Market.Alts = []config.TrackedAsset{{Symbol: "ALT", ID: "alt-sim"}}
	cfg.Market.BTCID = "btc-sim"

	interval := cfg.Scheduler.Interval
	bucket := time.Now().UTC().Truncate(interval)
	seedCount := cfg.Market.MinPoints + cfg.Engine.VolumeBaselinePeriods

	memStore := market.NewStore(market.StoreOptions{MinPoints: cfg.Market.MinPoints})

	level := decimal.NewFromFloat(opts.DominanceLevel)
	change := decimal.NewFromFloat(opts.DominanceChangePct)
	domStart := level.Div(onePlusPct(change))
	seedSeries(memStore, market.DominanceIndex, bucket, interval, seedCount, domStart, level, decimal.Zero)

	btcPrice := decimal.NewFromInt(100)
	baseVolume := decimal.NewFromInt(1000)
	seedSeries(memStore, market.BTC, bucket, interval, seedCount, btcPrice, btcPrice, baseVolume)

	altStart := decimal.NewFromInt(100)
	altEnd := altStart.Mul(onePlusPct(decimal.NewFromFloat(opts.AltChangePct)))
	altAsset := market.Asset{Symbol: "ALT", Kind: market.KindAlt}
	seedSeries(memStore, altAsset, bucket, interval, seedCount, altStart, altEnd, baseVolume)

	finalVolume := baseVolume
	if opts.VolumeSpike {
		finalVolume = baseVolume.Mul(decimal.NewFromFloat(cfg.Engine.VolumeSpikeMultiplier))
	}

	dom := &staticDominanceFetcher{level: level}
	mkt := &staticMarketFetcher{quotes: []fetcher.Quote{
		{ID: "btc-sim", Symbol: "BTC", Price: btcPrice, Volume: baseVolume},
		{ID: "alt-sim", Symbol: "ALT", Price: altEnd, Volume: finalVolume},
	}}

	svc := service.New(&cfg, nil, dom, mkt, memStore, nil, nil, nil, notifier, a.Logger)
	return svc.ProcessBucket(ctx, bucket)
}

// seedSeries records count points ending one interval before the final bucket,
// moving linearly from start to end.
func seedSeries(store *market.Store, asset market.Asset, bucket time.Time, interval time.Duration, count int, start, end, volume decimal.Decimal) {
	span := decimal.NewFromInt(int64(count))
	step := end.Sub(start).Div(span)

	for i := 0; i < count; i++ {
		ts := bucket.Add(-time.Duration(count-i) * interval)
		price := start.Add(step.Mul(decimal.NewFromInt(int64(i))))
		_ = store.Record(asset, market.PricePoint{Timestamp: ts, Price: price, Volume: volume})
	}
}

func onePlusPct(pct decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(1).Add(pct.Div(decimal.NewFromInt(100)))
}

type staticDominanceFetcher struct {
	level decimal.Decimal
}

func (s *staticDominanceFetcher) FetchDominance(ctx context.Context) (decimal.Decimal, error) {
	return s.level, nil
}

type staticMarketFetcher struct {
	quotes []fetcher.Quote
}

func (s *staticMarketFetcher) FetchMarkets(ctx context.Context, ids []string) ([]fetcher.Quote, error) {
	return s.quotes, nil
}

var _ fetcher.DominanceFetcher = (*staticDominanceFetcher)(nil)
var _ fetcher.MarketFetcher = (*staticMarketFetcher)(nil)
