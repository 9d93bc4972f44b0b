package app

import (
	"context"
	"errors"
	"time"

	"btc-dominance-alerts/internal/fetcher"
	"btc-dominance-alerts/internal/market"
	"btc-dominance-alerts/internal/storage"
)

// Backfill 回填历史价格与成交量数据。BTC.D 无公开历史接口，故只回填行情。
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) error {
	interval := a.Config.Scheduler.Interval
	if interval <= 0 {
		return errors.New("scheduler interval 配置不合法")
	}

	from := opts.From.UTC()
	to := opts.To.UTC()
	if !from.Before(to) {
		return errors.New("回填范围为空，请检查 --from/--to")
	}

	var store *storage.Store
	var closeStore func()
	var err error

	if opts.DryRun {
		a.Logger.Warn().Msg("回填 dry-run：不会写入数据库")
	} else {
		store, closeStore, err = a.openStore(ctx)
		if err != nil {
			return err
		}
		if store == nil {
			return errors.New("database not configured; cannot backfill")
		}
		defer closeStore()
	}

	gecko := a.newCoinGecko()

	assets := []struct {
		id    string
		asset market.Asset
	}{
		{id: a.Config.Market.BTCID, asset: market.BTC},
	}
	for _, alt := range a.Config.Market.Alts {
		assets = append(assets, struct {
			id    string
			asset market.Asset
		}{id: alt.ID, asset: market.Asset{Symbol: alt.Symbol, Kind: market.KindAlt}})
	}

	total := 0
	for _, entry := range assets {
		points, err := gecko.FetchRange(ctx, entry.id, from, to)
		if err != nil {
			a.Logger.Error().Err(err).Str("asset", entry.asset.Symbol).Msg("range fetch failed; continuing with next asset")
			continue
		}

		buckets := alignToBuckets(points, interval)
		a.Logger.Info().Str("asset", entry.asset.Symbol).
			Int("points", len(points)).
			Int("buckets", len(buckets)).
			Msg("fetched historical range")

		if opts.DryRun {
			total += len(buckets)
			continue
		}

		for _, point := range buckets {
			sample := storage.PriceSample{
				Symbol: entry.asset.Symbol,
				Kind:   entry.asset.Kind.String(),
				Bucket: point.Timestamp,
				Price:  point.Price,
				Volume: point.Volume,
			}
			if err := store.UpsertPriceSample(ctx, sample); err != nil {
				a.Logger.Error().Err(err).Str("asset", entry.asset.Symbol).Time("bucket", point.Timestamp).Msg("upsert failed")
				continue
			}
			total++
		}
	}

	a.Logger.Info().Int("samples", total).Bool("dry_run", opts.DryRun).Msg("backfill finished")
	return nil
}

// alignToBuckets truncates point timestamps onto the sampling grid, keeping the
// last observation per bucket.
func alignToBuckets(points []fetcher.HistoryPoint, interval time.Duration) []fetcher.HistoryPoint {
	byBucket := make(map[time.Time]fetcher.HistoryPoint, len(points))
	order := make([]time.Time, 0, len(points))
	for _, point := range points {
		bucket := point.Timestamp.Truncate(interval)
		if _, seen := byBucket[bucket]; !seen {
			order = append(order, bucket)
		}
		point.Timestamp = bucket
		byBucket[bucket] = point
	}

	aligned := make([]fetcher.HistoryPoint, 0, len(order))
	for _, bucket := range order {
		aligned = append(aligned, byBucket[bucket])
	}
	return aligned
}
