package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"btc-dominance-alerts/internal/alerting"
	"btc-dominance-alerts/internal/config"
	"btc-dominance-alerts/internal/engine"
	"btc-dominance-alerts/internal/fetcher"
	"btc-dominance-alerts/internal/market"
	"btc-dominance-alerts/internal/scheduler"
	"btc-dominance-alerts/internal/storage"
)

// Service orchestrates fetching, persistence, analysis, and alerting. One
// evaluation cycle runs per scheduler tick; all engine reads within a cycle
// observe a single snapshot taken after ingestion.
type Service struct {
	scheduler *scheduler.Scheduler
	dominance fetcher.DominanceFetcher
	markets   fetcher.MarketFetcher
	store     *market.Store
	prices    storage.PriceSampleStore
	domStore  storage.DominanceSampleStore
	alerts    storage.AlertStore
	notifier  alerting.Notifier
	evaluator *engine.Evaluator
	logger    zerolog.Logger

	btcID      string
	alts       []config.TrackedAsset
	idToSymbol map[string]string

	strengthOpts  engine.StrengthOptions
	dominanceOpts engine.DominanceOptions
	accumOpts     engine.AccumulationOptions
	rankingOpts   engine.RankingOptions

	channels []string
	alertsOn bool
	locker   storage.AdvisoryLocker
	lockKey  int64
}

// New constructs the monitoring service. The evaluator state lives inside and
// is only ever touched from the evaluation loop.
func New(cfg *config.Config, sched *scheduler.Scheduler, dominance fetcher.DominanceFetcher, markets fetcher.MarketFetcher, store *market.Store, prices storage.PriceSampleStore, domStore storage.DominanceSampleStore, alerts storage.AlertStore, notifier alerting.Notifier, logger zerolog.Logger) *Service {
	idToSymbol := map[string]string{cfg.Market.BTCID: market.BTC.Symbol}
	for _, alt := range cfg.Market.Alts {
		idToSymbol[alt.ID] = alt.Symbol
	}

	rules := []engine.Rule{
		engine.StrengthBreakoutRule{ThresholdPct: decimal.NewFromFloat(cfg.Engine.RSAlertThresholdPct)},
		engine.AccumulationRule{},
		engine.NewDominanceHighRule(decimal.NewFromFloat(cfg.Engine.DominanceHighLevel)),
		engine.NewDominanceLowRule(decimal.NewFromFloat(cfg.Engine.DominanceLowLevel)),
	}

	var locker storage.AdvisoryLocker
	if l, ok := prices.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		scheduler: sched,
		dominance: dominance,
		markets:   markets,
		store:     store,
		prices:    prices,
		domStore:  domStore,
		alerts:    alerts,
		notifier:  notifier,
		evaluator: engine.NewEvaluator(rules, cfg.Alerting.Cooldown, logger),
		logger:    logger.With().Str("component", "service").Logger(),

		btcID:      cfg.Market.BTCID,
		alts:       cfg.Market.Alts,
		idToSymbol: idToSymbol,

		strengthOpts: engine.StrengthOptions{
			Lookback:  cfg.Engine.RSLookback,
			BTCSymbol: market.BTC.Symbol,
		},
		dominanceOpts: engine.DominanceOptions{
			Window:       cfg.Engine.DominanceWindow,
			ThresholdPct: decimal.NewFromFloat(cfg.Engine.DominanceThresholdPct),
			IndexSymbol:  market.DominanceIndex.Symbol,
		},
		accumOpts: engine.AccumulationOptions{
			Lookback:        cfg.Engine.VolumeLookback,
			BaselinePeriods: cfg.Engine.VolumeBaselinePeriods,
			Multiplier:      decimal.NewFromFloat(cfg.Engine.VolumeSpikeMultiplier),
		},
		rankingOpts: engine.RankingOptions{
			BonusFactor: decimal.NewFromFloat(cfg.Engine.DominanceBonusFactor),
		},

		channels: cfg.Alerting.Channels,
		alertsOn: cfg.Alerting.Enabled,
		locker:   locker,
		lockKey:  cfg.Scheduler.AdvisoryLockKey,
	}
}

// Run begins the aligned sampling loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}

	s.notifyStartup(ctx)
	return s.scheduler.Run(ctx, s.ProcessBucket)
}

// notifyStartup 服务启动时推送一条通知。
func (s *Service) notifyStartup(ctx context.Context) {
	if !s.alertsOn || s.notifier == nil {
		return
	}
	note := alerting.Notification{
		Rule:        "startup",
		TriggeredAt: time.Now().UTC(),
		Channels:    s.channels,
	}
	if err := s.notifier.Notify(ctx, note); err != nil {
		s.logger.Warn().Err(err).Msg("failed to send startup notification")
	}
}

// ProcessBucket 执行单个时间桶的采样与评估逻辑。
func (s *Service) ProcessBucket(ctx context.Context, bucket time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("bucket", bucket).Msg("skip bucket because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	if err := s.ingest(ctx, bucket); err != nil {
		return err
	}
	return s.evaluate(ctx, bucket)
}

// ingest fetches dominance plus market data and records the bucket's points.
func (s *Service) ingest(ctx context.Context, bucket time.Time) error {
	dominance, err := s.dominance.FetchDominance(ctx)
	if err != nil {
		return fmt.Errorf("fetch dominance: %w", err)
	}

	s.record(market.DominanceIndex, market.PricePoint{Timestamp: bucket, Price: dominance})
	if s.domStore != nil {
		sample := storage.DominanceSample{Bucket: bucket, DominancePct: dominance}
		if err := s.domStore.UpsertDominanceSample(ctx, sample); err != nil {
			s.logger.Error().Err(err).Time("bucket", bucket).Msg("failed to upsert dominance sample")
		}
	}

	ids := make([]string, 0, len(s.alts)+1)
	ids = append(ids, s.btcID)
	for _, alt := range s.alts {
		ids = append(ids, alt.ID)
	}

	quotes, err := s.markets.FetchMarkets(ctx, ids)
	if err != nil {
		return fmt.Errorf("fetch markets: %w", err)
	}

	for _, quote := range quotes {
		symbol, ok := s.idToSymbol[quote.ID]
		if !ok {
			s.logger.Warn().Str("id", quote.ID).Msg("quote for untracked coin id")
			continue
		}

		asset := market.Asset{Symbol: symbol, Kind: market.KindAlt}
		if symbol == market.BTC.Symbol {
			asset = market.BTC
		}

		s.record(asset, market.PricePoint{Timestamp: bucket, Price: quote.Price, Volume: quote.Volume})
		if s.prices != nil {
			sample := storage.PriceSample{
				Symbol: symbol,
				Kind:   asset.Kind.String(),
				Bucket: bucket,
				Price:  quote.Price,
				Volume: quote.Volume,
			}
			if err := s.prices.UpsertPriceSample(ctx, sample); err != nil {
				s.logger.Error().Err(err).Str("asset", symbol).Time("bucket", bucket).Msg("failed to upsert price sample")
			}
		}
	}

	s.logger.Info().Time("bucket", bucket).
		Str("dominance_pct", dominance.StringFixed(2)).
		Int("quotes", len(quotes)).
		Msg("bucket ingested")
	return nil
}

// record writes one point into the in-memory store. Out-of-order data is
// rejected there; ingestion's policy is to drop and log.
func (s *Service) record(asset market.Asset, point market.PricePoint) {
	if err := s.store.Record(asset, point); err != nil {
		if errors.Is(err, market.ErrOutOfOrder) {
			s.logger.Warn().Str("asset", asset.Symbol).Err(err).Msg("dropping out-of-order point")
			return
		}
		s.logger.Error().Str("asset", asset.Symbol).Err(err).Msg("record failed")
	}
}

// evaluate runs the analysis pipeline over one snapshot and dispatches alerts.
func (s *Service) evaluate(ctx context.Context, bucket time.Time) error {
	snap := s.store.Snapshot()

	analyzer := engine.NewDominanceAnalyzer(snap, s.dominanceOpts)
	trend, err := analyzer.Trend(bucket)
	if err != nil {
		if errors.Is(err, market.ErrInsufficientData) || errors.Is(err, market.ErrUnknownAsset) {
			s.logger.Info().Time("bucket", bucket).Err(err).Msg("dominance series still warming up; skipping evaluation")
			return nil
		}
		return fmt.Errorf("dominance trend: %w", err)
	}

	strength := engine.NewStrengthEngine(snap, s.strengthOpts)
	ranker := engine.NewRanker(strength, s.rankingOpts, s.logger)

	altSymbols := make([]string, 0, len(s.alts))
	for _, alt := range s.alts {
		altSymbols = append(altSymbols, alt.Symbol)
	}
	ranking := ranker.Rank(altSymbols, trend, bucket)

	detector := engine.NewAccumulationDetector(snap, s.accumOpts)
	spikes := make(map[string]engine.SpikeResult, len(altSymbols))
	for _, symbol := range altSymbols {
		result, err := detector.Detect(symbol, bucket)
		if err != nil {
			if errors.Is(err, market.ErrInsufficientData) || errors.Is(err, market.ErrUnknownAsset) {
				s.logger.Debug().Str("asset", symbol).Err(err).Msg("skipping spike detection for this cycle")
				continue
			}
			s.logger.Warn().Str("asset", symbol).Err(err).Msg("spike detection failed")
			continue
		}
		spikes[symbol] = result
	}

	s.logger.Info().Time("bucket", bucket).
		Str("trend", trend.Direction.String()).
		Str("dominance_pct", trend.Level.StringFixed(2)).
		Int("ranked", len(ranking.Entries)).
		Int("skipped", len(ranking.Skipped)).
		Msg("cycle evaluated")

	events := s.evaluator.Evaluate(engine.CycleInput{
		AsOf:    bucket,
		Trend:   trend,
		Ranking: ranking,
		Spikes:  spikes,
	})

	for _, event := range events {
		s.dispatch(ctx, event)
	}
	return nil
}

// dispatch persists one alert event and hands it to the notifier. Delivery
// failure never rolls back dedup state; retries are the channel's concern.
func (s *Service) dispatch(ctx context.Context, event engine.AlertEvent) {
	if s.alerts != nil {
		record := storage.AlertRecord{
			Rule:    event.Rule,
			Symbol:  event.Asset.Symbol,
			Bucket:  event.TriggeredAt,
			Payload: event.Payload,
		}
		if _, inserted, err := s.alerts.InsertAlert(ctx, record); err != nil {
			s.logger.Error().Err(err).Str("rule", event.Rule).Str("asset", event.Asset.Symbol).Msg("failed to persist alert record")
		} else if !inserted {
			s.logger.Debug().Str("rule", event.Rule).Str("asset", event.Asset.Symbol).Msg("alert already persisted for this bucket")
		}
	}

	if !s.alertsOn || s.notifier == nil {
		return
	}

	note := alerting.Notification{
		Rule:        event.Rule,
		Asset:       event.Asset.Symbol,
		TriggeredAt: event.TriggeredAt,
		Payload:     event.Payload,
		Channels:    s.channels,
	}
	if err := s.notifier.Notify(ctx, note); err != nil {
		s.logger.Error().Err(err).Str("rule", event.Rule).Str("asset", event.Asset.Symbol).Msg("failed to dispatch alert")
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
