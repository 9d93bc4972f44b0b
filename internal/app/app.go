package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"btc-dominance-alerts/internal/alerting"
	"btc-dominance-alerts/internal/config"
	"btc-dominance-alerts/internal/fetcher"
	"btc-dominance-alerts/internal/market"
	"btc-dominance-alerts/internal/scheduler"
	"btc-dominance-alerts/internal/service"
	"btc-dominance-alerts/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newCoinGecko() *fetcher.CoinGecko {
	return fetcher.NewCoinGecko(fetcher.CoinGeckoOptions{
		BaseURL:    a.Config.Market.BaseURL,
		VSCurrency: a.Config.Market.VSCurrency,
		Timeout:    a.Config.Market.RequestTimeout,
		UserAgent:  a.Config.Market.UserAgent,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) newMarketStore() *market.Store {
	retention := a.Config.Market.Retention
	if minRetention := a.Config.Engine.RSLookback * 2; retention < minRetention {
		retention = minRetention
	}
	return market.NewStore(market.StoreOptions{
		MinPoints: a.Config.Market.MinPoints,
		Retention: retention,
	})
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// warmStart reloads the trailing analysis windows from PostgreSQL into the
// in-memory store so scoring works right after a restart instead of waiting a
// full lookback.
func (a *App) warmStart(ctx context.Context, memStore *market.Store, dbStore *storage.Store) {
	lookback := a.Config.Engine.RSLookback
	if a.Config.Engine.DominanceWindow > lookback {
		lookback = a.Config.Engine.DominanceWindow
	}
	now := time.Now().UTC()
	from := now.Add(-lookback)

	dominance, err := dbStore.ListDominanceBetween(ctx, from, now)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("warm start: dominance reload failed")
	}
	for _, sample := range dominance {
		point := market.PricePoint{Timestamp: sample.Bucket, Price: sample.DominancePct}
		if err := memStore.Record(market.DominanceIndex, point); err != nil {
			a.Logger.Debug().Err(err).Msg("warm start: skipping dominance point")
		}
	}

	if total, err := dbStore.CountDominanceSamples(ctx); err == nil {
		a.Logger.Debug().Int64("persisted", total).Int("reloaded", len(dominance)).Msg("warm start: dominance history")
	}

	symbols := []market.Asset{market.BTC}
	tracked := map[string]bool{market.BTC.Symbol: true}
	for _, alt := range a.Config.Market.Alts {
		symbols = append(symbols, market.Asset{Symbol: alt.Symbol, Kind: market.KindAlt})
		tracked[alt.Symbol] = true
	}

	if known, err := dbStore.ListSymbols(ctx); err == nil {
		for symbol := range known {
			if !tracked[symbol] {
				a.Logger.Debug().Str("asset", symbol).Msg("warm start: persisted symbol no longer tracked")
			}
		}
	}

	loaded := len(dominance)
	for _, asset := range symbols {
		samples, err := dbStore.ListPriceSamplesBetween(ctx, asset.Symbol, from, now)
		if err != nil {
			a.Logger.Warn().Err(err).Str("asset", asset.Symbol).Msg("warm start: price reload failed")
			continue
		}
		for _, sample := range samples {
			point := market.PricePoint{Timestamp: sample.Bucket, Price: sample.Price, Volume: sample.Volume}
			if err := memStore.Record(asset, point); err != nil {
				a.Logger.Debug().Err(err).Str("asset", asset.Symbol).Msg("warm start: skipping point")
			}
		}
		loaded += len(samples)
	}

	a.Logger.Info().Int("points", loaded).Msg("warm start complete")
}

// Run executes the long-running monitoring service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	gecko := a.newCoinGecko()
	notifier := a.newNotifier()
	memStore := a.newMarketStore()

	var priceStore storage.PriceSampleStore
	var domStore storage.DominanceSampleStore
	var alertStore storage.AlertStore
	if store != nil {
		priceStore = store
		domStore = store
		alertStore = store
		a.warmStart(ctx, memStore, store)

		if retention := a.Config.Market.Retention; retention > 0 {
			cutoff := time.Now().UTC().Add(-retention)
			if err := store.DeleteAlertsBefore(ctx, cutoff); err != nil {
				a.Logger.Warn().Err(err).Msg("alert history prune failed")
			}
		}
	}

	svc := service.New(a.Config, sched, gecko, gecko, memStore, priceStore, domStore, alertStore, notifier, a.Logger)

	a.Logger.Info().Msg("starting monitoring service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

// ExportOptions hold parameters for exporting the dominance history.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// AlertsOptions configure the alerts command.
type AlertsOptions struct {
	Limit int
}

// BackfillOptions configure the backfill job.
type BackfillOptions struct {
	From   time.Time
	To     time.Time
	DryRun bool
}

// SimulateOptions drive one synthetic evaluation cycle.
type SimulateOptions struct {
	DominanceLevel     float64
	DominanceChangePct float64
	AltChangePct       float64
	VolumeSpike        bool
}
