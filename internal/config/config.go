package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"btc-dominance-alerts/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Market    MarketConfig    `mapstructure:"market"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// SchedulerConfig governs sampling cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// TrackedAsset maps a display symbol onto its CoinGecko coin id.
type TrackedAsset struct {
	Symbol string `mapstructure:"symbol"`
	ID     string `mapstructure:"id"`
}

// MarketConfig covers CoinGecko data access and the in-memory series store.
type MarketConfig struct {
	BaseURL        string         `mapstructure:"base_url"`
	VSCurrency     string         `mapstructure:"vs_currency"`
	BTCID          string         `mapstructure:"btc_id"`
	Alts           []TrackedAsset `mapstructure:"alts"`
	RequestTimeout time.Duration  `mapstructure:"request_timeout"`
	UserAgent      string         `mapstructure:"user_agent"`
	MinPoints      int            `mapstructure:"min_points"`
	Retention      time.Duration  `mapstructure:"retention"`
}

// EngineConfig holds every analysis threshold. 阈值全部可配置，不写死。
type EngineConfig struct {
	RSLookback            time.Duration `mapstructure:"rs_lookback"`
	RSAlertThresholdPct   float64       `mapstructure:"rs_alert_threshold_pct"`
	DominanceWindow       time.Duration `mapstructure:"dominance_window"`
	DominanceThresholdPct float64       `mapstructure:"dominance_threshold_pct"`
	DominanceBonusFactor  float64       `mapstructure:"dominance_bonus_factor"`
	DominanceHighLevel    float64       `mapstructure:"dominance_high_level"`
	DominanceLowLevel     float64       `mapstructure:"dominance_low_level"`
	VolumeLookback        time.Duration `mapstructure:"volume_lookback"`
	VolumeBaselinePeriods int           `mapstructure:"volume_baseline_periods"`
	VolumeSpikeMultiplier float64       `mapstructure:"volume_spike_multiplier"`
}

// AlertingConfig defines alert routing and the re-trigger cooldown.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Cooldown time.Duration  `mapstructure:"cooldown"`
	Channels []string       `mapstructure:"channels"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BTCDWATCHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "btcdwatcher")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "5m")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x42544344))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("market.base_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("market.vs_currency", "usd")
	v.SetDefault("market.btc_id", "bitcoin")
	v.SetDefault("market.request_timeout", "10s")
	v.SetDefault("market.user_agent", "btcdwatcher/1.0")
	v.SetDefault("market.min_points", 5)
	v.SetDefault("market.retention", "336h")

	v.SetDefault("engine.rs_lookback", "168h")
	v.SetDefault("engine.rs_alert_threshold_pct", 5.0)
	v.SetDefault("engine.dominance_window", "24h")
	v.SetDefault("engine.dominance_threshold_pct", 0.5)
	v.SetDefault("engine.dominance_bonus_factor", 1.25)
	v.SetDefault("engine.dominance_high_level", 55.0)
	v.SetDefault("engine.dominance_low_level", 45.0)
	v.SetDefault("engine.volume_lookback", "24h")
	v.SetDefault("engine.volume_baseline_periods", 20)
	v.SetDefault("engine.volume_spike_multiplier", 3.0)

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.cooldown", "30m")
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Market.MinPoints < 2 {
		return fmt.Errorf("market.min_points must be at least 2")
	}
	if c.Engine.RSLookback <= 0 {
		return fmt.Errorf("engine.rs_lookback must be greater than zero")
	}
	if c.Engine.DominanceWindow <= 0 {
		return fmt.Errorf("engine.dominance_window must be greater than zero")
	}
	if c.Engine.DominanceThresholdPct < 0 {
		return fmt.Errorf("engine.dominance_threshold_pct cannot be negative")
	}
	if c.Engine.VolumeSpikeMultiplier <= 1 {
		return fmt.Errorf("engine.volume_spike_multiplier must be greater than 1")
	}
	if c.Engine.DominanceBonusFactor <= 0 {
		return fmt.Errorf("engine.dominance_bonus_factor must be greater than zero")
	}
	if c.Engine.DominanceHighLevel <= c.Engine.DominanceLowLevel {
		return fmt.Errorf("engine.dominance_high_level 必须大于 dominance_low_level")
	}
	seen := make(map[string]struct{}, len(c.Market.Alts))
	for _, alt := range c.Market.Alts {
		if alt.Symbol == "" || alt.ID == "" {
			return fmt.Errorf("market.alts entries require both symbol and id")
		}
		if _, dup := seen[alt.Symbol]; dup {
			return fmt.Errorf("market.alts contains duplicate symbol %q", alt.Symbol)
		}
		seen[alt.Symbol] = struct{}{}
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}

// AltSymbols lists the configured alt symbols in declaration order.
func (c *Config) AltSymbols() []string {
	symbols := make([]string, 0, len(c.Market.Alts))
	for _, alt := range c.Market.Alts {
		symbols = append(symbols, alt.Symbol)
	}
	return symbols
}
