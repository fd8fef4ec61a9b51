package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"catalyst-catcher/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App          AppConfig          `mapstructure:"app"`
	Logging      logging.Config     `mapstructure:"logging"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Scheduler    SchedulerConfig    `mapstructure:"scheduler"`
	Market       MarketConfig       `mapstructure:"market"`
	News         NewsConfig         `mapstructure:"news"`
	Quotes       QuotesConfig       `mapstructure:"quotes"`
	Analysis     AnalysisConfig     `mapstructure:"analysis"`
	Discovery    DiscoveryConfig    `mapstructure:"discovery"`
	Tracker      TrackerConfig      `mapstructure:"tracker"`
	Dispatch     DispatchConfig     `mapstructure:"dispatch"`
	Verification VerificationConfig `mapstructure:"verification"`
	Alerting     AlertingConfig     `mapstructure:"alerting"`
	API          APIConfig          `mapstructure:"api"`
	Export       ExportConfig       `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig selects and tunes the persistent store.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	SQLitePath      string        `mapstructure:"sqlite_path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// SchedulerConfig governs the scan cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	Cron            string        `mapstructure:"cron"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// MarketConfig lists the exchanges the market clock knows about.
type MarketConfig struct {
	Default string          `mapstructure:"default"`
	Markets []MarketSession `mapstructure:"markets"`
}

// MarketSession describes one exchange's regular session.
type MarketSession struct {
	Name     string   `mapstructure:"name"`
	Timezone string   `mapstructure:"timezone"`
	Open     string   `mapstructure:"open"`
	Close    string   `mapstructure:"close"`
	Suffixes []string `mapstructure:"suffixes"`
	Holidays []string `mapstructure:"holidays"`
}

// NewsConfig covers the news retrieval provider and ingestion.
type NewsConfig struct {
	BaseURL        string         `mapstructure:"base_url"`
	Locale         string         `mapstructure:"locale"`
	Region         string         `mapstructure:"region"`
	Lookback       time.Duration  `mapstructure:"lookback"`
	BroadQueries   []string       `mapstructure:"broad_queries"`
	RequestTimeout time.Duration  `mapstructure:"request_timeout"`
	RatePerMinute  int            `mapstructure:"rate_per_minute"`
	Enrich         bool           `mapstructure:"enrich"`
	EnrichMaxBytes int            `mapstructure:"enrich_max_bytes"`
	SourcePriority map[string]int `mapstructure:"source_priority"`
}

// QuotesConfig covers the market quote provider.
type QuotesConfig struct {
	BaseURL        string            `mapstructure:"base_url"`
	RequestTimeout time.Duration     `mapstructure:"request_timeout"`
	RatePerSecond  float64           `mapstructure:"rate_per_second"`
	Suffixes       []string          `mapstructure:"suffixes"`
	Corrections    map[string]string `mapstructure:"corrections"`
}

// AnalysisConfig selects the natural-language analysis service.
type AnalysisConfig struct {
	Provider    string        `mapstructure:"provider"`
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float32       `mapstructure:"temperature"`
}

// DiscoveryConfig tunes hypothesis generation.
type DiscoveryConfig struct {
	ContextWindow       time.Duration `mapstructure:"context_window"`
	MaxAge              time.Duration `mapstructure:"max_age"`
	FallbackChunkSize   int           `mapstructure:"fallback_chunk_size"`
	DefaultThresholdPct float64       `mapstructure:"default_threshold_pct"`
	DefaultTimeoutHours int           `mapstructure:"default_timeout_hours"`
}

// TrackerConfig tunes the lifecycle tracker.
type TrackerConfig struct {
	VolumeSpikeRatio float64 `mapstructure:"volume_spike_ratio"`
}

// DispatchConfig selects live or paper dispatch.
type DispatchConfig struct {
	Mode           string        `mapstructure:"mode"`
	CalibrationLog string        `mapstructure:"calibration_log"`
	SignalTTL      time.Duration `mapstructure:"signal_ttl"`
}

// VerificationConfig tunes checkpoint grading.
type VerificationConfig struct {
	NoiseBandPct     float64       `mapstructure:"noise_band_pct"`
	NextSessionDelay time.Duration `mapstructure:"next_session_delay"`
	AbandonAfter     time.Duration `mapstructure:"abandon_after"`
}

// AlertingConfig defines operator notification routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram bot destination.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// APIConfig controls the downstream HTTP API.
type APIConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("CATALYST")
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
	if len(cfg.Market.Markets) == 0 {
		cfg.Market.Markets = DefaultMarkets()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "catalyst-catcher")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.driver", "")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.sqlite_path", "catalyst.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("scheduler.interval", "15m")
	v.SetDefault("scheduler.cron", "")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x63617463))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("market.default", "IN")

	v.SetDefault("news.base_url", "https://news.google.com/rss/search")
	v.SetDefault("news.locale", "en-IN")
	v.SetDefault("news.region", "IN")
	v.SetDefault("news.lookback", "6h")
	v.SetDefault("news.broad_queries", []string{})
	v.SetDefault("news.request_timeout", "15s")
	v.SetDefault("news.rate_per_minute", 30)
	v.SetDefault("news.enrich", false)
	v.SetDefault("news.enrich_max_bytes", 20000)

	v.SetDefault("quotes.base_url", "https://query1.finance.yahoo.com")
	v.SetDefault("quotes.request_timeout", "10s")
	v.SetDefault("quotes.rate_per_second", 2.0)
	v.SetDefault("quotes.suffixes", []string{".NS", ".BO"})

	v.SetDefault("analysis.provider", "claude")
	v.SetDefault("analysis.api_key", "")
	v.SetDefault("analysis.model", "")
	v.SetDefault("analysis.timeout", "60s")
	v.SetDefault("analysis.max_tokens", 2048)
	v.SetDefault("analysis.temperature", 0.2)

	v.SetDefault("discovery.context_window", "48h")
	v.SetDefault("discovery.max_age", "48h")
	v.SetDefault("discovery.fallback_chunk_size", 5)
	v.SetDefault("discovery.default_threshold_pct", 3.0)
	v.SetDefault("discovery.default_timeout_hours", 24)

	v.SetDefault("tracker.volume_spike_ratio", 2.0)

	v.SetDefault("dispatch.mode", "live")
	v.SetDefault("dispatch.calibration_log", "data/opportunities.jsonl")
	v.SetDefault("dispatch.signal_ttl", "48h")

	v.SetDefault("verification.noise_band_pct", 0.5)
	v.SetDefault("verification.next_session_delay", "30m")
	v.SetDefault("verification.abandon_after", "96h")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.bot_token", "")
	v.SetDefault("alerting.telegram.chat_id", "")
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("api.enabled", false)
	v.SetDefault("api.addr", ":8080")

	v.SetDefault("export.max_data_points", 5000)
}

// DefaultMarkets returns the exchanges known out of the box.
func DefaultMarkets() []MarketSession {
	return []MarketSession{
		{Name: "IN", Timezone: "Asia/Kolkata", Open: "09:15", Close: "15:30", Suffixes: []string{".NS", ".BO"}},
		{Name: "US", Timezone: "America/New_York", Open: "09:30", Close: "16:00"},
	}
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
	switch c.Database.Driver {
	case "", "postgres", "sqlite", "memory":
	default:
		return fmt.Errorf("database.driver %q is not supported", c.Database.Driver)
	}
	if c.Database.Driver == "postgres" && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required for the postgres driver")
	}
	switch c.Dispatch.Mode {
	case "live", "paper":
	default:
		return fmt.Errorf("dispatch.mode must be live or paper, got %q", c.Dispatch.Mode)
	}
	if c.Dispatch.Mode == "paper" && c.Dispatch.CalibrationLog == "" {
		return fmt.Errorf("dispatch.calibration_log is required in paper mode")
	}
	switch c.Analysis.Provider {
	case "claude", "gemini":
	default:
		return fmt.Errorf("analysis.provider must be claude or gemini, got %q", c.Analysis.Provider)
	}
	if c.Discovery.FallbackChunkSize <= 0 {
		return fmt.Errorf("discovery.fallback_chunk_size must be greater than zero")
	}
	if c.Discovery.DefaultThresholdPct <= 0 {
		return fmt.Errorf("discovery.default_threshold_pct must be greater than zero")
	}
	if c.Verification.NoiseBandPct < 0 {
		return fmt.Errorf("verification.noise_band_pct cannot be negative")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if len(c.Market.Markets) == 0 {
		return fmt.Errorf("market.markets must list at least one market")
	}
	found := false
	for _, m := range c.Market.Markets {
		if m.Name == "" || m.Timezone == "" {
			return fmt.Errorf("market entries need a name and timezone")
		}
		if _, err := ParseClock(m.Open); err != nil {
			return fmt.Errorf("market %s open: %w", m.Name, err)
		}
		if _, err := ParseClock(m.Close); err != nil {
			return fmt.Errorf("market %s close: %w", m.Name, err)
		}
		if m.Name == c.Market.Default {
			found = true
		}
	}
	if !found {
		return fmt.Errorf("market.default %q is not listed in market.markets", c.Market.Default)
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token must be set")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id must be set")
		}
	}
	return nil
}

// ParseClock converts "HH:MM" into minutes after midnight.
func ParseClock(v string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q", v)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// StoreDriver resolves the effective database driver.
func (c *Config) StoreDriver() string {
	if c.Database.Driver != "" {
		return c.Database.Driver
	}
	if c.Database.DSN != "" {
		return "postgres"
	}
	return "memory"
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
