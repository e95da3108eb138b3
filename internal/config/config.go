package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Fetch      FetchConfig      `yaml:"fetch" mapstructure:"fetch"`
	Scrape     ScrapeConfig     `yaml:"scrape" mapstructure:"scrape"`
	Federal    FederalConfig    `yaml:"federal" mapstructure:"federal"`
	Schedule   ScheduleConfig   `yaml:"schedule" mapstructure:"schedule"`
	Trends     TrendsConfig     `yaml:"trends" mapstructure:"trends"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// FetchConfig configures outbound HTTP for both sources.
type FetchConfig struct {
	UserAgent   string `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int    `yaml:"max_retries" mapstructure:"max_retries"`
	// RunTimeoutSecs bounds a whole fetch step, including retries.
	RunTimeoutSecs int `yaml:"run_timeout_secs" mapstructure:"run_timeout_secs"`
}

// ScrapeConfig configures the vendor listing page scrape.
type ScrapeConfig struct {
	URL        string `yaml:"url" mapstructure:"url"`
	DateColumn int    `yaml:"date_column" mapstructure:"date_column"`
	MinCells   int    `yaml:"min_cells" mapstructure:"min_cells"`
	DatePolicy string `yaml:"date_policy" mapstructure:"date_policy"`
}

// FederalConfig configures the EIA weekly price API.
type FederalConfig struct {
	APIKey       string `yaml:"api_key" mapstructure:"api_key"`
	BaseURL      string `yaml:"base_url" mapstructure:"base_url"`
	Series       string `yaml:"series" mapstructure:"series"`
	PageSize     int    `yaml:"page_size" mapstructure:"page_size"`
	LookbackDays int    `yaml:"lookback_days" mapstructure:"lookback_days"`
}

// ScheduleConfig configures the recurring acquisition jobs.
type ScheduleConfig struct {
	Local   JobConfig `yaml:"local" mapstructure:"local"`
	Federal JobConfig `yaml:"federal" mapstructure:"federal"`
}

// JobConfig configures one recurring job.
type JobConfig struct {
	Cron    string `yaml:"cron" mapstructure:"cron"`
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
}

// TrendsConfig holds default windows for read-side views.
type TrendsConfig struct {
	ComparisonWindowDays int `yaml:"comparison_window_days" mapstructure:"comparison_window_days"`
	ChartWindowDays      int `yaml:"chart_window_days" mapstructure:"chart_window_days"`
}

// ServerConfig configures the operator API server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// MonitoringConfig configures acquisition health checks and alerting.
type MonitoringConfig struct {
	Enabled              bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	// Hours since the last successful run before a source counts as stale.
	LocalStaleHours   int `yaml:"local_stale_hours" mapstructure:"local_stale_hours"`
	FederalStaleHours int `yaml:"federal_stale_hours" mapstructure:"federal_stale_hours"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("ETRENDS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "etrends.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("fetch.user_agent", "Mozilla/5.0 (compatible; etrends/1.0)")
	v.SetDefault("fetch.timeout_secs", 30)
	v.SetDefault("fetch.max_retries", 1)
	v.SetDefault("fetch.run_timeout_secs", 120)
	v.SetDefault("scrape.url", "https://www.newenglandoil.com/rhodeisland/zone4.asp?x=0")
	v.SetDefault("scrape.date_column", 4)
	v.SetDefault("scrape.min_cells", 6)
	v.SetDefault("scrape.date_policy", "drop")
	// Empty default so ETRENDS_FEDERAL_API_KEY is visible to Unmarshal.
	v.SetDefault("federal.api_key", "")
	v.SetDefault("federal.base_url", "https://api.eia.gov/v2/petroleum/pri/wfr/data/")
	v.SetDefault("federal.series", "W_EPD2F_PRS_SRI_DPG")
	v.SetDefault("federal.page_size", 5000)
	v.SetDefault("federal.lookback_days", 730)
	v.SetDefault("schedule.local.cron", "0 0 * * *")
	v.SetDefault("schedule.local.enabled", true)
	v.SetDefault("schedule.federal.cron", "0 6 * * 1")
	v.SetDefault("schedule.federal.enabled", true)
	v.SetDefault("trends.comparison_window_days", 90)
	v.SetDefault("trends.chart_window_days", 365)
	v.SetDefault("monitoring.enabled", true)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.check_interval_secs", 900)
	v.SetDefault("monitoring.lookback_window_hours", 168)
	v.SetDefault("monitoring.failure_rate_threshold", 0.5)
	v.SetDefault("monitoring.local_stale_hours", 48)
	v.SetDefault("monitoring.federal_stale_hours", 240)
}

// Validate checks the settings required by the given mode
// ("acquire", "serve" or "read") and reports every problem at once.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, "store.driver must be sqlite or postgres")
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}
	if c.Trends.ComparisonWindowDays <= 0 {
		errs = append(errs, "trends.comparison_window_days must be > 0")
	}
	if c.Trends.ChartWindowDays <= 0 {
		errs = append(errs, "trends.chart_window_days must be > 0")
	}

	switch mode {
	case "read":
	case "acquire", "serve":
		errs = append(errs, c.validateAcquire()...)
		if mode == "serve" && c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateAcquire() []string {
	var errs []string
	if c.Scrape.URL == "" {
		errs = append(errs, "scrape.url is required")
	}
	if c.Scrape.MinCells < 3 {
		errs = append(errs, "scrape.min_cells must be >= 3")
	}
	if c.Scrape.DateColumn < 0 || c.Scrape.DateColumn >= c.Scrape.MinCells {
		errs = append(errs, "scrape.date_column must be within [0, scrape.min_cells)")
	}
	switch c.Scrape.DatePolicy {
	case "drop", "today":
	default:
		errs = append(errs, "scrape.date_policy must be drop or today")
	}
	if c.Fetch.TimeoutSecs <= 0 {
		errs = append(errs, "fetch.timeout_secs must be > 0")
	}
	if c.Federal.PageSize <= 0 {
		errs = append(errs, "federal.page_size must be > 0")
	}
	return errs
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
