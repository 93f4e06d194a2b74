package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Data       DataConfig       `yaml:"data" mapstructure:"data"`
	Sources    SourcesConfig    `yaml:"sources" mapstructure:"sources"`
	HTTP       HTTPConfig       `yaml:"http" mapstructure:"http"`
	Silver     SilverConfig     `yaml:"silver" mapstructure:"silver"`
	Gold       GoldConfig       `yaml:"gold" mapstructure:"gold"`
	Validation ValidationConfig `yaml:"validation" mapstructure:"validation"`
	Health     HealthConfig     `yaml:"health" mapstructure:"health"`
	Schedule   ScheduleConfig   `yaml:"schedule" mapstructure:"schedule"`
	Publish    PublishConfig    `yaml:"publish" mapstructure:"publish"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// DataConfig locates the on-disk layers.
type DataConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir" validate:"required"`
}

// BronzePath is the Bronze SQLite file.
func (d DataConfig) BronzePath() string { return filepath.Join(d.Dir, "bronze.db") }

// SilverPath is the Silver SQLite file.
func (d DataConfig) SilverPath() string { return filepath.Join(d.Dir, "silver.db") }

// GoldDir is the directory holding Gold Parquet files and the manifest.
func (d DataConfig) GoldDir() string { return filepath.Join(d.Dir, "gold") }

// RunsPath is the run log SQLite file.
func (d DataConfig) RunsPath() string { return filepath.Join(d.Dir, "runs.db") }

// ForecastPath is where the latest forecast artifact is read from.
func (d DataConfig) ForecastPath() string { return filepath.Join(d.Dir, "forecast", "latest.json") }

// SourcesConfig configures upstream connectors.
type SourcesConfig struct {
	Start   string       `yaml:"start" mapstructure:"start" validate:"required,datetime=2006-01-02"`
	EIA     EIAConfig    `yaml:"eia" mapstructure:"eia"`
	Yahoo   YahooConfig  `yaml:"yahoo" mapstructure:"yahoo"`
	NOAA    NOAAConfig   `yaml:"noaa" mapstructure:"noaa"`
	HURDAT  HURDATConfig `yaml:"hurdat" mapstructure:"hurdat"`
	Workers int          `yaml:"workers" mapstructure:"workers" validate:"min=1,max=16"`
}

// StartDate parses Start. Load has already validated the format.
func (s SourcesConfig) StartDate() time.Time {
	t, err := time.Parse("2006-01-02", s.Start)
	if err != nil {
		return time.Time{}
	}
	return t
}

// EIAConfig holds EIA Open Data API settings.
type EIAConfig struct {
	APIKey  string `yaml:"api_key" mapstructure:"api_key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url" validate:"required,url"`
}

// YahooConfig holds futures chart API settings.
type YahooConfig struct {
	BaseURL    string `yaml:"base_url" mapstructure:"base_url" validate:"required,url"`
	RBOBSymbol string `yaml:"rbob_symbol" mapstructure:"rbob_symbol" validate:"required"`
	WTISymbol  string `yaml:"wti_symbol" mapstructure:"wti_symbol" validate:"required"`
}

// NOAAConfig holds NOAA Climate Data Online settings. The source is
// disabled when Token is empty.
type NOAAConfig struct {
	Token    string   `yaml:"token" mapstructure:"token"`
	BaseURL  string   `yaml:"base_url" mapstructure:"base_url" validate:"required,url"`
	Stations []string `yaml:"stations" mapstructure:"stations" validate:"min=1"`
	PageSize int      `yaml:"page_size" mapstructure:"page_size" validate:"min=1,max=1000"`
}

// HURDATConfig holds the best-track file location and the Gulf bounding box.
type HURDATConfig struct {
	URL    string  `yaml:"url" mapstructure:"url" validate:"required,url"`
	LatMin float64 `yaml:"lat_min" mapstructure:"lat_min"`
	LatMax float64 `yaml:"lat_max" mapstructure:"lat_max" validate:"gtfield=LatMin"`
	LonMin float64 `yaml:"lon_min" mapstructure:"lon_min"`
	LonMax float64 `yaml:"lon_max" mapstructure:"lon_max" validate:"gtfield=LonMin"`
}

// HTTPConfig configures outbound requests.
type HTTPConfig struct {
	UserAgent   string        `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs int           `yaml:"timeout_secs" mapstructure:"timeout_secs" validate:"min=1"`
	Retry       RetryConfig   `yaml:"retry" mapstructure:"retry"`
	Circuit     CircuitConfig `yaml:"circuit" mapstructure:"circuit"`
}

// RetryConfig bounds retries on network calls.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts" validate:"min=1,max=10"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms" validate:"min=0"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms" validate:"min=0"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier" validate:"gte=1"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction" validate:"gte=0,lte=1"`
}

// CircuitConfig configures per-host circuit breakers.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold" validate:"min=1"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs" validate:"min=1"`
}

// SilverConfig configures cleaning.
type SilverConfig struct {
	// CatalogPath overrides the embedded table catalog when set.
	CatalogPath string `yaml:"catalog_path" mapstructure:"catalog_path"`
}

// GoldConfig configures the Gold builder.
type GoldConfig struct {
	HorizonDays      int            `yaml:"horizon_days" mapstructure:"horizon_days" validate:"min=1,max=365"`
	MandatoryColumns []string       `yaml:"mandatory_columns" mapstructure:"mandatory_columns" validate:"min=1"`
	RequiredFeatures []string       `yaml:"required_features" mapstructure:"required_features"`
	FillRuns         map[string]int `yaml:"fill_runs" mapstructure:"fill_runs"`
	SliceMonth       int            `yaml:"slice_month" mapstructure:"slice_month" validate:"min=1,max=12"`
	SliceStart       string         `yaml:"slice_start" mapstructure:"slice_start" validate:"required,datetime=2006-01-02"`
}

// ValidationConfig configures the validators.
type ValidationConfig struct {
	OutlierSigma float64 `yaml:"outlier_sigma" mapstructure:"outlier_sigma" validate:"gt=0"`
}

// HealthConfig sets freshness thresholds and alerting. A table older than
// its warn age is flagged; older than its max age it is stale.
type HealthConfig struct {
	DailyWarnAgeDays     int     `yaml:"daily_warn_age_days" mapstructure:"daily_warn_age_days" validate:"min=1,ltefield=DailyMaxAgeDays"`
	DailyMaxAgeDays      int     `yaml:"daily_max_age_days" mapstructure:"daily_max_age_days" validate:"min=1"`
	WeeklyWarnAgeDays    int     `yaml:"weekly_warn_age_days" mapstructure:"weekly_warn_age_days" validate:"min=1,ltefield=WeeklyMaxAgeDays"`
	WeeklyMaxAgeDays     int     `yaml:"weekly_max_age_days" mapstructure:"weekly_max_age_days" validate:"min=1"`
	GoldMaxAgeHours      int     `yaml:"gold_max_age_hours" mapstructure:"gold_max_age_hours" validate:"min=1"`
	ForecastMaxAgeHours  int     `yaml:"forecast_max_age_hours" mapstructure:"forecast_max_age_hours" validate:"min=1"`
	CheckIntervalSec     int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs" validate:"min=10"`
	LookbackHours        int     `yaml:"lookback_hours" mapstructure:"lookback_hours" validate:"min=1"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold" validate:"gte=0,lte=1"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url" validate:"omitempty,url"`
}

// ScheduleConfig holds cron expressions for the daemon.
type ScheduleConfig struct {
	Full    string `yaml:"full" mapstructure:"full" validate:"required"`
	Refresh string `yaml:"refresh" mapstructure:"refresh"`
}

// PublishConfig configures the optional Postgres copies of Gold and the
// forecast.
type PublishConfig struct {
	DatabaseURL   string `yaml:"database_url" mapstructure:"database_url"`
	Table         string `yaml:"table" mapstructure:"table" validate:"required"`
	ForecastTable string `yaml:"forecast_table" mapstructure:"forecast_table" validate:"required"`
}

// ServerConfig configures the status server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port" validate:"min=1,max=65535"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" mapstructure:"format" validate:"oneof=json console"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	// A local .env supplies credentials; variables already set win.
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, eris.Wrap(err, "config: read .env")
		}
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PUMPCAST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Credentials also honor their conventional names.
	if err := v.BindEnv("sources.eia.api_key", "PUMPCAST_SOURCES_EIA_API_KEY", "EIA_API_KEY"); err != nil {
		return nil, eris.Wrap(err, "config: bind eia key")
	}
	if err := v.BindEnv("sources.noaa.token", "PUMPCAST_SOURCES_NOAA_TOKEN", "NOAA_TOKEN"); err != nil {
		return nil, eris.Wrap(err, "config: bind noaa token")
	}

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

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data.dir", "data")

	v.SetDefault("sources.start", "2020-10-01")
	v.SetDefault("sources.workers", 4)
	v.SetDefault("sources.eia.base_url", "https://api.eia.gov/v2")
	v.SetDefault("sources.yahoo.base_url", "https://query1.finance.yahoo.com/v8/finance/chart")
	v.SetDefault("sources.yahoo.rbob_symbol", "RB=F")
	v.SetDefault("sources.yahoo.wti_symbol", "CL=F")
	v.SetDefault("sources.noaa.base_url", "https://www.ncdc.noaa.gov/cdo-web/api/v2/data")
	v.SetDefault("sources.noaa.stations", []string{"GHCND:USW00012918", "GHCND:USW00093937"})
	v.SetDefault("sources.noaa.page_size", 1000)
	v.SetDefault("sources.hurdat.url", "https://www.nhc.noaa.gov/data/hurdat/hurdat2-1851-2023-070324.txt")
	v.SetDefault("sources.hurdat.lat_min", 18.0)
	v.SetDefault("sources.hurdat.lat_max", 32.0)
	v.SetDefault("sources.hurdat.lon_min", -98.5)
	v.SetDefault("sources.hurdat.lon_max", -80.0)

	v.SetDefault("http.user_agent", "pumpcast/1.0")
	v.SetDefault("http.timeout_secs", 30)
	v.SetDefault("http.retry.max_attempts", 4)
	v.SetDefault("http.retry.initial_backoff_ms", 1000)
	v.SetDefault("http.retry.max_backoff_ms", 30000)
	v.SetDefault("http.retry.multiplier", 1.5)
	v.SetDefault("http.retry.jitter_fraction", 0.25)
	v.SetDefault("http.circuit.failure_threshold", 5)
	v.SetDefault("http.circuit.reset_timeout_secs", 60)

	v.SetDefault("gold.horizon_days", 21)
	v.SetDefault("gold.mandatory_columns", []string{"retail_price"})
	v.SetDefault("gold.required_features", DefaultRequiredFeatures())
	v.SetDefault("gold.slice_month", 10)
	v.SetDefault("gold.slice_start", "2020-10-01")

	v.SetDefault("validation.outlier_sigma", 6.0)

	v.SetDefault("health.daily_warn_age_days", 2)
	v.SetDefault("health.daily_max_age_days", 4)
	v.SetDefault("health.weekly_warn_age_days", 8)
	v.SetDefault("health.weekly_max_age_days", 15)
	v.SetDefault("health.gold_max_age_hours", 48)
	v.SetDefault("health.forecast_max_age_hours", 192)
	v.SetDefault("health.check_interval_secs", 300)
	v.SetDefault("health.lookback_hours", 168)
	v.SetDefault("health.failure_rate_threshold", 0.5)

	v.SetDefault("schedule.full", "0 30 18 * * 1-5")
	v.SetDefault("schedule.refresh", "0 0 12 * * 3")

	v.SetDefault("publish.table", "pumpcast.master_daily")
	v.SetDefault("publish.forecast_table", "pumpcast.forecasts")

	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// DefaultRequiredFeatures lists features a model-ready row must carry.
// Weather and storm features are optional because their sources lag or
// need credentials.
func DefaultRequiredFeatures() []string {
	return []string{
		"rbob_lag3", "rbob_lag7", "rbob_lag14",
		"crack_spread", "retail_margin", "vol_rbob_10d",
		"delta_rbob_1w", "term_structure", "rbob_up_1w",
		"days_supply", "inventory_surprise", "utilization_frac",
		"util_x_days_supply", "import_dependency", "padd3_share",
		"winter_blend_effect",
	}
}

// Validate checks struct constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return eris.Wrap(err, "config: invalid")
	}
	return nil
}

// RequireEIA reports a configuration error when the EIA key is missing.
func (c *Config) RequireEIA() error {
	if c.Sources.EIA.APIKey == "" {
		return eris.New("config: EIA API key is required (EIA_API_KEY)")
	}
	return nil
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
