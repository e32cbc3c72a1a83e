// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/worldbank-gdp-pipeline/internal/extract"
	"github.com/JakeFAU/worldbank-gdp-pipeline/internal/normalize"
	"github.com/JakeFAU/worldbank-gdp-pipeline/internal/report"
	"github.com/JakeFAU/worldbank-gdp-pipeline/internal/store"
)

// EnvPrefix is prepended to every environment override, e.g. GDP_STORE_PATH.
const EnvPrefix = "GDP"

// Config captures all pipeline configuration knobs loaded via Viper.
type Config struct {
	Source    SourceConfig    `mapstructure:"source"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Extract   ExtractConfig   `mapstructure:"extract"`
	Normalize NormalizeConfig `mapstructure:"normalize"`
	Store     StoreConfig     `mapstructure:"store"`
	Report    ReportConfig    `mapstructure:"report"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Mirror    MirrorConfig    `mapstructure:"mirror"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// SourceConfig locates the indicator endpoint.
type SourceConfig struct {
	BaseURL       string `mapstructure:"base_url"`
	IndicatorPath string `mapstructure:"indicator_path"`
	PerPage       int    `mapstructure:"per_page"`
}

// HTTPConfig configures the page fetcher's client.
type HTTPConfig struct {
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
	UserAgent         string  `mapstructure:"user_agent"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

// ExtractConfig governs pagination failure handling.
type ExtractConfig struct {
	FirstPageFailure string `mapstructure:"first_page_failure"`
}

// NormalizeConfig governs malformed record handling.
type NormalizeConfig struct {
	MalformedRecords string `mapstructure:"malformed_records"`
}

// StoreConfig selects the embedded database.
type StoreConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
}

// ReportConfig controls the pivot columns and rendering.
type ReportConfig struct {
	Years            []int  `mapstructure:"years"`
	Format           string `mapstructure:"format"`
	ShowLoadedTables bool   `mapstructure:"show_loaded_tables"`
}

// SchedulerConfig controls the cron trigger and per-phase retries.
type SchedulerConfig struct {
	Cron              string `mapstructure:"cron"`
	Timezone          string `mapstructure:"timezone"`
	Retries           int    `mapstructure:"retries"`
	RetryDelaySeconds int    `mapstructure:"retry_delay_seconds"`
}

// PipelineConfig holds run-level toggles.
type PipelineConfig struct {
	SkipLoadWhenEmpty bool `mapstructure:"skip_load_when_empty"`
	QueueDepth        int  `mapstructure:"queue_depth"`
	RunHistory        int  `mapstructure:"run_history"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// ArchiveConfig selects where raw pages are kept.
type ArchiveConfig struct {
	Provider  string `mapstructure:"provider"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for load notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// MirrorConfig controls the optional Postgres mirror.
type MirrorConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Archive providers.
const (
	ArchiveNone   = "none"
	ArchiveMemory = "memory"
	ArchiveLocal  = "local"
	ArchiveGCS    = "gcs"
)

// Load builds a Config from defaults, an optional file and the environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Cloud Run injects PORT.
	_ = v.BindEnv("server.port", EnvPrefix+"_SERVER_PORT", "PORT")

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("source.base_url", "https://api.worldbank.org/v2/country/ARG;BOL;BRA;CHL;COL;ECU;GUY;PRY;PER;SUR;URY;VEN/")
	v.SetDefault("source.indicator_path", "indicator/NY.GDP.MKTP.CD")
	v.SetDefault("source.per_page", 50)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.user_agent", "worldbank-gdp-pipeline/0.1")
	v.SetDefault("http.requests_per_second", 0)
	v.SetDefault("extract.first_page_failure", string(extract.FirstPageEmpty))
	v.SetDefault("normalize.malformed_records", string(normalize.PolicySkip))
	v.SetDefault("store.driver", string(store.DriverDuckDB))
	v.SetDefault("store.path", "gdp.db")
	v.SetDefault("report.years", report.DefaultYears)
	v.SetDefault("report.format", string(report.FormatTable))
	v.SetDefault("report.show_loaded_tables", true)
	v.SetDefault("scheduler.cron", "0 8 * * *")
	v.SetDefault("scheduler.timezone", "UTC")
	v.SetDefault("scheduler.retries", 1)
	v.SetDefault("scheduler.retry_delay_seconds", 30)
	v.SetDefault("pipeline.skip_load_when_empty", false)
	v.SetDefault("pipeline.queue_depth", 8)
	v.SetDefault("pipeline.run_history", 100)
	v.SetDefault("server.port", 8080)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("archive.provider", ArchiveNone)
	v.SetDefault("archive.base_dir", "raw")
	v.SetDefault("archive.gcs_bucket", "")
	v.SetDefault("archive.prefix", "worldbank")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("mirror.dsn", "")
	v.SetDefault("mirror.max_conns", 4)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Source.BaseURL) == "" {
		return errors.New("source.base_url is required")
	}
	if c.Source.PerPage <= 0 {
		return errors.New("source.per_page must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return errors.New("http.timeout_seconds must be > 0")
	}
	if c.HTTP.RequestsPerSecond < 0 {
		return errors.New("http.requests_per_second must be >= 0")
	}
	if !extract.FirstPagePolicy(c.Extract.FirstPageFailure).Valid() {
		return fmt.Errorf("extract.first_page_failure must be empty or fail, got %q", c.Extract.FirstPageFailure)
	}
	if !normalize.Policy(c.Normalize.MalformedRecords).Valid() {
		return fmt.Errorf("normalize.malformed_records must be skip or abort, got %q", c.Normalize.MalformedRecords)
	}
	if !store.Driver(c.Store.Driver).Valid() {
		return fmt.Errorf("store.driver must be duckdb or sqlite, got %q", c.Store.Driver)
	}
	if strings.TrimSpace(c.Store.Path) == "" {
		return errors.New("store.path is required")
	}
	if _, err := report.New(c.Report.Years); err != nil {
		return fmt.Errorf("report.years: %w", err)
	}
	if _, err := report.ParseFormat(c.Report.Format); err != nil {
		return fmt.Errorf("report.format: %w", err)
	}
	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		return fmt.Errorf("scheduler.timezone: %w", err)
	}
	if c.Scheduler.Retries < 0 {
		return errors.New("scheduler.retries must be >= 0")
	}
	if c.Scheduler.RetryDelaySeconds < 0 {
		return errors.New("scheduler.retry_delay_seconds must be >= 0")
	}
	if c.Pipeline.QueueDepth <= 0 {
		return errors.New("pipeline.queue_depth must be > 0")
	}
	if c.Server.Port <= 0 {
		return errors.New("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return errors.New("auth.api_key must be set when auth is enabled")
	}
	switch c.Archive.Provider {
	case ArchiveNone, ArchiveMemory, "":
	case ArchiveLocal:
		if c.Archive.BaseDir == "" {
			return errors.New("archive.base_dir is required for the local provider")
		}
	case ArchiveGCS:
		if c.Archive.GCSBucket == "" {
			return errors.New("archive.gcs_bucket is required for the gcs provider")
		}
	default:
		return fmt.Errorf("archive.provider must be none, memory, local or gcs, got %q", c.Archive.Provider)
	}
	return nil
}

// HTTPTimeout converts the configured timeout into a duration.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// RetryDelay converts the configured phase retry delay into a duration.
func (c Config) RetryDelay() time.Duration {
	return time.Duration(c.Scheduler.RetryDelaySeconds) * time.Second
}

// Location resolves the scheduler timezone, falling back to UTC.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
