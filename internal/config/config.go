package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Warehouse  WarehouseConfig  `yaml:"warehouse" mapstructure:"warehouse"`
	Blob       BlobConfig       `yaml:"blob" mapstructure:"blob"`
	Athena     AthenaConfig     `yaml:"athena" mapstructure:"athena"`
	Inference  InferenceConfig  `yaml:"inference" mapstructure:"inference"`
	Normalize  NormalizeConfig  `yaml:"normalize" mapstructure:"normalize"`
	Notify     NotifyConfig     `yaml:"notify" mapstructure:"notify"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Fetch      FetchConfig      `yaml:"fetch" mapstructure:"fetch"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	MaxUploadMB int      `yaml:"max_upload_mb" mapstructure:"max_upload_mb"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// WarehouseConfig configures the warehouse backend.
type WarehouseConfig struct {
	Driver        string `yaml:"driver" mapstructure:"driver"` // postgres or sqlite
	DatabaseURL   string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns      int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns      int32  `yaml:"min_conns" mapstructure:"min_conns"`
	RawTable      string `yaml:"raw_table" mapstructure:"raw_table"`
	FinalTable    string `yaml:"final_table" mapstructure:"final_table"`
	SystemColumns int    `yaml:"system_columns" mapstructure:"system_columns"`
}

// BlobConfig configures object storage.
type BlobConfig struct {
	Driver          string `yaml:"driver" mapstructure:"driver"` // s3 or memory
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	Region          string `yaml:"region" mapstructure:"region"`
	Endpoint        string `yaml:"endpoint" mapstructure:"endpoint"`
	UsePathStyle    bool   `yaml:"use_path_style" mapstructure:"use_path_style"`
	AccessKeyID     string `yaml:"access_key_id" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key" mapstructure:"secret_access_key"`
	Compress        bool   `yaml:"compress" mapstructure:"compress"`
	PresignTTLSecs  int    `yaml:"presign_ttl_secs" mapstructure:"presign_ttl_secs"`
}

// AthenaConfig configures the interactive count engine.
type AthenaConfig struct {
	Region           string `yaml:"region" mapstructure:"region"`
	Database         string `yaml:"database" mapstructure:"database"`
	OutputLocation   string `yaml:"output_location" mapstructure:"output_location"`
	Workgroup        string `yaml:"workgroup" mapstructure:"workgroup"`
	PollIntervalSecs int    `yaml:"poll_interval_secs" mapstructure:"poll_interval_secs"`
	MaxPolls         int    `yaml:"max_polls" mapstructure:"max_polls"`
	TimeoutSecs      int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// InferenceConfig configures the scoring endpoint.
type InferenceConfig struct {
	Endpoint      string  `yaml:"endpoint" mapstructure:"endpoint"`
	Region        string  `yaml:"region" mapstructure:"region"`
	RatePerSecond float64 `yaml:"rate_per_second" mapstructure:"rate_per_second"`
}

// NormalizeConfig configures upload normalization.
type NormalizeConfig struct {
	FallbackEncoding string `yaml:"fallback_encoding" mapstructure:"fallback_encoding"`
	MinConfidence    int    `yaml:"min_confidence" mapstructure:"min_confidence"`
	BestEffort       bool   `yaml:"best_effort" mapstructure:"best_effort"`
	Delimiter        string `yaml:"delimiter" mapstructure:"delimiter"`
	TreatNullMarkers bool   `yaml:"treat_null_markers" mapstructure:"treat_null_markers"`
}

// NotifyConfig configures the storage notification consumer.
type NotifyConfig struct {
	Workers     int `yaml:"workers" mapstructure:"workers"`
	Buffer      int `yaml:"buffer" mapstructure:"buffer"`
	MaxRetries  int `yaml:"max_retries" mapstructure:"max_retries"`
	DeadLetters int `yaml:"dead_letters" mapstructure:"dead_letters"`
}

// RetryConfig configures retries of transient storage and inference errors.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMS int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMS     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// MonitoringConfig configures load-health alerting.
type MonitoringConfig struct {
	Enabled              bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"` // notification failures / handled
	SkipRateThreshold    float64 `yaml:"skip_rate_threshold" mapstructure:"skip_rate_threshold"`       // skipped rows / parsed rows
	DeadLetterThreshold  int     `yaml:"dead_letter_threshold" mapstructure:"dead_letter_threshold"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	RealertIntervalSecs  int     `yaml:"realert_interval_secs" mapstructure:"realert_interval_secs"` // same alert type is not re-sent sooner
}

// FetchConfig configures downloads of remote lead files (load --url).
type FetchConfig struct {
	TimeoutSecs   int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	UserAgent     string  `yaml:"user_agent" mapstructure:"user_agent"`
	RatePerSecond float64 `yaml:"rate_per_second" mapstructure:"rate_per_second"`
}

// PresignTTL returns the presigned URL lifetime.
func (b BlobConfig) PresignTTL() time.Duration {
	return time.Duration(b.PresignTTLSecs) * time.Second
}

// PollInterval returns the count poll interval.
func (a AthenaConfig) PollInterval() time.Duration {
	return time.Duration(a.PollIntervalSecs) * time.Second
}

// Timeout returns the overall count deadline.
func (a AthenaConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSecs) * time.Second
}

// DelimiterRune returns the first rune of Delimiter, or ','.
func (n NormalizeConfig) DelimiterRune() rune {
	for _, r := range n.Delimiter {
		return r
	}
	return ','
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LEADS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.max_upload_mb", 50)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("warehouse.driver", "postgres")
	v.SetDefault("warehouse.max_conns", 10)
	v.SetDefault("warehouse.min_conns", 1)
	v.SetDefault("warehouse.raw_table", "leads_raw")
	v.SetDefault("warehouse.final_table", "leads_final")
	v.SetDefault("warehouse.system_columns", 2)
	v.SetDefault("blob.driver", "s3")
	v.SetDefault("blob.bucket", "lead-scoring-uploads")
	v.SetDefault("blob.region", "eu-west-1")
	v.SetDefault("blob.presign_ttl_secs", 3600)
	v.SetDefault("athena.region", "eu-west-1")
	v.SetDefault("athena.database", "leads")
	v.SetDefault("athena.output_location", "s3://lead-scoring-athena-results/")
	v.SetDefault("athena.poll_interval_secs", 1)
	v.SetDefault("athena.max_polls", 30)
	v.SetDefault("athena.timeout_secs", 60)
	v.SetDefault("inference.endpoint", "lead-scoring-endpoint")
	v.SetDefault("inference.region", "eu-west-1")
	v.SetDefault("inference.rate_per_second", 10)
	v.SetDefault("normalize.fallback_encoding", "latin1")
	v.SetDefault("normalize.min_confidence", 50)
	v.SetDefault("normalize.delimiter", ",")
	v.SetDefault("normalize.treat_null_markers", true)
	v.SetDefault("notify.workers", 4)
	v.SetDefault("notify.buffer", 256)
	v.SetDefault("notify.max_retries", 2)
	v.SetDefault("notify.dead_letters", 1000)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 200)
	v.SetDefault("retry.max_backoff_ms", 5000)
	v.SetDefault("monitoring.failure_rate_threshold", 0.10)
	v.SetDefault("monitoring.skip_rate_threshold", 0.05)
	v.SetDefault("monitoring.dead_letter_threshold", 10)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.realert_interval_secs", 3600)
	v.SetDefault("fetch.timeout_secs", 60)
	v.SetDefault("fetch.user_agent", "lead-ingest/1.0")
	v.SetDefault("fetch.rate_per_second", 5)

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

// Validate checks the fields a command needs. Modes: "serve", "load",
// "migrate", "count".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if c.Server.MaxUploadMB <= 0 {
			errs = append(errs, "server.max_upload_mb must be > 0")
		}
		if c.Notify.Workers < 1 || c.Notify.Workers > 64 {
			errs = append(errs, "notify.workers must be between 1 and 64")
		}
		if c.Monitoring.Enabled && c.Monitoring.LookbackWindowHours <= 0 {
			errs = append(errs, "monitoring.lookback_window_hours must be > 0")
		}
		errs = append(errs, c.validateWarehouse()...)
		errs = append(errs, c.validateBlob()...)
	case "load":
		errs = append(errs, c.validateWarehouse()...)
		errs = append(errs, c.validateBlob()...)
	case "migrate":
		errs = append(errs, c.validateWarehouse()...)
	case "count":
		if c.Athena.Database == "" {
			errs = append(errs, "athena.database is required")
		}
		if c.Athena.OutputLocation == "" {
			errs = append(errs, "athena.output_location is required")
		}
		if c.Athena.MaxPolls <= 0 {
			errs = append(errs, "athena.max_polls must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.New(fmt.Sprintf("config: %s", strings.Join(errs, "; ")))
	}
	return nil
}

func (c *Config) validateWarehouse() []string {
	var errs []string
	switch c.Warehouse.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("warehouse.driver %q must be postgres or sqlite", c.Warehouse.Driver))
	}
	if c.Warehouse.DatabaseURL == "" {
		errs = append(errs, "warehouse.database_url is required")
	}
	if c.Warehouse.SystemColumns < 0 {
		errs = append(errs, "warehouse.system_columns must be >= 0")
	}
	return errs
}

func (c *Config) validateBlob() []string {
	var errs []string
	switch c.Blob.Driver {
	case "memory":
	case "s3":
		if c.Blob.Bucket == "" {
			errs = append(errs, "blob.bucket is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("blob.driver %q must be s3 or memory", c.Blob.Driver))
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
