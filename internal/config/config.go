package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"stockuniverse/internal/gather"
	"stockuniverse/internal/util"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the stock-universe pipeline.
type Config struct {
	Storage Storage      `yaml:"storage"`
	Cache   Cache        `yaml:"cache"`
	EOD     EOD          `yaml:"eod"`
	Alpaca  Alpaca       `yaml:"alpaca"`
	Logging Logging      `yaml:"logging"`
	Gather  GatherConfig `yaml:"gather"`
	Metrics Metrics      `yaml:"metrics"`
}

// Storage selects the object store holding listings and daily artifacts.
type Storage struct {
	Backend string `yaml:"backend"` // "fs" or "s3"
	DataDir string `yaml:"data_dir"`
	Bucket  string `yaml:"bucket"`
	Region  string `yaml:"region"`
}

// Cache selects the persistent backend of the outstanding-shares cache.
type Cache struct {
	Backend       string `yaml:"backend"` // "object", "sqlite" or "redis"
	SQLitePath    string `yaml:"sqlite_path"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	RedisPrefix   string `yaml:"redis_prefix"`
}

// EOD holds credentials and endpoints for the EOD Historical Data API.
type EOD struct {
	APIToken   string        `yaml:"api_token"`
	BaseURL    string        `yaml:"base_url"`
	ListingURL string        `yaml:"listing_url"`
	Timeout    time.Duration `yaml:"timeout"`
}

// Alpaca holds credentials and endpoints for the Alpaca APIs.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
	DataURL   string `yaml:"data_url"`
	Feed      string `yaml:"feed"`
}

// Logging configures the application logger.
type Logging struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Options converts the logging section into util.LogOptions.
func (l Logging) Options() util.LogOptions {
	return util.LogOptions{
		Level:      l.Level,
		Format:     l.Format,
		File:       l.File,
		MaxSizeMB:  l.MaxSizeMB,
		MaxBackups: l.MaxBackups,
		MaxAgeDays: l.MaxAgeDays,
		Compress:   l.Compress,
	}
}

// GatherConfig controls batching, concurrency and retries for all fetches.
type GatherConfig struct {
	MaxChunkSize    int         `yaml:"max_chunk_size"`
	MaxConcurrency  int         `yaml:"max_concurrency"`
	RateLimitPerMin int         `yaml:"rate_limit_per_min"`
	JoinWorkers     int         `yaml:"join_workers"`
	BatchRetry      RetryConfig `yaml:"batch_retry"`
	SharesRetry     RetryConfig `yaml:"shares_retry"`
}

// RetryConfig describes one retry policy. BaseDelay is the fixed wait for
// fixed policies and the initial delay for exponential ones.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// Exponential builds a jittered exponential policy retrying transient errors.
func (r RetryConfig) Exponential() util.RetryPolicy {
	return util.ExponentialPolicy(r.MaxAttempts, r.BaseDelay, r.MaxDelay, gather.IsTransient)
}

// Fixed builds a fixed-interval policy retrying transient errors.
func (r RetryConfig) Fixed() util.RetryPolicy {
	return util.FixedPolicy(r.MaxAttempts, r.BaseDelay, gather.IsTransient)
}

// Metrics configures the optional Prometheus pushgateway.
type Metrics struct {
	PushgatewayURL string `yaml:"pushgateway_url"`
	Job            string `yaml:"job"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, applies defaults and environment variable overrides, and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("S3_BUCKET"); v != "" {
		cfg.Storage.Bucket = v
		cfg.Storage.Backend = "s3"
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.Storage.Region = v
	}

	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Cache.SQLitePath = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Cache.RedisAddr = v
	}

	if v := os.Getenv("EOD_DATA_API_KEY"); v != "" {
		cfg.EOD.APIToken = v
	}

	// Standard Alpaca env vars (canonical names used by the SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}

	if err := envInt("CHUNK_SIZE", &cfg.Gather.MaxChunkSize); err != nil {
		return err
	}
	if err := envInt("MAX_CONCURRENT_REQUESTS", &cfg.Gather.MaxConcurrency); err != nil {
		return err
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("PUSHGATEWAY_URL"); v != "" {
		cfg.Metrics.PushgatewayURL = v
	}
	return nil
}

// envInt overrides *dst with the integer environment variable name, if set.
func envInt(name string, dst *int) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%w: %s=%q is not an integer", gather.ErrInvalidInput, name, v)
	}
	*dst = n
	return nil
}
