package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultStorageBackend = "fs"
	DefaultDataDir        = "data"
	DefaultCacheBackend   = "object"
	DefaultRedisPrefix    = "stock-universe:"
	DefaultEODBaseURL     = "https://eodhistoricaldata.com/api"
	DefaultListingURL     = "https://www.nasdaqtrader.com/dynamic/SymDir"
	DefaultEODTimeout     = 60 * time.Second
	DefaultAlpacaFeed     = "sip"
	DefaultMaxChunkSize   = 100
	DefaultMaxConcurrency = 10
	DefaultJoinWorkers    = 64
	DefaultBatchAttempts  = 5
	DefaultBatchBaseDelay = 1 * time.Second
	DefaultBatchMaxDelay  = 10 * time.Second
	DefaultSharesAttempts = 2
	DefaultSharesWait     = 65 * time.Second
	DefaultMetricsJob     = "stock-universe"
	DefaultLogMaxSizeMB   = 100
	DefaultLogMaxBackups  = 7
	DefaultLogMaxAgeDays  = 30
)

func (c *Config) applyDefaults() {
	if c.Storage.Backend == "" {
		c.Storage.Backend = DefaultStorageBackend
	}
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = DefaultDataDir
	}

	if c.Cache.Backend == "" {
		c.Cache.Backend = DefaultCacheBackend
	}
	if c.Cache.RedisPrefix == "" {
		c.Cache.RedisPrefix = DefaultRedisPrefix
	}

	if c.EOD.BaseURL == "" {
		c.EOD.BaseURL = DefaultEODBaseURL
	}
	if c.EOD.ListingURL == "" {
		c.EOD.ListingURL = DefaultListingURL
	}
	if c.EOD.Timeout == 0 {
		c.EOD.Timeout = DefaultEODTimeout
	}

	if c.Alpaca.Feed == "" {
		c.Alpaca.Feed = DefaultAlpacaFeed
	}

	if c.Gather.MaxChunkSize == 0 {
		c.Gather.MaxChunkSize = DefaultMaxChunkSize
	}
	if c.Gather.MaxConcurrency == 0 {
		c.Gather.MaxConcurrency = DefaultMaxConcurrency
	}
	if c.Gather.JoinWorkers == 0 {
		c.Gather.JoinWorkers = DefaultJoinWorkers
	}
	applyRetryDefaults(&c.Gather.BatchRetry, DefaultBatchAttempts, DefaultBatchBaseDelay, DefaultBatchMaxDelay)
	applyRetryDefaults(&c.Gather.SharesRetry, DefaultSharesAttempts, DefaultSharesWait, DefaultSharesWait)

	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = DefaultLogMaxSizeMB
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = DefaultLogMaxBackups
	}
	if c.Logging.MaxAgeDays == 0 {
		c.Logging.MaxAgeDays = DefaultLogMaxAgeDays
	}

	if c.Metrics.Job == "" {
		c.Metrics.Job = DefaultMetricsJob
	}
}

func applyRetryDefaults(r *RetryConfig, attempts int, base, maxDelay time.Duration) {
	if r.MaxAttempts == 0 {
		r.MaxAttempts = attempts
	}
	if r.BaseDelay == 0 {
		r.BaseDelay = base
	}
	if r.MaxDelay == 0 {
		r.MaxDelay = maxDelay
	}
}
