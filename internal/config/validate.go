package config

import (
	"fmt"

	"stockuniverse/internal/gather"
)

// Validate checks that all required fields are set and values are valid.
// Every failure wraps gather.ErrInvalidInput.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "fs":
		if c.Storage.DataDir == "" {
			return invalid("storage.data_dir is required for the fs backend")
		}
	case "s3":
		if c.Storage.Bucket == "" {
			return invalid("storage.bucket is required for the s3 backend")
		}
	default:
		return invalid("storage.backend must be fs or s3, got %q", c.Storage.Backend)
	}

	switch c.Cache.Backend {
	case "object":
	case "sqlite":
		if c.Cache.SQLitePath == "" {
			return invalid("cache.sqlite_path is required for the sqlite backend")
		}
	case "redis":
		if c.Cache.RedisAddr == "" {
			return invalid("cache.redis_addr is required for the redis backend")
		}
	default:
		return invalid("cache.backend must be object, sqlite or redis, got %q", c.Cache.Backend)
	}

	if c.Gather.MaxChunkSize < 1 {
		return invalid("gather.max_chunk_size must be >= 1, got %d", c.Gather.MaxChunkSize)
	}
	if c.Gather.MaxConcurrency < 1 {
		return invalid("gather.max_concurrency must be >= 1, got %d", c.Gather.MaxConcurrency)
	}
	if c.Gather.RateLimitPerMin < 0 {
		return invalid("gather.rate_limit_per_min must be >= 0, got %d", c.Gather.RateLimitPerMin)
	}
	if c.Gather.JoinWorkers < 1 {
		return invalid("gather.join_workers must be >= 1, got %d", c.Gather.JoinWorkers)
	}
	if err := c.Gather.BatchRetry.validate("gather.batch_retry"); err != nil {
		return err
	}
	if err := c.Gather.SharesRetry.validate("gather.shares_retry"); err != nil {
		return err
	}
	return nil
}

func (r *RetryConfig) validate(prefix string) error {
	if r.MaxAttempts < 1 {
		return invalid("%s.max_attempts must be >= 1, got %d", prefix, r.MaxAttempts)
	}
	if r.BaseDelay < 0 || r.MaxDelay < 0 {
		return invalid("%s delays must not be negative", prefix)
	}
	if r.MaxDelay < r.BaseDelay {
		return invalid("%s.max_delay (%s) cannot be below base_delay (%s)", prefix, r.MaxDelay, r.BaseDelay)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{gather.ErrInvalidInput}, args...)...)
}
