// Package store defines storage interfaces for persisting listings, daily
// artifacts and cached per-symbol data, with filesystem, S3, SQLite and
// Redis implementations.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stockuniverse/internal/domain"
)

// ErrNotExist is returned by ObjectStore.Get for a missing key.
var ErrNotExist = errors.New("object does not exist")

// ObjectStore is a flat key/value blob store with slash-separated keys.
type ObjectStore interface {
	// Get returns the object at key, or ErrNotExist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put writes data at key, replacing any previous object.
	Put(ctx context.Context, key string, data []byte) error

	// Exists reports whether an object is stored at key.
	Exists(ctx context.Context, key string) (bool, error)
}

// KV is the persistent backing of the outstanding-shares cache. A missing
// key is reported as ok == false, not as an error.
type KV interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Put(ctx context.Context, key string, value []byte) error
}

// Datasets written once per exchange and day.
const (
	DatasetQuotes       = "quotes"
	DatasetFundamentals = "fundamentals"
	DatasetPrices       = "prices"
	DatasetMarketCap    = "market-cap"
)

// ArtifactKey returns the key of a daily artifact.
// Layout: YYYY/MM/DD/<dataset>/<exchange>.parquet
func ArtifactKey(dataset string, exchange domain.Exchange, date time.Time) string {
	return fmt.Sprintf("%s/%s/%s.parquet", date.Format("2006/01/02"), dataset, exchange)
}

// ListingKey returns the key of a downloaded exchange listing file.
// Layout: incoming/YYYY-MM-DD-<listing>.txt
func ListingKey(date time.Time, listing string) string {
	return fmt.Sprintf("incoming/%s-%s.txt", date.Format("2006-01-02"), listing)
}
