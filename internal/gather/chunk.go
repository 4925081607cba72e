package gather

import (
	"fmt"

	"stockuniverse/internal/domain"
)

// Chunk splits symbols into ceil(len/maxSize) batches whose sizes differ by
// at most one, preserving input order. The first len%n batches carry the
// extra symbol. Batches share the backing array of symbols but are capped so
// appending to one cannot overwrite the next.
func Chunk(symbols []string, maxSize int) ([]domain.Batch, error) {
	if maxSize <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidInput, maxSize)
	}
	if len(symbols) == 0 {
		return nil, nil
	}

	n := (len(symbols) + maxSize - 1) / maxSize
	base, extra := len(symbols)/n, len(symbols)%n

	batches := make([]domain.Batch, 0, n)
	start := 0
	for i := 0; i < n; i++ {
		size := base
		if i < extra {
			size++
		}
		end := start + size
		batches = append(batches, domain.Batch(symbols[start:end:end]))
		start = end
	}
	return batches, nil
}
