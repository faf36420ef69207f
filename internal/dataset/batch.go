package dataset

import "fmt"

// Batcher produces fixed-size chunks of a feature set. Small inputs are
// materialized once and replayed on every pass; inputs above the large-size
// threshold are produced lazily so that only one chunk is alive at a time.
type Batcher struct {
	x         Features
	batchSize int
	chunked   bool
	cache     []Features
}

// NewBatcher creates a batcher. largeThreshold <= 0 disables lazy production.
func NewBatcher(x Features, batchSize, largeThreshold int) (*Batcher, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	b := &Batcher{
		x:         x,
		batchSize: batchSize,
		chunked:   largeThreshold > 0 && x.Len() > largeThreshold,
	}
	if !b.chunked {
		for lo := 0; lo < x.Len(); lo += batchSize {
			hi := min(lo+batchSize, x.Len())
			b.cache = append(b.cache, x.Slice(lo, hi).Clone())
		}
	}
	return b, nil
}

// Chunked reports whether batches are produced lazily.
func (b *Batcher) Chunked() bool {
	return b.chunked
}

// NumBatches returns how many batches one pass yields.
func (b *Batcher) NumBatches() int {
	return (b.x.Len() + b.batchSize - 1) / b.batchSize
}

// Each calls fn with the offset of every batch and the batch itself, stopping
// at the first error.
func (b *Batcher) Each(fn func(offset int, batch Features) error) error {
	if !b.chunked {
		for i, batch := range b.cache {
			if err := fn(i*b.batchSize, batch); err != nil {
				return err
			}
		}
		return nil
	}
	for lo := 0; lo < b.x.Len(); lo += b.batchSize {
		hi := min(lo+b.batchSize, b.x.Len())
		if err := fn(lo, b.x.Slice(lo, hi)); err != nil {
			return err
		}
	}
	return nil
}
