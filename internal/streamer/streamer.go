// Package streamer yields the identifiers of a record class in fixed-size
// batches, holding at most one page in memory.
package streamer

import (
	"context"
	"fmt"
	"iter"
	"sync/atomic"

	"github.com/Adithya-Monish-Kumar-K/search-index-sync/internal/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/search-index-sync/pkg/errors"
)

// Streamer pages through one class. It is single-use: iterating it a second
// time yields ErrStreamConsumed instead of rescanning from offset zero.
type Streamer struct {
	pager     store.IDPager
	class     string
	batchSize int
	used      atomic.Bool
}

// New creates a Streamer over class with the given batch size.
func New(pager store.IDPager, class string, batchSize int) (*Streamer, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d: %w", batchSize, apperrors.ErrInvalidInput)
	}
	return &Streamer{pager: pager, class: class, batchSize: batchSize}, nil
}

// Batches returns the lazy batch sequence. Every batch except possibly the
// last has exactly the configured size; a short (or empty) page ends the
// sequence. A fetch error is yielded once and ends the sequence.
func (s *Streamer) Batches(ctx context.Context) iter.Seq2[[]string, error] {
	return func(yield func([]string, error) bool) {
		if !s.used.CompareAndSwap(false, true) {
			yield(nil, apperrors.ErrStreamConsumed)
			return
		}
		offset := 0
		for {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			ids, err := s.pager.PageIDs(ctx, s.class, offset, s.batchSize)
			if err != nil {
				yield(nil, fmt.Errorf("streaming %s at offset %d: %w", s.class, offset, err))
				return
			}
			if len(ids) == 0 {
				return
			}
			if !yield(ids, nil) {
				return
			}
			if len(ids) < s.batchSize {
				return
			}
			offset += len(ids)
		}
	}
}
