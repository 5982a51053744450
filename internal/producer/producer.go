// Package producer turns an index target into reload jobs, one per batch of
// primary keys, and hands them to a dispatcher.
package producer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/search-index-sync/internal/dispatch"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/internal/job"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/internal/planner"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/internal/store"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/internal/streamer"
)

// Options control one DispatchTarget call. Limit is a soft ceiling: once at
// least Limit identifiers were sent no further batch starts, but the batch
// that crossed it goes out whole. Zero means no limit.
type Options struct {
	BatchSize  int
	Limit      int
	Sync       bool
	Wait       bool
	PrimaryKey string
	RunID      string
}

// Producer dispatches reload jobs for index targets.
type Producer struct {
	pager      store.IDPager
	dispatcher dispatch.Dispatcher
	logger     *slog.Logger
}

// New creates a Producer.
func New(pager store.IDPager, d dispatch.Dispatcher) *Producer {
	return &Producer{
		pager:      pager,
		dispatcher: d,
		logger:     slog.Default().With("component", "producer"),
	}
}

// DispatchTarget streams the target class's identifiers and dispatches one
// reload job per batch. It returns how many identifiers were dispatched; on
// error the count covers the batches sent before it.
func (p *Producer) DispatchTarget(ctx context.Context, t planner.Target, opts Options) (int, error) {
	s, err := streamer.New(p.pager, t.Class, opts.BatchSize)
	if err != nil {
		return 0, err
	}

	sent, jobs := 0, 0
	for ids, err := range s.Batches(ctx) {
		if err != nil {
			return sent, err
		}
		j := job.NewReload(t.Class, ids)
		j.RunID = opts.RunID
		j.Locale = t.Locale
		j.IndexName = t.UID
		j.PrimaryKey = opts.PrimaryKey
		j.Sync = opts.Sync
		j.Wait = opts.Wait

		if err := p.dispatcher.Dispatch(ctx, j); err != nil {
			p.logger.Error("dispatch failed",
				"index", t.UID,
				"job_id", j.ID,
				"sent", sent,
				"error", err,
			)
			return sent, fmt.Errorf("dispatching batch %d for %s: %w", jobs+1, t.UID, err)
		}
		sent += len(ids)
		jobs++
		if opts.Limit > 0 && sent >= opts.Limit {
			p.logger.Info("limit reached", "index", t.UID, "limit", opts.Limit, "sent", sent)
			break
		}
	}

	p.logger.Info("target dispatched",
		"index", t.UID,
		"locale", t.Locale,
		"jobs", jobs,
		"sent", sent,
		"sync", opts.Sync,
	)
	return sent, nil
}
