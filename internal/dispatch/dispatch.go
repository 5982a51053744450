// Package dispatch hands indexing jobs to their executor: the calling
// goroutine for synchronous jobs, the Kafka jobs topic otherwise.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/Adithya-Monish-Kumar-K/search-index-sync/internal/job"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/pkg/metrics"
)

const (
	transportSync  = "sync"
	transportAsync = "async"
)

// Dispatcher sends one job to whatever executes it.
type Dispatcher interface {
	Dispatch(ctx context.Context, j *job.Job) error
}

// Func adapts a plain function to Dispatcher.
type Func func(ctx context.Context, j *job.Job) error

// Dispatch calls f.
func (f Func) Dispatch(ctx context.Context, j *job.Job) error {
	return f(ctx, j)
}

// Publisher is the part of the Kafka producer the async dispatcher uses.
type Publisher interface {
	Publish(ctx context.Context, msg kafka.Message) error
}

// Kafka publishes jobs to the jobs topic keyed by target index so jobs for
// one index are consumed in order.
type Kafka struct {
	pub    Publisher
	logger *slog.Logger
}

// NewKafka creates an async dispatcher.
func NewKafka(pub Publisher) *Kafka {
	return &Kafka{
		pub:    pub,
		logger: slog.Default().With("component", "kafka-dispatcher"),
	}
}

// Dispatch publishes j.
func (k *Kafka) Dispatch(ctx context.Context, j *job.Job) error {
	msg := kafka.Message{
		Key:   j.Key(),
		Value: j,
		Headers: map[string]string{
			"job-id":  j.ID,
			"attempt": strconv.Itoa(j.Attempt),
		},
	}
	if j.RunID != "" {
		msg.Headers["run-id"] = j.RunID
	}
	if err := k.pub.Publish(ctx, msg); err != nil {
		return fmt.Errorf("dispatching job %s: %w", j.ID, err)
	}
	k.logger.Debug("job published", "job_id", j.ID, "index", j.IndexName, "size", j.Size())
	return nil
}

// Bus routes each job by its Sync flag. A nil Async makes every job run
// inline.
type Bus struct {
	Inline  Dispatcher
	Async   Dispatcher
	Metrics *metrics.Metrics
}

// Dispatch runs j inline when it asks for synchronous execution or no async
// transport is configured, and publishes it otherwise.
func (b *Bus) Dispatch(ctx context.Context, j *job.Job) error {
	d, transport := b.Async, transportAsync
	if j.Sync || b.Async == nil {
		d, transport = b.Inline, transportSync
	}
	if d == nil {
		return fmt.Errorf("no %s dispatcher configured for job %s", transport, j.ID)
	}
	if err := d.Dispatch(ctx, j); err != nil {
		return err
	}
	if b.Metrics != nil {
		b.Metrics.JobsDispatchedTotal.WithLabelValues(transport).Inc()
	}
	return nil
}
