// Package worker consumes indexing jobs from Kafka and applies them through
// the batch handler, retrying transient failures and dead-lettering jobs that
// keep failing.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/search-index-sync/internal/job"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/search-index-sync/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/pkg/tracing"
)

const (
	outcomeOK         = "ok"
	outcomeDuplicate  = "duplicate"
	outcomeInvalid    = "invalid"
	outcomeDeadLetter = "dead_letter"
	outcomeRetry      = "retry"
)

// Applier applies one job.
type Applier interface {
	Apply(ctx context.Context, j *job.Job) error
}

// Tracker marks completed jobs and reports them to the run that dispatched
// them.
type Tracker interface {
	JobDone(ctx context.Context, jobID string) (bool, error)
	MarkJobDone(ctx context.Context, jobID string) (bool, error)
	FinishJob(ctx context.Context, runID, jobID string, failed bool) error
}

// Publisher writes dead letters.
type Publisher interface {
	Publish(ctx context.Context, msg kafka.Message) error
}

// Config bounds how hard a job is retried.
type Config struct {
	MaxAttempts  int
	JobTimeout   time.Duration
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DeadLetter is the payload written to the dead-letter topic.
type DeadLetter struct {
	Job      json.RawMessage `json:"job"`
	Error    string          `json:"error"`
	Attempts int             `json:"attempts"`
	FailedAt time.Time       `json:"failedAt"`
}

// Worker handles job messages.
type Worker struct {
	applier    Applier
	tracker    Tracker
	deadLetter Publisher
	cfg        Config
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// New creates a Worker. tracker, deadLetter and m may be nil.
func New(a Applier, tracker Tracker, deadLetter Publisher, cfg Config, m *metrics.Metrics) *Worker {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 500 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	return &Worker{
		applier:    a,
		tracker:    tracker,
		deadLetter: deadLetter,
		cfg:        cfg,
		metrics:    m,
		logger:     slog.Default().With("component", "index-worker"),
	}
}

// HandleMessage is the kafka.MessageHandler for the jobs topic. A returned
// error leaves the message uncommitted and the consumer hands it back again;
// that only happens when the worker is shutting down or a dead letter could
// not be written.
func (w *Worker) HandleMessage(ctx context.Context, rec kafka.Record) error {
	start := time.Now()
	j, err := kafka.DecodeJSON[job.Job](rec.Value)
	if err != nil {
		w.logger.Error("failed to decode job",
			"error", err,
			"key", string(rec.Key),
			"offset", rec.Offset,
		)
		return w.reject(ctx, rec.Value, rec.Key, nil, err, 0)
	}
	log := w.logger.With("job_id", j.ID, "index", j.IndexName, "run_id", j.RunID)

	if w.tracker != nil {
		done, err := w.tracker.JobDone(ctx, j.ID)
		if err != nil {
			log.Warn("failed to check job marker", "error", err)
		} else if done {
			log.Info("skipping already applied job")
			w.count(outcomeDuplicate)
			return nil
		}
	}

	if err := job.Validate(&j); err != nil {
		log.Error("rejecting invalid job", "error", err)
		return w.reject(ctx, rec.Value, rec.Key, &j, err, 0)
	}

	log.Debug("processing job", "size", j.Size(), "reload", j.Reload)
	traceID := j.RunID
	if traceID == "" {
		traceID = j.ID
	}
	ctx, span := tracing.Start(ctx, "apply_job", traceID)
	span.Set("job_id", j.ID)
	span.Set("index", j.IndexName)
	attempts, err := resilience.Retry(ctx, "apply-job", resilience.RetryConfig{
		MaxAttempts:    w.cfg.MaxAttempts,
		InitialDelay:   w.cfg.InitialDelay,
		MaxDelay:       w.cfg.MaxDelay,
		JitterFraction: 0.2,
		ShouldRetry:    apperrors.Retryable,
	}, func(attempt int) error {
		j.Attempt = attempt
		if attempt > 1 {
			w.count(outcomeRetry)
		}
		actx, aspan := tracing.Start(ctx, "attempt", "")
		aspan.Set("attempt", attempt)
		err := resilience.WithTimeout(actx, w.cfg.JobTimeout, "apply-job", func(ctx context.Context) error {
			return w.applier.Apply(ctx, &j)
		})
		aspan.End(err)
		return err
	})
	span.End(err)
	span.Log(ctx, w.logger)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("job %s interrupted: %w", j.ID, ctx.Err())
		}
		log.Error("job failed", "attempts", attempts, "error", err)
		return w.reject(ctx, rec.Value, rec.Key, &j, err, attempts)
	}

	if w.tracker != nil {
		if _, err := w.tracker.MarkJobDone(ctx, j.ID); err != nil {
			log.Warn("failed to mark job done", "error", err)
		}
		if err := w.tracker.FinishJob(ctx, j.RunID, j.ID, false); err != nil {
			log.Warn("failed to report job to run", "error", err)
		}
	}
	w.count(outcomeOK)
	if w.metrics != nil {
		w.metrics.JobDuration.Observe(time.Since(start).Seconds())
	}
	log.Info("job done", "attempts", attempts, "duration_ms", time.Since(start).Milliseconds())
	return nil
}

// reject dead-letters a message. j is nil when the message did not decode.
func (w *Worker) reject(ctx context.Context, raw, key []byte, j *job.Job, cause error, attempts int) error {
	outcome := outcomeDeadLetter
	if attempts == 0 {
		outcome = outcomeInvalid
	}
	if w.deadLetter != nil {
		msg := kafka.Message{
			Key: string(key),
			Value: DeadLetter{
				Job:      dlqPayload(raw),
				Error:    cause.Error(),
				Attempts: attempts,
				FailedAt: time.Now().UTC(),
			},
			Headers: map[string]string{"outcome": outcome},
		}
		if err := w.deadLetter.Publish(ctx, msg); err != nil {
			return fmt.Errorf("dead-lettering message: %w", errors.Join(err, cause))
		}
	}
	if j != nil && w.tracker != nil {
		if err := w.tracker.FinishJob(ctx, j.RunID, j.ID, true); err != nil {
			w.logger.Warn("failed to report job to run", "job_id", j.ID, "error", err)
		}
	}
	w.count(outcome)
	return nil
}

// dlqPayload keeps raw as JSON when it is valid and quotes it otherwise.
func dlqPayload(raw []byte) json.RawMessage {
	if json.Valid(raw) {
		return raw
	}
	quoted, _ := json.Marshal(string(raw))
	return quoted
}

func (w *Worker) count(outcome string) {
	if w.metrics != nil {
		w.metrics.JobsProcessedTotal.WithLabelValues(outcome).Inc()
	}
}

// Runner is a blocking message loop.
type Runner interface {
	Start(ctx context.Context) error
	Close() error
}

// Pool runs several consumers of the same group so the jobs topic's
// partitions are spread across them.
type Pool struct {
	runners []Runner
	logger  *slog.Logger
}

// NewPool creates a Pool over runners.
func NewPool(runners ...Runner) *Pool {
	return &Pool{
		runners: runners,
		logger:  slog.Default().With("component", "worker-pool"),
	}
}

// NewKafkaPool creates concurrency consumers of the jobs topic feeding
// handler.
func NewKafkaPool(cfg config.KafkaConfig, concurrency int, handler kafka.MessageHandler) *Pool {
	runners := make([]Runner, 0, concurrency)
	for range concurrency {
		runners = append(runners, kafka.NewConsumer(cfg, cfg.Topics.Jobs, handler))
	}
	return NewPool(runners...)
}

// Run blocks until ctx is cancelled or a runner fails, then stops the rest.
func (p *Pool) Run(ctx context.Context) error {
	p.logger.Info("worker pool starting", "consumers", len(p.runners))
	g, ctx := errgroup.WithContext(ctx)
	for _, r := range p.runners {
		g.Go(func() error { return r.Start(ctx) })
	}
	err := g.Wait()
	p.logger.Info("worker pool stopped", "error", err)
	return err
}

// Close closes every runner.
func (p *Pool) Close() error {
	var errs []error
	for _, r := range p.runners {
		errs = append(errs, r.Close())
	}
	return errors.Join(errs...)
}
