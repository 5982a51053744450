// Package syncer runs a full synchronization of logical indexes: it plans the
// physical targets, prepares each index on the engine and dispatches reload
// jobs for every record, optionally waiting until the engine applied them.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/search-index-sync/internal/engine"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/internal/lifecycle"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/internal/planner"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/internal/producer"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/internal/registry"
	apperrors "github.com/Adithya-Monish-Kumar-K/search-index-sync/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/pkg/tracing"
)

// Planner expands logical index names into targets.
type Planner interface {
	TargetsForBases(ctx context.Context, bases []string, perLocale bool, onlyLocales []string) []planner.Target
}

// Indexes prepares indexes and waits for engine tasks.
type Indexes interface {
	Reset(ctx context.Context, uid string) error
	GetOrCreateIndex(ctx context.Context, uid, primaryKey string, autoCreate bool) (*engine.Index, error)
	ApplySettings(ctx context.Context, uid string, desired map[string]any) (*engine.TaskInfo, error)
	WaitForTasks(ctx context.Context, uids []int64, opts lifecycle.WaitOptions) ([]*engine.Task, error)
}

// TargetDispatcher dispatches the reload jobs of one target.
type TargetDispatcher interface {
	DispatchTarget(ctx context.Context, t planner.Target, opts producer.Options) (int, error)
}

// RunTracker reports what asynchronous workers did for a run.
type RunTracker interface {
	Tasks(ctx context.Context, runID string) ([]int64, error)
	Progress(ctx context.Context, runID string) (done, failed int, err error)
	Clear(ctx context.Context, runID string) error
}

// Options select what one Run does. Empty Bases means every registered
// index; empty Locales means every planned locale.
type Options struct {
	Bases     []string
	Locales   []string
	DryRun    bool
	PerLocale bool
	Wait      bool
	Purge     bool
	Sync      bool
	BatchSize int
	Limit     int
}

// Config holds the Syncer's static settings.
type Config struct {
	BatchSize  int
	AutoCreate bool
	Wait       lifecycle.WaitOptions
}

// Stage names the step a target failed in.
type Stage string

const (
	StagePurge    Stage = "purge"
	StageCreate   Stage = "create"
	StageSettings Stage = "settings"
	StageDispatch Stage = "dispatch"
)

// TargetReport is the outcome for one target.
type TargetReport struct {
	Target       planner.Target `json:"target"`
	Purged       bool           `json:"purged,omitempty"`
	SettingsTask *int64         `json:"settingsTask,omitempty"`
	Sent         int            `json:"sent"`
	Jobs         int            `json:"jobs"`
	FailedStage  Stage          `json:"failedStage,omitempty"`
	Error        string         `json:"error,omitempty"`
}

// Failed reports whether the target hit an error.
func (r TargetReport) Failed() bool { return r.Error != "" }

// Report is the outcome of one Run.
type Report struct {
	RunID        string         `json:"runId"`
	DryRun       bool           `json:"dryRun"`
	UnknownBases []string       `json:"unknownBases,omitempty"`
	Targets      []TargetReport `json:"targets"`
	WaitError    string         `json:"waitError,omitempty"`
}

// Failed reports whether a requested index is unknown or any target or the
// final wait failed.
func (r *Report) Failed() bool {
	if r.WaitError != "" || len(r.UnknownBases) > 0 {
		return true
	}
	for _, t := range r.Targets {
		if t.Failed() {
			return true
		}
	}
	return false
}

// Sent sums the identifiers dispatched across targets.
func (r *Report) Sent() int {
	n := 0
	for _, t := range r.Targets {
		n += t.Sent
	}
	return n
}

// Syncer runs synchronizations.
type Syncer struct {
	reg        *registry.Registry
	planner    Planner
	indexes    Indexes
	dispatcher TargetDispatcher
	tracker    RunTracker
	cfg        Config
	metrics    *metrics.Metrics
	logger     *slog.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

// New creates a Syncer. tracker is only needed for asynchronous runs that
// wait; m may be nil.
func New(reg *registry.Registry, p Planner, indexes Indexes, d TargetDispatcher, tracker RunTracker, cfg Config, m *metrics.Metrics) *Syncer {
	if cfg.Wait.PollInterval <= 0 {
		cfg.Wait.PollInterval = 250 * time.Millisecond
	}
	if cfg.Wait.MaxInterval <= 0 {
		cfg.Wait.MaxInterval = 5 * time.Second
	}
	if cfg.Wait.MaxAttempts <= 0 {
		cfg.Wait.MaxAttempts = 600
	}
	return &Syncer{
		reg:        reg,
		planner:    p,
		indexes:    indexes,
		dispatcher: d,
		tracker:    tracker,
		cfg:        cfg,
		metrics:    m,
		logger:     slog.Default().With("component", "syncer"),
		sleep:      sleepCtx,
	}
}

// Run synchronizes the selected indexes. Errors of individual targets are
// recorded in the report and the run continues with the next target; the
// returned error covers invalid options only.
func (s *Syncer) Run(ctx context.Context, opts Options) (*Report, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = s.cfg.BatchSize
	}
	if opts.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d: %w", opts.BatchSize, apperrors.ErrInvalidInput)
	}
	if opts.Limit < 0 {
		return nil, fmt.Errorf("limit must not be negative, got %d: %w", opts.Limit, apperrors.ErrInvalidInput)
	}
	bases := opts.Bases
	if len(bases) == 0 {
		bases = s.reg.Names()
	}

	report := &Report{RunID: uuid.NewString(), DryRun: opts.DryRun}
	log := s.logger.With("run_id", report.RunID)
	ctx, span := tracing.Start(ctx, "sync_run", report.RunID)
	defer span.Log(ctx, s.logger)

	for _, b := range bases {
		if _, ok := s.reg.Lookup(b); !ok {
			report.UnknownBases = append(report.UnknownBases, b)
		}
	}
	if len(report.UnknownBases) > 0 {
		log.Error("unknown indexes requested", "bases", report.UnknownBases, "known", s.reg.Names())
	}

	targets := s.planner.TargetsForBases(ctx, bases, opts.PerLocale, opts.Locales)
	for _, t := range targets {
		if s.metrics != nil {
			s.metrics.TargetsPlannedTotal.WithLabelValues(string(t.Kind)).Inc()
		}
	}
	log.Info("sync planned", "bases", len(bases), "targets", len(targets), "dry_run", opts.DryRun)
	if opts.DryRun {
		for _, t := range targets {
			report.Targets = append(report.Targets, TargetReport{Target: t})
		}
		span.End(nil)
		return report, nil
	}

	var settingsTasks []int64
	jobs := 0
	for _, t := range targets {
		tr := s.syncTarget(ctx, report.RunID, t, opts)
		if tr.SettingsTask != nil {
			settingsTasks = append(settingsTasks, *tr.SettingsTask)
		}
		jobs += tr.Jobs
		report.Targets = append(report.Targets, tr)
	}

	var waitErr error
	if opts.Wait {
		wctx, wspan := tracing.Start(ctx, "wait", "")
		waitErr = s.await(wctx, report.RunID, jobs, settingsTasks, opts.Sync)
		wspan.End(waitErr)
		if waitErr != nil {
			log.Error("wait failed", "error", waitErr)
			report.WaitError = waitErr.Error()
		}
	}
	span.Set("sent", report.Sent())
	span.Set("jobs", jobs)
	span.End(waitErr)

	log.Info("sync finished",
		"targets", len(report.Targets),
		"sent", report.Sent(),
		"jobs", jobs,
		"failed", report.Failed(),
	)
	return report, nil
}

func (s *Syncer) syncTarget(ctx context.Context, runID string, t planner.Target, opts Options) TargetReport {
	tr := TargetReport{Target: t}
	log := s.logger.With("run_id", runID, "index", t.UID)
	ctx, span := tracing.Start(ctx, "target", runID)
	span.Set("index", t.UID)
	defer func() {
		span.Set("sent", tr.Sent)
		span.End(nil)
	}()
	fail := func(stage Stage, err error) TargetReport {
		log.Error("target failed", "stage", stage, "error", err)
		span.Set("stage", string(stage))
		span.End(err)
		tr.FailedStage = stage
		tr.Error = err.Error()
		return tr
	}

	entry, ok := s.reg.Lookup(t.Base)
	if !ok {
		return fail(StageCreate, fmt.Errorf("base %q: %w", t.Base, apperrors.ErrUnknownIndex))
	}

	if opts.Purge {
		if err := s.indexes.Reset(ctx, t.UID); err != nil {
			return fail(StagePurge, err)
		}
		tr.Purged = true
	}
	if _, err := s.indexes.GetOrCreateIndex(ctx, t.UID, entry.PrimaryKey, s.cfg.AutoCreate || opts.Purge); err != nil {
		return fail(StageCreate, err)
	}
	info, err := s.indexes.ApplySettings(ctx, t.UID, entry.Settings())
	if err != nil {
		return fail(StageSettings, err)
	}
	if info != nil {
		uid := info.UID
		tr.SettingsTask = &uid
	}

	sent, err := s.dispatcher.DispatchTarget(ctx, t, producer.Options{
		BatchSize:  opts.BatchSize,
		Limit:      opts.Limit,
		Sync:       opts.Sync,
		Wait:       opts.Wait,
		PrimaryKey: entry.PrimaryKey,
		RunID:      runID,
	})
	tr.Sent = sent
	// Every batch but the last is full.
	tr.Jobs = (sent + opts.BatchSize - 1) / opts.BatchSize
	if err != nil {
		return fail(StageDispatch, err)
	}
	return tr
}

// await blocks until the run's work is applied. Synchronous jobs already
// waited for their own tasks, so only settings tasks remain; asynchronous
// runs first wait for every dispatched job to be finished by a worker.
func (s *Syncer) await(ctx context.Context, runID string, jobs int, settingsTasks []int64, sync bool) error {
	if _, err := s.indexes.WaitForTasks(ctx, settingsTasks, lifecycle.WaitOptions{StopOnError: true}); err != nil {
		return fmt.Errorf("waiting for settings: %w", err)
	}
	if sync || jobs == 0 {
		return nil
	}
	if s.tracker == nil {
		return fmt.Errorf("waiting for run %s: no task tracker configured: %w", runID, apperrors.ErrInvalidInput)
	}

	schedule := resilience.Backoff{Initial: s.cfg.Wait.PollInterval, Max: s.cfg.Wait.MaxInterval, Multiplier: 1.5}
	for attempt := 1; ; attempt++ {
		done, failed, err := s.tracker.Progress(ctx, runID)
		if err != nil {
			return err
		}
		if done+failed >= jobs {
			if failed > 0 {
				return fmt.Errorf("%d of %d jobs of run %s were dead-lettered: %w", failed, jobs, runID, apperrors.ErrJobFailed)
			}
			break
		}
		if attempt >= s.cfg.Wait.MaxAttempts {
			return fmt.Errorf("run %s: %d of %d jobs finished after %d polls: %w", runID, done+failed, jobs, attempt, apperrors.ErrTaskTimeout)
		}
		if err := s.sleep(ctx, schedule.Next(attempt)); err != nil {
			return err
		}
	}

	uids, err := s.tracker.Tasks(ctx, runID)
	if err != nil {
		return err
	}
	if _, err := s.indexes.WaitForTasks(ctx, uids, lifecycle.WaitOptions{StopOnError: true}); err != nil {
		return err
	}
	if err := s.tracker.Clear(ctx, runID); err != nil {
		s.logger.Warn("failed to clear run", "run_id", runID, "error", err)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
