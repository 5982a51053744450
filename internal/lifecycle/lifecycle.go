// Package lifecycle manages index existence and settings on the search engine
// and waits for the engine's asynchronous tasks to finish.
package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/search-index-sync/internal/engine"
	apperrors "github.com/Adithya-Monish-Kumar-K/search-index-sync/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/pkg/resilience"
)

// Engine is the subset of the engine client the manager needs.
type Engine interface {
	GetIndex(ctx context.Context, uid string) (*engine.Index, error)
	CreateIndex(ctx context.Context, uid, primaryKey string) (engine.TaskInfo, error)
	DeleteIndex(ctx context.Context, uid string) (engine.TaskInfo, error)
	GetSettings(ctx context.Context, uid string) (map[string]any, error)
	UpdateSettings(ctx context.Context, uid string, settings map[string]any) (engine.TaskInfo, error)
	GetTask(ctx context.Context, uid int64) (*engine.Task, error)
}

// WaitOptions bounds WaitForTask. PollInterval grows geometrically up to
// MaxInterval; MaxAttempts caps the number of polls.
type WaitOptions struct {
	PollInterval time.Duration
	MaxInterval  time.Duration
	MaxAttempts  int
	StopOnError  bool
}

// Manager performs index and task lifecycle operations.
type Manager struct {
	engine   Engine
	defaults WaitOptions
	group    singleflight.Group
	metrics  *metrics.Metrics
	logger   *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// New creates a Manager. defaults fill any zero field of the options passed
// to WaitForTask. m may be nil.
func New(e Engine, defaults WaitOptions, m *metrics.Metrics) *Manager {
	if defaults.PollInterval <= 0 {
		defaults.PollInterval = 50 * time.Millisecond
	}
	if defaults.MaxInterval <= 0 {
		defaults.MaxInterval = 2 * time.Second
	}
	if defaults.MaxAttempts <= 0 {
		defaults.MaxAttempts = 600
	}
	return &Manager{
		engine:   e,
		defaults: defaults,
		metrics:  m,
		logger:   slog.Default().With("component", "lifecycle"),
		sleep:    sleepCtx,
	}
}

// GetOrCreateIndex returns the index uid, creating it with primaryKey when it
// does not exist and autoCreate is set. Concurrent calls with the same
// arguments share one lookup. The shared lookup is not cancelled with any
// single caller; each caller stops waiting when its own ctx is done.
func (m *Manager) GetOrCreateIndex(ctx context.Context, uid, primaryKey string, autoCreate bool) (*engine.Index, error) {
	key := fmt.Sprintf("%s\x00%s\x00%t", uid, primaryKey, autoCreate)
	shared := context.WithoutCancel(ctx)
	ch := m.group.DoChan(key, func() (any, error) {
		return m.getOrCreate(shared, uid, primaryKey, autoCreate)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*engine.Index), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Manager) getOrCreate(ctx context.Context, uid, primaryKey string, autoCreate bool) (*engine.Index, error) {
	idx, err := m.engine.GetIndex(ctx, uid)
	if err == nil {
		return idx, nil
	}
	if !apperrors.IsNotFound(err) || !autoCreate {
		return nil, err
	}

	m.logger.Info("creating index", "index", uid, "primary_key", primaryKey)
	info, err := m.engine.CreateIndex(ctx, uid, primaryKey)
	if err != nil {
		if apperrors.StatusCode(err) == http.StatusConflict {
			return m.engine.GetIndex(ctx, uid)
		}
		return nil, err
	}
	task, err := m.WaitForTask(ctx, info.UID, WaitOptions{})
	if err != nil {
		return nil, fmt.Errorf("waiting for creation of %s: %w", uid, err)
	}
	if task.Status == engine.StatusFailed {
		// Another process created the index between the lookup and the
		// creation request.
		if task.Error != nil && task.Error.Code == "index_already_exists" {
			m.logger.Info("index created concurrently", "index", uid)
			return m.engine.GetIndex(ctx, uid)
		}
		return nil, fmt.Errorf("creating %s: %v: %w", uid, task.Error, apperrors.ErrTaskFailed)
	}
	return &engine.Index{UID: uid, PrimaryKey: primaryKey}, nil
}

// Reset deletes uid and waits for the deletion. A missing index is not an
// error.
func (m *Manager) Reset(ctx context.Context, uid string) error {
	info, err := m.engine.DeleteIndex(ctx, uid)
	if apperrors.IsNotFound(err) {
		m.logger.Debug("reset of missing index", "index", uid)
		return nil
	}
	if err != nil {
		return err
	}
	task, err := m.WaitForTask(ctx, info.UID, WaitOptions{})
	if err != nil {
		return fmt.Errorf("waiting for deletion of %s: %w", uid, err)
	}
	// A deletion that raced with another one fails with index_not_found.
	if task.Status == engine.StatusFailed && (task.Error == nil || task.Error.Code != "index_not_found") {
		return fmt.Errorf("deleting %s: %v: %w", uid, task.Error, apperrors.ErrTaskFailed)
	}
	m.logger.Info("index reset", "index", uid)
	return nil
}

// ApplySettings pushes the keys of desired that differ from the index's
// current settings. It returns nil when nothing had to change.
func (m *Manager) ApplySettings(ctx context.Context, uid string, desired map[string]any) (*engine.TaskInfo, error) {
	if len(desired) == 0 {
		return nil, nil
	}
	current, err := m.engine.GetSettings(ctx, uid)
	if err != nil {
		return nil, err
	}
	want, err := canonical(desired)
	if err != nil {
		return nil, fmt.Errorf("encoding settings for %s: %w", uid, err)
	}

	changed := make(map[string]any)
	for k, v := range want {
		if !reflect.DeepEqual(current[k], v) {
			changed[k] = v
		}
	}
	if len(changed) == 0 {
		m.logger.Debug("settings already up to date", "index", uid)
		return nil, nil
	}

	info, err := m.engine.UpdateSettings(ctx, uid, changed)
	if err != nil {
		return nil, err
	}
	m.logger.Info("settings updated", "index", uid, "keys", len(changed), "task_uid", info.UID)
	return &info, nil
}

// WaitForTask polls task uid until it reaches a terminal status or attempts
// run out. A failed task is returned as data unless StopOnError is set, in
// which case the error wraps apperrors.ErrTaskFailed. Running out of attempts
// returns the last observed task with apperrors.ErrTaskTimeout.
func (m *Manager) WaitForTask(ctx context.Context, uid int64, opts WaitOptions) (*engine.Task, error) {
	opts = m.withDefaults(opts)
	schedule := resilience.Backoff{Initial: opts.PollInterval, Max: opts.MaxInterval, Multiplier: 1.5}
	start := time.Now()

	var last *engine.Task
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		task, err := m.engine.GetTask(ctx, uid)
		if err != nil {
			return last, err
		}
		last = task
		if task.Status.Terminal() {
			m.observe(string(task.Status), start)
			if task.Status == engine.StatusFailed && opts.StopOnError {
				return task, fmt.Errorf("task %d on %s: %v: %w", uid, task.IndexUID, task.Error, apperrors.ErrTaskFailed)
			}
			return task, nil
		}
		if attempt == opts.MaxAttempts {
			break
		}
		if err := m.sleep(ctx, schedule.Next(attempt)); err != nil {
			return last, err
		}
	}
	m.observe("timeout", start)
	return last, fmt.Errorf("task %d still %s after %d polls: %w", uid, statusOf(last), opts.MaxAttempts, apperrors.ErrTaskTimeout)
}

// WaitForTasks waits for every task in order and returns the first error.
func (m *Manager) WaitForTasks(ctx context.Context, uids []int64, opts WaitOptions) ([]*engine.Task, error) {
	tasks := make([]*engine.Task, 0, len(uids))
	for _, uid := range uids {
		task, err := m.WaitForTask(ctx, uid, opts)
		if err != nil {
			return tasks, err
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

func (m *Manager) withDefaults(opts WaitOptions) WaitOptions {
	if opts.PollInterval <= 0 {
		opts.PollInterval = m.defaults.PollInterval
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = m.defaults.MaxInterval
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = m.defaults.MaxAttempts
	}
	return opts
}

func (m *Manager) observe(status string, start time.Time) {
	if m.metrics != nil {
		m.metrics.TaskWaitDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
	}
}

func statusOf(t *engine.Task) engine.Status {
	if t == nil {
		return "unknown"
	}
	return t.Status
}

// canonical round-trips v through JSON so it compares equal to decoded engine
// responses.
func canonical(v map[string]any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
