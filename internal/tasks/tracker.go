// Package tasks records the engine tasks produced by asynchronous indexing
// jobs so the run that dispatched them can wait for all of them, and marks
// completed jobs so a redelivered message is acknowledged without a second
// upload.
package tasks

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	keyPrefix  = "searchsync"
	failedMark = "!"
)

// KV is the subset of the Redis client the tracker uses.
type KV interface {
	Append(ctx context.Context, key string, ttl time.Duration, values ...any) error
	List(ctx context.Context, key string) ([]string, error)
	SetIfAbsent(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Exists(ctx context.Context, key string) (bool, error)
	Del(ctx context.Context, keys ...string) error
}

// Tracker stores per-run task lists and per-job completion markers with a
// TTL.
type Tracker struct {
	kv  KV
	ttl time.Duration
}

// NewTracker creates a Tracker. A non-positive ttl defaults to 24h.
func NewTracker(kv KV, ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Tracker{kv: kv, ttl: ttl}
}

func runKey(runID string) string {
	return keyPrefix + ":run:" + runID + ":tasks"
}

func runJobsKey(runID string) string {
	return keyPrefix + ":run:" + runID + ":jobs"
}

func jobKey(jobID string) string {
	return keyPrefix + ":job:" + jobID + ":done"
}

// Record appends task uids to the run's list.
func (t *Tracker) Record(ctx context.Context, runID string, taskUIDs ...int64) error {
	if runID == "" || len(taskUIDs) == 0 {
		return nil
	}
	values := make([]any, len(taskUIDs))
	for i, uid := range taskUIDs {
		values[i] = strconv.FormatInt(uid, 10)
	}
	if err := t.kv.Append(ctx, runKey(runID), t.ttl, values...); err != nil {
		return fmt.Errorf("recording tasks for run %s: %w", runID, err)
	}
	return nil
}

// Tasks returns every task uid recorded for the run, in record order.
func (t *Tracker) Tasks(ctx context.Context, runID string) ([]int64, error) {
	vals, err := t.kv.List(ctx, runKey(runID))
	if err != nil {
		return nil, fmt.Errorf("listing tasks for run %s: %w", runID, err)
	}
	uids := make([]int64, 0, len(vals))
	for _, v := range vals {
		uid, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("run %s holds invalid task uid %q: %w", runID, v, err)
		}
		uids = append(uids, uid)
	}
	return uids, nil
}

// FinishJob records that a job of the run reached its final state, either
// applied or given up on.
func (t *Tracker) FinishJob(ctx context.Context, runID, jobID string, failed bool) error {
	if runID == "" {
		return nil
	}
	entry := jobID
	if failed {
		entry = failedMark + jobID
	}
	if err := t.kv.Append(ctx, runJobsKey(runID), t.ttl, entry); err != nil {
		return fmt.Errorf("recording job %s for run %s: %w", jobID, runID, err)
	}
	return nil
}

// Progress counts the run's finished jobs. A redelivered job finished twice
// is counted once, by its last outcome.
func (t *Tracker) Progress(ctx context.Context, runID string) (done, failed int, err error) {
	vals, err := t.kv.List(ctx, runJobsKey(runID))
	if err != nil {
		return 0, 0, fmt.Errorf("listing jobs for run %s: %w", runID, err)
	}
	outcome := make(map[string]bool, len(vals))
	for _, v := range vals {
		id, isFailed := strings.CutPrefix(v, failedMark)
		outcome[id] = isFailed
	}
	for _, f := range outcome {
		if f {
			failed++
		} else {
			done++
		}
	}
	return done, failed, nil
}

// Clear forgets everything recorded for the run.
func (t *Tracker) Clear(ctx context.Context, runID string) error {
	return t.kv.Del(ctx, runKey(runID), runJobsKey(runID))
}

// MarkJobDone records that jobID completed. It reports false when the job had
// already been marked.
func (t *Tracker) MarkJobDone(ctx context.Context, jobID string) (bool, error) {
	ok, err := t.kv.SetIfAbsent(ctx, jobKey(jobID), time.Now().UTC().Format(time.RFC3339), t.ttl)
	if err != nil {
		return false, fmt.Errorf("marking job %s done: %w", jobID, err)
	}
	return ok, nil
}

// JobDone reports whether jobID was marked done.
func (t *Tracker) JobDone(ctx context.Context, jobID string) (bool, error) {
	ok, err := t.kv.Exists(ctx, jobKey(jobID))
	if err != nil {
		return false, fmt.Errorf("checking job %s: %w", jobID, err)
	}
	return ok, nil
}
