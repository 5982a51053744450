package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/search-index-sync/internal/job"
	apperrors "github.com/Adithya-Monish-Kumar-K/search-index-sync/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/pkg/metrics"
)

type scriptedApplier struct {
	errs  []error
	calls int
	seen  []int
}

func (a *scriptedApplier) Apply(_ context.Context, j *job.Job) error {
	a.calls++
	a.seen = append(a.seen, j.Attempt)
	if a.calls <= len(a.errs) {
		return a.errs[a.calls-1]
	}
	return nil
}

type memTracker struct {
	done     map[string]bool
	finished map[string]bool
}

func newMemTracker() *memTracker {
	return &memTracker{done: map[string]bool{}, finished: map[string]bool{}}
}

func (m *memTracker) JobDone(_ context.Context, id string) (bool, error) { return m.done[id], nil }

func (m *memTracker) MarkJobDone(_ context.Context, id string) (bool, error) {
	first := !m.done[id]
	m.done[id] = true
	return first, nil
}

func (m *memTracker) FinishJob(_ context.Context, runID, jobID string, failed bool) error {
	if runID != "" {
		m.finished[jobID] = failed
	}
	return nil
}

type dlq struct {
	msgs []kafka.Message
	err  error
}

func (d *dlq) Publish(_ context.Context, msg kafka.Message) error {
	if d.err != nil {
		return d.err
	}
	d.msgs = append(d.msgs, msg)
	return nil
}

func record(t *testing.T, j *job.Job) kafka.Record {
	t.Helper()
	b, err := json.Marshal(j)
	require.NoError(t, err)
	return kafka.Record{Key: []byte(j.Key()), Value: b}
}

func newWorker(a Applier, tr Tracker, d Publisher, m *metrics.Metrics) *Worker {
	return New(a, tr, d, Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}, m)
}

func reloadJob() *job.Job {
	j := job.NewReload("Movie", []string{"1", "2"})
	j.IndexName = "movies"
	j.RunID = "run-1"
	return j
}

func TestAppliesAndMarksDone(t *testing.T) {
	a := &scriptedApplier{}
	tr := newMemTracker()
	m := metrics.NewUnregistered()
	j := reloadJob()

	require.NoError(t, newWorker(a, tr, &dlq{}, m).HandleMessage(context.Background(), record(t, j)))
	assert.Equal(t, 1, a.calls)
	assert.True(t, tr.done[j.ID])
	assert.Contains(t, tr.finished, j.ID)
	assert.False(t, tr.finished[j.ID])
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobsProcessedTotal.WithLabelValues("ok")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.JobDuration))
}

func TestRedeliveredJobIsSkipped(t *testing.T) {
	a := &scriptedApplier{}
	tr := newMemTracker()
	j := reloadJob()
	tr.done[j.ID] = true

	require.NoError(t, newWorker(a, tr, nil, nil).HandleMessage(context.Background(), record(t, j)))
	assert.Zero(t, a.calls)
}

func TestTransientErrorsAreRetried(t *testing.T) {
	a := &scriptedApplier{errs: []error{
		apperrors.Newf(apperrors.ErrEngine, 503, "unavailable"),
		errors.New("connection reset"),
	}}
	d := &dlq{}
	require.NoError(t, newWorker(a, newMemTracker(), d, nil).HandleMessage(context.Background(), record(t, reloadJob())))
	assert.Equal(t, 3, a.calls)
	assert.Equal(t, []int{1, 2, 3}, a.seen)
	assert.Empty(t, d.msgs)
}

func TestPermanentErrorIsDeadLettered(t *testing.T) {
	a := &scriptedApplier{errs: []error{fmt.Errorf("doc 1: %w", apperrors.ErrMissingPrimaryKey)}}
	d := &dlq{}
	tr := newMemTracker()
	m := metrics.NewUnregistered()
	j := reloadJob()

	require.NoError(t, newWorker(a, tr, d, m).HandleMessage(context.Background(), record(t, j)))
	assert.Equal(t, 1, a.calls)
	require.Len(t, d.msgs, 1)
	letter := d.msgs[0].Value.(DeadLetter)
	assert.Equal(t, 1, letter.Attempts)
	assert.Contains(t, letter.Error, "missing primary key")
	assert.Equal(t, "movies", d.msgs[0].Key)
	assert.True(t, tr.finished[j.ID])
	assert.False(t, tr.done[j.ID])
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobsProcessedTotal.WithLabelValues("dead_letter")))
}

func TestExhaustedRetriesAreDeadLettered(t *testing.T) {
	boom := errors.New("engine timeout")
	a := &scriptedApplier{errs: []error{boom, boom, boom}}
	d := &dlq{}
	require.NoError(t, newWorker(a, nil, d, nil).HandleMessage(context.Background(), record(t, reloadJob())))
	require.Len(t, d.msgs, 1)
	assert.Equal(t, 3, d.msgs[0].Value.(DeadLetter).Attempts)
}

func TestUndecodableMessage(t *testing.T) {
	d := &dlq{}
	m := metrics.NewUnregistered()
	a := &scriptedApplier{}
	err := newWorker(a, nil, d, m).HandleMessage(context.Background(), kafka.Record{Value: []byte("not json")})
	require.NoError(t, err)
	assert.Zero(t, a.calls)
	require.Len(t, d.msgs, 1)
	assert.JSONEq(t, `"not json"`, string(d.msgs[0].Value.(DeadLetter).Job))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobsProcessedTotal.WithLabelValues("invalid")))
}

func TestInvalidJobIsNotApplied(t *testing.T) {
	a := &scriptedApplier{}
	d := &dlq{}
	j := reloadJob()
	j.IDs = nil
	require.NoError(t, newWorker(a, nil, d, nil).HandleMessage(context.Background(), record(t, j)))
	assert.Zero(t, a.calls)
	assert.Len(t, d.msgs, 1)
}

func TestDeadLetterFailureLeavesMessageUncommitted(t *testing.T) {
	a := &scriptedApplier{errs: []error{apperrors.ErrUnknownIndex}}
	err := newWorker(a, nil, &dlq{err: errors.New("broker down")}, nil).HandleMessage(context.Background(), record(t, reloadJob()))
	assert.ErrorContains(t, err, "broker down")
	assert.ErrorIs(t, err, apperrors.ErrUnknownIndex)
}

type stubRunner struct {
	started atomic.Int32
	closed  atomic.Int32
	fail    error
}

func (r *stubRunner) Start(ctx context.Context) error {
	r.started.Add(1)
	if r.fail != nil {
		return r.fail
	}
	<-ctx.Done()
	return nil
}

func (r *stubRunner) Close() error {
	r.closed.Add(1)
	return nil
}

func TestPoolStopsAllRunnersOnFailure(t *testing.T) {
	ok1, ok2 := &stubRunner{}, &stubRunner{}
	bad := &stubRunner{fail: errors.New("reader crashed")}
	p := NewPool(ok1, bad, ok2)

	err := p.Run(context.Background())
	assert.ErrorContains(t, err, "reader crashed")
	for _, r := range []*stubRunner{ok1, ok2, bad} {
		assert.Equal(t, int32(1), r.started.Load())
	}
	require.NoError(t, p.Close())
	assert.Equal(t, int32(1), ok1.closed.Load())
}

func TestPoolStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := NewPool(&stubRunner{}, &stubRunner{})
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not stop")
	}
}
