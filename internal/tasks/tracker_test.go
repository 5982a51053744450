package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memKV struct {
	mu    sync.Mutex
	lists map[string][]string
	keys  map[string]string
	ttls  map[string]time.Duration
	err   error
}

func newMemKV() *memKV {
	return &memKV{lists: map[string][]string{}, keys: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *memKV) Append(_ context.Context, key string, ttl time.Duration, values ...any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	for _, v := range values {
		m.lists[key] = append(m.lists[key], fmt.Sprint(v))
	}
	m.ttls[key] = ttl
	return nil
}

func (m *memKV) List(_ context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.lists[key]...), m.err
}

func (m *memKV) SetIfAbsent(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[key]; ok {
		return false, nil
	}
	m.keys[key] = fmt.Sprint(value)
	m.ttls[key] = ttl
	return true, nil
}

func (m *memKV) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.keys[key]
	return ok, nil
}

func (m *memKV) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.lists, k)
		delete(m.keys, k)
	}
	return nil
}

func TestRecordAndList(t *testing.T) {
	kv := newMemKV()
	tr := NewTracker(kv, time.Hour)
	ctx := context.Background()

	require.NoError(t, tr.Record(ctx, "run-1", 3, 4))
	require.NoError(t, tr.Record(ctx, "run-1", 9))
	require.NoError(t, tr.Record(ctx, "", 1))

	uids, err := tr.Tasks(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 4, 9}, uids)
	assert.Equal(t, time.Hour, kv.ttls["searchsync:run:run-1:tasks"])

	require.NoError(t, tr.Clear(ctx, "run-1"))
	uids, err = tr.Tasks(ctx, "run-1")
	require.NoError(t, err)
	assert.Empty(t, uids)
}

func TestInvalidStoredUID(t *testing.T) {
	kv := newMemKV()
	kv.lists["searchsync:run:r:tasks"] = []string{"x"}
	_, err := NewTracker(kv, 0).Tasks(context.Background(), "r")
	assert.Error(t, err)
}

func TestMarkJobDoneOnce(t *testing.T) {
	tr := NewTracker(newMemKV(), 0)
	ctx := context.Background()

	done, err := tr.JobDone(ctx, "job-1")
	require.NoError(t, err)
	assert.False(t, done)

	first, err := tr.MarkJobDone(ctx, "job-1")
	require.NoError(t, err)
	assert.True(t, first)

	again, err := tr.MarkJobDone(ctx, "job-1")
	require.NoError(t, err)
	assert.False(t, again)

	done, _ = tr.JobDone(ctx, "job-1")
	assert.True(t, done)
}

func TestRecordError(t *testing.T) {
	kv := newMemKV()
	kv.err = errors.New("redis down")
	err := NewTracker(kv, 0).Record(context.Background(), "run", 1)
	assert.ErrorContains(t, err, "redis down")
}

func TestRunProgress(t *testing.T) {
	tr := NewTracker(newMemKV(), 0)
	ctx := context.Background()

	require.NoError(t, tr.FinishJob(ctx, "run-2", "a", false))
	require.NoError(t, tr.FinishJob(ctx, "run-2", "b", true))
	require.NoError(t, tr.FinishJob(ctx, "run-2", "b", false))
	require.NoError(t, tr.FinishJob(ctx, "run-2", "c", true))
	require.NoError(t, tr.FinishJob(ctx, "", "d", false))

	done, failed, err := tr.Progress(ctx, "run-2")
	require.NoError(t, err)
	assert.Equal(t, 2, done)
	assert.Equal(t, 1, failed)

	require.NoError(t, tr.Clear(ctx, "run-2"))
	done, failed, err = tr.Progress(ctx, "run-2")
	require.NoError(t, err)
	assert.Zero(t, done+failed)
}
