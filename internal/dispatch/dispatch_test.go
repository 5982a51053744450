package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/search-index-sync/internal/job"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/pkg/metrics"
)

type fakePublisher struct {
	msgs []kafka.Message
	err  error
}

func (p *fakePublisher) Publish(_ context.Context, msg kafka.Message) error {
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, msg)
	return nil
}

func TestKafkaDispatchKeysByIndex(t *testing.T) {
	pub := &fakePublisher{}
	j := job.NewReload("Movie", []string{"1", "2"})
	j.IndexName = "app_movies_fr"
	j.RunID = "run-7"

	require.NoError(t, NewKafka(pub).Dispatch(context.Background(), j))
	require.Len(t, pub.msgs, 1)
	msg := pub.msgs[0]
	assert.Equal(t, "app_movies_fr", msg.Key)
	assert.Equal(t, j.ID, msg.Headers["job-id"])
	assert.Equal(t, "run-7", msg.Headers["run-id"])

	b, err := json.Marshal(msg.Value)
	require.NoError(t, err)
	var decoded job.Job
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, []string{"1", "2"}, decoded.IDs)
	assert.True(t, decoded.Reload)
}

func TestKafkaDispatchError(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker unavailable")}
	err := NewKafka(pub).Dispatch(context.Background(), job.NewReload("Movie", []string{"1"}))
	assert.ErrorContains(t, err, "broker unavailable")
}

func TestBusRoutesBySyncFlag(t *testing.T) {
	var inline []string
	pub := &fakePublisher{}
	m := metrics.NewUnregistered()
	bus := &Bus{
		Inline: Func(func(_ context.Context, j *job.Job) error {
			inline = append(inline, j.ID)
			return nil
		}),
		Async:   NewKafka(pub),
		Metrics: m,
	}

	syncJob := job.NewReload("Movie", []string{"1"})
	syncJob.Sync = true
	asyncJob := job.NewReload("Movie", []string{"2"})

	require.NoError(t, bus.Dispatch(context.Background(), syncJob))
	require.NoError(t, bus.Dispatch(context.Background(), asyncJob))

	assert.Equal(t, []string{syncJob.ID}, inline)
	assert.Len(t, pub.msgs, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobsDispatchedTotal.WithLabelValues("sync")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobsDispatchedTotal.WithLabelValues("async")))
}

func TestBusWithoutAsyncRunsInline(t *testing.T) {
	calls := 0
	bus := &Bus{Inline: Func(func(context.Context, *job.Job) error {
		calls++
		return nil
	})}
	require.NoError(t, bus.Dispatch(context.Background(), job.NewReload("Movie", []string{"1"})))
	assert.Equal(t, 1, calls)

	err := (&Bus{}).Dispatch(context.Background(), job.NewReload("Movie", []string{"1"}))
	assert.Error(t, err)
}
