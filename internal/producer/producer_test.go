package producer

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/search-index-sync/internal/dispatch"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/internal/job"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/internal/planner"
	apperrors "github.com/Adithya-Monish-Kumar-K/search-index-sync/pkg/errors"
)

type slicePager struct {
	ids   []string
	pages int
}

func (p *slicePager) PageIDs(_ context.Context, _ string, offset, limit int) ([]string, error) {
	p.pages++
	if offset >= len(p.ids) {
		return nil, nil
	}
	return p.ids[offset:min(offset+limit, len(p.ids))], nil
}

func idsUpTo(n int) []string {
	out := make([]string, n)
	for i := range n {
		out[i] = strconv.Itoa(i + 1)
	}
	return out
}

type recorder struct {
	jobs   []*job.Job
	failAt int
}

func (r *recorder) Dispatch(_ context.Context, j *job.Job) error {
	if r.failAt > 0 && len(r.jobs)+1 == r.failAt {
		return errors.New("queue full")
	}
	r.jobs = append(r.jobs, j)
	return nil
}

var movies = planner.Target{Base: "movies", UID: "app_movies", Class: "Movie", Kind: planner.KindBase}

func TestDispatchTargetBatches(t *testing.T) {
	rec := &recorder{}
	p := New(&slicePager{ids: idsUpTo(5)}, rec)

	sent, err := p.DispatchTarget(context.Background(), movies, Options{BatchSize: 2, RunID: "run-1", PrimaryKey: "id"})
	require.NoError(t, err)
	assert.Equal(t, 5, sent)
	require.Len(t, rec.jobs, 3)
	assert.Equal(t, []string{"1", "2"}, rec.jobs[0].IDs)
	assert.Equal(t, []string{"3", "4"}, rec.jobs[1].IDs)
	assert.Equal(t, []string{"5"}, rec.jobs[2].IDs)
	for _, j := range rec.jobs {
		assert.True(t, j.Reload)
		assert.Equal(t, "app_movies", j.IndexName)
		assert.Equal(t, "Movie", j.EntityClass)
		assert.Equal(t, "run-1", j.RunID)
		assert.Equal(t, "id", j.PrimaryKey)
		assert.NoError(t, job.Validate(j))
	}
}

func TestDispatchTargetCarriesLocale(t *testing.T) {
	rec := &recorder{}
	target := planner.Target{Base: "books", UID: "app_books_es", Class: "Book", Locale: "es", Kind: planner.KindTarget}
	_, err := New(&slicePager{ids: idsUpTo(1)}, rec).DispatchTarget(context.Background(), target, Options{BatchSize: 10, Sync: true, Wait: true})
	require.NoError(t, err)
	require.Len(t, rec.jobs, 1)
	assert.Equal(t, "es", rec.jobs[0].Locale)
	assert.True(t, rec.jobs[0].Sync)
	assert.True(t, rec.jobs[0].Wait)
}

func TestLimitIsSoft(t *testing.T) {
	rec := &recorder{}
	pager := &slicePager{ids: idsUpTo(10)}
	sent, err := New(pager, rec).DispatchTarget(context.Background(), movies, Options{BatchSize: 4, Limit: 5})
	require.NoError(t, err)
	assert.Equal(t, 8, sent)
	assert.Len(t, rec.jobs, 2)
	assert.Equal(t, 2, pager.pages)
}

func TestStopsOnFirstDispatchError(t *testing.T) {
	rec := &recorder{failAt: 2}
	sent, err := New(&slicePager{ids: idsUpTo(6)}, rec).DispatchTarget(context.Background(), movies, Options{BatchSize: 2})
	assert.ErrorContains(t, err, "queue full")
	assert.Equal(t, 2, sent)
	assert.Len(t, rec.jobs, 1)
}

func TestEmptyClassSendsNothing(t *testing.T) {
	rec := &recorder{}
	sent, err := New(&slicePager{}, rec).DispatchTarget(context.Background(), movies, Options{BatchSize: 2})
	require.NoError(t, err)
	assert.Zero(t, sent)
	assert.Empty(t, rec.jobs)
}

func TestInvalidBatchSize(t *testing.T) {
	_, err := New(&slicePager{}, &recorder{}).DispatchTarget(context.Background(), movies, Options{})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestSyncBusAppliesInOrder(t *testing.T) {
	var order []string
	bus := &dispatch.Bus{Inline: dispatch.Func(func(_ context.Context, j *job.Job) error {
		order = append(order, j.IDs...)
		return nil
	})}
	_, err := New(&slicePager{ids: idsUpTo(5)}, bus).DispatchTarget(context.Background(), movies, Options{BatchSize: 2, Sync: true})
	require.NoError(t, err)
	assert.Equal(t, idsUpTo(5), order)
}
