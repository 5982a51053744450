package uploader

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/search-index-sync/internal/document"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/internal/engine"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/internal/engine/enginetest"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/search-index-sync/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/pkg/metrics"
)

type call struct {
	index      string
	payload    string
	primaryKey string
}

type recordingSink struct {
	calls []call
	err   error
}

func (s *recordingSink) AddDocumentsNDJSON(_ context.Context, uid string, payload []byte, pk string) (engine.TaskInfo, error) {
	if s.err != nil {
		return engine.TaskInfo{}, s.err
	}
	s.calls = append(s.calls, call{index: uid, payload: string(payload), primaryKey: pk})
	return engine.TaskInfo{UID: int64(100 + len(s.calls))}, nil
}

func docs(ds ...*document.Document) iter.Seq2[*document.Document, error] {
	return func(yield func(*document.Document, error) bool) {
		for _, d := range ds {
			if !yield(d, nil) {
				return
			}
		}
	}
}

func TestUploadSingleDocument(t *testing.T) {
	sink := &recordingSink{}
	u := New(sink, 0, nil)

	res, err := u.UploadDocuments(context.Background(), "movies", docs(document.FromPairs("id", 7, "title", "x")), "id")
	require.NoError(t, err)
	require.Len(t, sink.calls, 1)
	assert.Equal(t, "{\"id\":7,\"title\":\"x\"}\n", sink.calls[0].payload)
	assert.Equal(t, "id", sink.calls[0].primaryKey)

	last, ok := res.Last()
	assert.True(t, ok)
	assert.Equal(t, int64(101), last)
	assert.Equal(t, 1, res.Documents)
}

func TestMissingPrimaryKeyFailsBeforeNetwork(t *testing.T) {
	sink := &recordingSink{}
	u := New(sink, 0, nil)

	res, err := u.UploadDocuments(context.Background(), "movies", docs(document.FromPairs("id", 7, "title", "x")), "sku")
	assert.ErrorIs(t, err, apperrors.ErrMissingPrimaryKey)
	assert.Empty(t, sink.calls)
	_, ok := res.Last()
	assert.False(t, ok)

	_, err = u.UploadDocuments(context.Background(), "movies", docs(document.FromPairs("sku", nil)), "sku")
	assert.ErrorIs(t, err, apperrors.ErrMissingPrimaryKey)
	assert.Empty(t, sink.calls)
}

func TestPayloadsStayWithinBound(t *testing.T) {
	const maxBytes = 200
	sink := &recordingSink{}
	m := metrics.NewUnregistered()
	u := New(sink, maxBytes, m)

	var in []*document.Document
	for i := range 57 {
		in = append(in, document.FromPairs("id", i, "title", strings.Repeat("x", i%40)))
	}
	res, err := u.UploadDocuments(context.Background(), "movies", docs(in...), "id")
	require.NoError(t, err)

	total := 0
	for i, c := range sink.calls {
		assert.LessOrEqual(t, len(c.payload), maxBytes, "flush %d", i)
		assert.True(t, strings.HasSuffix(c.payload, "\n"))
		total += strings.Count(c.payload, "\n")
		if i > 0 {
			assert.Empty(t, c.primaryKey)
		}
	}
	assert.Equal(t, 57, total)
	assert.Equal(t, 57, res.Documents)
	assert.Len(t, res.TaskUIDs, len(sink.calls))
	assert.Greater(t, res.Flushes, 1)
	assert.Equal(t, float64(57), testutil.ToFloat64(m.DocumentsUploaded.WithLabelValues("movies")))
}

func TestOversizedDocumentSentAlone(t *testing.T) {
	sink := &recordingSink{}
	u := New(sink, 50, nil)

	big := document.FromPairs("id", 2, "body", strings.Repeat("y", 100))
	res, err := u.UploadDocuments(context.Background(), "movies", docs(
		document.FromPairs("id", 1),
		big,
		document.FromPairs("id", 3),
	), "id")
	require.NoError(t, err)
	require.Len(t, sink.calls, 3)
	assert.Equal(t, "{\"id\":1}\n", sink.calls[0].payload)
	assert.Contains(t, sink.calls[1].payload, strings.Repeat("y", 100))
	assert.Equal(t, 1, strings.Count(sink.calls[1].payload, "\n"))
	assert.Equal(t, "{\"id\":3}\n", sink.calls[2].payload)
	assert.Equal(t, []int64{101, 102, 103}, res.TaskUIDs)
}

func TestSourceErrorStopsUpload(t *testing.T) {
	sink := &recordingSink{}
	boom := errors.New("store unavailable")
	seq := func(yield func(*document.Document, error) bool) {
		if !yield(document.FromPairs("id", 1), nil) {
			return
		}
		yield(nil, boom)
	}
	_, err := New(sink, 0, nil).UploadDocuments(context.Background(), "movies", seq, "id")
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, sink.calls)
}

func TestFlushErrorPropagates(t *testing.T) {
	sink := &recordingSink{err: apperrors.FromResponse(400, "malformed_payload", "bad", []byte(`{"code":"malformed_payload"}`))}
	_, err := New(sink, 0, nil).UploadDocuments(context.Background(), "movies", docs(document.FromPairs("id", 1)), "id")
	require.Error(t, err)
	assert.Equal(t, 400, apperrors.StatusCode(err))
}

func TestUploadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "movies.ndjson")
	var sb strings.Builder
	for i := range 20 {
		fmt.Fprintf(&sb, "{\"id\":%d,\"title\":\"movie %d\"}\n", i, i)
		if i == 10 {
			sb.WriteString("\n")
		}
	}
	sb.WriteString(`{"id":99}`)
	require.NoError(t, os.WriteFile(path, []byte(sb.String()), 0o644))

	sink := &recordingSink{}
	res, err := New(sink, 120, nil).UploadFile(context.Background(), "movies", path, "id")
	require.NoError(t, err)
	assert.Equal(t, 21, res.Documents)

	lines := 0
	for _, c := range sink.calls {
		assert.LessOrEqual(t, len(c.payload), 120)
		lines += strings.Count(c.payload, "\n")
	}
	assert.Equal(t, 21, lines)
}

func TestUploadReaderChecksPrimaryKey(t *testing.T) {
	sink := &recordingSink{}
	u := New(sink, 0, nil)

	_, err := u.UploadReader(context.Background(), "movies", strings.NewReader("{\"id\":1}\n{\"title\":\"x\"}\n"), "id")
	assert.ErrorIs(t, err, apperrors.ErrMissingPrimaryKey)
	assert.ErrorContains(t, err, "line 2")
	assert.Empty(t, sink.calls)

	_, err = u.UploadReader(context.Background(), "movies", strings.NewReader("{\"id\":null}\n"), "id")
	assert.ErrorIs(t, err, apperrors.ErrMissingPrimaryKey)

	_, err = u.UploadReader(context.Background(), "movies", strings.NewReader("{\"id\":\n"), "id")
	assert.Error(t, err)
}

func TestUploadFileMissing(t *testing.T) {
	_, err := New(&recordingSink{}, 0, nil).UploadFile(context.Background(), "movies", filepath.Join(t.TempDir(), "nope"), "id")
	assert.Error(t, err)
}

func TestRepeatedUploadIsIdempotent(t *testing.T) {
	srv := enginetest.NewServer(t)
	client := engine.New(config.EngineConfig{URL: srv.URL}, nil)
	u := New(client, 0, nil)

	doc := document.FromPairs("id", 7, "title", "x")
	_, err := u.UploadDocuments(context.Background(), "movies", docs(doc), "id")
	require.NoError(t, err)
	once := srv.Documents("movies")

	_, err = u.UploadDocuments(context.Background(), "movies", docs(doc), "id")
	require.NoError(t, err)
	assert.Equal(t, once, srv.Documents("movies"))
	assert.Len(t, once, 1)
}
