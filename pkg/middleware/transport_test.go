package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/search-index-sync/pkg/metrics"
)

func TestChainAddsAuthAndRecordsMetrics(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	m := metrics.NewUnregistered()
	client := &http.Client{Transport: Chain(nil, Metrics(m), BearerAuth("secret"))}

	resp, err := client.Post(srv.URL+"/indexes/movies/documents", "application/x-ndjson", nil)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EngineRequestsTotal.WithLabelValues(http.MethodPost, "202")))
}

func TestBearerAuthSkippedWithoutKey(t *testing.T) {
	var gotAuth string
	rt := BearerAuth("")(RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
		gotAuth = r.Header.Get("Authorization")
		return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody}, nil
	}))
	req := httptest.NewRequest(http.MethodGet, "http://engine/health", nil)
	_, err := rt.RoundTrip(req)
	require.NoError(t, err)
	assert.Empty(t, gotAuth)
}
