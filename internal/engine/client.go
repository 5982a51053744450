// Package engine is the HTTP client for the remote search engine. Responses
// are decoded once here into typed values; callers never branch on payload
// shape.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/time/rate"

	"github.com/Adithya-Monish-Kumar-K/search-index-sync/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/search-index-sync/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/pkg/resilience"
)

const maxErrorBody = 1 << 20

// Client talks to the search engine. It is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	breaker *resilience.CircuitBreaker
	logger  *slog.Logger
}

// New creates a Client from cfg. When m is non-nil requests and breaker state
// are recorded.
func New(cfg config.EngineConfig, m *metrics.Metrics) *Client {
	decorators := []func(http.RoundTripper) http.RoundTripper{middleware.BearerAuth(cfg.APIKey)}
	if m != nil {
		decorators = append(decorators, middleware.Metrics(m))
	}

	limit := rate.Inf
	burst := 1
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
		burst = max(1, int(cfg.RequestsPerSecond))
	}

	breakerCfg := resilience.CircuitBreakerConfig{
		FailureThreshold: cfg.BreakerFailures,
		ResetTimeout:     cfg.BreakerReset,
		IsFailure:        countsAgainstBreaker,
	}
	if m != nil {
		breakerCfg.OnStateChange = func(name string, _, to resilience.State) {
			m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		}
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: middleware.Chain(http.DefaultTransport, decorators...),
		},
		limiter: rate.NewLimiter(limit, burst),
		breaker: resilience.NewCircuitBreaker("search-engine", breakerCfg),
		logger:  slog.Default().With("component", "engine-client"),
	}
}

// countsAgainstBreaker trips the breaker only on transport failures and
// server errors; an engine that answers 4xx is healthy.
func countsAgainstBreaker(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	code := apperrors.StatusCode(err)
	return code == 0 || code >= 500
}

// Health checks the engine's health endpoint.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, "", nil)
}

// GetIndex fetches an index. A missing index yields an error matching
// apperrors.ErrIndexNotFound.
func (c *Client) GetIndex(ctx context.Context, uid string) (*Index, error) {
	var idx Index
	if err := c.do(ctx, http.MethodGet, "/indexes/"+url.PathEscape(uid), nil, "", &idx); err != nil {
		return nil, fmt.Errorf("getting index %s: %w", uid, err)
	}
	return &idx, nil
}

// CreateIndex enqueues index creation.
func (c *Client) CreateIndex(ctx context.Context, uid, primaryKey string) (TaskInfo, error) {
	body := map[string]string{"uid": uid}
	if primaryKey != "" {
		body["primaryKey"] = primaryKey
	}
	var info TaskInfo
	if err := c.doJSON(ctx, http.MethodPost, "/indexes", body, &info); err != nil {
		return TaskInfo{}, fmt.Errorf("creating index %s: %w", uid, err)
	}
	return info, nil
}

// DeleteIndex enqueues index deletion.
func (c *Client) DeleteIndex(ctx context.Context, uid string) (TaskInfo, error) {
	var info TaskInfo
	if err := c.do(ctx, http.MethodDelete, "/indexes/"+url.PathEscape(uid), nil, "", &info); err != nil {
		return TaskInfo{}, fmt.Errorf("deleting index %s: %w", uid, err)
	}
	return info, nil
}

// GetSettings returns the current settings document of an index.
func (c *Client) GetSettings(ctx context.Context, uid string) (map[string]any, error) {
	settings := make(map[string]any)
	if err := c.do(ctx, http.MethodGet, "/indexes/"+url.PathEscape(uid)+"/settings", nil, "", &settings); err != nil {
		return nil, fmt.Errorf("getting settings of %s: %w", uid, err)
	}
	return settings, nil
}

// UpdateSettings enqueues a partial settings update.
func (c *Client) UpdateSettings(ctx context.Context, uid string, settings map[string]any) (TaskInfo, error) {
	var info TaskInfo
	if err := c.doJSON(ctx, http.MethodPatch, "/indexes/"+url.PathEscape(uid)+"/settings", settings, &info); err != nil {
		return TaskInfo{}, fmt.Errorf("updating settings of %s: %w", uid, err)
	}
	return info, nil
}

// AddDocumentsNDJSON posts one newline-delimited JSON payload.
func (c *Client) AddDocumentsNDJSON(ctx context.Context, uid string, payload []byte, primaryKey string) (TaskInfo, error) {
	path := "/indexes/" + url.PathEscape(uid) + "/documents"
	if primaryKey != "" {
		path += "?primaryKey=" + url.QueryEscape(primaryKey)
	}
	var info TaskInfo
	if err := c.do(ctx, http.MethodPost, path, payload, "application/x-ndjson", &info); err != nil {
		return TaskInfo{}, fmt.Errorf("adding documents to %s: %w", uid, err)
	}
	return info, nil
}

// DeleteDocuments enqueues deletion of documents by primary key.
func (c *Client) DeleteDocuments(ctx context.Context, uid string, ids []string) (TaskInfo, error) {
	var info TaskInfo
	if err := c.doJSON(ctx, http.MethodPost, "/indexes/"+url.PathEscape(uid)+"/documents/delete-batch", ids, &info); err != nil {
		return TaskInfo{}, fmt.Errorf("deleting documents from %s: %w", uid, err)
	}
	return info, nil
}

// GetTask fetches a task by uid.
func (c *Client) GetTask(ctx context.Context, uid int64) (*Task, error) {
	var task Task
	if err := c.do(ctx, http.MethodGet, "/tasks/"+strconv.FormatInt(uid, 10), nil, "", &task); err != nil {
		return nil, fmt.Errorf("getting task %d: %w", uid, err)
	}
	return &task, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encoding request body: %w", err)
	}
	return c.do(ctx, method, path, body, "application/json", out)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, contentType string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for rate limiter: %w", err)
	}
	return c.breaker.Execute(func() error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return fmt.Errorf("building request: %w", err)
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("%s %s: %w", method, path, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			var eb errorBody
			_ = json.Unmarshal(raw, &eb)
			c.logger.Debug("engine rejected request",
				"method", method,
				"path", path,
				"status", resp.StatusCode,
				"code", eb.Code,
			)
			return apperrors.FromResponse(resp.StatusCode, eb.Code, eb.Message, raw)
		}
		if out == nil || resp.StatusCode == http.StatusNoContent {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding %s %s response: %w", method, path, err)
		}
		return nil
	})
}
