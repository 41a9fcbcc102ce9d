package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/samueltauil/devdash/internal/observability"
	"github.com/samueltauil/devdash/internal/reliability"
	"github.com/samueltauil/devdash/internal/store"
)

// Resource names a cacheable read path of the source-hosting API.
type Resource string

const (
	ResourceWorkflowRuns Resource = "workflow_runs"
	ResourceRunLogs      Resource = "run_logs"
	ResourcePulls        Resource = "pulls"
	ResourcePullDiff     Resource = "pull_diff"
	ResourceCommit       Resource = "commit"
	ResourceCommitStatus Resource = "commit_status"
	ResourceActivity     Resource = "activity"
	ResourceFile         Resource = "file"
)

var ErrDataUnavailable = errors.New("remote unavailable and no cached value")

// StatusError is a non-2xx response from the remote API.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("github api status %d: %s", e.Code, e.Body)
}

// Payload is a fetch result. Degraded marks a stale cached value returned
// because the live API was unreachable.
type Payload struct {
	Data      json.RawMessage `json:"data"`
	Degraded  bool            `json:"degraded,omitempty"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// Config controls client construction.
type Config struct {
	BaseURL     string
	Token       string
	TTLShort    time.Duration
	TTLLong     time.Duration
	MaxAttempts int
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// Client fetches repository facts with store-backed TTL caching.
type Client struct {
	baseURL     string
	token       string
	httpClient  *http.Client
	store       store.Store
	metrics     *observability.Metrics
	ttlShort    time.Duration
	ttlLong     time.Duration
	maxAttempts int
	backoffBase time.Duration
	backoffCap  time.Duration
	now         func() time.Time
	sleep       func(context.Context, time.Duration) error
}

func NewClient(cfg Config, st store.Store, metrics *observability.Metrics) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.github.com"
	}
	if cfg.TTLShort <= 0 {
		cfg.TTLShort = 60 * time.Second
	}
	if cfg.TTLLong <= 0 {
		cfg.TTLLong = 15 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 250 * time.Millisecond
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = 2 * time.Second
	}
	return &Client{
		baseURL:     baseURL,
		token:       strings.TrimSpace(cfg.Token),
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		store:       st,
		metrics:     metrics,
		ttlShort:    cfg.TTLShort,
		ttlLong:     cfg.TTLLong,
		maxAttempts: cfg.MaxAttempts,
		backoffBase: cfg.BackoffBase,
		backoffCap:  cfg.BackoffCap,
		now:         func() time.Time { return time.Now().UTC() },
		sleep:       sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Fetch returns the payload for a read resource, serving from cache while
// within TTL, refetching when expired, and degrading to the last cached
// value when the remote call fails.
func (c *Client) Fetch(ctx context.Context, resource Resource, repo string, params map[string]string) (Payload, error) {
	key := cacheKey(resource, repo, params)

	cached, cacheErr := c.store.GetCacheEntry(ctx, key)
	if cacheErr == nil && !cached.Expired(c.now()) {
		c.observeCache(resource, "hit")
		return Payload{Data: cached.Payload, FetchedAt: cached.FetchedAt}, nil
	}

	data, err := c.call(ctx, resource, repo, params)
	if err != nil {
		if cacheErr == nil {
			c.observeCache(resource, "degraded")
			return Payload{Data: cached.Payload, FetchedAt: cached.FetchedAt, Degraded: true}, nil
		}
		c.observeCache(resource, "miss")
		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			switch reliability.ClassifyHTTPStatus(statusErr.Code) {
			case reliability.ClassAuth, reliability.ClassQuota:
				// Misconfiguration, not absence of data. Surface as-is.
				return Payload{}, err
			}
		}
		return Payload{}, fmt.Errorf("%w: %s %s: %v", ErrDataUnavailable, resource, repo, err)
	}

	fetchedAt := c.now()
	entry := store.CacheEntry{Key: key, Payload: data, FetchedAt: fetchedAt, TTL: c.ttl(resource)}
	if err := c.store.UpsertCacheEntry(ctx, entry); err != nil {
		return Payload{}, fmt.Errorf("cache %s: %w", key, err)
	}
	c.observeCache(resource, "refresh")
	return Payload{Data: data, FetchedAt: fetchedAt}, nil
}

func (c *Client) ttl(resource Resource) time.Duration {
	switch resource {
	case ResourceCommit, ResourceFile, ResourcePullDiff, ResourceRunLogs:
		return c.ttlLong
	default:
		return c.ttlShort
	}
}

func (c *Client) observeCache(resource Resource, result string) {
	if c.metrics == nil {
		return
	}
	c.metrics.CacheRequests.WithLabelValues(string(resource), result).Inc()
}

func cacheKey(resource Resource, repo string, params map[string]string) string {
	parts := []string{string(resource), repo}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, k+"="+params[k])
	}
	return strings.Join(parts, "|")
}

// doJSON issues one HTTP request with bounded retry on retryable failures.
// The body is kept as bytes so each retry attempt gets a fresh reader.
func (c *Client) doJSON(ctx context.Context, method, path string, body []byte) (json.RawMessage, error) {
	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, reliability.ExponentialBackoff(attempt-1, c.backoffBase, c.backoffCap)); err != nil {
				return nil, err
			}
		}

		data, err := c.doOnce(ctx, method, path, body)
		if err == nil {
			return data, nil
		}
		lastErr = err

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			if reliability.ClassifyHTTPStatus(statusErr.Code) != reliability.ClassRetryable {
				return nil, err
			}
			continue
		}
		// Transport-level failures (dial, reset, timeout) are retryable.
	}
	return nil, lastErr
}

func (c *Client) doOnce(ctx context.Context, method, path string, body []byte) (json.RawMessage, error) {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		snippet := strings.TrimSpace(string(data))
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return nil, &StatusError{Code: res.StatusCode, Body: snippet}
	}
	if len(data) == 0 {
		return json.RawMessage(`{}`), nil
	}
	return data, nil
}
