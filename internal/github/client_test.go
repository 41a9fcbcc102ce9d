package github

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/samueltauil/devdash/internal/store"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *store.InMemoryStore, *time.Time) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	st := store.NewInMemoryStore()
	client := NewClient(Config{
		BaseURL:     srv.URL,
		Token:       "test-token",
		TTLShort:    60 * time.Second,
		TTLLong:     15 * time.Minute,
		MaxAttempts: 3,
		BackoffBase: time.Millisecond,
		BackoffCap:  2 * time.Millisecond,
	}, st, nil)

	now := time.Now().UTC()
	client.now = func() time.Time { return now }
	client.sleep = func(context.Context, time.Duration) error { return nil }
	return client, st, &now
}

func TestFetchCacheRoundTrip(t *testing.T) {
	var calls atomic.Int64
	client, _, now := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"workflow_runs":[]}`))
	}))
	ctx := context.Background()

	first, err := client.Fetch(ctx, ResourceWorkflowRuns, "owner/repo", nil)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if first.Degraded {
		t.Fatalf("first fetch Degraded = true, want false")
	}
	if calls.Load() != 1 {
		t.Fatalf("remote calls = %d, want 1", calls.Load())
	}

	// Within TTL: served from cache, no remote call.
	*now = now.Add(10 * time.Second)
	second, err := client.Fetch(ctx, ResourceWorkflowRuns, "owner/repo", nil)
	if err != nil {
		t.Fatalf("Fetch() within TTL error = %v", err)
	}
	if string(second.Data) != string(first.Data) {
		t.Fatalf("cached payload = %s, want %s", second.Data, first.Data)
	}
	if calls.Load() != 1 {
		t.Fatalf("remote calls after cached read = %d, want 1", calls.Load())
	}

	// Past TTL: exactly one refetch.
	*now = now.Add(65 * time.Second)
	if _, err := client.Fetch(ctx, ResourceWorkflowRuns, "owner/repo", nil); err != nil {
		t.Fatalf("Fetch() past TTL error = %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("remote calls after expiry = %d, want 2", calls.Load())
	}
}

func TestFetchDegradedFallback(t *testing.T) {
	var fail atomic.Bool
	client, _, now := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"state":"success"}`))
	}))
	ctx := context.Background()

	if _, err := client.Fetch(ctx, ResourceCommitStatus, "owner/repo", map[string]string{"sha": "abc"}); err != nil {
		t.Fatalf("warm fetch error = %v", err)
	}

	fail.Store(true)
	*now = now.Add(2 * time.Minute)

	got, err := client.Fetch(ctx, ResourceCommitStatus, "owner/repo", map[string]string{"sha": "abc"})
	if err != nil {
		t.Fatalf("Fetch() with cached fallback error = %v, want degraded payload", err)
	}
	if !got.Degraded {
		t.Fatalf("Degraded = false, want true")
	}
	if string(got.Data) != `{"state":"success"}` {
		t.Fatalf("degraded payload = %s, want cached value", got.Data)
	}

	// No cache at all: DataUnavailable.
	_, err = client.Fetch(ctx, ResourceCommitStatus, "owner/repo", map[string]string{"sha": "other"})
	if !errors.Is(err, ErrDataUnavailable) {
		t.Fatalf("Fetch() without cache error = %v, want ErrDataUnavailable", err)
	}
}

func TestFetchAuthErrorSurfacesImmediately(t *testing.T) {
	var calls atomic.Int64
	client, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))

	_, err := client.Fetch(context.Background(), ResourcePulls, "owner/repo", nil)
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != http.StatusUnauthorized {
		t.Fatalf("Fetch() error = %v, want StatusError 401", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("remote calls = %d, want 1 (auth errors are not retried)", calls.Load())
	}
}

func TestFetchRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int64
	client, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`[]`))
	}))

	got, err := client.Fetch(context.Background(), ResourcePulls, "owner/repo", nil)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if got.Degraded {
		t.Fatalf("Degraded = true, want false")
	}
	if calls.Load() != 3 {
		t.Fatalf("remote calls = %d, want 3", calls.Load())
	}
}

func TestWriteInvalidatesCachedReads(t *testing.T) {
	client, st, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"number":7,"html_url":"https://example.com/pull/7"}`))
			return
		}
		w.Write([]byte(`[]`))
	}))
	ctx := context.Background()

	if _, err := client.Fetch(ctx, ResourcePulls, "owner/repo", nil); err != nil {
		t.Fatalf("warm fetch error = %v", err)
	}
	key := cacheKey(ResourcePulls, "owner/repo", nil)
	if _, err := st.GetCacheEntry(ctx, key); err != nil {
		t.Fatalf("cache entry missing after fetch: %v", err)
	}

	ref, err := client.CreatePull(ctx, "owner/repo", "title", "feature", "main", "body")
	if err != nil {
		t.Fatalf("CreatePull() error = %v", err)
	}
	if ref.Number != 7 {
		t.Fatalf("ref.Number = %d, want 7", ref.Number)
	}
	if _, err := st.GetCacheEntry(ctx, key); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("cache entry after write error = %v, want ErrNotFound", err)
	}
}

func TestCacheKeyDeterministic(t *testing.T) {
	a := cacheKey(ResourcePullDiff, "owner/repo", map[string]string{"number": "5", "ref": "main"})
	b := cacheKey(ResourcePullDiff, "owner/repo", map[string]string{"ref": "main", "number": "5"})
	if a != b {
		t.Fatalf("cacheKey not deterministic: %q vs %q", a, b)
	}
}
