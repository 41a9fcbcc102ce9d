package completion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/samueltauil/devdash/internal/observability"
)

func TestNewAdapterModes(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		want    string
		wantErr bool
	}{
		{name: "auto without url", cfg: Config{Mode: "auto"}, want: "*completion.MockAdapter"},
		{name: "auto with url", cfg: Config{Mode: "auto", HTTPURL: "http://engine.local"}, want: "*completion.FallbackAdapter"},
		{name: "http", cfg: Config{Mode: "http", HTTPURL: "http://engine.local"}, want: "*completion.HTTPAdapter"},
		{name: "http without url", cfg: Config{Mode: "http"}, wantErr: true},
		{name: "mock", cfg: Config{Mode: "mock"}, want: "*completion.MockAdapter"},
		{name: "empty defaults to auto", cfg: Config{}, want: "*completion.MockAdapter"},
		{name: "unknown", cfg: Config{Mode: "carrier-pigeon"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter, err := NewAdapter(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("NewAdapter(%+v) expected error, got nil", tt.cfg)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewAdapter(%+v) error = %v", tt.cfg, err)
			}
			if got := fmt.Sprintf("%T", adapter); got != tt.want {
				t.Fatalf("NewAdapter(%+v) = %s, want %s", tt.cfg, got, tt.want)
			}
		})
	}
}

func TestHTTPAdapterSendParsesToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "gpt-4.1" {
			t.Errorf("request model = %q, want gpt-4.1", req.Model)
		}
		json.NewEncoder(w).Encode(Response{
			ToolCalls: []ToolCall{{ID: "call-1", Name: "get_open_prs", Args: json.RawMessage(`{"repo":"acme/site"}`)}},
		})
	}))
	defer srv.Close()

	adapter := NewHTTPAdapter(srv.URL, "gpt-4.1")
	res, err := adapter.Send(context.Background(), Request{Messages: []Message{{Role: "user", Content: "any open PRs?"}}})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if res.Final() {
		t.Fatalf("Send() returned final response, want tool calls")
	}
	if got := res.ToolCalls[0].Name; got != "get_open_prs" {
		t.Fatalf("ToolCalls[0].Name = %q, want get_open_prs", got)
	}
}

func TestHTTPAdapterRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(Response{Text: "done"})
	}))
	defer srv.Close()

	adapter := NewHTTPAdapter(srv.URL, "")
	adapter.sleep = func(context.Context, time.Duration) error { return nil }

	res, err := adapter.Send(context.Background(), Request{Messages: []Message{{Role: "user", Content: "hi"}}})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if res.Text != "done" {
		t.Fatalf("Send() text = %q, want done", res.Text)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("server calls = %d, want 3", got)
	}
}

func TestHTTPAdapterCountsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(Response{Text: "done"})
	}))
	defer srv.Close()

	metrics := observability.NewMetrics(fmt.Sprintf("test_completion_%d", time.Now().UnixNano()))
	adapter := NewHTTPAdapter(srv.URL, "")
	adapter.metrics = metrics
	adapter.sleep = func(context.Context, time.Duration) error { return nil }

	if _, err := adapter.Send(context.Background(), Request{}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if got := testutil.ToFloat64(metrics.CompletionRetries); got != 2 {
		t.Fatalf("completion retries counter = %v, want 2", got)
	}
}

func TestHTTPAdapterBackoffHonorsCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	adapter := NewHTTPAdapter(srv.URL, "")
	adapter.backoffBase = 5 * time.Second

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	started := time.Now()
	_, err := adapter.Send(ctx, Request{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Send() error = %v, want context.Canceled", err)
	}
	if elapsed := time.Since(started); elapsed > time.Second {
		t.Fatalf("Send() blocked %s in backoff after cancellation", elapsed)
	}
}

func TestHTTPAdapterAuthErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	adapter := NewHTTPAdapter(srv.URL, "")
	adapter.sleep = func(context.Context, time.Duration) error { return nil }

	_, err := adapter.Send(context.Background(), Request{})
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != http.StatusUnauthorized {
		t.Fatalf("Send() error = %v, want StatusError 401", err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("server calls = %d, want 1", got)
	}
}

func TestFallbackAdapterUsesSecondaryOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	primary := NewHTTPAdapter(srv.URL, "")
	primary.sleep = func(context.Context, time.Duration) error { return nil }
	secondary := NewMockAdapter()
	secondary.Enqueue(Response{Text: "fallback online"})

	adapter := NewFallbackAdapter(primary, secondary)
	res, err := adapter.Send(context.Background(), Request{Messages: []Message{{Role: "user", Content: "status?"}}})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if res.Text != "fallback online" {
		t.Fatalf("Send() text = %q, want fallback online", res.Text)
	}
}

func TestFallbackAdapterPropagatesCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	adapter := NewFallbackAdapter(NewMockAdapter(), NewMockAdapter())
	_, err := adapter.Send(ctx, Request{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Send() error = %v, want context.Canceled", err)
	}
}

func TestMockAdapterScriptedResponses(t *testing.T) {
	mock := NewMockAdapter()
	mock.Enqueue(
		Response{ToolCalls: []ToolCall{{ID: "c1", Name: "fetch_ci_logs"}}},
		Response{Text: "the build failed on the lint step"},
	)

	first, err := mock.Send(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if first.Final() {
		t.Fatalf("first response should carry tool calls")
	}

	second, err := mock.Send(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if second.Text != "the build failed on the lint step" {
		t.Fatalf("second response text = %q", second.Text)
	}

	if got := len(mock.Calls()); got != 2 {
		t.Fatalf("Calls() = %d, want 2", got)
	}
}
