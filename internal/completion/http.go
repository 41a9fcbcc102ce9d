package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/samueltauil/devdash/internal/observability"
	"github.com/samueltauil/devdash/internal/reliability"
)

// HTTPAdapter forwards requests to a completion engine over HTTP.
type HTTPAdapter struct {
	url     string
	model   string
	client  *http.Client
	metrics *observability.Metrics

	maxAttempts int
	backoffBase time.Duration
	backoffCap  time.Duration
	sleep       func(context.Context, time.Duration) error
}

func NewHTTPAdapter(url, model string) *HTTPAdapter {
	return &HTTPAdapter{
		url:   strings.TrimSpace(url),
		model: strings.TrimSpace(model),
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
		maxAttempts: 3,
		backoffBase: 250 * time.Millisecond,
		backoffCap:  5 * time.Second,
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

// StatusError reports a non-2xx reply from the engine.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("completion http status %d: %s", e.Code, e.Body)
}

func (a *HTTPAdapter) Send(ctx context.Context, req Request) (Response, error) {
	if req.Model == "" {
		req.Model = a.model
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < a.maxAttempts; attempt++ {
		if attempt > 0 {
			if a.metrics != nil {
				a.metrics.CompletionRetries.Inc()
			}
			wait := reliability.ExponentialBackoff(attempt-1, a.backoffBase, a.backoffCap)
			if err := a.sleep(ctx, wait); err != nil {
				return Response{}, err
			}
		}

		res, err := a.sendOnce(ctx, payload)
		if err == nil {
			return res, nil
		}
		lastErr = err

		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			if reliability.ClassifyHTTPStatus(statusErr.Code) != reliability.ClassRetryable {
				return Response{}, err
			}
			continue
		}
		if ctx.Err() != nil {
			return Response{}, ctx.Err()
		}
	}
	return Response{}, fmt.Errorf("completion request failed after %d attempts: %w", a.maxAttempts, lastErr)
}

func (a *HTTPAdapter) sendOnce(ctx context.Context, payload []byte) (Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(payload))
	if err != nil {
		return Response{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := a.client.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return Response{}, &StatusError{Code: res.StatusCode, Body: snippet(body)}
	}

	var out Response
	if err := json.Unmarshal(body, &out); err != nil {
		text := strings.TrimSpace(string(body))
		if text == "" {
			return Response{}, fmt.Errorf("empty completion response")
		}
		return Response{Text: text}, nil
	}
	return out, nil
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
