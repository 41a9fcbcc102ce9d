package completion

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MockAdapter returns deterministic replies without a remote engine.
// Scripted responses, when queued, take precedence and are consumed in order.
type MockAdapter struct {
	mu       sync.Mutex
	scripted []Response
	calls    []Request
}

func NewMockAdapter() *MockAdapter {
	return &MockAdapter{}
}

// Enqueue appends scripted responses returned by subsequent Send calls.
func (a *MockAdapter) Enqueue(responses ...Response) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.scripted = append(a.scripted, responses...)
}

// Calls returns a copy of every request received so far.
func (a *MockAdapter) Calls() []Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Request, len(a.calls))
	copy(out, a.calls)
	return out
}

func (a *MockAdapter) Send(ctx context.Context, req Request) (Response, error) {
	select {
	case <-ctx.Done():
		return Response{}, ctx.Err()
	default:
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, req)

	if len(a.scripted) > 0 {
		res := a.scripted[0]
		a.scripted = a.scripted[1:]
		return res, nil
	}
	return Response{Text: buildCannedReply(req)}, nil
}

func buildCannedReply(req Request) string {
	last := ""
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			last = strings.TrimSpace(req.Messages[i].Content)
			break
		}
	}
	if last == "" {
		return "I'm listening."
	}
	return fmt.Sprintf("I can't reach the completion engine right now, but I heard: %s", last)
}
