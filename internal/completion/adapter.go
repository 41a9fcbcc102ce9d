package completion

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/samueltauil/devdash/internal/observability"
)

// Message is one conversation entry sent to the completion engine.
type Message struct {
	Role       string `json:"role"`
	Content    string `json:"content"`
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// ToolSpec describes a capability offered to the engine for a turn.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"schema,omitempty"`
}

// ToolCall is a structured request from the engine to run a named capability.
type ToolCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

// Request is the normalized conversation request.
type Request struct {
	Model    string     `json:"model,omitempty"`
	Messages []Message  `json:"messages"`
	Tools    []ToolSpec `json:"tools,omitempty"`
}

// Response carries either a terminal text answer or tool calls to execute.
type Response struct {
	Text      string     `json:"text,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// Final reports whether the engine produced a terminal answer for the turn.
func (r Response) Final() bool { return len(r.ToolCalls) == 0 }

// Adapter bridges the companion runtime with the remote completion engine.
type Adapter interface {
	Send(ctx context.Context, req Request) (Response, error)
}

// Config controls adapter construction.
type Config struct {
	Mode    string
	HTTPURL string
	Model   string
	Metrics *observability.Metrics
}

func NewAdapter(cfg Config) (Adapter, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		// Prefer the HTTP engine when configured; the mock keeps the device
		// conversational when the engine is unreachable.
		if strings.TrimSpace(cfg.HTTPURL) != "" {
			h := NewHTTPAdapter(cfg.HTTPURL, cfg.Model)
			h.metrics = cfg.Metrics
			return NewFallbackAdapter(h, NewMockAdapter()), nil
		}
		return NewMockAdapter(), nil
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, fmt.Errorf("completion HTTP url is required for http mode")
		}
		h := NewHTTPAdapter(cfg.HTTPURL, cfg.Model)
		h.metrics = cfg.Metrics
		return h, nil
	case "mock":
		return NewMockAdapter(), nil
	default:
		return nil, fmt.Errorf("unsupported completion adapter mode %q", cfg.Mode)
	}
}
