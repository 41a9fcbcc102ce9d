package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Speaker identifies who produced a conversational turn.
type Speaker string

const (
	SpeakerUser  Speaker = "user"
	SpeakerAgent Speaker = "agent"
	SpeakerTool  Speaker = "tool"
)

// ConfirmationStatus is the lifecycle state of a confirmation record.
type ConfirmationStatus string

const (
	ConfirmationPending  ConfirmationStatus = "pending"
	ConfirmationApproved ConfirmationStatus = "approved"
	ConfirmationDenied   ConfirmationStatus = "denied"
	ConfirmationExpired  ConfirmationStatus = "expired"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrTurnOutOfSync = errors.New("turn index out of sequence")
)

// ToolCallRecord captures a single tool invocation attached to a turn.
type ToolCallRecord struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Args      json.RawMessage `json:"args,omitempty"`
	Sensitive bool            `json:"sensitive"`
	Outcome   string          `json:"outcome"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Turn is one immutable entry in a session's append-only conversation log.
type Turn struct {
	SessionID string           `json:"session_id"`
	Index     int              `json:"index"`
	Speaker   Speaker          `json:"speaker"`
	Content   string           `json:"content"`
	ToolCalls []ToolCallRecord `json:"tool_calls,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// CacheEntry is a TTL-bounded cached payload for a remote resource.
type CacheEntry struct {
	Key       string          `json:"key"`
	Payload   json.RawMessage `json:"payload"`
	FetchedAt time.Time       `json:"fetched_at"`
	TTL       time.Duration   `json:"ttl"`
}

// Expired reports whether the entry is past its TTL at the given instant.
func (e CacheEntry) Expired(now time.Time) bool {
	return now.Sub(e.FetchedAt) > e.TTL
}

// Fact is a durable, scope-keyed derived answer reused across conversations.
type Fact struct {
	Scope     string    `json:"scope"`
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ConfirmationRecord is the persisted trail of a safety-gate decision.
type ConfirmationRecord struct {
	ToolCallID string             `json:"tool_call_id"`
	ToolName   string             `json:"tool_name"`
	Status     ConfirmationStatus `json:"status"`
	IssuedAt   time.Time          `json:"issued_at"`
	ResolvedAt *time.Time         `json:"resolved_at,omitempty"`
}

// Store persists cache entries, memory facts, turn logs, and confirmations.
//
// Each operation is scoped to one logical row family; callers never need
// cross-family transactions. Concurrent writers to the same cache key are
// resolved last-writer-wins on FetchedAt.
type Store interface {
	UpsertCacheEntry(ctx context.Context, entry CacheEntry) error
	GetCacheEntry(ctx context.Context, key string) (CacheEntry, error)
	DeleteCacheEntries(ctx context.Context, prefix string) error

	UpsertFact(ctx context.Context, fact Fact) error
	GetFact(ctx context.Context, scope, key string) (Fact, error)
	ListFacts(ctx context.Context, scope string) ([]Fact, error)
	InvalidateFact(ctx context.Context, scope, key string) error

	AppendTurn(ctx context.Context, turn Turn) error
	ListTurns(ctx context.Context, sessionID string) ([]Turn, error)
	NextTurnIndex(ctx context.Context, sessionID string) (int, error)

	SaveConfirmation(ctx context.Context, rec ConfirmationRecord) error

	Close() error
}
