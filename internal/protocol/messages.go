package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/samueltauil/devdash/internal/gate"
	"github.com/samueltauil/devdash/internal/store"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	// Server to client.
	TypeTurnAppended         MessageType = "turn_appended"
	TypeTurnFailed           MessageType = "turn_failed"
	TypeConfirmationPending  MessageType = "confirmation_pending"
	TypeConfirmationResolved MessageType = "confirmation_resolved"
	TypeErrorEvent           MessageType = "error_event"

	// Client to server.
	TypeClientControl MessageType = "client_control"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type TurnAppended struct {
	Type MessageType `json:"type"`
	Role string      `json:"role"`
	Turn store.Turn  `json:"turn"`
	TSMs int64       `json:"ts_ms"`
}

type TurnFailed struct {
	Type   MessageType `json:"type"`
	Role   string      `json:"role"`
	Detail string      `json:"detail"`
	TSMs   int64       `json:"ts_ms"`
}

type ConfirmationPending struct {
	Type      MessageType `json:"type"`
	ID        string      `json:"id"`
	ToolName  string      `json:"tool_name"`
	Summary   string      `json:"summary,omitempty"`
	ExpiresAt time.Time   `json:"expires_at"`
	TSMs      int64       `json:"ts_ms"`
}

type ConfirmationResolved struct {
	Type       MessageType `json:"type"`
	ID         string      `json:"id"`
	ToolName   string      `json:"tool_name"`
	Resolution string      `json:"resolution"`
	TSMs       int64       `json:"ts_ms"`
}

type ErrorEvent struct {
	Type   MessageType `json:"type"`
	Code   string      `json:"code"`
	Detail string      `json:"detail"`
	TSMs   int64       `json:"ts_ms"`
}

// ClientControl is the only client-originated message: confirmation actions
// and simulated button edges.
type ClientControl struct {
	Type           MessageType `json:"type"`
	Action         string      `json:"action"`
	ConfirmationID string      `json:"confirmation_id,omitempty"`
	Approved       *bool       `json:"approved,omitempty"`
}

const (
	ActionResolveConfirmation = "resolve_confirmation"
	ActionPressButton         = "press_button"
)

// FromGateEvent converts a safety-gate event into its wire form.
func FromGateEvent(evt gate.Event) any {
	ts := evt.At.UnixMilli()
	if evt.Type == gate.EventPending {
		return ConfirmationPending{
			Type:      TypeConfirmationPending,
			ID:        evt.Request.ID,
			ToolName:  evt.Request.ToolName,
			Summary:   evt.Request.Summary,
			ExpiresAt: evt.Request.ExpiresAt,
			TSMs:      ts,
		}
	}
	return ConfirmationResolved{
		Type:       TypeConfirmationResolved,
		ID:         evt.Request.ID,
		ToolName:   evt.Request.ToolName,
		Resolution: string(evt.Resolution),
		TSMs:       ts,
	}
}

// ParseClientMessage decodes and validates one client websocket frame.
func ParseClientMessage(raw []byte) (ClientControl, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return ClientControl{}, fmt.Errorf("invalid envelope: %w", err)
	}
	if env.Type != TypeClientControl {
		return ClientControl{}, fmt.Errorf("%w: %q", ErrUnsupportedType, env.Type)
	}

	var msg ClientControl
	if err := json.Unmarshal(raw, &msg); err != nil {
		return ClientControl{}, err
	}
	switch msg.Action {
	case ActionResolveConfirmation:
		if msg.ConfirmationID == "" || msg.Approved == nil {
			return ClientControl{}, errors.New("resolve_confirmation requires confirmation_id and approved")
		}
	case ActionPressButton:
	default:
		return ClientControl{}, fmt.Errorf("unknown action %q", msg.Action)
	}
	return msg, nil
}
