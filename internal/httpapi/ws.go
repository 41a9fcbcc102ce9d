package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/samueltauil/devdash/internal/agent"
	"github.com/samueltauil/devdash/internal/gate"
	"github.com/samueltauil/devdash/internal/protocol"
)

// handleEventsWS streams turn and confirmation events to the device UI and
// accepts control frames (confirmation actions, simulated button edges).
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sessionEvents, cancelSessions := s.manager.Subscribe()
	defer cancelSessions()
	gateEvents, cancelGate := s.gate.Subscribe()
	defer cancelGate()

	outbound := make(chan any, 256)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-sessionEvents:
				if !ok {
					return
				}
				queue(outbound, fromSessionEvent(evt))
			case evt, ok := <-gateEvents:
				if !ok {
					return
				}
				queue(outbound, protocol.FromGateEvent(evt))
			}
		}
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-outbound:
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		msg, err := protocol.ParseClientMessage(data)
		if err != nil {
			queue(outbound, protocol.ErrorEvent{
				Type:   protocol.TypeErrorEvent,
				Code:   "invalid_client_message",
				Detail: err.Error(),
				TSMs:   time.Now().UnixMilli(),
			})
			continue
		}
		s.applyControl(msg)
	}

	cancel()
	<-writerDone
}

func (s *Server) applyControl(msg protocol.ClientControl) {
	switch msg.Action {
	case protocol.ActionResolveConfirmation:
		resolution := gate.ResolutionDenied
		if msg.Approved != nil && *msg.Approved {
			resolution = gate.ResolutionApproved
		}
		s.gate.Resolve(msg.ConfirmationID, resolution)
	case protocol.ActionPressButton:
		if s.button != nil {
			s.button.Press()
		}
	}
}

func fromSessionEvent(evt agent.Event) any {
	if evt.Type == agent.EventTurnFailed {
		return protocol.TurnFailed{
			Type:   protocol.TypeTurnFailed,
			Role:   evt.Role,
			Detail: evt.Error,
			TSMs:   evt.At.UnixMilli(),
		}
	}
	return protocol.TurnAppended{
		Type: protocol.TypeTurnAppended,
		Role: evt.Role,
		Turn: evt.Turn,
		TSMs: evt.At.UnixMilli(),
	}
}

// queue drops the event when the outbound buffer is saturated so websocket
// writes stay single-threaded and resolution never blocks on a slow UI.
func queue(outbound chan<- any, msg any) {
	select {
	case outbound <- msg:
	default:
	}
}
