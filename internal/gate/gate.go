package gate

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/samueltauil/devdash/internal/observability"
	"github.com/samueltauil/devdash/internal/store"
)

var (
	// ErrConfirmationDenied marks an explicit operator denial.
	ErrConfirmationDenied = errors.New("confirmation denied")
	// ErrConfirmationExpired marks a confirmation that timed out unanswered.
	ErrConfirmationExpired = errors.New("confirmation expired")
)

// Resolution is the terminal outcome of one confirmation request.
type Resolution string

const (
	ResolutionApproved Resolution = "approved"
	ResolutionDenied   Resolution = "denied"
	ResolutionExpired  Resolution = "expired"
)

// Request identifies one sensitive tool call awaiting operator confirmation.
type Request struct {
	ID        string    `json:"id"`
	ToolName  string    `json:"tool_name"`
	Summary   string    `json:"summary,omitempty"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// EventType distinguishes gate events on the UI stream.
type EventType string

const (
	EventPending  EventType = "confirmation.pending"
	EventResolved EventType = "confirmation.resolved"
)

// Event is published to subscribers on every gate state change.
type Event struct {
	Type       EventType  `json:"type"`
	Request    Request    `json:"request"`
	Resolution Resolution `json:"resolution,omitempty"`
	At         time.Time  `json:"at"`
}

type pendingConfirmation struct {
	req    Request
	result chan Resolution
	timer  *time.Timer
}

// Gate serializes operator approval of sensitive tool calls. Each request is
// resolved exactly once by the first of: hardware press, UI action, timeout.
type Gate struct {
	mu          sync.Mutex
	timeout     time.Duration
	store       store.Store
	metrics     *observability.Metrics
	pending     map[string]*pendingConfirmation
	order       []string
	subscribers map[int]chan Event
	nextSubID   int
	now         func() time.Time
}

func New(timeout time.Duration, st store.Store, metrics *observability.Metrics) *Gate {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Gate{
		timeout:     timeout,
		store:       st,
		metrics:     metrics,
		pending:     make(map[string]*pendingConfirmation),
		subscribers: make(map[int]chan Event),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Subscribe returns a channel of gate events and a cancel func. Slow
// subscribers drop events rather than blocking resolution.
func (g *Gate) Subscribe() (<-chan Event, func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.nextSubID
	g.nextSubID++
	ch := make(chan Event, 64)
	g.subscribers[id] = ch
	return ch, func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		if sub, ok := g.subscribers[id]; ok {
			delete(g.subscribers, id)
			close(sub)
		}
	}
}

// Require blocks until the request resolves. Approval returns nil; denial and
// expiry return their sentinel errors. Context cancellation abandons the
// request, expiring it so a later press cannot approve it.
func (g *Gate) Require(ctx context.Context, toolCallID, toolName, summary string) error {
	id := toolCallID
	if id == "" {
		id = uuid.NewString()
	}
	now := g.now()
	req := Request{
		ID:        id,
		ToolName:  toolName,
		Summary:   summary,
		IssuedAt:  now,
		ExpiresAt: now.Add(g.timeout),
	}
	p := &pendingConfirmation{
		req:    req,
		result: make(chan Resolution, 1),
	}

	// The pending row must exist before the request becomes resolvable,
	// otherwise a fast resolution's async save could be overwritten and
	// leave the audit row pending forever.
	g.savePending(ctx, store.ConfirmationRecord{
		ToolCallID: id,
		ToolName:   toolName,
		Status:     store.ConfirmationPending,
		IssuedAt:   now,
	})

	g.mu.Lock()
	g.pending[id] = p
	g.order = append(g.order, id)
	p.timer = time.AfterFunc(g.timeout, func() {
		g.Resolve(id, ResolutionExpired)
	})
	g.publishLocked(Event{Type: EventPending, Request: req, At: now})
	g.mu.Unlock()

	select {
	case res := <-p.result:
		switch res {
		case ResolutionApproved:
			return nil
		case ResolutionDenied:
			return ErrConfirmationDenied
		default:
			return ErrConfirmationExpired
		}
	case <-ctx.Done():
		g.Resolve(id, ResolutionExpired)
		return ctx.Err()
	}
}

// Resolve applies a resolution to a pending request. Unknown or already
// resolved requests are a no-op, so a stale hardware edge cannot approve a
// later call.
func (g *Gate) Resolve(id string, res Resolution) bool {
	g.mu.Lock()
	p, ok := g.pending[id]
	if !ok {
		g.mu.Unlock()
		return false
	}
	delete(g.pending, id)
	g.removeOrderLocked(id)
	if p.timer != nil {
		p.timer.Stop()
	}
	now := g.now()
	g.publishLocked(Event{Type: EventResolved, Request: p.req, Resolution: res, At: now})
	g.mu.Unlock()

	p.result <- res

	if g.metrics != nil {
		g.metrics.ConfirmationsTotal.WithLabelValues(string(res)).Inc()
	}
	g.persistConfirmation(store.ConfirmationRecord{
		ToolCallID: p.req.ID,
		ToolName:   p.req.ToolName,
		Status:     statusFor(res),
		IssuedAt:   p.req.IssuedAt,
		ResolvedAt: &now,
	})
	return true
}

// HandlePress approves the oldest pending request. A press with nothing
// pending does nothing.
func (g *Gate) HandlePress() bool {
	g.mu.Lock()
	var id string
	if len(g.order) > 0 {
		id = g.order[0]
	}
	g.mu.Unlock()
	if id == "" {
		return false
	}
	return g.Resolve(id, ResolutionApproved)
}

// Pending returns a snapshot of requests still awaiting resolution.
func (g *Gate) Pending() []Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Request, 0, len(g.order))
	for _, id := range g.order {
		if p, ok := g.pending[id]; ok {
			out = append(out, p.req)
		}
	}
	return out
}

func (g *Gate) removeOrderLocked(id string) {
	for i, existing := range g.order {
		if existing == id {
			g.order = append(g.order[:i], g.order[i+1:]...)
			return
		}
	}
}

func (g *Gate) publishLocked(evt Event) {
	for _, ch := range g.subscribers {
		select {
		case ch <- evt:
		default:
		}
	}
}

func (g *Gate) savePending(ctx context.Context, rec store.ConfirmationRecord) {
	if g.store == nil {
		return
	}
	saveCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_ = g.store.SaveConfirmation(saveCtx, rec)
}

// persistConfirmation writes terminal statuses off the resolution path. The
// pending row is already on disk by the time any resolution can run, so the
// async update can only move pending to a terminal status.
func (g *Gate) persistConfirmation(rec store.ConfirmationRecord) {
	if g.store == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = g.store.SaveConfirmation(ctx, rec)
	}()
}

func statusFor(res Resolution) store.ConfirmationStatus {
	switch res {
	case ResolutionApproved:
		return store.ConfirmationApproved
	case ResolutionDenied:
		return store.ConfirmationDenied
	default:
		return store.ConfirmationExpired
	}
}
