package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/samueltauil/devdash/internal/completion"
	"github.com/samueltauil/devdash/internal/gate"
	"github.com/samueltauil/devdash/internal/observability"
	"github.com/samueltauil/devdash/internal/policy"
	"github.com/samueltauil/devdash/internal/store"
	"github.com/samueltauil/devdash/internal/tool"
)

var (
	// ErrSessionBusy rejects a submit while another turn is in flight.
	ErrSessionBusy = errors.New("session busy")
	// ErrToolLoopExceeded aborts a turn whose tool loop never converged.
	ErrToolLoopExceeded = errors.New("tool loop exceeded")
	// ErrUnknownRole rejects a role name without a profile.
	ErrUnknownRole = errors.New("unknown agent role")
)

// EventType distinguishes session events on the UI stream.
type EventType string

const (
	EventTurnAppended EventType = "turn.appended"
	EventTurnFailed   EventType = "turn.failed"
)

// Event is published to subscribers whenever a session log changes.
type Event struct {
	Type  EventType  `json:"type"`
	Role  string     `json:"role"`
	Turn  store.Turn `json:"turn,omitempty"`
	Error string     `json:"error,omitempty"`
	At    time.Time  `json:"at"`
}

// Info is a point-in-time snapshot of one session.
type Info struct {
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Busy      bool      `json:"busy"`
	StartedAt time.Time `json:"started_at"`
	LastTurn  time.Time `json:"last_turn_at"`
}

// Reply is the terminal answer of one submitted turn.
type Reply struct {
	SessionID string `json:"session_id"`
	Role      string `json:"role"`
	TurnIndex int    `json:"turn_index"`
	Text      string `json:"text"`
}

type session struct {
	id        string
	role      Role
	busy      bool
	startedAt time.Time
	lastTurn  time.Time
}

// Config bounds the turn loop.
type Config struct {
	MaxToolRounds int
}

// Manager owns one session per agent role and serializes turns within each.
type Manager struct {
	mu          sync.Mutex
	sessions    map[string]*session
	roles       map[string]Role
	subscribers map[int]chan Event
	nextSubID   int

	maxToolRounds int
	store         store.Store
	registry      *tool.Registry
	adapter       completion.Adapter
	gate          *gate.Gate
	metrics       *observability.Metrics
	now           func() time.Time
}

func NewManager(cfg Config, roles map[string]Role, st store.Store, reg *tool.Registry, adapter completion.Adapter, g *gate.Gate, metrics *observability.Metrics) *Manager {
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = 5
	}
	return &Manager{
		sessions:      make(map[string]*session),
		roles:         roles,
		subscribers:   make(map[int]chan Event),
		maxToolRounds: cfg.MaxToolRounds,
		store:         st,
		registry:      reg,
		adapter:       adapter,
		gate:          g,
		metrics:       metrics,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Subscribe returns a channel of session events and a cancel func. Slow
// subscribers drop events rather than blocking the turn loop.
func (m *Manager) Subscribe() (<-chan Event, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSubID
	m.nextSubID++
	ch := make(chan Event, 64)
	m.subscribers[id] = ch
	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if sub, ok := m.subscribers[id]; ok {
			delete(m.subscribers, id)
			close(sub)
		}
	}
}

// GetOrCreate returns the live session for a role, creating it on first use.
func (m *Manager) GetOrCreate(roleName string) (Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.getOrCreateLocked(roleName)
	if err != nil {
		return Info{}, err
	}
	return infoOf(s), nil
}

// Terminate drops a role's session. The next submit starts a fresh log.
func (m *Manager) Terminate(roleName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[roleName]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownRole, roleName)
	}
	if _, ok := m.sessions[roleName]; ok {
		delete(m.sessions, roleName)
		if m.metrics != nil {
			m.metrics.ActiveSessions.Dec()
		}
	}
	return nil
}

// History returns the persisted turn log of a role's current session.
func (m *Manager) History(ctx context.Context, roleName string) ([]store.Turn, error) {
	m.mu.Lock()
	s, err := m.getOrCreateLocked(roleName)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	sessionID := s.id
	m.mu.Unlock()
	return m.store.ListTurns(ctx, sessionID)
}

// Roles lists the configured profiles.
func (m *Manager) Roles() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.roles))
	for name := range m.roles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Submit runs one full turn: persist the user input, drive the completion
// engine through a bounded tool loop, persist and return the final answer.
// A second submit while a turn is in flight fails with ErrSessionBusy.
func (m *Manager) Submit(ctx context.Context, roleName, input string) (Reply, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return Reply{}, fmt.Errorf("input is required")
	}

	m.mu.Lock()
	s, err := m.getOrCreateLocked(roleName)
	if err != nil {
		m.mu.Unlock()
		return Reply{}, err
	}
	if s.busy {
		m.mu.Unlock()
		return Reply{}, fmt.Errorf("%w: role %q", ErrSessionBusy, roleName)
	}
	s.busy = true
	sessionID := s.id
	role := s.role
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		if cur, ok := m.sessions[roleName]; ok && cur.id == sessionID {
			cur.busy = false
			cur.lastTurn = m.now()
		}
		m.mu.Unlock()
	}()

	started := m.now()
	reply, err := m.runTurn(ctx, sessionID, role, input)
	if err != nil {
		m.publish(Event{Type: EventTurnFailed, Role: role.Name, Error: err.Error(), At: m.now()})
		return Reply{}, err
	}
	if m.metrics != nil {
		m.metrics.TurnsTotal.WithLabelValues(role.Name).Inc()
		m.metrics.ObserveTurnLatency(m.now().Sub(started))
	}
	return reply, nil
}

func (m *Manager) runTurn(ctx context.Context, sessionID string, role Role, input string) (Reply, error) {
	redacted, _ := policy.RedactPII(input)
	if err := m.appendTurn(ctx, sessionID, role, store.SpeakerUser, redacted, nil); err != nil {
		return Reply{}, err
	}

	messages, err := m.buildConversation(ctx, sessionID, role)
	if err != nil {
		return Reply{}, err
	}
	specs := m.toolSpecs(role)

	for round := 0; ; round++ {
		completionStart := m.now()
		res, err := m.adapter.Send(ctx, completion.Request{Messages: messages, Tools: specs})
		if err != nil {
			return Reply{}, fmt.Errorf("completion: %w", err)
		}
		if m.metrics != nil {
			m.metrics.Stages.Observe(observability.StageCompletion, float64(m.now().Sub(completionStart).Milliseconds()))
		}

		if res.Final() {
			text := strings.TrimSpace(res.Text)
			idx, err := m.appendTurnIndexed(ctx, sessionID, role, store.SpeakerAgent, text, nil)
			if err != nil {
				return Reply{}, err
			}
			return Reply{SessionID: sessionID, Role: role.Name, TurnIndex: idx, Text: text}, nil
		}

		if round >= m.maxToolRounds {
			return Reply{}, fmt.Errorf("%w: %d rounds", ErrToolLoopExceeded, m.maxToolRounds)
		}

		roundStart := m.now()
		messages = append(messages, completion.Message{Role: "assistant", Content: renderToolCalls(res.ToolCalls)})
		for _, call := range res.ToolCalls {
			record := m.executeCall(ctx, role, call)
			if ctx.Err() != nil {
				// The turn is abandoned; the finished call's result is dropped.
				return Reply{}, ctx.Err()
			}
			content := record.Error
			if record.Outcome == "ok" {
				content = string(record.Result)
			}
			if err := m.appendTurn(ctx, sessionID, role, store.SpeakerTool, content, []store.ToolCallRecord{record}); err != nil {
				return Reply{}, err
			}
			messages = append(messages, completion.Message{Role: "tool", ToolCallID: record.ID, Content: content})
		}
		if m.metrics != nil {
			m.metrics.Stages.Observe(observability.StageToolRound, float64(m.now().Sub(roundStart).Milliseconds()))
		}
	}
}

// executeCall resolves one tool call into a record: allowlist, sensitivity
// policy, safety gate, then registry invocation. Every failure is recoverable
// and feeds back into the conversation instead of aborting the turn.
func (m *Manager) executeCall(ctx context.Context, role Role, call completion.ToolCall) store.ToolCallRecord {
	record := store.ToolCallRecord{
		ID:   call.ID,
		Name: call.Name,
		Args: call.Args,
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}

	def, known := m.registry.Lookup(call.Name)
	record.Sensitive = known && def.Sensitive

	if !role.Allows(call.Name) {
		record.Outcome = "forbidden"
		record.Error = fmt.Sprintf("tool %q is not available to the %s agent", call.Name, role.Name)
		m.observeTool(call.Name, record.Outcome)
		return record
	}

	decision := policy.DecideToolCall(call.Name, record.Sensitive, string(call.Args), role.overrideFor(call.Name))
	if decision.Blocked {
		record.Outcome = "blocked"
		record.Error = decision.Reason
		m.observeTool(call.Name, record.Outcome)
		return record
	}
	if decision.RequiresConfirmation && m.gate != nil {
		gateStart := m.now()
		err := m.gate.Require(ctx, record.ID, call.Name, policy.SummarizeCall(call.Name, string(call.Args)))
		if m.metrics != nil {
			m.metrics.Stages.Observe(observability.StageGateWait, float64(m.now().Sub(gateStart).Milliseconds()))
		}
		switch {
		case errors.Is(err, gate.ErrConfirmationDenied):
			record.Outcome = "denied"
			record.Error = "the operator denied this action"
			m.observeTool(call.Name, record.Outcome)
			return record
		case errors.Is(err, gate.ErrConfirmationExpired):
			record.Outcome = "expired"
			record.Error = "the confirmation window expired before the operator responded"
			m.observeTool(call.Name, record.Outcome)
			return record
		case err != nil:
			record.Outcome = "error"
			record.Error = err.Error()
			m.observeTool(call.Name, record.Outcome)
			return record
		}
	}

	result, err := m.registry.Invoke(tool.WithMemoryScope(ctx, role.MemoryScope), call.Name, call.Args)
	if err != nil {
		record.Outcome = "error"
		record.Error = err.Error()
		m.observeTool(call.Name, record.Outcome)
		return record
	}
	record.Outcome = "ok"
	record.Result = result
	m.observeTool(call.Name, record.Outcome)
	return record
}

func (m *Manager) buildConversation(ctx context.Context, sessionID string, role Role) ([]completion.Message, error) {
	messages := []completion.Message{{Role: "system", Content: role.SystemPrompt}}

	facts, err := m.store.ListFacts(ctx, role.MemoryScope)
	if err != nil {
		return nil, fmt.Errorf("load facts: %w", err)
	}
	if len(facts) > 0 {
		var b strings.Builder
		b.WriteString("Known facts:\n")
		for _, fact := range facts {
			fmt.Fprintf(&b, "- %s: %s\n", fact.Key, fact.Value)
		}
		messages = append(messages, completion.Message{Role: "system", Content: b.String()})
	}

	turns, err := m.store.ListTurns(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load turns: %w", err)
	}
	for _, turn := range turns {
		switch turn.Speaker {
		case store.SpeakerUser:
			messages = append(messages, completion.Message{Role: "user", Content: turn.Content})
		case store.SpeakerAgent:
			messages = append(messages, completion.Message{Role: "assistant", Content: turn.Content})
		case store.SpeakerTool:
			id := ""
			if len(turn.ToolCalls) > 0 {
				id = turn.ToolCalls[0].ID
			}
			messages = append(messages, completion.Message{Role: "tool", ToolCallID: id, Content: turn.Content})
		}
	}
	return messages, nil
}

func (m *Manager) toolSpecs(role Role) []completion.ToolSpec {
	defs := m.registry.Definitions(role.Tools)
	specs := make([]completion.ToolSpec, 0, len(defs))
	for _, def := range defs {
		specs = append(specs, completion.ToolSpec{
			Name:        def.Name,
			Description: def.Description,
			Schema:      def.Schema,
		})
	}
	return specs
}

func (m *Manager) appendTurn(ctx context.Context, sessionID string, role Role, speaker store.Speaker, content string, calls []store.ToolCallRecord) error {
	_, err := m.appendTurnIndexed(ctx, sessionID, role, speaker, content, calls)
	return err
}

func (m *Manager) appendTurnIndexed(ctx context.Context, sessionID string, role Role, speaker store.Speaker, content string, calls []store.ToolCallRecord) (int, error) {
	idx, err := m.store.NextTurnIndex(ctx, sessionID)
	if err != nil {
		return 0, fmt.Errorf("next turn index: %w", err)
	}
	turn := store.Turn{
		SessionID: sessionID,
		Index:     idx,
		Speaker:   speaker,
		Content:   content,
		ToolCalls: calls,
		CreatedAt: m.now(),
	}
	if err := m.store.AppendTurn(ctx, turn); err != nil {
		return 0, fmt.Errorf("append turn: %w", err)
	}
	m.publish(Event{Type: EventTurnAppended, Role: role.Name, Turn: turn, At: turn.CreatedAt})
	return idx, nil
}

func (m *Manager) getOrCreateLocked(roleName string) (*session, error) {
	role, ok := m.roles[roleName]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRole, roleName)
	}
	if s, ok := m.sessions[roleName]; ok {
		return s, nil
	}
	now := m.now()
	s := &session{
		id:        role.Name + "-" + uuid.NewString(),
		role:      role,
		startedAt: now,
		lastTurn:  now,
	}
	m.sessions[roleName] = s
	if m.metrics != nil {
		m.metrics.ActiveSessions.Inc()
	}
	return s, nil
}

// StartJanitor recycles idle non-persistent sessions. The context keeper is
// never expired.
func (m *Manager) StartJanitor(ctx context.Context, interval, maxIdle time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if maxIdle <= 0 {
		maxIdle = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireIdle(maxIdle)
			}
		}
	}()
}

func (m *Manager) expireIdle(maxIdle time.Duration) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for roleName, s := range m.sessions {
		if s.role.Persistent || s.busy {
			continue
		}
		if now.Sub(s.lastTurn) < maxIdle {
			continue
		}
		delete(m.sessions, roleName)
		if m.metrics != nil {
			m.metrics.ActiveSessions.Dec()
		}
	}
}

func (m *Manager) publish(evt Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subscribers {
		select {
		case ch <- evt:
		default:
		}
	}
}

func (m *Manager) observeTool(name, outcome string) {
	if m.metrics != nil {
		m.metrics.ToolInvocations.WithLabelValues(name, outcome).Inc()
	}
}

func infoOf(s *session) Info {
	return Info{
		SessionID: s.id,
		Role:      s.role.Name,
		Busy:      s.busy,
		StartedAt: s.startedAt,
		LastTurn:  s.lastTurn,
	}
}

func renderToolCalls(calls []completion.ToolCall) string {
	out, err := json.Marshal(calls)
	if err != nil {
		// Keep the tool names visible in the conversation even when the
		// raw arguments cannot be rendered.
		names := make([]string, 0, len(calls))
		for _, call := range calls {
			names = append(names, call.Name)
		}
		return fmt.Sprintf("requested tools: %s", strings.Join(names, ", "))
	}
	return string(out)
}
