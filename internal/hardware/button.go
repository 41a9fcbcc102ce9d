package hardware

import (
	"sync"
	"time"
)

// ConfirmSource delivers physical confirmation edges.
type ConfirmSource interface {
	Presses() <-chan time.Time
	Close() error
}

// SimulatedButton is a desktop stand-in for the GPIO confirmation button,
// driven by an HTTP endpoint. Edges within the debounce window are dropped.
type SimulatedButton struct {
	mu        sync.Mutex
	presses   chan time.Time
	debounce  time.Duration
	lastPress time.Time
	closed    bool
	now       func() time.Time
}

func NewSimulatedButton(debounce time.Duration) *SimulatedButton {
	if debounce <= 0 {
		debounce = 200 * time.Millisecond
	}
	return &SimulatedButton{
		presses:  make(chan time.Time, 8),
		debounce: debounce,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Press records one edge. It reports whether the edge was accepted.
func (b *SimulatedButton) Press() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	now := b.now()
	if !b.lastPress.IsZero() && now.Sub(b.lastPress) < b.debounce {
		return false
	}
	b.lastPress = now
	select {
	case b.presses <- now:
		return true
	default:
		return false
	}
}

func (b *SimulatedButton) Presses() <-chan time.Time {
	return b.presses
}

func (b *SimulatedButton) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	close(b.presses)
	return nil
}
