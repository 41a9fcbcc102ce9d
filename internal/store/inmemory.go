package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// InMemoryStore is a simple in-process store for local/dev use.
type InMemoryStore struct {
	mu            sync.RWMutex
	cache         map[string]CacheEntry
	facts         map[string]map[string]Fact
	turns         map[string][]Turn
	confirmations map[string]ConfirmationRecord
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		cache:         make(map[string]CacheEntry),
		facts:         make(map[string]map[string]Fact),
		turns:         make(map[string][]Turn),
		confirmations: make(map[string]ConfirmationRecord),
	}
}

func (s *InMemoryStore) UpsertCacheEntry(_ context.Context, entry CacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.cache[entry.Key]; ok && prev.FetchedAt.After(entry.FetchedAt) {
		// Never accept an older fetch over a newer one.
		return nil
	}
	s.cache[entry.Key] = entry
	return nil
}

func (s *InMemoryStore) GetCacheEntry(_ context.Context, key string) (CacheEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.cache[key]
	if !ok {
		return CacheEntry{}, ErrNotFound
	}
	return entry, nil
}

func (s *InMemoryStore) DeleteCacheEntries(_ context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.cache {
		if strings.HasPrefix(k, prefix) {
			delete(s.cache, k)
		}
	}
	return nil
}

func (s *InMemoryStore) UpsertFact(_ context.Context, fact Fact) error {
	if fact.UpdatedAt.IsZero() {
		fact.UpdatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	scoped, ok := s.facts[fact.Scope]
	if !ok {
		scoped = make(map[string]Fact)
		s.facts[fact.Scope] = scoped
	}
	scoped[fact.Key] = fact
	return nil
}

func (s *InMemoryStore) GetFact(_ context.Context, scope, key string) (Fact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fact, ok := s.facts[scope][key]
	if !ok {
		return Fact{}, ErrNotFound
	}
	return fact, nil
}

func (s *InMemoryStore) ListFacts(_ context.Context, scope string) ([]Fact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	scoped := s.facts[scope]
	out := make([]Fact, 0, len(scoped))
	for _, f := range scoped {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *InMemoryStore) InvalidateFact(_ context.Context, scope, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	scoped, ok := s.facts[scope]
	if !ok {
		return ErrNotFound
	}
	if _, ok := scoped[key]; !ok {
		return ErrNotFound
	}
	delete(scoped, key)
	return nil
}

func (s *InMemoryStore) AppendTurn(_ context.Context, turn Turn) error {
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	log := s.turns[turn.SessionID]
	if turn.Index != len(log) {
		return ErrTurnOutOfSync
	}
	s.turns[turn.SessionID] = append(log, turn)
	return nil
}

func (s *InMemoryStore) ListTurns(_ context.Context, sessionID string) ([]Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log := s.turns[sessionID]
	out := make([]Turn, len(log))
	copy(out, log)
	return out, nil
}

func (s *InMemoryStore) NextTurnIndex(_ context.Context, sessionID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns[sessionID]), nil
}

func (s *InMemoryStore) SaveConfirmation(_ context.Context, rec ConfirmationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.confirmations[rec.ToolCallID] = rec
	return nil
}

// Confirmation returns a saved confirmation record, for inspection in tests
// and the history API.
func (s *InMemoryStore) Confirmation(toolCallID string) (ConfirmationRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.confirmations[toolCallID]
	return rec, ok
}

func (s *InMemoryStore) Close() error { return nil }
