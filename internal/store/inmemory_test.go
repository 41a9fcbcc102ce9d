package store

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestCacheEntryLastWriterWins(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	newer := CacheEntry{Key: "ci|repo", Payload: json.RawMessage(`"new"`), FetchedAt: now, TTL: time.Minute}
	older := CacheEntry{Key: "ci|repo", Payload: json.RawMessage(`"old"`), FetchedAt: now.Add(-10 * time.Second), TTL: time.Minute}

	if err := s.UpsertCacheEntry(ctx, newer); err != nil {
		t.Fatalf("UpsertCacheEntry(newer) error = %v", err)
	}
	if err := s.UpsertCacheEntry(ctx, older); err != nil {
		t.Fatalf("UpsertCacheEntry(older) error = %v", err)
	}

	got, err := s.GetCacheEntry(ctx, "ci|repo")
	if err != nil {
		t.Fatalf("GetCacheEntry() error = %v", err)
	}
	if string(got.Payload) != `"new"` {
		t.Fatalf("payload = %s, want %q (older fetch must not overwrite)", got.Payload, "new")
	}
}

func TestCacheEntryExpiry(t *testing.T) {
	now := time.Now().UTC()
	entry := CacheEntry{FetchedAt: now, TTL: 60 * time.Second}
	if entry.Expired(now.Add(10 * time.Second)) {
		t.Fatalf("Expired(+10s) = true, want false")
	}
	if !entry.Expired(now.Add(70 * time.Second)) {
		t.Fatalf("Expired(+70s) = false, want true")
	}
}

func TestDeleteCacheEntriesByPrefix(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()
	for _, key := range []string{"pulls|repoA", "pulls|repoA|5", "runs|repoA"} {
		if err := s.UpsertCacheEntry(ctx, CacheEntry{Key: key, Payload: json.RawMessage(`{}`), FetchedAt: now, TTL: time.Minute}); err != nil {
			t.Fatalf("UpsertCacheEntry(%q) error = %v", key, err)
		}
	}

	if err := s.DeleteCacheEntries(ctx, "pulls|repoA"); err != nil {
		t.Fatalf("DeleteCacheEntries() error = %v", err)
	}
	if _, err := s.GetCacheEntry(ctx, "pulls|repoA"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetCacheEntry(pulls|repoA) error = %v, want ErrNotFound", err)
	}
	if _, err := s.GetCacheEntry(ctx, "runs|repoA"); err != nil {
		t.Fatalf("GetCacheEntry(runs|repoA) error = %v, want nil", err)
	}
}

func TestFactUpsertLatestWins(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	if err := s.UpsertFact(ctx, Fact{Scope: "repoA", Key: "auth-mechanism", Value: "JWT"}); err != nil {
		t.Fatalf("UpsertFact() error = %v", err)
	}
	if err := s.UpsertFact(ctx, Fact{Scope: "repoA", Key: "auth-mechanism", Value: "OAuth2"}); err != nil {
		t.Fatalf("UpsertFact() second error = %v", err)
	}

	fact, err := s.GetFact(ctx, "repoA", "auth-mechanism")
	if err != nil {
		t.Fatalf("GetFact() error = %v", err)
	}
	if fact.Value != "OAuth2" {
		t.Fatalf("fact.Value = %q, want %q", fact.Value, "OAuth2")
	}

	facts, err := s.ListFacts(ctx, "repoA")
	if err != nil {
		t.Fatalf("ListFacts() error = %v", err)
	}
	if len(facts) != 1 {
		t.Fatalf("len(facts) = %d, want 1", len(facts))
	}
}

func TestInvalidateFact(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	if err := s.UpsertFact(ctx, Fact{Scope: "repoA", Key: "db", Value: "postgres"}); err != nil {
		t.Fatalf("UpsertFact() error = %v", err)
	}
	if err := s.InvalidateFact(ctx, "repoA", "db"); err != nil {
		t.Fatalf("InvalidateFact() error = %v", err)
	}
	if _, err := s.GetFact(ctx, "repoA", "db"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetFact() after invalidate error = %v, want ErrNotFound", err)
	}
	if err := s.InvalidateFact(ctx, "repoA", "db"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("InvalidateFact() repeat error = %v, want ErrNotFound", err)
	}
}

func TestAppendTurnEnforcesSequence(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	if err := s.AppendTurn(ctx, Turn{SessionID: "s1", Index: 0, Speaker: SpeakerUser, Content: "hi"}); err != nil {
		t.Fatalf("AppendTurn(0) error = %v", err)
	}
	if err := s.AppendTurn(ctx, Turn{SessionID: "s1", Index: 2, Speaker: SpeakerAgent, Content: "skip"}); !errors.Is(err, ErrTurnOutOfSync) {
		t.Fatalf("AppendTurn(2) error = %v, want ErrTurnOutOfSync", err)
	}
	if err := s.AppendTurn(ctx, Turn{SessionID: "s1", Index: 1, Speaker: SpeakerAgent, Content: "hello"}); err != nil {
		t.Fatalf("AppendTurn(1) error = %v", err)
	}

	next, err := s.NextTurnIndex(ctx, "s1")
	if err != nil {
		t.Fatalf("NextTurnIndex() error = %v", err)
	}
	if next != 2 {
		t.Fatalf("NextTurnIndex() = %d, want 2", next)
	}
}

func TestConcurrentSessionLogsStayOrdered(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	const perSession = 50

	var wg sync.WaitGroup
	for _, sessionID := range []string{"standup", "context-keeper"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for i := 0; i < perSession; i++ {
				if err := s.AppendTurn(ctx, Turn{SessionID: id, Index: i, Speaker: SpeakerUser, Content: id}); err != nil {
					t.Errorf("AppendTurn(%s, %d) error = %v", id, i, err)
					return
				}
			}
		}(sessionID)
	}
	wg.Wait()

	for _, sessionID := range []string{"standup", "context-keeper"} {
		turns, err := s.ListTurns(ctx, sessionID)
		if err != nil {
			t.Fatalf("ListTurns(%s) error = %v", sessionID, err)
		}
		if len(turns) != perSession {
			t.Fatalf("len(turns) for %s = %d, want %d", sessionID, len(turns), perSession)
		}
		for i, turn := range turns {
			if turn.Index != i {
				t.Fatalf("%s turn %d has index %d, want %d", sessionID, i, turn.Index, i)
			}
			if turn.Content != sessionID {
				t.Fatalf("%s turn %d content = %q (interleaved)", sessionID, i, turn.Content)
			}
		}
	}
}
