package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists companion state in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS cache_entries (
			key TEXT PRIMARY KEY,
			payload JSONB NOT NULL,
			fetched_at TIMESTAMPTZ NOT NULL,
			ttl_seconds BIGINT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS memory_facts (
			scope TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (scope, key)
		);`,
		`CREATE TABLE IF NOT EXISTS turns (
			session_id TEXT NOT NULL,
			turn_index INTEGER NOT NULL,
			speaker TEXT NOT NULL,
			content TEXT NOT NULL,
			tool_calls JSONB NULL,
			created_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (session_id, turn_index)
		);`,
		`CREATE TABLE IF NOT EXISTS confirmations (
			tool_call_id TEXT PRIMARY KEY,
			tool_name TEXT NOT NULL,
			status TEXT NOT NULL,
			issued_at TIMESTAMPTZ NOT NULL,
			resolved_at TIMESTAMPTZ NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_turns_session ON turns (session_id, turn_index);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) UpsertCacheEntry(ctx context.Context, entry CacheEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO cache_entries (key, payload, fetched_at, ttl_seconds)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (key) DO UPDATE SET
			payload=EXCLUDED.payload,
			fetched_at=EXCLUDED.fetched_at,
			ttl_seconds=EXCLUDED.ttl_seconds
		 WHERE cache_entries.fetched_at <= EXCLUDED.fetched_at`,
		entry.Key, entry.Payload, entry.FetchedAt, int64(entry.TTL/time.Second),
	)
	if err != nil {
		return fmt.Errorf("upsert cache entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetCacheEntry(ctx context.Context, key string) (CacheEntry, error) {
	var (
		entry      CacheEntry
		ttlSeconds int64
	)
	err := s.pool.QueryRow(ctx,
		`SELECT key, payload, fetched_at, ttl_seconds FROM cache_entries WHERE key=$1`,
		key,
	).Scan(&entry.Key, &entry.Payload, &entry.FetchedAt, &ttlSeconds)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CacheEntry{}, ErrNotFound
		}
		return CacheEntry{}, fmt.Errorf("get cache entry: %w", err)
	}
	entry.TTL = time.Duration(ttlSeconds) * time.Second
	return entry, nil
}

func (s *PostgresStore) DeleteCacheEntries(ctx context.Context, prefix string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM cache_entries WHERE key LIKE $1 || '%'`, prefix)
	if err != nil {
		return fmt.Errorf("delete cache entries: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpsertFact(ctx context.Context, fact Fact) error {
	if fact.UpdatedAt.IsZero() {
		fact.UpdatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO memory_facts (scope, key, value, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (scope, key) DO UPDATE SET
			value=EXCLUDED.value,
			updated_at=EXCLUDED.updated_at`,
		fact.Scope, fact.Key, fact.Value, fact.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert fact: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetFact(ctx context.Context, scope, key string) (Fact, error) {
	var fact Fact
	err := s.pool.QueryRow(ctx,
		`SELECT scope, key, value, updated_at FROM memory_facts WHERE scope=$1 AND key=$2`,
		scope, key,
	).Scan(&fact.Scope, &fact.Key, &fact.Value, &fact.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Fact{}, ErrNotFound
		}
		return Fact{}, fmt.Errorf("get fact: %w", err)
	}
	return fact, nil
}

func (s *PostgresStore) ListFacts(ctx context.Context, scope string) ([]Fact, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT scope, key, value, updated_at FROM memory_facts WHERE scope=$1 ORDER BY key`,
		scope,
	)
	if err != nil {
		return nil, fmt.Errorf("list facts: %w", err)
	}
	defer rows.Close()

	var out []Fact
	for rows.Next() {
		var f Fact
		if err := rows.Scan(&f.Scope, &f.Key, &f.Value, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan fact row: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fact rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) InvalidateFact(ctx context.Context, scope, key string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM memory_facts WHERE scope=$1 AND key=$2`, scope, key)
	if err != nil {
		return fmt.Errorf("invalidate fact: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) AppendTurn(ctx context.Context, turn Turn) error {
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	var toolCalls []byte
	if len(turn.ToolCalls) > 0 {
		var err error
		toolCalls, err = json.Marshal(turn.ToolCalls)
		if err != nil {
			return fmt.Errorf("encode tool calls: %w", err)
		}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO turns (session_id, turn_index, speaker, content, tool_calls, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		turn.SessionID, turn.Index, string(turn.Speaker), turn.Content, toolCalls, turn.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListTurns(ctx context.Context, sessionID string) ([]Turn, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT session_id, turn_index, speaker, content, tool_calls, created_at
		 FROM turns WHERE session_id=$1 ORDER BY turn_index`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	defer rows.Close()

	var out []Turn
	for rows.Next() {
		var (
			t         Turn
			speaker   string
			toolCalls []byte
		)
		if err := rows.Scan(&t.SessionID, &t.Index, &speaker, &t.Content, &toolCalls, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		t.Speaker = Speaker(speaker)
		if len(toolCalls) > 0 {
			if err := json.Unmarshal(toolCalls, &t.ToolCalls); err != nil {
				return nil, fmt.Errorf("decode tool calls: %w", err)
			}
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turn rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) NextTurnIndex(ctx context.Context, sessionID string) (int, error) {
	var next int
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(turn_index)+1, 0) FROM turns WHERE session_id=$1`,
		sessionID,
	).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("next turn index: %w", err)
	}
	return next, nil
}

func (s *PostgresStore) SaveConfirmation(ctx context.Context, rec ConfirmationRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO confirmations (tool_call_id, tool_name, status, issued_at, resolved_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (tool_call_id) DO UPDATE SET
			status=EXCLUDED.status,
			resolved_at=EXCLUDED.resolved_at`,
		rec.ToolCallID, rec.ToolName, string(rec.Status), rec.IssuedAt, rec.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("save confirmation: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
