// Package postgres stores conversation turns in PostgreSQL through pgx.
package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"parley/pkg/history"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversation_turns (
	id BIGSERIAL PRIMARY KEY,
	session_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_conversation_turns_session
	ON conversation_turns (session_id, created_at);
`

type Store struct {
	pool *pgxpool.Pool
}

var (
	_ history.TurnReader = (*Store)(nil)
	_ history.TurnWriter = (*Store)(nil)
)

func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Migrate creates the turns table when missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("creating conversation_turns: %w", err)
	}
	return nil
}

func (s *Store) AppendTurn(ctx context.Context, sessionID string, turn history.Turn) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}
	at := turn.CreatedAt
	if at.IsZero() {
		at = time.Now()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO conversation_turns (session_id, role, content, created_at)
		VALUES ($1, $2, $3, $4)
	`, sessionID, string(turn.Role), turn.Content, at.UTC())
	if err != nil {
		return fmt.Errorf("inserting turn: %w", err)
	}
	return nil
}

// ReadTurns returns the latest limit turns oldest first; limit <= 0 reads all.
func (s *Store) ReadTurns(ctx context.Context, sessionID string, limit int) ([]history.Turn, error) {
	query := `
		SELECT role, content, created_at FROM (
			SELECT id, role, content, created_at
			FROM conversation_turns
			WHERE session_id = $1 AND lower(trim(role)) IN ('user', 'assistant')
			ORDER BY created_at DESC, id DESC`
	args := []any{strings.TrimSpace(sessionID)}

	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	query += `
		) recent ORDER BY created_at ASC, id ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying turns: %w", err)
	}
	defer rows.Close()

	var turns []history.Turn
	for rows.Next() {
		var (
			role string
			turn history.Turn
		)
		if err := rows.Scan(&role, &turn.Content, &turn.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning turn: %w", err)
		}
		turn.Role = history.Role(role)
		turn.CreatedAt = turn.CreatedAt.UTC()
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating turns: %w", err)
	}

	return turns, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
