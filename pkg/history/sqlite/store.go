// Package sqlite stores conversation turns in a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"parley/pkg/history"
)

// Store implements history.TurnReader and history.TurnWriter.
type Store struct {
	db *sql.DB
}

var (
	_ history.TurnReader = (*Store)(nil)
	_ history.TurnWriter = (*Store)(nil)
)

// New opens (or creates) the database at path and applies the schema.
// Use ":memory:" for an ephemeral store.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if path == ":memory:" {
		// Each pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS conversation_turns (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at_ns INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversation_turns_session
			ON conversation_turns(session_id, created_at_ns)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
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

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversation_turns (session_id, role, content, created_at_ns) VALUES (?, ?, ?, ?)`,
		sessionID, string(turn.Role), turn.Content, at.UTC().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("inserting turn: %w", err)
	}
	return nil
}

// ReadTurns returns the latest limit turns oldest first; limit <= 0 reads all.
func (s *Store) ReadTurns(ctx context.Context, sessionID string, limit int) ([]history.Turn, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, created_at_ns FROM (
			SELECT id, role, content, created_at_ns
			FROM conversation_turns
			WHERE session_id = ? AND lower(trim(role)) IN ('user', 'assistant')
			ORDER BY created_at_ns DESC, id DESC
			LIMIT ?
		) ORDER BY created_at_ns ASC, id ASC`,
		strings.TrimSpace(sessionID), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying turns: %w", err)
	}
	defer rows.Close()

	var turns []history.Turn
	for rows.Next() {
		var (
			role    string
			content string
			atNanos int64
		)
		if err := rows.Scan(&role, &content, &atNanos); err != nil {
			return nil, fmt.Errorf("scanning turn: %w", err)
		}
		turns = append(turns, history.Turn{
			Role:      history.Role(role),
			Content:   content,
			CreatedAt: time.Unix(0, atNanos).UTC(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating turns: %w", err)
	}

	return turns, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}
