package history

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore keeps turns per session in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]Turn
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string][]Turn)}
}

func (m *MemoryStore) AppendTurn(_ context.Context, sessionID string, turn Turn) error {
	sessionID = strings.TrimSpace(sessionID)
	turn.Content = strings.TrimSpace(turn.Content)
	if sessionID == "" || turn.Role == "" || turn.Content == "" {
		return nil
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions[sessionID] = append(m.sessions[sessionID], turn)
	return nil
}

// ReadTurns returns a copy of the latest limit user/assistant turns; limit <= 0 returns all.
func (m *MemoryStore) ReadTurns(_ context.Context, sessionID string, limit int) ([]Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Turn
	for _, turn := range m.sessions[strings.TrimSpace(sessionID)] {
		if _, ok := messageRole(turn.Role); ok {
			out = append(out, turn)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *MemoryStore) Clear(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, strings.TrimSpace(sessionID))
}

func (m *MemoryStore) Close() error { return nil }
