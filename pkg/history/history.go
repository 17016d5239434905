// Package history turns stored conversation turns into the bounded,
// role-tagged context sent with a completion request.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// DefaultMaxTurns keeps the last four user/assistant exchanges.
const DefaultMaxTurns = 8

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one stored conversation message, owned by the storage layer.
type Turn struct {
	Role      Role
	Content   string
	CreatedAt time.Time
}

// Message is one prompt-ready entry of an assembled context.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AssembledContext is ordered oldest first and never longer than the window.
type AssembledContext []Message

// TurnReader returns up to limit of a session's latest user and assistant
// turns, oldest first. Turns with any other role are not returned and do not
// count toward limit.
type TurnReader interface {
	ReadTurns(ctx context.Context, sessionID string, limit int) ([]Turn, error)
}

// TurnWriter appends one turn to a session. Only the request-handling layer
// writes turns; the assembler never does.
type TurnWriter interface {
	AppendTurn(ctx context.Context, sessionID string, turn Turn) error
}

// Window keeps the last maxTurns user/assistant turns in their original order.
// Older turns are dropped without any signal.
func Window(turns []Turn, maxTurns int) AssembledContext {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}

	kept := make([]Turn, 0, len(turns))
	for _, turn := range turns {
		if _, ok := messageRole(turn.Role); ok {
			kept = append(kept, turn)
		}
	}

	if len(kept) > maxTurns {
		kept = kept[len(kept)-maxTurns:]
	}

	out := make(AssembledContext, 0, len(kept))
	for _, turn := range kept {
		role, _ := messageRole(turn.Role)
		out = append(out, Message{Role: role, Content: turn.Content})
	}
	return out
}

func messageRole(role Role) (string, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(string(role)))) {
	case RoleUser:
		return "user", true
	case RoleAssistant:
		return "assistant", true
	default:
		return "", false
	}
}

// Assembler reads a session's turns and windows them.
type Assembler struct {
	reader   TurnReader
	maxTurns int
	log      *slog.Logger
}

func NewAssembler(reader TurnReader, maxTurns int, log *slog.Logger) *Assembler {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	if log == nil {
		log = slog.Default()
	}

	return &Assembler{
		reader:   reader,
		maxTurns: maxTurns,
		log:      log.With("component", "history.assembler"),
	}
}

func (a *Assembler) MaxTurns() int { return a.maxTurns }

// Assemble fails open: a missing reader or a read error yields an empty context.
func (a *Assembler) Assemble(ctx context.Context, sessionID string) AssembledContext {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" || a.reader == nil {
		return AssembledContext{}
	}

	turns, err := a.reader.ReadTurns(ctx, sessionID, a.maxTurns)
	if err != nil {
		a.log.Warn("Conversation history unavailable, continuing without context", "session_id", sessionID, "error", err)
		return AssembledContext{}
	}

	assembled := Window(turns, a.maxTurns)
	a.log.Debug("Context assembled", "session_id", sessionID, "stored_turns", len(turns), "context_turns", len(assembled))
	return assembled
}

// RecordExchange appends a user message and the reply to it. The reply is
// stamped just after the message so stores ordering by time keep the pair.
func RecordExchange(ctx context.Context, writer TurnWriter, sessionID, message, reply string) error {
	now := time.Now().UTC()
	turns := []Turn{
		{Role: RoleUser, Content: message, CreatedAt: now},
		{Role: RoleAssistant, Content: reply, CreatedAt: now.Add(time.Microsecond)},
	}
	for _, turn := range turns {
		if err := writer.AppendTurn(ctx, sessionID, turn); err != nil {
			return fmt.Errorf("recording %s turn: %w", turn.Role, err)
		}
	}
	return nil
}
