package dispatch

import (
	"context"
	"log/slog"
	"time"

	"parley/pkg/events"
)

// LogHook records classified events in the structured log. It is the
// default analytics hook.
type LogHook struct {
	log *slog.Logger
}

func NewLogHook(log *slog.Logger) *LogHook {
	if log == nil {
		log = slog.Default()
	}
	return &LogHook{log: log.With("component", "dispatch.events")}
}

// attrs keeps one attribute set across event types so logs correlate by
// session and user.
func (h *LogHook) attrs(event events.Event, userID, sessionID string) []any {
	return []any{
		"detail_type", string(event.DetailType()),
		"event_id", event.ID(),
		"user_id", userID,
		"session_id", sessionID,
		"timestamp", event.OccurredAt().UTC().Format(time.RFC3339Nano),
	}
}

func (h *LogHook) OnInteraction(_ context.Context, event events.InteractionEvent) error {
	h.log.Info("Interaction event", append(h.attrs(event, event.UserID, event.SessionID),
		"interaction_type", string(event.InteractionType),
		"message_length", len(event.Message),
	)...)
	return nil
}

func (h *LogHook) OnResponse(_ context.Context, event events.ResponseEvent) error {
	h.log.Info("Response event", append(h.attrs(event, event.UserID, event.SessionID),
		"response_id", event.ResponseID,
		"model_name", event.ModelName,
		"processing_time", event.ProcessingTime,
	)...)
	return nil
}

func (h *LogHook) OnSession(_ context.Context, event events.SessionEvent) error {
	h.log.Info("Session event", append(h.attrs(event, event.UserID, event.SessionID),
		"action", string(event.Action),
	)...)
	return nil
}
