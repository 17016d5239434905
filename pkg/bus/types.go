package bus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const envelopeVersion = "0"

// Entry is one event submitted to a bus.
type Entry struct {
	Source     string          `json:"source"`
	DetailType string          `json:"detail-type"`
	Detail     json.RawMessage `json:"detail"`
	Time       time.Time       `json:"time"`
}

// Envelope is the transport record delivered to consumers.
type Envelope struct {
	Version    string          `json:"version"`
	ID         string          `json:"id"`
	Source     string          `json:"source"`
	DetailType string          `json:"detail-type"`
	Time       time.Time       `json:"time"`
	Detail     json.RawMessage `json:"detail"`
}

// NewEnvelope wraps an entry with a fresh transport id.
func NewEnvelope(entry Entry) Envelope {
	at := entry.Time
	if at.IsZero() {
		at = time.Now()
	}

	return Envelope{
		Version:    envelopeVersion,
		ID:         uuid.NewString(),
		Source:     entry.Source,
		DetailType: entry.DetailType,
		Time:       at.UTC(),
		Detail:     entry.Detail,
	}
}

// EntryResult reports the outcome for one submitted entry. A non-empty
// ErrorCode marks the entry as failed.
type EntryResult struct {
	EventID      string `json:"event_id,omitempty"`
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

func (r EntryResult) Failed() bool { return r.ErrorCode != "" }

// PutResult mirrors the bus acknowledgement: one result per entry, in order.
type PutResult struct {
	FailedCount int           `json:"failed_count"`
	Entries     []EntryResult `json:"entries"`
}

// EventBus accepts entries for at-least-once delivery to consumers.
type EventBus interface {
	PutEvents(ctx context.Context, entries []Entry) (PutResult, error)
}
