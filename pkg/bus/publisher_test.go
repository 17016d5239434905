package bus

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"parley/pkg/events"
)

type scriptedBus struct {
	mu      sync.Mutex
	calls   [][]Entry
	failed  int
	callErr error
}

func (b *scriptedBus) PutEvents(_ context.Context, entries []Entry) (PutResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.calls = append(b.calls, entries)
	if b.callErr != nil {
		return PutResult{}, b.callErr
	}

	result := PutResult{FailedCount: b.failed, Entries: make([]EntryResult, len(entries))}
	for i := range entries {
		if i < b.failed {
			result.Entries[i] = EntryResult{ErrorCode: "ThrottlingException", ErrorMessage: "rate exceeded"}
			continue
		}
		result.Entries[i] = EntryResult{EventID: "bus-evt"}
	}
	return result, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleInteraction(t *testing.T) events.InteractionEvent {
	t.Helper()

	event, err := events.NewInteractionEvent(events.InteractionParams{
		UserID:          "u1",
		SessionID:       "s1",
		InteractionType: events.InteractionText,
		Message:         "hello",
	})
	if err != nil {
		t.Fatalf("NewInteractionEvent error: %v", err)
	}
	return event
}

func TestPublishReportsBusAcknowledgement(t *testing.T) {
	tests := []struct {
		name   string
		failed int
		err    error
		want   bool
	}{
		{name: "acknowledged", want: true},
		{name: "failed entry", failed: 1, want: false},
		{name: "transport error", err: errors.New("connection refused"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eventBus := &scriptedBus{failed: tt.failed, callErr: tt.err}
			publisher := NewPublisher(eventBus, discardLogger())

			got := publisher.PublishUserInteraction(context.Background(), sampleInteraction(t))
			if got != tt.want {
				t.Fatalf("PublishUserInteraction = %v, want %v", got, tt.want)
			}
			if len(eventBus.calls) != 1 {
				t.Fatalf("bus calls = %d, want exactly one attempt", len(eventBus.calls))
			}
		})
	}
}

func TestPublishBuildsSingleEntry(t *testing.T) {
	eventBus := &scriptedBus{}
	publisher := NewPublisher(eventBus, discardLogger())
	fixed := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	publisher.now = func() time.Time { return fixed }

	event := sampleInteraction(t)
	if ok := publisher.PublishUserInteraction(context.Background(), event); !ok {
		t.Fatal("expected publish to succeed")
	}

	entries := eventBus.calls[0]
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	entry := entries[0]
	if entry.Source != SourceInteractions {
		t.Fatalf("source = %q, want %q", entry.Source, SourceInteractions)
	}
	if entry.DetailType != "User Interaction" {
		t.Fatalf("detail type = %q, want %q", entry.DetailType, "User Interaction")
	}
	if !entry.Time.Equal(fixed) {
		t.Fatalf("time = %v, want %v", entry.Time, fixed)
	}

	var decoded events.InteractionEvent
	if err := json.Unmarshal(entry.Detail, &decoded); err != nil {
		t.Fatalf("decode detail: %v", err)
	}
	if decoded.EventID != event.EventID || decoded.Message != "hello" {
		t.Fatalf("decoded detail = %#v", decoded)
	}
}

func TestTypedWrappersFixSourceAndDetailType(t *testing.T) {
	eventBus := &scriptedBus{}
	publisher := NewPublisher(eventBus, discardLogger())
	ctx := context.Background()

	response, err := events.NewResponseEvent(events.ResponseParams{UserID: "u", SessionID: "s", ResponseType: events.ResponseText, Content: "x", Confidence: 0.95, ModelName: "m"})
	if err != nil {
		t.Fatalf("NewResponseEvent error: %v", err)
	}
	failure, err := events.NewErrorEvent(events.ErrorParams{ErrorType: "E", ErrorMessage: "m", Component: "c", Severity: events.SeverityLow})
	if err != nil {
		t.Fatalf("NewErrorEvent error: %v", err)
	}
	session, err := events.NewSessionEvent(events.SessionParams{SessionID: "s", UserID: "u", Action: events.SessionEnded})
	if err != nil {
		t.Fatalf("NewSessionEvent error: %v", err)
	}

	publisher.PublishAIResponse(ctx, response)
	publisher.PublishSystemError(ctx, failure)
	publisher.PublishSessionEvent(ctx, session)

	want := []struct{ source, detailType string }{
		{SourceResponses, "AI Response Generated"},
		{SourceErrors, "System Error"},
		{SourceSessions, "Session Event"},
	}
	for i, w := range want {
		entry := eventBus.calls[i][0]
		if entry.Source != w.source || entry.DetailType != w.detailType {
			t.Fatalf("call %d = (%q, %q), want (%q, %q)", i, entry.Source, entry.DetailType, w.source, w.detailType)
		}
	}
}

func TestPublishRejectsUnknownDetailType(t *testing.T) {
	eventBus := &scriptedBus{}
	publisher := NewPublisher(eventBus, discardLogger())

	if ok := publisher.Publish(context.Background(), "parley.misc", events.DetailType("Order Created"), map[string]string{}); ok {
		t.Fatal("expected unknown detail type to be rejected")
	}
	if len(eventBus.calls) != 0 {
		t.Fatal("expected no bus call for unknown detail type")
	}
}

func TestPublishDoesNotMutateEvent(t *testing.T) {
	publisher := NewPublisher(&scriptedBus{}, discardLogger())
	event := sampleInteraction(t)
	before := event

	publisher.PublishUserInteraction(context.Background(), event)

	if event.EventID != before.EventID || !event.Timestamp.Equal(before.Timestamp) {
		t.Fatal("publish changed the event")
	}
}

func TestPublishWithoutBus(t *testing.T) {
	publisher := NewPublisher(nil, discardLogger())
	if ok := publisher.PublishUserInteraction(context.Background(), sampleInteraction(t)); ok {
		t.Fatal("expected publish without bus to fail")
	}
}
