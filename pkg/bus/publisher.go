package bus

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"parley/pkg/events"
)

const (
	SourceInteractions = "parley.interactions"
	SourceResponses    = "parley.responses"
	SourceErrors       = "parley.errors"
	SourceSessions     = "parley.sessions"
)

// Publisher serializes events and submits them to an EventBus one at a time.
//
// Publishing is fire-and-report: a rejected or unreachable bus is logged and
// surfaced as false, never as an error, and nothing is retried.
type Publisher struct {
	bus EventBus
	log *slog.Logger
	now func() time.Time
}

func NewPublisher(eventBus EventBus, log *slog.Logger) *Publisher {
	if log == nil {
		log = slog.Default()
	}

	return &Publisher{
		bus: eventBus,
		log: log.With("component", "bus.publisher"),
		now: time.Now,
	}
}

// Publish submits detail as a single bus entry and reports whether the bus
// acknowledged it with zero failed entries.
func (p *Publisher) Publish(ctx context.Context, source string, detailType events.DetailType, detail any) bool {
	if ctx == nil {
		ctx = context.Background()
	}
	log := p.log.With("source", source, "detail_type", string(detailType))

	if !detailType.Valid() {
		log.Error("Refusing to publish unknown detail type")
		return false
	}
	if p.bus == nil {
		log.Error("Event bus is not configured")
		return false
	}

	payload, err := json.Marshal(detail)
	if err != nil {
		log.Error("Failed to serialize event detail", "error", err)
		return false
	}

	entry := Entry{
		Source:     source,
		DetailType: string(detailType),
		Detail:     payload,
		Time:       p.now().UTC(),
	}

	result, err := p.bus.PutEvents(ctx, []Entry{entry})
	if err != nil {
		log.Error("Failed to publish event", "error", err)
		return false
	}

	if result.FailedCount > 0 {
		for _, failed := range result.Entries {
			if !failed.Failed() {
				continue
			}
			log.Error("Event bus rejected entry", "error_code", failed.ErrorCode, "error_message", failed.ErrorMessage)
		}
		return false
	}

	eventID := ""
	if len(result.Entries) > 0 {
		eventID = result.Entries[0].EventID
	}
	log.Debug("Event published", "bus_event_id", eventID)

	return true
}

func (p *Publisher) PublishUserInteraction(ctx context.Context, event events.InteractionEvent) bool {
	return p.Publish(ctx, SourceInteractions, events.DetailTypeUserInteraction, event)
}

func (p *Publisher) PublishAIResponse(ctx context.Context, event events.ResponseEvent) bool {
	return p.Publish(ctx, SourceResponses, events.DetailTypeAIResponse, event)
}

func (p *Publisher) PublishSystemError(ctx context.Context, event events.ErrorEvent) bool {
	return p.Publish(ctx, SourceErrors, events.DetailTypeSystemError, event)
}

func (p *Publisher) PublishSessionEvent(ctx context.Context, event events.SessionEvent) bool {
	return p.Publish(ctx, SourceSessions, events.DetailTypeSession, event)
}
