// Package dispatch classifies delivered bus records by detail type and
// routes them to analytics hooks or the alert escalation check.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"parley/pkg/events"
)

// Component names the dispatcher in the error events it reports.
const Component = "EventDispatcher"

const errorTypeRecordFailure = "RecordProcessingError"

// Record is one transport-level message. Body is a JSON object that may
// carry a bus envelope's "detail-type" and "detail".
type Record struct {
	ID   string
	Body []byte
}

type RecordFailure struct {
	RecordID string `json:"record_id"`
	Index    int    `json:"index"`
	Reason   string `json:"reason"`
}

// BatchResult accounts for every record of a batch.
type BatchResult struct {
	Received  int             `json:"received"`
	Processed int             `json:"processed"`
	Skipped   int             `json:"skipped"`
	Ignored   int             `json:"ignored"`
	Escalated int             `json:"escalated"`
	Failures  []RecordFailure `json:"failures,omitempty"`
}

// Hook receives classified non-error events. Returned errors count as record
// failures.
type Hook interface {
	OnInteraction(ctx context.Context, event events.InteractionEvent) error
	OnResponse(ctx context.Context, event events.ResponseEvent) error
	OnSession(ctx context.Context, event events.SessionEvent) error
}

type Alerter interface {
	SendAlert(ctx context.Context, detail events.ErrorEvent)
}

// ErrorReporter publishes record failures back onto the bus.
type ErrorReporter interface {
	PublishSystemError(ctx context.Context, event events.ErrorEvent) bool
}

type Options struct {
	Hook     Hook
	Alerter  Alerter
	Reporter ErrorReporter
	// Threshold is the lowest severity that is escalated; empty means high.
	Threshold events.Severity
	Log       *slog.Logger
}

type Dispatcher struct {
	hook      Hook
	alerter   Alerter
	reporter  ErrorReporter
	threshold events.Severity
	log       *slog.Logger
}

func New(opts Options) *Dispatcher {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}

	hook := opts.Hook
	if hook == nil {
		hook = NewLogHook(log)
	}

	threshold := opts.Threshold
	if !threshold.Valid() {
		threshold = events.SeverityHigh
	}

	return &Dispatcher{
		hook:      hook,
		alerter:   opts.Alerter,
		reporter:  opts.Reporter,
		threshold: threshold,
		log:       log.With("component", "dispatch.dispatcher"),
	}
}

// envelopeView is the part of a record body the dispatcher reads.
type envelopeView struct {
	DetailType *string         `json:"detail-type"`
	Detail     json.RawMessage `json:"detail"`
}

type outcome int

const (
	outcomeProcessed outcome = iota
	outcomeSkipped
	outcomeIgnored
	outcomeEscalated
)

// HandleBatch processes records strictly in order. A failing record is
// recorded and the loop moves on; the error return is reserved for a batch
// that cannot start at all.
func (d *Dispatcher) HandleBatch(ctx context.Context, records []Record) (BatchResult, error) {
	if err := ctx.Err(); err != nil {
		return BatchResult{}, fmt.Errorf("batch not started: %w", err)
	}

	result := BatchResult{Received: len(records)}
	for i, record := range records {
		log := d.log.With("record_id", record.ID, "index", i)

		out, err := d.handleRecord(ctx, log, record)
		if err != nil {
			log.Warn("Record failed", "error", err)
			result.Failures = append(result.Failures, RecordFailure{RecordID: record.ID, Index: i, Reason: err.Error()})
			d.reportFailure(ctx, log, record, i, err)
			continue
		}

		switch out {
		case outcomeSkipped:
			result.Skipped++
		case outcomeIgnored:
			result.Ignored++
		case outcomeEscalated:
			result.Escalated++
			result.Processed++
		default:
			result.Processed++
		}
	}

	d.log.Info("Batch handled",
		"received", result.Received,
		"processed", result.Processed,
		"skipped", result.Skipped,
		"ignored", result.Ignored,
		"escalated", result.Escalated,
		"failed", len(result.Failures),
	)
	return result, nil
}

func (d *Dispatcher) handleRecord(ctx context.Context, log *slog.Logger, record Record) (outcome, error) {
	var envelope envelopeView
	if err := json.Unmarshal(record.Body, &envelope); err != nil {
		return 0, fmt.Errorf("decoding record body: %w", err)
	}

	if envelope.DetailType == nil {
		log.Debug("Record carries no detail-type, skipping")
		return outcomeSkipped, nil
	}

	detailType, known := events.ParseDetailType(*envelope.DetailType)
	if !known {
		log.Info("Ignoring record with unknown detail-type", "detail_type", *envelope.DetailType)
		return outcomeIgnored, nil
	}

	detail := bytes.TrimSpace(envelope.Detail)
	if len(detail) == 0 || bytes.Equal(detail, []byte("null")) {
		return 0, fmt.Errorf("%s record has no detail", detailType)
	}

	switch detailType {
	case events.DetailTypeUserInteraction:
		event, err := decode[events.InteractionEvent](detail)
		if err != nil {
			return 0, err
		}
		return outcomeProcessed, d.hook.OnInteraction(ctx, event)
	case events.DetailTypeAIResponse:
		event, err := decode[events.ResponseEvent](detail)
		if err != nil {
			return 0, err
		}
		return outcomeProcessed, d.hook.OnResponse(ctx, event)
	case events.DetailTypeSession:
		event, err := decode[events.SessionEvent](detail)
		if err != nil {
			return 0, err
		}
		return outcomeProcessed, d.hook.OnSession(ctx, event)
	case events.DetailTypeSystemError:
		event, err := decode[events.ErrorEvent](detail)
		if err != nil {
			return 0, err
		}
		return d.escalate(ctx, log, event), nil
	default:
		log.Info("Ignoring record with unhandled detail-type", "detail_type", string(detailType))
		return outcomeIgnored, nil
	}
}

// validatable is satisfied by every event variant.
type validatable interface {
	Validate() error
}

func decode[E validatable](detail []byte) (E, error) {
	var event E
	if err := json.Unmarshal(detail, &event); err != nil {
		return event, fmt.Errorf("decoding detail: %w", err)
	}
	if err := event.Validate(); err != nil {
		return event, fmt.Errorf("validating detail: %w", err)
	}
	return event, nil
}

func (d *Dispatcher) escalate(ctx context.Context, log *slog.Logger, event events.ErrorEvent) outcome {
	log = log.With("error_id", event.ErrorID, "severity", string(event.Severity), "error_type", event.ErrorType)
	if !event.Severity.AtLeast(d.threshold) {
		log.Debug("System error below alert threshold", "threshold", string(d.threshold))
		return outcomeProcessed
	}
	if d.alerter == nil {
		log.Warn("System error above threshold but no alerter configured")
		return outcomeProcessed
	}

	d.alerter.SendAlert(ctx, event)
	return outcomeEscalated
}

// reportFailure emits a medium-severity error event for a failed record.
// Medium stays below the default threshold, so these do not page anyone.
func (d *Dispatcher) reportFailure(ctx context.Context, log *slog.Logger, record Record, index int, cause error) {
	if d.reporter == nil {
		return
	}

	event, err := events.NewErrorEvent(events.ErrorParams{
		ErrorType:    errorTypeRecordFailure,
		ErrorMessage: cause.Error(),
		Component:    Component,
		Severity:     events.SeverityMedium,
		Context: events.NewFields(
			events.Field{Key: "record_id", Value: events.StringValue(record.ID)},
			events.Field{Key: "index", Value: events.NumberValue(float64(index))},
		),
	})
	if err != nil {
		log.Error("Could not build record failure event", "error", err)
		return
	}
	if !d.reporter.PublishSystemError(ctx, event) {
		log.Warn("Record failure event was not published", "error_id", event.ErrorID)
	}
}

// NopHook acknowledges every event without doing anything.
type NopHook struct{}

func (NopHook) OnInteraction(context.Context, events.InteractionEvent) error { return nil }
func (NopHook) OnResponse(context.Context, events.ResponseEvent) error       { return nil }
func (NopHook) OnSession(context.Context, events.SessionEvent) error         { return nil }
