// Package interaction turns one user message into a published interaction,
// a completion request and exactly one terminal response or error event.
package interaction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"parley/pkg/events"
	"parley/pkg/history"
	"parley/pkg/provider"
	providertypes "parley/pkg/provider/types"
)

const (
	StatusOK            = 200
	StatusInternalError = 500

	// Component names the processor in the error events it emits.
	Component = "InteractionProcessor"

	// StaticConfidence is attached to every response; the completion
	// service reports no confidence of its own.
	StaticConfidence = 0.95

	genericErrorMessage = "internal server error"
)

const (
	ErrorTypeCompletionTimeout = "CompletionTimeout"
	ErrorTypeCompletion        = "CompletionError"
	ErrorTypeEmptyCompletion   = "EmptyCompletion"
	ErrorTypeEventConstruction = "EventConstructionError"
)

const (
	defaultMaxTokens   = 512
	defaultTemperature = 0.7
	defaultTimeout     = 30 * time.Second
)

// Publisher is the subset of the event publisher the processor needs.
type Publisher interface {
	PublishUserInteraction(ctx context.Context, event events.InteractionEvent) bool
	PublishAIResponse(ctx context.Context, event events.ResponseEvent) bool
	PublishSystemError(ctx context.Context, event events.ErrorEvent) bool
	PublishSessionEvent(ctx context.Context, event events.SessionEvent) bool
}

// ContextAssembler returns the windowed history for a session. It must not fail.
type ContextAssembler interface {
	Assemble(ctx context.Context, sessionID string) history.AssembledContext
}

type Config struct {
	MaxTokens int
	// Temperature defaults to 0.7 when nil. An explicit 0 is kept.
	Temperature *float64
	Timeout     time.Duration
	Debug       bool
}

type Request struct {
	UserID          string                 `json:"user_id"`
	SessionID       string                 `json:"session_id"`
	Message         string                 `json:"message"`
	InteractionType events.InteractionType `json:"interaction_type"`
	Metadata        events.Fields          `json:"metadata"`
}

// Result is what the caller sees: a reply on 200, an error id on 500.
type Result struct {
	Status         int     `json:"status"`
	ResponseText   string  `json:"response_text,omitempty"`
	ResponseID     string  `json:"response_id,omitempty"`
	ProcessingTime float64 `json:"processing_time,omitempty"`
	InteractionID  string  `json:"interaction_id,omitempty"`
	Error          string  `json:"error,omitempty"`
	ErrorID        string  `json:"error_id,omitempty"`
}

type Processor struct {
	publisher Publisher
	assembler ContextAssembler
	completer provider.Completer
	cfg       Config
	preamble  string
	log       *slog.Logger
	now       func() time.Time
}

func NewProcessor(publisher Publisher, assembler ContextAssembler, completer provider.Completer, cfg Config, log *slog.Logger) (*Processor, error) {
	if publisher == nil {
		return nil, errors.New("publisher is required")
	}
	if assembler == nil {
		return nil, errors.New("context assembler is required")
	}
	if completer == nil {
		return nil, errors.New("completer is required")
	}
	if log == nil {
		log = slog.Default()
	}

	preamble, err := loadPreamble()
	if err != nil {
		return nil, err
	}

	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Temperature == nil {
		temperature := defaultTemperature
		cfg.Temperature = &temperature
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	return &Processor{
		publisher: publisher,
		assembler: assembler,
		completer: completer,
		cfg:       cfg,
		preamble:  preamble,
		log:       log.With("component", "interaction.processor"),
		now:       time.Now,
	}, nil
}

// stageError carries the error type a failure is reported under.
type stageError struct {
	errorType string
	err       error
}

func (e *stageError) Error() string { return e.err.Error() }
func (e *stageError) Unwrap() error { return e.err }

// ProcessUserMessage runs one interaction to completion. The returned error
// is non-nil only when the request is rejected before anything is published;
// every accepted request yields a 200 or 500 Result.
func (p *Processor) ProcessUserMessage(ctx context.Context, req Request) (Result, error) {
	startedAt := p.now()

	interaction, err := events.NewInteractionEvent(events.InteractionParams{
		Timestamp:       startedAt.UTC(),
		UserID:          strings.TrimSpace(req.UserID),
		SessionID:       strings.TrimSpace(req.SessionID),
		InteractionType: req.InteractionType,
		Message:         req.Message,
		Metadata:        req.Metadata,
	})
	if err != nil {
		return Result{}, fmt.Errorf("rejecting interaction: %w", err)
	}

	log := p.log.With(
		"interaction_id", interaction.EventID,
		"user_id", interaction.UserID,
		"session_id", interaction.SessionID,
	)
	log.Info("Interaction received", "interaction_type", string(interaction.InteractionType), "message_length", len(interaction.Message))

	if !p.publisher.PublishUserInteraction(ctx, interaction) {
		log.Warn("Interaction event was not published")
	}

	response, usage, err := p.respond(ctx, interaction, startedAt)
	if err != nil {
		return p.fail(ctx, log, interaction, err), nil
	}

	if !p.publisher.PublishAIResponse(ctx, response) {
		log.Warn("Response event was not published", "response_id", response.ResponseID)
	}
	attrs := append([]any{"response_id", response.ResponseID, "processing_time", response.ProcessingTime}, usageAttrs(usage)...)
	log.Info("Interaction responded", attrs...)

	return Result{
		Status:         StatusOK,
		ResponseText:   response.Content,
		ResponseID:     response.ResponseID,
		ProcessingTime: response.ProcessingTime,
		InteractionID:  interaction.EventID,
	}, nil
}

func (p *Processor) respond(ctx context.Context, interaction events.InteractionEvent, startedAt time.Time) (events.ResponseEvent, *providertypes.TokenUsage, error) {
	window := p.assembler.Assemble(ctx, interaction.SessionID)
	prompt := buildPrompt(p.preamble, window, interaction.Message)

	completion, err := p.complete(ctx, prompt)
	if err != nil {
		return events.ResponseEvent{}, nil, err
	}

	model := strings.TrimSpace(completion.Model)
	if model == "" {
		model = p.completer.Model()
	}

	elapsed := p.now().Sub(startedAt).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}

	response, err := events.NewResponseEvent(events.ResponseParams{
		UserID:         interaction.UserID,
		SessionID:      interaction.SessionID,
		ResponseType:   events.ResponseText,
		Content:        completion.Text,
		Confidence:     StaticConfidence,
		ProcessingTime: elapsed,
		ModelName:      model,
	})
	if err != nil {
		return events.ResponseEvent{}, nil, &stageError{errorType: ErrorTypeEventConstruction, err: err}
	}
	return response, completion.Usage, nil
}

// complete is the only call bounded by the completion timeout.
func (p *Processor) complete(ctx context.Context, prompt string) (providertypes.Completion, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	completion, err := p.completer.Complete(callCtx, providertypes.CompletionRequest{
		Prompt:      prompt,
		MaxTokens:   p.cfg.MaxTokens,
		Temperature: p.cfg.Temperature,
	})
	if err == nil && strings.TrimSpace(completion.Text) == "" {
		err = providertypes.ErrEmptyCompletion
	}
	if err != nil {
		return providertypes.Completion{}, &stageError{errorType: classifyCompletionError(err), err: err}
	}

	completion.Text = strings.TrimSpace(completion.Text)
	return completion, nil
}

func classifyCompletionError(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorTypeCompletionTimeout
	case errors.Is(err, providertypes.ErrEmptyCompletion):
		return ErrorTypeEmptyCompletion
	default:
		return ErrorTypeCompletion
	}
}

func (p *Processor) fail(ctx context.Context, log *slog.Logger, interaction events.InteractionEvent, cause error) Result {
	errorType := ErrorTypeCompletion
	var stageErr *stageError
	if errors.As(cause, &stageErr) {
		errorType = stageErr.errorType
	}

	errorID := uuid.NewString()
	message := strings.TrimSpace(cause.Error())
	if message == "" {
		message = errorType
	}

	log.Error("Interaction failed", "error_id", errorID, "error_type", errorType, "error", cause)

	errorEvent, err := events.NewErrorEvent(events.ErrorParams{
		ErrorID:      errorID,
		ErrorType:    errorType,
		ErrorMessage: message,
		Component:    Component,
		Severity:     events.SeverityHigh,
		Context: events.NewFields(
			events.Field{Key: "user_id", Value: events.StringValue(interaction.UserID)},
			events.Field{Key: "session_id", Value: events.StringValue(interaction.SessionID)},
			events.Field{Key: "message", Value: events.StringValue(interaction.Message)},
			events.Field{Key: "interaction_type", Value: events.StringValue(string(interaction.InteractionType))},
		),
	})
	switch {
	case err != nil:
		log.Error("Could not build error event", "error_id", errorID, "error", err)
	case !p.publisher.PublishSystemError(ctx, errorEvent):
		log.Warn("Error event was not published", "error_id", errorID)
	}

	visible := genericErrorMessage
	if p.cfg.Debug {
		visible = message
	}

	return Result{Status: StatusInternalError, Error: visible, ErrorID: errorID}
}

type SessionRequest struct {
	UserID    string        `json:"user_id"`
	SessionID string        `json:"session_id"`
	Metadata  events.Fields `json:"metadata"`
}

// SessionResult reports the emitted session event and whether the bus took it.
type SessionResult struct {
	EventID   string `json:"event_id"`
	SessionID string `json:"session_id"`
	Action    string `json:"action"`
	Published bool   `json:"published"`
}

func (p *Processor) StartSession(ctx context.Context, req SessionRequest) (SessionResult, error) {
	return p.sessionEvent(ctx, req, events.SessionStarted)
}

func (p *Processor) EndSession(ctx context.Context, req SessionRequest) (SessionResult, error) {
	return p.sessionEvent(ctx, req, events.SessionEnded)
}

func (p *Processor) sessionEvent(ctx context.Context, req SessionRequest, action events.SessionAction) (SessionResult, error) {
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" && action == events.SessionStarted {
		sessionID = uuid.NewString()
	}

	event, err := events.NewSessionEvent(events.SessionParams{
		SessionID: sessionID,
		UserID:    strings.TrimSpace(req.UserID),
		Action:    action,
		Metadata:  req.Metadata,
	})
	if err != nil {
		return SessionResult{}, fmt.Errorf("rejecting session event: %w", err)
	}

	published := p.publisher.PublishSessionEvent(ctx, event)
	if !published {
		p.log.Warn("Session event was not published", "session_id", sessionID, "action", string(action))
	}

	return SessionResult{
		EventID:   event.EventID,
		SessionID: event.SessionID,
		Action:    string(action),
		Published: published,
	}, nil
}
