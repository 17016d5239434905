// Package events defines the typed records published on the event bus:
// user interactions, generated responses, system errors and session lifecycle.
//
// Records are values. Constructors validate every field and stamp the event id
// and timestamp when absent; nothing else is defaulted. Decoding with
// encoding/json never re-stamps, so a record survives a round trip unchanged.
package events

import (
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event is implemented by every published record.
type Event interface {
	ID() string
	OccurredAt() time.Time
	DetailType() DetailType
	Validate() error
}

// Base carries the identity shared by all event variants.
type Base struct {
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`
}

func (b Base) ID() string            { return b.EventID }
func (b Base) OccurredAt() time.Time { return b.Timestamp }

func newBase(id string, at time.Time) Base {
	id = strings.TrimSpace(id)
	if id == "" {
		id = uuid.NewString()
	}
	if at.IsZero() {
		at = time.Now()
	}
	return Base{EventID: id, Timestamp: at.UTC()}
}

func (b Base) validate() error {
	if strings.TrimSpace(b.EventID) == "" {
		return invalid("event_id", "is required")
	}
	if b.Timestamp.IsZero() {
		return invalid("timestamp", "is required")
	}
	return nil
}

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return invalid(field, "is required")
	}
	return nil
}

func orNewID(id string) string {
	if id = strings.TrimSpace(id); id != "" {
		return id
	}
	return uuid.NewString()
}

// InteractionEvent records an accepted user message.
type InteractionEvent struct {
	Base
	UserID          string          `json:"user_id"`
	SessionID       string          `json:"session_id"`
	InteractionType InteractionType `json:"interaction_type"`
	Message         string          `json:"message"`
	Metadata        Fields          `json:"metadata"`
}

type InteractionParams struct {
	EventID         string
	Timestamp       time.Time
	UserID          string
	SessionID       string
	InteractionType InteractionType
	Message         string
	Metadata        Fields
}

func NewInteractionEvent(p InteractionParams) (InteractionEvent, error) {
	event := InteractionEvent{
		Base:            newBase(p.EventID, p.Timestamp),
		UserID:          p.UserID,
		SessionID:       p.SessionID,
		InteractionType: p.InteractionType,
		Message:         p.Message,
		Metadata:        p.Metadata,
	}
	if err := event.Validate(); err != nil {
		return InteractionEvent{}, err
	}
	return event, nil
}

func (e InteractionEvent) DetailType() DetailType { return DetailTypeUserInteraction }

func (e InteractionEvent) Validate() error {
	if err := e.Base.validate(); err != nil {
		return err
	}
	if err := required("user_id", e.UserID); err != nil {
		return err
	}
	if err := required("session_id", e.SessionID); err != nil {
		return err
	}
	if !e.InteractionType.Valid() {
		return invalid("interaction_type", "%q is not one of voice, text, gesture", e.InteractionType)
	}
	return required("message", e.Message)
}

// ResponseEvent records a completed reply to an interaction.
type ResponseEvent struct {
	Base
	ResponseID     string       `json:"response_id"`
	UserID         string       `json:"user_id"`
	SessionID      string       `json:"session_id"`
	ResponseType   ResponseType `json:"response_type"`
	Content        string       `json:"content"`
	Confidence     float64      `json:"confidence"`
	ProcessingTime float64      `json:"processing_time"`
	ModelName      string       `json:"model_name"`
}

type ResponseParams struct {
	EventID        string
	Timestamp      time.Time
	ResponseID     string
	UserID         string
	SessionID      string
	ResponseType   ResponseType
	Content        string
	Confidence     float64
	ProcessingTime float64
	ModelName      string
}

func NewResponseEvent(p ResponseParams) (ResponseEvent, error) {
	event := ResponseEvent{
		Base:           newBase(p.EventID, p.Timestamp),
		ResponseID:     orNewID(p.ResponseID),
		UserID:         p.UserID,
		SessionID:      p.SessionID,
		ResponseType:   p.ResponseType,
		Content:        p.Content,
		Confidence:     p.Confidence,
		ProcessingTime: p.ProcessingTime,
		ModelName:      p.ModelName,
	}
	if err := event.Validate(); err != nil {
		return ResponseEvent{}, err
	}
	return event, nil
}

func (e ResponseEvent) DetailType() DetailType { return DetailTypeAIResponse }

func (e ResponseEvent) Validate() error {
	if err := e.Base.validate(); err != nil {
		return err
	}
	if err := required("response_id", e.ResponseID); err != nil {
		return err
	}
	if err := required("user_id", e.UserID); err != nil {
		return err
	}
	if err := required("session_id", e.SessionID); err != nil {
		return err
	}
	if !e.ResponseType.Valid() {
		return invalid("response_type", "%q is not one of text, audio, action", e.ResponseType)
	}
	if math.IsNaN(e.Confidence) || e.Confidence < 0 || e.Confidence > 1 {
		return invalid("confidence", "%v is outside [0, 1]", e.Confidence)
	}
	if math.IsNaN(e.ProcessingTime) || math.IsInf(e.ProcessingTime, 0) || e.ProcessingTime < 0 {
		return invalid("processing_time", "%v must be a non-negative number of seconds", e.ProcessingTime)
	}
	return required("model_name", e.ModelName)
}

// ErrorEvent records a failure caught by a pipeline component.
type ErrorEvent struct {
	Base
	ErrorID      string   `json:"error_id"`
	ErrorType    string   `json:"error_type"`
	ErrorMessage string   `json:"error_message"`
	Component    string   `json:"component"`
	Severity     Severity `json:"severity"`
	Context      Fields   `json:"context"`
}

type ErrorParams struct {
	EventID      string
	Timestamp    time.Time
	ErrorID      string
	ErrorType    string
	ErrorMessage string
	Component    string
	Severity     Severity
	Context      Fields
}

func NewErrorEvent(p ErrorParams) (ErrorEvent, error) {
	event := ErrorEvent{
		Base:         newBase(p.EventID, p.Timestamp),
		ErrorID:      orNewID(p.ErrorID),
		ErrorType:    p.ErrorType,
		ErrorMessage: p.ErrorMessage,
		Component:    p.Component,
		Severity:     p.Severity,
		Context:      p.Context,
	}
	if err := event.Validate(); err != nil {
		return ErrorEvent{}, err
	}
	return event, nil
}

func (e ErrorEvent) DetailType() DetailType { return DetailTypeSystemError }

func (e ErrorEvent) Validate() error {
	if err := e.Base.validate(); err != nil {
		return err
	}
	if err := required("error_id", e.ErrorID); err != nil {
		return err
	}
	if err := required("error_type", e.ErrorType); err != nil {
		return err
	}
	if err := required("error_message", e.ErrorMessage); err != nil {
		return err
	}
	if err := required("component", e.Component); err != nil {
		return err
	}
	if !e.Severity.Valid() {
		return invalid("severity", "%q is not one of low, medium, high, critical", e.Severity)
	}
	return nil
}

// SessionEvent records a conversation session starting or ending.
type SessionEvent struct {
	Base
	SessionID string        `json:"session_id"`
	UserID    string        `json:"user_id"`
	Action    SessionAction `json:"action"`
	Metadata  Fields        `json:"metadata"`
}

type SessionParams struct {
	EventID   string
	Timestamp time.Time
	SessionID string
	UserID    string
	Action    SessionAction
	Metadata  Fields
}

func NewSessionEvent(p SessionParams) (SessionEvent, error) {
	event := SessionEvent{
		Base:      newBase(p.EventID, p.Timestamp),
		SessionID: p.SessionID,
		UserID:    p.UserID,
		Action:    p.Action,
		Metadata:  p.Metadata,
	}
	if err := event.Validate(); err != nil {
		return SessionEvent{}, err
	}
	return event, nil
}

func (e SessionEvent) DetailType() DetailType { return DetailTypeSession }

func (e SessionEvent) Validate() error {
	if err := e.Base.validate(); err != nil {
		return err
	}
	if err := required("session_id", e.SessionID); err != nil {
		return err
	}
	if err := required("user_id", e.UserID); err != nil {
		return err
	}
	if !e.Action.Valid() {
		return invalid("action", "%q is not one of started, ended", e.Action)
	}
	return nil
}
