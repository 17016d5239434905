package events

import "strings"

// DetailType tags which event variant a bus envelope carries.
type DetailType string

const (
	DetailTypeUserInteraction DetailType = "User Interaction"
	DetailTypeAIResponse      DetailType = "AI Response Generated"
	DetailTypeSystemError     DetailType = "System Error"
	DetailTypeSession         DetailType = "Session Event"
)

// Valid reports whether d is one of the four published detail types.
func (d DetailType) Valid() bool {
	switch d {
	case DetailTypeUserInteraction, DetailTypeAIResponse, DetailTypeSystemError, DetailTypeSession:
		return true
	default:
		return false
	}
}

// ParseDetailType matches a record's detail-type tag exactly against the
// four known variants.
func ParseDetailType(input string) (DetailType, bool) {
	detailType := DetailType(input)
	return detailType, detailType.Valid()
}

type InteractionType string

const (
	InteractionVoice   InteractionType = "voice"
	InteractionText    InteractionType = "text"
	InteractionGesture InteractionType = "gesture"
)

func (t InteractionType) Valid() bool {
	switch t {
	case InteractionVoice, InteractionText, InteractionGesture:
		return true
	default:
		return false
	}
}

type ResponseType string

const (
	ResponseText   ResponseType = "text"
	ResponseAudio  ResponseType = "audio"
	ResponseAction ResponseType = "action"
)

func (t ResponseType) Valid() bool {
	switch t {
	case ResponseText, ResponseAudio, ResponseAction:
		return true
	default:
		return false
	}
}

// Severity ranks error events; the order is low < medium < high < critical.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

func (s Severity) Valid() bool { return s.rank() > 0 }

// AtLeast reports whether s is valid and ranks at or above threshold.
func (s Severity) AtLeast(threshold Severity) bool {
	return s.Valid() && s.rank() >= threshold.rank()
}

// ParseSeverity accepts a case-insensitive severity name.
func ParseSeverity(input string) (Severity, error) {
	severity := Severity(strings.ToLower(strings.TrimSpace(input)))
	if !severity.Valid() {
		return "", invalid("severity", "%q is not one of low, medium, high, critical", input)
	}
	return severity, nil
}

type SessionAction string

const (
	SessionStarted SessionAction = "started"
	SessionEnded   SessionAction = "ended"
)

func (a SessionAction) Valid() bool {
	return a == SessionStarted || a == SessionEnded
}
