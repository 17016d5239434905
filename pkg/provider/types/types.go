package types

import "errors"

// ErrEmptyCompletion is returned when the completion service answers
// successfully but produces no text.
var ErrEmptyCompletion = errors.New("completion returned no text")

// CompletionRequest is one bounded text-completion call.
type CompletionRequest struct {
	Prompt    string
	MaxTokens int
	// Temperature is omitted from the request when nil; zero is sent as is.
	Temperature *float64
}

// Completion is the normalized completion service response.
type Completion struct {
	Text  string
	Model string
	Usage *TokenUsage
}

// TokenUsage captures token accounting when the service reports it.
type TokenUsage struct {
	InputTokens     int64
	OutputTokens    int64
	TotalTokens     int64
	ReasoningTokens int64
	CachedTokens    int64
}

// IsZero reports whether all token counters are unset/zero.
func (u TokenUsage) IsZero() bool {
	return u.InputTokens == 0 &&
		u.OutputTokens == 0 &&
		u.TotalTokens == 0 &&
		u.ReasoningTokens == 0 &&
		u.CachedTokens == 0
}
