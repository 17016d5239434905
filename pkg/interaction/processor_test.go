package interaction

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"parley/pkg/events"
	"parley/pkg/history"
	providertypes "parley/pkg/provider/types"
)

type recordingPublisher struct {
	mu           sync.Mutex
	order        []events.DetailType
	interactions []events.InteractionEvent
	responses    []events.ResponseEvent
	errors       []events.ErrorEvent
	sessions     []events.SessionEvent
	reject       bool
}

func (p *recordingPublisher) record(detailType events.DetailType) bool {
	p.order = append(p.order, detailType)
	return !p.reject
}

func (p *recordingPublisher) PublishUserInteraction(_ context.Context, event events.InteractionEvent) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.interactions = append(p.interactions, event)
	return p.record(event.DetailType())
}

func (p *recordingPublisher) PublishAIResponse(_ context.Context, event events.ResponseEvent) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responses = append(p.responses, event)
	return p.record(event.DetailType())
}

func (p *recordingPublisher) PublishSystemError(_ context.Context, event events.ErrorEvent) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errors = append(p.errors, event)
	return p.record(event.DetailType())
}

func (p *recordingPublisher) PublishSessionEvent(_ context.Context, event events.SessionEvent) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions = append(p.sessions, event)
	return p.record(event.DetailType())
}

type staticAssembler history.AssembledContext

func (a staticAssembler) Assemble(context.Context, string) history.AssembledContext {
	return history.AssembledContext(a)
}

type stubCompleter struct {
	text    string
	err     error
	block   bool
	prompts []string
	temps   []*float64
}

func (c *stubCompleter) Complete(ctx context.Context, req providertypes.CompletionRequest) (providertypes.Completion, error) {
	c.prompts = append(c.prompts, req.Prompt)
	c.temps = append(c.temps, req.Temperature)
	if c.block {
		<-ctx.Done()
		return providertypes.Completion{}, ctx.Err()
	}
	if c.err != nil {
		return providertypes.Completion{}, c.err
	}
	return providertypes.Completion{Text: c.text}, nil
}

func (c *stubCompleter) Model() string { return "stub-model" }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestProcessor(t *testing.T, publisher *recordingPublisher, assembler ContextAssembler, completer *stubCompleter, cfg Config) *Processor {
	t.Helper()

	processor, err := NewProcessor(publisher, assembler, completer, cfg, discardLogger())
	require.NoError(t, err)
	return processor
}

func helloRequest() Request {
	return Request{
		UserID:          "u1",
		SessionID:       "s1",
		Message:         "hello",
		InteractionType: events.InteractionText,
	}
}

func TestProcessUserMessageHappyPath(t *testing.T) {
	publisher := &recordingPublisher{}
	completer := &stubCompleter{text: "hi there"}
	processor := newTestProcessor(t, publisher, staticAssembler(nil), completer, Config{})

	result, err := processor.ProcessUserMessage(context.Background(), helloRequest())
	require.NoError(t, err)

	require.Equal(t, StatusOK, result.Status)
	require.Equal(t, "hi there", result.ResponseText)
	require.NotEmpty(t, result.ResponseID)
	require.GreaterOrEqual(t, result.ProcessingTime, 0.0)
	require.Empty(t, result.ErrorID)

	require.Len(t, publisher.interactions, 1)
	require.Len(t, publisher.responses, 1)
	require.Empty(t, publisher.errors)
	require.Equal(t, []events.DetailType{events.DetailTypeUserInteraction, events.DetailTypeAIResponse}, publisher.order)

	require.Equal(t, publisher.interactions[0].EventID, result.InteractionID)
	response := publisher.responses[0]
	require.Equal(t, result.ResponseID, response.ResponseID)
	require.Equal(t, StaticConfidence, response.Confidence)
	require.Equal(t, "stub-model", response.ModelName)
	require.Equal(t, events.ResponseText, response.ResponseType)
}

func TestProcessUserMessageCompletionFailure(t *testing.T) {
	publisher := &recordingPublisher{}
	completer := &stubCompleter{err: errors.New("quota exceeded")}
	processor := newTestProcessor(t, publisher, staticAssembler(nil), completer, Config{})

	result, err := processor.ProcessUserMessage(context.Background(), helloRequest())
	require.NoError(t, err)

	require.Equal(t, StatusInternalError, result.Status)
	require.NotEmpty(t, result.ErrorID)
	require.Equal(t, genericErrorMessage, result.Error)
	require.Empty(t, result.ResponseText)

	require.Len(t, publisher.interactions, 1)
	require.Empty(t, publisher.responses)
	require.Len(t, publisher.errors, 1)

	errorEvent := publisher.errors[0]
	require.Equal(t, events.SeverityHigh, errorEvent.Severity)
	require.Equal(t, Component, errorEvent.Component)
	require.Equal(t, ErrorTypeCompletion, errorEvent.ErrorType)
	require.Equal(t, result.ErrorID, errorEvent.ErrorID)

	var keys []string
	for key := range errorEvent.Context.All() {
		keys = append(keys, key)
	}
	require.Equal(t, []string{"user_id", "session_id", "message", "interaction_type"}, keys)
	message, _ := errorEvent.Context.Get("message")
	require.Equal(t, "hello", message.String())
}

func TestProcessUserMessageDebugExposesCause(t *testing.T) {
	publisher := &recordingPublisher{}
	processor := newTestProcessor(t, publisher, staticAssembler(nil), &stubCompleter{err: errors.New("quota exceeded")}, Config{Debug: true})

	result, err := processor.ProcessUserMessage(context.Background(), helloRequest())
	require.NoError(t, err)
	require.Equal(t, "quota exceeded", result.Error)
}

func TestProcessUserMessageTimeout(t *testing.T) {
	publisher := &recordingPublisher{}
	processor := newTestProcessor(t, publisher, staticAssembler(nil), &stubCompleter{block: true}, Config{Timeout: 20 * time.Millisecond})

	result, err := processor.ProcessUserMessage(context.Background(), helloRequest())
	require.NoError(t, err)
	require.Equal(t, StatusInternalError, result.Status)
	require.Len(t, publisher.errors, 1)
	require.Equal(t, ErrorTypeCompletionTimeout, publisher.errors[0].ErrorType)
}

func TestProcessUserMessageEmptyCompletion(t *testing.T) {
	publisher := &recordingPublisher{}
	processor := newTestProcessor(t, publisher, staticAssembler(nil), &stubCompleter{text: "   "}, Config{})

	result, err := processor.ProcessUserMessage(context.Background(), helloRequest())
	require.NoError(t, err)
	require.Equal(t, StatusInternalError, result.Status)
	require.Len(t, publisher.errors, 1)
	require.Equal(t, ErrorTypeEmptyCompletion, publisher.errors[0].ErrorType)
}

func TestProcessUserMessagePublishFailureDoesNotAbort(t *testing.T) {
	publisher := &recordingPublisher{reject: true}
	processor := newTestProcessor(t, publisher, staticAssembler(nil), &stubCompleter{text: "hi there"}, Config{})

	result, err := processor.ProcessUserMessage(context.Background(), helloRequest())
	require.NoError(t, err)
	require.Equal(t, StatusOK, result.Status)
	require.Len(t, publisher.interactions, 1)
	require.Len(t, publisher.responses, 1)
}

func TestProcessUserMessageRejectsInvalidRequest(t *testing.T) {
	publisher := &recordingPublisher{}
	completer := &stubCompleter{text: "hi there"}
	processor := newTestProcessor(t, publisher, staticAssembler(nil), completer, Config{})

	req := helloRequest()
	req.InteractionType = "telepathy"

	_, err := processor.ProcessUserMessage(context.Background(), req)
	require.Error(t, err)
	require.True(t, events.IsValidationError(err))
	require.Empty(t, publisher.order)
	require.Empty(t, completer.prompts)
}

func TestProcessUserMessagePromptCarriesContext(t *testing.T) {
	publisher := &recordingPublisher{}
	completer := &stubCompleter{text: "it is sunny"}
	assembler := staticAssembler{
		{Role: "user", Content: "where am I?"},
		{Role: "assistant", Content: "Lisbon."},
	}
	processor := newTestProcessor(t, publisher, assembler, completer, Config{})

	_, err := processor.ProcessUserMessage(context.Background(), Request{
		UserID:          "u1",
		SessionID:       "s1",
		Message:         "what's the weather?",
		InteractionType: events.InteractionVoice,
	})
	require.NoError(t, err)
	require.Len(t, completer.prompts, 1)

	prompt := completer.prompts[0]
	require.Contains(t, prompt, "User: where am I?\nAssistant: Lisbon.\nUser: what's the weather?\nAssistant:")
	require.True(t, strings.HasSuffix(prompt, "Assistant:"))

	preamble, err := loadPreamble()
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(prompt, preamble))
}

func TestSessionLifecycle(t *testing.T) {
	publisher := &recordingPublisher{}
	processor := newTestProcessor(t, publisher, staticAssembler(nil), &stubCompleter{text: "x"}, Config{})

	started, err := processor.StartSession(context.Background(), SessionRequest{UserID: "u1"})
	require.NoError(t, err)
	require.NotEmpty(t, started.SessionID)
	require.True(t, started.Published)

	ended, err := processor.EndSession(context.Background(), SessionRequest{UserID: "u1", SessionID: started.SessionID})
	require.NoError(t, err)
	require.Equal(t, started.SessionID, ended.SessionID)

	require.Len(t, publisher.sessions, 2)
	require.Equal(t, events.SessionStarted, publisher.sessions[0].Action)
	require.Equal(t, events.SessionEnded, publisher.sessions[1].Action)

	_, err = processor.EndSession(context.Background(), SessionRequest{UserID: "u1"})
	require.Error(t, err)
}

func TestProcessUserMessageTemperature(t *testing.T) {
	zero := 0.0
	tests := []struct {
		name string
		cfg  Config
		want float64
	}{
		{name: "unset uses default", cfg: Config{}, want: defaultTemperature},
		{name: "explicit zero is kept", cfg: Config{Temperature: &zero}, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			completer := &stubCompleter{text: "hi there"}
			processor := newTestProcessor(t, &recordingPublisher{}, staticAssembler{}, completer, tt.cfg)

			result, err := processor.ProcessUserMessage(context.Background(), helloRequest())
			require.NoError(t, err)
			require.Equal(t, StatusOK, result.Status)

			require.Len(t, completer.temps, 1)
			require.NotNil(t, completer.temps[0])
			require.Equal(t, tt.want, *completer.temps[0])
		})
	}
}
