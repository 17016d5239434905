package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"parley/pkg/config"
	providertypes "parley/pkg/provider/types"
)

func TestNewRequiresAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	_, err := New(config.OpenAIProviderConfig{}, "")
	if err == nil {
		t.Fatal("expected error when API key is missing")
	}
}

func TestNewUsesConfiguredAPIKeyEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("TEST_OPENAI_API_KEY", "sk-test")

	client, err := New(config.OpenAIProviderConfig{APIKeyEnv: "TEST_OPENAI_API_KEY"}, "openai/gpt-4.1-mini")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if client.Model() != "gpt-4.1-mini" {
		t.Fatalf("Model() = %q, want %q", client.Model(), "gpt-4.1-mini")
	}
}

func TestNewDefaultsModel(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-default")

	client, err := New(config.OpenAIProviderConfig{}, "")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if client.Model() != defaultModel {
		t.Fatalf("Model() = %q, want %q", client.Model(), defaultModel)
	}
}

func TestNormalizeModel(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "plain model", input: "gpt-4o", want: "gpt-4o"},
		{name: "openai prefix", input: "openai/gpt-4o", want: "gpt-4o"},
		{name: "other provider", input: "anthropic/claude", wantErr: true},
		{name: "dangling prefix", input: "openai/", wantErr: true},
		{name: "empty", input: "", want: defaultModel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := normalizeModel(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("normalizeModel(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("normalizeModel(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	t.Setenv("OPENAI_API_KEY", "sk-test")
	client, err := New(config.OpenAIProviderConfig{BaseURL: server.URL}, "gpt-4o-mini")
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	return client
}

func TestCompleteReturnsOutputText(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/responses" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "resp_1",
			"object": "response",
			"created_at": 1700000000,
			"status": "completed",
			"model": "gpt-4o-mini",
			"output": [{
				"type": "message",
				"id": "msg_1",
				"status": "completed",
				"role": "assistant",
				"content": [{"type": "output_text", "text": "hi there", "annotations": []}]
			}],
			"usage": {"input_tokens": 12, "output_tokens": 3, "total_tokens": 15}
		}`))
	})

	got, err := client.Complete(context.Background(), providertypes.CompletionRequest{Prompt: "User: hello\nAssistant:", MaxTokens: 64, Temperature: float64Ptr(0.7)})
	if err != nil {
		t.Fatalf("Complete error: %v", err)
	}
	if got.Text != "hi there" {
		t.Fatalf("text = %q, want %q", got.Text, "hi there")
	}
	if got.Usage == nil || got.Usage.TotalTokens != 15 {
		t.Fatalf("usage = %#v, want total 15", got.Usage)
	}
}

func TestCompleteEmptyOutputIsSentinel(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": "resp_2", "object": "response", "status": "completed", "model": "gpt-4o-mini", "output": []}`))
	})

	_, err := client.Complete(context.Background(), providertypes.CompletionRequest{Prompt: "hello"})
	if !errors.Is(err, providertypes.ErrEmptyCompletion) {
		t.Fatalf("error = %v, want ErrEmptyCompletion", err)
	}
}

func TestCompleteRejectsBlankPrompt(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		t.Error("no request expected for a blank prompt")
	})

	if _, err := client.Complete(context.Background(), providertypes.CompletionRequest{Prompt: "  "}); err == nil {
		t.Fatal("expected error for blank prompt")
	}
}

func float64Ptr(v float64) *float64 { return &v }

func TestCompleteSendsExplicitZeroTemperature(t *testing.T) {
	tests := []struct {
		name        string
		temperature *float64
		wantField   bool
	}{
		{name: "zero is sent", temperature: float64Ptr(0), wantField: true},
		{name: "nil is omitted", temperature: nil, wantField: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body map[string]any
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
					t.Errorf("decode request body: %v", err)
				}
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"id": "resp_3", "object": "response", "status": "completed", "model": "gpt-4o-mini",
					"output": [{"type": "message", "id": "msg_3", "status": "completed", "role": "assistant",
					"content": [{"type": "output_text", "text": "ok", "annotations": []}]}]}`))
			})

			if _, err := client.Complete(context.Background(), providertypes.CompletionRequest{Prompt: "hello", Temperature: tt.temperature}); err != nil {
				t.Fatalf("Complete error: %v", err)
			}

			value, ok := body["temperature"]
			if ok != tt.wantField {
				t.Fatalf("temperature present = %v, want %v (body %v)", ok, tt.wantField, body)
			}
			if ok && value != float64(0) {
				t.Fatalf("temperature = %v, want 0", value)
			}
		})
	}
}
