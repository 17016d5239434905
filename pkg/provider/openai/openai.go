package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"parley/pkg/config"
	providertypes "parley/pkg/provider/types"

	osdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"
)

const defaultModel = "gpt-4o-mini"

type Client struct {
	client osdk.Client
	model  string
	log    *slog.Logger
}

func New(providerCfg config.OpenAIProviderConfig, model string) (*Client, error) {
	apiKey := resolveAPIKey(providerCfg)
	if apiKey == "" {
		return nil, errors.New("provider.openai.api_key_env is required or OPENAI_API_KEY must be set")
	}

	normalizedModel, err := normalizeModel(model)
	if err != nil {
		return nil, err
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL := strings.TrimSpace(providerCfg.BaseURL); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if organization := strings.TrimSpace(providerCfg.Organization); organization != "" {
		opts = append(opts, option.WithOrganization(organization))
	}
	if project := strings.TrimSpace(providerCfg.Project); project != "" {
		opts = append(opts, option.WithProject(project))
	}
	// Deadlines come from the caller's context; the SDK must not retry past them.
	opts = append(opts, option.WithMaxRetries(0))

	return &Client{
		client: osdk.NewClient(opts...),
		model:  normalizedModel,
		log:    slog.Default().With("component", "provider.openai", "model", normalizedModel),
	}, nil
}

func (c *Client) Model() string {
	return c.model
}

// Complete sends one prompt through the Responses API and returns its text.
func (c *Client) Complete(ctx context.Context, req providertypes.CompletionRequest) (providertypes.Completion, error) {
	log := c.log.With("operation", "complete")
	startedAt := time.Now()

	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return providertypes.Completion{}, errors.New("prompt is required")
	}

	params := responses.ResponseNewParams{
		Model: c.model,
		Input: responses.ResponseNewParamsInputUnion{OfString: osdk.String(prompt)},
	}
	if req.MaxTokens > 0 {
		params.MaxOutputTokens = osdk.Int(int64(req.MaxTokens))
	}
	if req.Temperature != nil {
		params.Temperature = osdk.Float(*req.Temperature)
	}

	log.Debug("provider request started", "prompt_length", len(prompt), "max_tokens", req.MaxTokens)

	response, err := c.client.Responses.New(ctx, params)
	if err != nil {
		log.Debug("provider request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return providertypes.Completion{}, fmt.Errorf("completion failed: %w", err)
	}

	text := strings.TrimSpace(response.OutputText())
	if text == "" {
		log.Debug("provider request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", "no output text")
		return providertypes.Completion{}, providertypes.ErrEmptyCompletion
	}

	usage := usageFromResponse(response.Usage)
	log.Debug("provider request completed",
		"duration_ms", time.Since(startedAt).Milliseconds(),
		"response_length", len(text),
		"total_tokens", usage.TotalTokens,
	)

	completion := providertypes.Completion{Text: text, Model: c.model}
	if !usage.IsZero() {
		completion.Usage = &usage
	}
	return completion, nil
}

func usageFromResponse(usage responses.ResponseUsage) providertypes.TokenUsage {
	return providertypes.TokenUsage{
		InputTokens:     usage.InputTokens,
		OutputTokens:    usage.OutputTokens,
		TotalTokens:     usage.TotalTokens,
		ReasoningTokens: usage.OutputTokensDetails.ReasoningTokens,
		CachedTokens:    usage.InputTokensDetails.CachedTokens,
	}
}

func resolveAPIKey(cfg config.OpenAIProviderConfig) string {
	if apiKeyEnv := strings.TrimSpace(cfg.APIKeyEnv); apiKeyEnv != "" {
		if apiKey := strings.TrimSpace(os.Getenv(apiKeyEnv)); apiKey != "" {
			return apiKey
		}
	}

	return strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
}

// normalizeModel accepts "model" or "openai/model"; empty selects the default.
func normalizeModel(model string) (string, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return defaultModel, nil
	}

	providerID, modelID, found := strings.Cut(model, "/")
	if !found {
		return model, nil
	}

	providerID = strings.TrimSpace(providerID)
	modelID = strings.TrimSpace(modelID)
	if providerID == "" || modelID == "" {
		return "", errors.New("model is invalid")
	}
	if providerID != "openai" {
		return "", fmt.Errorf("model provider %q is not supported by openai provider", providerID)
	}

	return modelID, nil
}
