package provider

import (
	"context"
	"fmt"
	"log/slog"

	"parley/pkg/config"
	provideropenai "parley/pkg/provider/openai"
	providertypes "parley/pkg/provider/types"
)

// ErrEmptyCompletion is re-exported for callers that only import provider.
var ErrEmptyCompletion = providertypes.ErrEmptyCompletion

// Completer is the text-completion collaborator of the interaction processor.
type Completer interface {
	Complete(ctx context.Context, req providertypes.CompletionRequest) (providertypes.Completion, error)
	Model() string
}

func New(cfg *config.Config) (Completer, error) {
	providerID := cfg.Provider.Name
	if providerID == "" {
		providerID = config.ProviderOpenAI
	}

	slog.Default().With("component", "provider.factory").Debug("Resolving completion provider", "provider", providerID)

	switch providerID {
	case config.ProviderOpenAI:
		return provideropenai.New(cfg.Provider.OpenAI, cfg.Completion.Model)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", providerID)
	}
}
