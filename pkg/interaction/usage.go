package interaction

import (
	providertypes "parley/pkg/provider/types"
)

const (
	usageInputTokensKey     = "usage_input_tokens"
	usageOutputTokensKey    = "usage_output_tokens"
	usageTotalTokensKey     = "usage_total_tokens"
	usageReasoningTokensKey = "usage_reasoning_tokens"
	usageCachedTokensKey    = "usage_cached_tokens"
)

// usageAttrs flattens provider token usage into log attributes. Nil or
// all-zero usage adds nothing.
func usageAttrs(usage *providertypes.TokenUsage) []any {
	if usage == nil || usage.IsZero() {
		return nil
	}

	attrs := []any{
		usageInputTokensKey, usage.InputTokens,
		usageOutputTokensKey, usage.OutputTokens,
		usageTotalTokensKey, usage.TotalTokens,
	}
	if usage.ReasoningTokens > 0 {
		attrs = append(attrs, usageReasoningTokensKey, usage.ReasoningTokens)
	}
	if usage.CachedTokens > 0 {
		attrs = append(attrs, usageCachedTokensKey, usage.CachedTokens)
	}
	return attrs
}
