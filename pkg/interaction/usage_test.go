package interaction

import (
	"testing"

	"github.com/stretchr/testify/require"

	providertypes "parley/pkg/provider/types"
)

func TestUsageAttrs(t *testing.T) {
	require.Nil(t, usageAttrs(nil))
	require.Nil(t, usageAttrs(&providertypes.TokenUsage{}))

	got := usageAttrs(&providertypes.TokenUsage{InputTokens: 12, OutputTokens: 5, TotalTokens: 17})
	require.Equal(t, []any{
		"usage_input_tokens", int64(12),
		"usage_output_tokens", int64(5),
		"usage_total_tokens", int64(17),
	}, got)

	got = usageAttrs(&providertypes.TokenUsage{TotalTokens: 9, ReasoningTokens: 4, CachedTokens: 2})
	require.Contains(t, got, "usage_reasoning_tokens")
	require.Contains(t, got, "usage_cached_tokens")
}
