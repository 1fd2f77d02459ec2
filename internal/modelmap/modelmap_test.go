package modelmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveKnownAlias(t *testing.T) {
	assert.Equal(t, "claude-sonnet-4-20250514", Resolve("claude", "sonnet-4"))
	assert.Equal(t, "qwen3-coder-plus", Resolve("qwen", "qwen3-coder"))
}

func TestResolveNativePassesThrough(t *testing.T) {
	assert.Equal(t, "claude-sonnet-4-20250514", Resolve("claude", "claude-sonnet-4-20250514"))
}

func TestResolveUnknownProviderPassesThrough(t *testing.T) {
	assert.Equal(t, "whatever", Resolve("nonexistent", "whatever"))
}

func TestResolveUnknownAliasPassesThrough(t *testing.T) {
	assert.Equal(t, "mystery-model", Resolve("claude", "mystery-model"))
}

func TestResolveIsRightIdentity(t *testing.T) {
	for provider := range tables {
		for alias := range tables[provider] {
			once := Resolve(provider, alias)
			twice := Resolve(provider, once)
			assert.Equal(t, once, twice, "provider=%s alias=%s not idempotent", provider, alias)
		}
	}
}

func TestIsSupported(t *testing.T) {
	assert.True(t, IsSupported("claude", "sonnet-4"))
	assert.True(t, IsSupported("claude", "claude-opus-4-20250514"))
	assert.False(t, IsSupported("claude", "nonexistent"))
	assert.False(t, IsSupported("nonexistent", "sonnet-4"))
}

func TestModelsListsNativeIdentifiers(t *testing.T) {
	models := Models("gemini")
	assert.Contains(t, models, "gemini-2.5-pro")
	assert.Contains(t, models, "gemini-2.5-flash")
}
