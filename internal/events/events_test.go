package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClockMonotonicNonDecreasing(t *testing.T) {
	c := NewClock()
	var last time.Time
	for i := 0; i < 50; i++ {
		now := c.Now()
		assert.False(t, now.Before(last), "clock went backwards")
		last = now
	}
}

func TestNewStampsIDAndTime(t *testing.T) {
	c := NewClock()
	a := New(c, ProviderClaude, RoleAssistant, KindChat, "hi", nil)
	b := New(c, ProviderClaude, RoleAssistant, KindChat, "there", nil)

	require.NotEmpty(t, a.ID)
	require.NotEmpty(t, b.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.False(t, b.CreatedAt.Before(a.CreatedAt))
}

func TestEqualByID(t *testing.T) {
	c := NewClock()
	a := New(c, ProviderClaude, RoleAssistant, KindChat, "hi", nil)
	b := a
	b.Content = "changed"
	assert.True(t, a.Equal(b))

	other := New(c, ProviderClaude, RoleAssistant, KindChat, "hi", nil)
	assert.False(t, a.Equal(other))
}

func TestHiddenFromUI(t *testing.T) {
	c := NewClock()
	sys := NewSystemInit(c, ProviderCodex)
	assert.True(t, sys.Metadata.Hidden())

	chat := NewChat(c, ProviderCodex, "hello")
	assert.False(t, chat.Metadata.Hidden())

	res := NewResult(c, ProviderCodex, nil, nil)
	assert.True(t, res.Metadata.Hidden())
	assert.Equal(t, RoleSystem, res.Role)
	assert.Equal(t, KindResult, res.Kind)
}

func TestToolUseCarriesNormalizedFields(t *testing.T) {
	c := NewClock()
	ev := NewToolUse(c, ProviderClaude, "Read", map[string]any{"file_path": "a.go"}, "**Read** `a.go`")
	assert.Equal(t, "Read", ev.Metadata["tool_name"])
	assert.Equal(t, "**Read** `a.go`", ev.Content)
	assert.False(t, ev.Metadata.Hidden())
}

func TestToolResultHiddenByDefault(t *testing.T) {
	c := NewClock()
	d := int64(12)
	ev := NewToolResult(c, ProviderClaude, "Bash", &d)
	assert.True(t, ev.Metadata.Hidden())
	assert.EqualValues(t, 12, ev.Metadata["duration_ms"])
}

func TestViewRendersProviderAsString(t *testing.T) {
	c := NewClock()
	ev := NewChat(c, ProviderGemini, "hi")
	v := ev.View()
	assert.Equal(t, "gemini", v.Provider)
	assert.Equal(t, "chat", v.Kind)
	assert.Equal(t, "assistant", v.Role)
}
