package cursor

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nullstream/agentcore/internal/adapters"
	"github.com/nullstream/agentcore/internal/events"
	"github.com/nullstream/agentcore/internal/store"
)

func newTestAdapter() (*Adapter, *store.MemStore) {
	st := store.NewMemStore()
	return New("", "", st, nil, nil), st
}

func feedLines(t *testing.T, a *Adapter, req adapters.StreamRequest, lines []string) []events.Event {
	t.Helper()
	clock := events.NewClock()
	out := make(chan events.Event, 64)
	var chatBuf strings.Builder
	flush := func() {
		if chatBuf.Len() == 0 {
			return
		}
		out <- events.NewChat(clock, events.ProviderCursor, chatBuf.String())
		chatBuf.Reset()
	}
	for _, line := range lines {
		cont := a.handleLine(clock, req, line, &chatBuf, flush, out)
		if !cont {
			break
		}
	}
	close(out)
	var evs []events.Event
	for ev := range out {
		evs = append(evs, ev)
	}
	return evs
}

func TestScenarioSuccessfulTurn(t *testing.T) {
	a, _ := newTestAdapter()
	req := adapters.StreamRequest{ProjectID: "proj1"}

	lines := []string{
		`{"type":"system"}`,
		`{"type":"assistant","message":{"content":[{"type":"text","text":"ok"}]}}`,
		`{"type":"result","session_id":"abc123","duration_ms":50}`,
	}
	evs := feedLines(t, a, req, lines)

	require.Len(t, evs, 3)
	assert.True(t, evs[0].Metadata.Hidden())
	assert.Equal(t, "ok", evs[1].Content)
	assert.Equal(t, events.KindResult, evs[2].Kind)
	assert.True(t, evs[2].Metadata.Hidden())

	sid, ok := a.GetSessionID("proj1")
	require.True(t, ok)
	assert.Equal(t, "abc123", sid)
}

func TestScenarioErrorResultCarriesOriginalEvent(t *testing.T) {
	a, _ := newTestAdapter()
	req := adapters.StreamRequest{ProjectID: "proj1"}

	lines := []string{
		`{"type":"system"}`,
		`{"type":"result","session_id":"abc","subtype":"error","is_error":true,"duration_ms":10}`,
	}
	evs := feedLines(t, a, req, lines)
	require.Len(t, evs, 2)
	orig, ok := evs[1].Metadata["original_event"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, orig["is_error"])
	assert.Equal(t, "error", orig["subtype"])
}

func TestToolCallStartedAndCompleted(t *testing.T) {
	a, _ := newTestAdapter()
	req := adapters.StreamRequest{ProjectID: "proj1"}

	lines := []string{
		`{"type":"tool_call","subtype":"started","tool_call":{"shellToolCall":{"command":"ls -la"}}}`,
		`{"type":"tool_call","subtype":"completed","tool_call":{"shellToolCall":{"command":"ls -la"}},"duration_ms":5}`,
		`{"type":"result","session_id":"x"}`,
	}
	evs := feedLines(t, a, req, lines)
	require.Len(t, evs, 3)
	assert.Equal(t, events.KindToolUse, evs[0].Kind)
	assert.Equal(t, "Bash", evs[0].Metadata["tool_name"])
	assert.Contains(t, evs[0].Content, "ls -la")
	assert.Equal(t, events.KindToolResult, evs[1].Kind)
	assert.True(t, evs[1].Metadata.Hidden())
}

func TestMalformedLineEmitsRawChatNotFatal(t *testing.T) {
	a, _ := newTestAdapter()
	req := adapters.StreamRequest{ProjectID: "proj1"}

	lines := []string{
		`not json`,
		`{"type":"result","session_id":"x"}`,
	}
	evs := feedLines(t, a, req, lines)
	require.Len(t, evs, 2)
	assert.Equal(t, events.KindChat, evs[0].Kind)
	assert.NotEmpty(t, evs[0].Metadata["parse_error"])
	assert.Equal(t, events.KindResult, evs[1].Kind)
}

func TestExtractCursorSessionIDPrecedence(t *testing.T) {
	assert.Equal(t, "top", extractCursorSessionID(map[string]any{"session_id": "top"}))
	assert.Equal(t, "mid", extractCursorSessionID(map[string]any{"chatId": "mid"}))
	assert.Equal(t, "nested", extractCursorSessionID(map[string]any{"message": map[string]any{"threadId": "nested"}}))
	assert.Equal(t, "", extractCursorSessionID(map[string]any{}))
}
