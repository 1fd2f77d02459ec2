package codex

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nullstream/agentcore/internal/events"
	"github.com/nullstream/agentcore/internal/session"
	"github.com/nullstream/agentcore/internal/store"
)

func newTestAdapter() (*Adapter, *store.MemStore) {
	st := store.NewMemStore()
	return New("", st, nil, nil, nil, nil), st
}

func feedLines(a *Adapter, requestID string, lines []string) []events.Event {
	clock := events.NewClock()
	out := make(chan events.Event, 64)
	var chatBuf strings.Builder
	for _, line := range lines {
		if terminal := a.handleLine(clock, "proj1", requestID, line, &chatBuf, out); terminal {
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

func TestHandleLineDeltaFlushesOnAgentMessage(t *testing.T) {
	a, _ := newTestAdapter()
	lines := []string{
		`{"id":"msg_1","msg":{"type":"agent_message_delta","delta":"hel"}}`,
		`{"id":"msg_1","msg":{"type":"agent_message_delta","delta":"lo"}}`,
		`{"id":"msg_1","msg":{"type":"agent_message","message":"hello"}}`,
		`{"id":"msg_1","msg":{"type":"task_complete"}}`,
	}
	evs := feedLines(a, "msg_1", lines)
	require.Len(t, evs, 2)
	assert.Equal(t, events.KindChat, evs[0].Kind)
	assert.Equal(t, "hello", evs[0].Content)
	assert.Equal(t, events.KindResult, evs[1].Kind)
	assert.True(t, evs[1].Metadata.Hidden())
}

// TestApplyPatchBeforeAgentMessageDoesNotFlushBuffer matches the scenario
// where a patch_apply_begin event arrives before the accumulated delta
// buffer has been flushed by agent_message: the tool_use event must be
// emitted on its own without disturbing the chat buffer.
func TestApplyPatchBeforeAgentMessageDoesNotFlushBuffer(t *testing.T) {
	a, _ := newTestAdapter()
	lines := []string{
		`{"id":"msg_1","msg":{"type":"agent_message_delta","delta":"working on it"}}`,
		`{"id":"msg_1","msg":{"type":"patch_apply_begin","changes":{"a.ts":{"add":{"content":"x"}}}}}`,
		`{"id":"msg_1","msg":{"type":"agent_message","message":"working on it"}}`,
		`{"id":"msg_1","msg":{"type":"task_complete"}}`,
	}
	evs := feedLines(a, "msg_1", lines)
	require.Len(t, evs, 3)
	assert.Equal(t, events.KindToolUse, evs[0].Kind)
	assert.Equal(t, "Edit", evs[0].Metadata["tool_name"])
	assert.Contains(t, evs[0].Content, "a.ts")
	assert.Equal(t, events.KindChat, evs[1].Kind)
	assert.Equal(t, events.KindResult, evs[2].Kind)
}

func TestExecCommandBeginEmitsBashToolUse(t *testing.T) {
	a, _ := newTestAdapter()
	lines := []string{
		`{"id":"msg_1","msg":{"type":"exec_command_begin","command":["ls","-la"]}}`,
		`{"id":"msg_1","msg":{"type":"exec_command_end"}}`,
		`{"id":"msg_1","msg":{"type":"task_complete"}}`,
	}
	evs := feedLines(a, "msg_1", lines)
	require.Len(t, evs, 2)
	assert.Equal(t, events.KindToolUse, evs[0].Kind)
	assert.Equal(t, "Bash", evs[0].Metadata["tool_name"])
	assert.Contains(t, evs[0].Content, "ls -la")
}

func TestWebSearchAndMCPToolCallBegin(t *testing.T) {
	a, _ := newTestAdapter()
	lines := []string{
		`{"id":"msg_1","msg":{"type":"web_search_begin","query":"golang context"}}`,
		`{"id":"msg_1","msg":{"type":"mcp_tool_call_begin","server":"fs","tool":"list"}}`,
		`{"id":"msg_1","msg":{"type":"task_complete"}}`,
	}
	evs := feedLines(a, "msg_1", lines)
	require.Len(t, evs, 3)
	assert.Equal(t, "WebSearch", evs[0].Metadata["tool_name"])
	assert.Equal(t, "MCPTool", evs[1].Metadata["tool_name"])
	assert.Equal(t, events.KindResult, evs[2].Kind)
}

func TestErrorMessageEmitsVisibleErrorAndTerminates(t *testing.T) {
	a, _ := newTestAdapter()
	lines := []string{
		`{"id":"msg_1","msg":{"type":"error","message":"boom"}}`,
		`{"id":"msg_1","msg":{"type":"task_complete"}}`,
	}
	evs := feedLines(a, "msg_1", lines)
	require.Len(t, evs, 1)
	assert.Equal(t, events.KindError, evs[0].Kind)
	assert.Equal(t, "boom", evs[0].Content)
}

func TestHandleLineIgnoresOtherRequestIDs(t *testing.T) {
	a, _ := newTestAdapter()
	lines := []string{
		`{"id":"other","msg":{"type":"agent_message","message":"not mine"}}`,
		`{"id":"msg_1","msg":{"type":"task_complete"}}`,
	}
	evs := feedLines(a, "msg_1", lines)
	require.Len(t, evs, 1)
	assert.Equal(t, events.KindResult, evs[0].Kind)
}

func TestHandleLineSkipsMalformedJSON(t *testing.T) {
	a, _ := newTestAdapter()
	lines := []string{
		`not json`,
		`{"id":"msg_1","msg":{"type":"task_complete"}}`,
	}
	evs := feedLines(a, "msg_1", lines)
	require.Len(t, evs, 1)
	assert.Equal(t, events.KindResult, evs[0].Kind)
}

func TestResumeDisabledByDefault(t *testing.T) {
	a, _ := newTestAdapter()
	assert.Equal(t, "", a.resolveResumePath("proj1"))
}

func TestTaskCompletePersistsResumeHint(t *testing.T) {
	dir := t.TempDir()
	rolloutPath := dir + "/rollout-2024-01-01T00-00-00-abc.jsonl"
	require.NoError(t, os.WriteFile(rolloutPath, []byte("{}"), 0o644))

	st := store.NewMemStore()
	a := New("", st, nil, nil, session.NewRolloutWatcher(dir, nil), nil)

	lines := []string{`{"id":"msg_1","msg":{"type":"task_complete"}}`}
	feedLines(a, "msg_1", lines)

	hint, ok, err := st.GetResumeHint(context.Background(), "proj1", providerName)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rolloutPath, hint)
}

func TestCheckAvailabilityMissingBinary(t *testing.T) {
	a := New("definitely-not-a-real-binary-xyz", store.NewMemStore(), nil, nil, nil, nil)
	status := a.CheckAvailability(context.Background())
	assert.False(t, status.Available)
}
