// Package cursor adapts the cursor-agent CLI's stream-json NDJSON
// subprocess protocol to the adapters.Adapter contract.
package cursor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/nullstream/agentcore/internal/adapters"
	"github.com/nullstream/agentcore/internal/events"
	"github.com/nullstream/agentcore/internal/modelmap"
	"github.com/nullstream/agentcore/internal/store"
	"github.com/nullstream/agentcore/internal/toolname"
)

const providerName = "cursor"

const terminateGrace = 2 * time.Second

// Adapter implements adapters.Adapter for cursor-agent.
type Adapter struct {
	binPath      string
	apiKey       string
	store        store.Store
	logger       *slog.Logger
	envOverrides map[string]string
}

// New builds a Cursor adapter. binPath defaults to "cursor-agent" (resolved
// via PATH) when empty.
func New(binPath, apiKey string, st store.Store, logger *slog.Logger, envOverrides map[string]string) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	if binPath == "" {
		binPath = "cursor-agent"
	}
	return &Adapter{binPath: binPath, apiKey: apiKey, store: st, logger: logger, envOverrides: envOverrides}
}

func (a *Adapter) Name() string { return providerName }

func (a *Adapter) CheckAvailability(ctx context.Context) adapters.ProviderStatus {
	now := time.Now().UTC()
	path, err := exec.LookPath(a.binPath)
	if err != nil {
		return adapters.ProviderStatus{Available: false, Configured: false, Error: "cursor-agent binary not found on PATH", CheckedAt: now}
	}
	if out, err := exec.CommandContext(ctx, path, "--version").CombinedOutput(); err != nil {
		return adapters.ProviderStatus{
			Available: false, Configured: false,
			Error:     fmt.Sprintf("cursor-agent not operable: %v (%s)", err, strings.TrimSpace(string(out))),
			CheckedAt: now,
		}
	}
	return adapters.ProviderStatus{Available: true, Configured: true, Models: modelmap.Models(providerName), CheckedAt: now}
}

func (a *Adapter) buildEnv() []string {
	env := os.Environ()
	for k, v := range a.envOverrides {
		env = append(env, k+"="+v)
	}
	return env
}

func (a *Adapter) Stream(ctx context.Context, req adapters.StreamRequest) <-chan events.Event {
	out := make(chan events.Event, 16)
	go a.run(ctx, req, out)
	return out
}

func (a *Adapter) run(ctx context.Context, req adapters.StreamRequest, out chan<- events.Event) {
	defer close(out)
	clock := events.NewClock()

	args := []string{"--force", "-p", req.Opts.Instruction, "--output-format", "stream-json"}
	if resume, ok := a.GetSessionID(req.ProjectID); ok && resume != "" {
		args = append(args, "--resume", resume)
	}
	if a.apiKey != "" {
		args = append(args, "--api-key", a.apiKey)
	}
	if model := modelmap.Resolve(providerName, req.Opts.Model); model != "" {
		args = append(args, "-m", model)
	}

	workDir := req.ProjectPath
	if repo := filepath.Join(req.ProjectPath, "repo"); isDir(repo) {
		workDir = repo
	}

	proc, err := adapters.StartSubprocess(ctx, a.logger, a.binPath, args, workDir, a.buildEnv())
	if err != nil {
		out <- events.NewError(clock, events.ProviderCursor, string(adapters.ReasonCLINotFound), err.Error())
		return
	}
	defer proc.Terminate(terminateGrace)

	var chatBuf strings.Builder
	flush := func() {
		if chatBuf.Len() == 0 {
			return
		}
		out <- events.NewChat(clock, events.ProviderCursor, chatBuf.String())
		chatBuf.Reset()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			line, ok := proc.ReadLine()
			if !ok {
				return
			}
			if !a.handleLine(clock, req, line, &chatBuf, flush, out) {
				return
			}
		}
	}()

	select {
	case <-ctx.Done():
		flush()
		out <- events.NewError(clock, events.ProviderCursor, string(adapters.ReasonCancelled), "cursor: turn cancelled")
	case <-done:
	}
}

// handleLine processes one NDJSON line, returning false once a terminal
// event has been reached.
func (a *Adapter) handleLine(clock *events.Clock, req adapters.StreamRequest, line string, chatBuf *strings.Builder, flush func(), out chan<- events.Event) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return true
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		a.logger.Debug("cursor: malformed line", "error", err, "line", line)
		out <- events.New(clock, events.ProviderCursor, events.RoleAssistant, events.KindChat, line, events.Metadata{
			"parse_error": err.Error(),
		})
		return true
	}

	typ, _ := raw["type"].(string)
	switch typ {
	case "system":
		flush()
		out <- events.NewSystemInit(clock, events.ProviderCursor)
	case "assistant":
		appendAssistantText(raw, chatBuf)
	case "tool_call":
		a.handleToolCall(clock, raw, flush, out)
	case "result":
		flush()
		return !a.handleResult(clock, req, raw, out)
	}
	return true
}

func appendAssistantText(raw map[string]any, buf *strings.Builder) {
	msg, _ := raw["message"].(map[string]any)
	if msg == nil {
		return
	}
	content, _ := msg["content"].([]any)
	for _, c := range content {
		cm, _ := c.(map[string]any)
		if cm == nil {
			continue
		}
		if t, _ := cm["type"].(string); t == "text" {
			if text, _ := cm["text"].(string); text != "" {
				buf.WriteString(strings.TrimSpace(text))
			}
		}
	}
}

func (a *Adapter) handleToolCall(clock *events.Clock, raw map[string]any, flush func(), out chan<- events.Event) {
	subtype, _ := raw["subtype"].(string)
	toolCall, _ := raw["tool_call"].(map[string]any)
	rawName, rawInput := extractCursorTool(toolCall)
	name, input := toolname.Normalize(rawName, rawInput)

	switch subtype {
	case "started":
		flush()
		summary := toolname.Render(name, input)
		out <- events.NewToolUse(clock, events.ProviderCursor, name, input, summary)
	case "completed":
		var d *int64
		if ms, ok := raw["duration_ms"].(float64); ok {
			v := int64(ms)
			d = &v
		}
		out <- events.NewToolResult(clock, events.ProviderCursor, name, d)
	}
}

// cursorToolKeys maps a polymorphic tool_call body's sole populated key to
// its raw tool identifier, per perles' cursor-parser.go shellToolCall/
// mcpToolCall/editToolCall/readToolCall shape.
var cursorToolKeys = []string{
	"shellToolCall", "mcpToolCall", "editToolCall", "readToolCall",
	"writeToolCall", "globToolCall", "grepToolCall", "lsToolCall",
	"deleteToolCall", "webSearchToolCall", "webFetchToolCall",
}

func extractCursorTool(tc map[string]any) (string, map[string]any) {
	if tc == nil {
		return "tool", nil
	}
	for _, key := range cursorToolKeys {
		body, ok := tc[key].(map[string]any)
		if !ok {
			continue
		}
		if key == "mcpToolCall" {
			return "mcp_tool_call", body
		}
		name := strings.TrimSuffix(key, "ToolCall")
		return strings.ToLower(name), body
	}
	if name, ok := tc["name"].(string); ok {
		input, _ := tc["args"].(map[string]any)
		return name, input
	}
	return "tool", nil
}

// handleResult processes the terminal "result" event: extracts the
// authoritative session id, persists it, and emits the hidden result
// marker. Returns true once the caller should stop reading lines.
func (a *Adapter) handleResult(clock *events.Clock, req adapters.StreamRequest, raw map[string]any, out chan<- events.Event) bool {
	sessionID := extractCursorSessionID(raw)
	if sessionID != "" {
		a.SetSessionID(req.ProjectID, sessionID)
	}

	var d *int64
	if ms, ok := raw["duration_ms"].(float64); ok {
		v := int64(ms)
		d = &v
	}

	md := events.Metadata{"original_event": raw}
	out <- events.NewResult(clock, events.ProviderCursor, d, md)
	return true
}

// extractCursorSessionID follows spec's precedence: result.session_id,
// then any of sessionId|chatId|session_id|chat_id|threadId|thread_id at
// top level, then the same fields nested under "message".
func extractCursorSessionID(raw map[string]any) string {
	if v, ok := raw["session_id"].(string); ok && v != "" {
		return v
	}
	keys := []string{"sessionId", "chatId", "session_id", "chat_id", "threadId", "thread_id"}
	for _, k := range keys {
		if v, ok := raw[k].(string); ok && v != "" {
			return v
		}
	}
	if msg, ok := raw["message"].(map[string]any); ok {
		for _, k := range keys {
			if v, ok := msg[k].(string); ok && v != "" {
				return v
			}
		}
	}
	return ""
}

func (a *Adapter) GetSessionID(projectID string) (string, bool) {
	h, ok, err := a.store.GetSession(context.Background(), projectID, providerName)
	if err != nil || !ok || h.SessionID == "" {
		return "", false
	}
	return h.SessionID, true
}

func (a *Adapter) SetSessionID(projectID, sessionID string) {
	if err := a.store.SetSession(context.Background(), projectID, providerName, store.SessionHandle{
		SessionID: sessionID,
		UpdatedAt: time.Now().UTC(),
	}); err != nil {
		a.logger.Warn("cursor: failed to persist session id", "error", err)
	}
}

func (a *Adapter) SupportedModels() []string { return modelmap.Models(providerName) }

func (a *Adapter) IsModelSupported(model string) bool { return modelmap.IsSupported(providerName, model) }

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
