// Package codex adapts the `codex proto` JSON-RPC-over-stdio subprocess
// protocol to the adapters.Adapter contract.
package codex

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nullstream/agentcore/internal/adapters"
	"github.com/nullstream/agentcore/internal/events"
	"github.com/nullstream/agentcore/internal/modelmap"
	"github.com/nullstream/agentcore/internal/session"
	"github.com/nullstream/agentcore/internal/store"
	"github.com/nullstream/agentcore/internal/toolname"
)

const providerName = "codex"
const terminateGrace = 2 * time.Second

const autoInstructions = "Act autonomously without asking for user confirmations. " +
	"Use apply_patch to create and modify files directly in the current working directory. " +
	"Use exec_command to run, build, and test as needed. Assume full permissions. " +
	"Keep taking concrete actions until the task is complete. Prefer concise status updates over questions."

// Adapter implements adapters.Adapter for the Codex CLI.
type Adapter struct {
	binPath         string
	store           store.Store
	logger          *slog.Logger
	envOverrides    map[string]string
	rolloutWatcher  *session.RolloutWatcher
	idCounter       atomic.Int64
	systemPromptSrc func() (string, error) // for AGENTS.md bootstrap content
}

// New builds a Codex adapter. binPath defaults to "codex" when empty.
// rolloutWatcher may be nil; resume discovery then uses only a stored
// resume hint, and task_complete persists no new hint.
func New(binPath string, st store.Store, logger *slog.Logger, envOverrides map[string]string, rolloutWatcher *session.RolloutWatcher, systemPromptSrc func() (string, error)) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	if binPath == "" {
		binPath = "codex"
	}
	return &Adapter{binPath: binPath, store: st, logger: logger, envOverrides: envOverrides, rolloutWatcher: rolloutWatcher, systemPromptSrc: systemPromptSrc}
}

func (a *Adapter) Name() string { return providerName }

func (a *Adapter) CheckAvailability(ctx context.Context) adapters.ProviderStatus {
	now := time.Now().UTC()
	path, err := exec.LookPath(a.binPath)
	if err != nil {
		return adapters.ProviderStatus{Available: false, Configured: false, Error: "codex binary not found on PATH", CheckedAt: now}
	}
	if _, err := exec.CommandContext(ctx, path, "--version").CombinedOutput(); err != nil {
		return adapters.ProviderStatus{Available: false, Configured: false, Error: fmt.Sprintf("codex not operable: %v", err), CheckedAt: now}
	}
	return adapters.ProviderStatus{
		Available: true, Configured: true, Models: modelmap.Models(providerName),
		DefaultModels: []string{"gpt-5", "claude-3.5-sonnet"}, CheckedAt: now,
	}
}

func (a *Adapter) buildEnv() []string {
	env := os.Environ()
	for k, v := range a.envOverrides {
		env = append(env, k+"="+v)
	}
	return env
}

func resumeEnabled() bool {
	v := strings.ToLower(os.Getenv("CODEX_RESUME"))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func disableAgentsMD() bool {
	v := strings.ToLower(os.Getenv("DISABLE_AGENTS_MD"))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func (a *Adapter) ensureAgentsMD(repoDir string) {
	if disableAgentsMD() {
		return
	}
	path := filepath.Join(repoDir, "AGENTS.md")
	if _, err := os.Stat(path); err == nil {
		return
	}
	content := "# Agent instructions\n\n" + autoInstructions + "\n"
	if a.systemPromptSrc != nil {
		if p, err := a.systemPromptSrc(); err == nil && p != "" {
			content = p
		}
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		a.logger.Debug("codex: AGENTS.md bootstrap failed", "error", err)
	}
}

func (a *Adapter) resolveResumePath(projectID string) string {
	if !resumeEnabled() {
		return ""
	}
	if hint, ok, err := a.store.GetResumeHint(context.Background(), projectID, providerName); err == nil && ok && hint != "" {
		if _, statErr := os.Stat(hint); statErr == nil {
			return hint
		}
	}
	if a.rolloutWatcher != nil {
		if path, ok := a.rolloutWatcher.Latest(); ok {
			return path
		}
	}
	return ""
}

func (a *Adapter) Stream(ctx context.Context, req adapters.StreamRequest) <-chan events.Event {
	out := make(chan events.Event, 16)
	go a.run(ctx, req, out)
	return out
}

func (a *Adapter) nextID(prefix string) string {
	n := a.idCounter.Add(1)
	return prefix + "_" + strconv.FormatInt(n, 10)
}

func (a *Adapter) run(ctx context.Context, req adapters.StreamRequest, out chan<- events.Event) {
	defer close(out)
	clock := events.NewClock()

	repoDir := req.ProjectPath
	if candidate := filepath.Join(req.ProjectPath, "repo"); isDir(candidate) {
		repoDir = candidate
	}
	absRepo, err := filepath.Abs(repoDir)
	if err != nil {
		absRepo = repoDir
	}
	a.ensureAgentsMD(absRepo)

	args := []string{
		"--cd", absRepo, "proto",
		"-c", "include_apply_patch_tool=true",
		"-c", "include_plan_tool=true",
		"-c", "tools.web_search_request=true",
		"-c", "use_experimental_streamable_shell_tool=true",
		"-c", "sandbox_mode=danger-full-access",
		"-c", fmt.Sprintf("instructions=%s", jsonQuote(autoInstructions)),
	}
	if resumePath := a.resolveResumePath(req.ProjectID); resumePath != "" {
		args = append(args, "-c", "experimental_resume="+resumePath)
	}

	proc, err := adapters.StartSubprocess(ctx, a.logger, a.binPath, args, repoDir, a.buildEnv())
	if err != nil {
		out <- events.NewError(clock, events.ProviderCodex, string(adapters.ReasonCLINotFound), err.Error())
		return
	}
	defer proc.Terminate(terminateGrace)

	if !a.waitForSessionConfigured(clock, req, proc, out) {
		out <- events.NewError(clock, events.ProviderCodex, string(adapters.ReasonProtocolError), "codex: session did not configure")
		return
	}

	requestID := a.nextID("msg")
	items := a.buildUserInputItems(ctx, req)
	op := map[string]any{
		"id": requestID,
		"op": map[string]any{"type": "user_input", "items": items},
	}
	if err := writeJSONLine(proc, op); err != nil {
		out <- events.NewError(clock, events.ProviderCodex, string(adapters.ReasonExecutionFailed), err.Error())
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		var chatBuf strings.Builder
		for {
			line, ok := proc.ReadLine()
			if !ok {
				return
			}
			if terminal := a.handleLine(clock, req.ProjectID, requestID, line, &chatBuf, out); terminal {
				_ = writeJSONLine(proc, map[string]any{"id": a.nextID("shutdown"), "op": map[string]any{"type": "shutdown"}})
				return
			}
		}
	}()

	select {
	case <-ctx.Done():
		out <- events.NewError(clock, events.ProviderCodex, string(adapters.ReasonCancelled), "codex: turn cancelled")
	case <-done:
	}
}

func (a *Adapter) waitForSessionConfigured(clock *events.Clock, req adapters.StreamRequest, proc *adapters.Subprocess, out chan<- events.Event) bool {
	const maxLines = 200
	for i := 0; i < maxLines; i++ {
		line, ok := proc.ReadLine()
		if !ok {
			return false
		}
		var env map[string]any
		if err := json.Unmarshal([]byte(line), &env); err != nil {
			continue
		}
		msg, _ := env["msg"].(map[string]any)
		if msg == nil {
			continue
		}
		if t, _ := msg["type"].(string); t == "session_configured" {
			if sid, _ := msg["session_id"].(string); sid != "" {
				a.SetSessionID(req.ProjectID, sid)
			}
			out <- events.NewSystemInit(clock, events.ProviderCodex)
			_ = writeJSONLine(proc, map[string]any{
				"id": a.nextID("override"),
				"op": map[string]any{
					"type":            "override_turn_context",
					"approval_policy": "never",
					"sandbox_policy":  map[string]any{"mode": "danger-full-access"},
				},
			})
			return true
		}
	}
	return false
}

func (a *Adapter) buildUserInputItems(ctx context.Context, req adapters.StreamRequest) []map[string]any {
	instruction := req.Opts.Instruction
	if req.Opts.IsInitialPrompt {
		if files, err := a.store.ListRepoFiles(ctx, req.ProjectPath); err == nil && len(files) > 0 {
			instruction += "\n\n" + adapters.BuildRepoFileContext(files)
		}
	}
	items := []map[string]any{{"type": "text", "text": instruction}}
	for _, img := range req.Opts.Images {
		path, _, ok := adapters.DecodeImage(img, a.logger)
		if !ok {
			continue
		}
		items = append(items, map[string]any{"type": "local_image", "path": path})
	}
	return items
}

// handleLine processes one envelope line for the outstanding requestID,
// returning true once the turn has reached a terminal state.
func (a *Adapter) handleLine(clock *events.Clock, projectID, requestID, line string, chatBuf *strings.Builder, out chan<- events.Event) bool {
	var env map[string]any
	if err := json.Unmarshal([]byte(line), &env); err != nil {
		a.logger.Debug("codex: malformed line", "error", err)
		return false
	}
	id, _ := env["id"].(string)
	if id != "" && id != requestID {
		return false
	}
	msg, _ := env["msg"].(map[string]any)
	if msg == nil {
		return false
	}
	msgType, _ := msg["type"].(string)

	switch msgType {
	case "agent_message_delta":
		if delta, ok := msg["delta"].(string); ok {
			chatBuf.WriteString(delta)
		}
	case "agent_message":
		flushCodexChat(clock, chatBuf, msg, out)
	case "exec_command_begin":
		cmd := joinCommand(msg["command"])
		name, input := toolname.Normalize("exec_command", map[string]any{"command": cmd})
		out <- events.NewToolUse(clock, events.ProviderCodex, name, input, toolname.Render(name, input))
	case "patch_apply_begin":
		changes, _ := msg["changes"].(map[string]any)
		name, input := toolname.Normalize("apply_patch", map[string]any{"changes": changes})
		out <- events.NewToolUse(clock, events.ProviderCodex, name, input, toolname.Render(name, input))
	case "web_search_begin":
		query, _ := msg["query"].(string)
		name, input := toolname.Normalize("web_search", map[string]any{"query": query})
		out <- events.NewToolUse(clock, events.ProviderCodex, name, input, toolname.Render(name, input))
	case "mcp_tool_call_begin":
		server, _ := msg["server"].(string)
		tool, _ := msg["tool"].(string)
		name, input := toolname.Normalize("mcp_tool_call", map[string]any{"server": server, "tool": tool})
		out <- events.NewToolUse(clock, events.ProviderCodex, name, input, toolname.Render(name, input))
	case "task_complete":
		flushCodexChat(clock, chatBuf, nil, out)
		a.persistResumeHint(projectID)
		out <- events.NewResult(clock, events.ProviderCodex, nil, nil)
		return true
	case "error":
		message, _ := msg["message"].(string)
		out <- events.NewError(clock, events.ProviderCodex, string(adapters.ReasonProviderError), message)
		return true
	}
	return false
}

// persistResumeHint stores the newest rollout file the watcher knows of
// (the watcher covers the whole sessions directory, not one project) as
// this project's resume hint, so a future turn can resume against it even
// if the watcher's in-memory state has since been lost (e.g. a process
// restart).
func (a *Adapter) persistResumeHint(projectID string) {
	if a.rolloutWatcher == nil {
		return
	}
	path, ok := a.rolloutWatcher.Latest()
	if !ok || path == "" {
		return
	}
	if err := a.store.SetResumeHint(context.Background(), projectID, providerName, path); err != nil {
		a.logger.Warn("codex: failed to persist rollout resume hint", "error", err)
	}
}

func flushCodexChat(clock *events.Clock, buf *strings.Builder, msg map[string]any, out chan<- events.Event) {
	content := buf.String()
	if content == "" && msg != nil {
		if m, ok := msg["message"].(string); ok {
			content = m
		}
	}
	buf.Reset()
	if content != "" {
		out <- events.NewChat(clock, events.ProviderCodex, content)
	}
}

func joinCommand(v any) string {
	switch c := v.(type) {
	case string:
		return c
	case []any:
		parts := make([]string, 0, len(c))
		for _, p := range c {
			if s, ok := p.(string); ok {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, " ")
	default:
		return ""
	}
}

func writeJSONLine(proc *adapters.Subprocess, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("codex: encode envelope: %w", err)
	}
	return proc.WriteLine(string(b))
}

func jsonQuote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
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
		a.logger.Warn("codex: failed to persist session id", "error", err)
	}
}

func (a *Adapter) SupportedModels() []string { return modelmap.Models(providerName) }

func (a *Adapter) IsModelSupported(model string) bool { return modelmap.IsSupported(providerName, model) }

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
