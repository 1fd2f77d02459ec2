// Package claude adapts the Claude Code SDK — an in-process collaborator,
// not a subprocess — to the adapters.Adapter contract. The SDK itself is
// represented as an interface (SDK) this package calls: there is no
// fetchable Go module for it, so the interface boundary plays the role
// the teacher gives a real upstream HTTP client.
package claude

import (
	"context"
	"log/slog"
	"time"

	"github.com/nullstream/agentcore/internal/adapters"
	"github.com/nullstream/agentcore/internal/events"
	"github.com/nullstream/agentcore/internal/modelmap"
	"github.com/nullstream/agentcore/internal/store"
	"github.com/nullstream/agentcore/internal/toolname"
)

const providerName = "claude"

const fallbackSystemPrompt = "You are a careful coding assistant operating inside an existing project checkout. Make the smallest correct change."

// ContentBlock mirrors one block of a Claude Code SDK assistant message.
type ContentBlock struct {
	Type      string // "text" | "tool_use"
	Text      string
	ToolUseID string
	Name      string
	Input     map[string]any
}

// SDKMessage mirrors the Claude Code SDK's streaming message shape
// (system/assistant/user/result), per original_source's vendor/claude_code_sdk.
type SDKMessage struct {
	Type       string // "system" | "assistant" | "user" | "result"
	Subtype    string
	SessionID  string
	Content    []ContentBlock
	DurationMs int64
	IsError    bool
}

// QueryRequest is what the Adapter sends into the SDK for one turn.
type QueryRequest struct {
	Prompt          string
	Images          []adapters.Image
	SystemPrompt    string
	AllowedTools    []string
	DisallowedTools []string
	Model           string
	Resume          string
	Cwd             string
	Env             map[string]string
}

// SDK is the in-process collaborator boundary. A real implementation
// drives the Claude Code SDK's async generator; tests supply a fake.
type SDK interface {
	Query(ctx context.Context, req QueryRequest) (<-chan SDKMessage, <-chan error)
}

// SystemPromptLoader loads the system prompt content from wherever the
// host application keeps it (spec's Non-goal: system-prompt authoring
// itself is out of scope, only the loading contract lives here).
type SystemPromptLoader func() (string, error)

// Adapter implements adapters.Adapter for Claude Code.
type Adapter struct {
	sdk          SDK
	store        store.Store
	logger       *slog.Logger
	loadPrompt   SystemPromptLoader
	envOverrides map[string]string
}

// New builds a Claude adapter. loadPrompt may be nil, in which case the
// fallback system prompt is always used.
func New(sdk SDK, st store.Store, logger *slog.Logger, loadPrompt SystemPromptLoader, envOverrides map[string]string) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{sdk: sdk, store: st, logger: logger, loadPrompt: loadPrompt, envOverrides: envOverrides}
}

func (a *Adapter) Name() string { return providerName }

func (a *Adapter) CheckAvailability(ctx context.Context) adapters.ProviderStatus {
	if a.sdk == nil {
		return adapters.ProviderStatus{
			Available:  false,
			Configured: false,
			Error:      "claude code sdk not configured",
			CheckedAt:  time.Now().UTC(),
		}
	}
	return adapters.ProviderStatus{
		Available:     true,
		Configured:    true,
		Models:        modelmap.Models(providerName),
		DefaultModels: []string{"claude-sonnet-4-20250514", "claude-opus-4-20250514"},
		CheckedAt:     time.Now().UTC(),
	}
}

// buildToolLists mirrors original_source's is_initial_prompt branching:
// TodoWrite is explicitly disallowed on the first turn of a project
// (nothing to track yet) and explicitly allowed afterward.
func buildToolLists(isInitial bool) (allowed, disallowed []string) {
	allowed = []string{
		toolname.Read, toolname.Write, toolname.Edit, toolname.MultiEdit,
		toolname.Bash, toolname.Glob, toolname.Grep, toolname.LS,
		toolname.WebFetch, toolname.WebSearch,
	}
	if isInitial {
		disallowed = []string{toolname.TodoWrite}
	} else {
		allowed = append(allowed, toolname.TodoWrite)
	}
	return allowed, disallowed
}

func (a *Adapter) Stream(ctx context.Context, req adapters.StreamRequest) <-chan events.Event {
	out := make(chan events.Event, 8)
	go a.run(ctx, req, out)
	return out
}

func (a *Adapter) run(ctx context.Context, req adapters.StreamRequest, out chan<- events.Event) {
	defer close(out)
	clock := events.NewClock()

	systemPrompt := fallbackSystemPrompt
	if a.loadPrompt != nil {
		if p, err := a.loadPrompt(); err != nil {
			a.logger.Warn("claude: system prompt load failed, using fallback", "error", err)
		} else {
			systemPrompt = p
		}
	}

	allowed, disallowed := buildToolLists(req.Opts.IsInitialPrompt)
	resume, _ := a.GetSessionID(req.ProjectID)

	prompt := req.Opts.Instruction
	if req.Opts.IsInitialPrompt {
		if files, err := a.store.ListRepoFiles(ctx, req.ProjectPath); err == nil && len(files) > 0 {
			prompt += "\n\n" + adapters.BuildRepoFileContext(files)
		}
	}

	sdkReq := QueryRequest{
		Prompt:          prompt,
		Images:          req.Opts.Images,
		SystemPrompt:    systemPrompt,
		AllowedTools:    allowed,
		DisallowedTools: disallowed,
		Model:           modelmap.Resolve(providerName, req.Opts.Model),
		Resume:          resume,
		Cwd:             req.ProjectPath,
		Env:             a.envOverrides,
	}

	msgCh, errCh := a.sdk.Query(ctx, sdkReq)

	for {
		select {
		case <-ctx.Done():
			out <- events.NewError(clock, events.ProviderClaude, string(adapters.ReasonCancelled), "claude: turn cancelled")
			return
		case err, ok := <-errCh:
			if ok && err != nil {
				out <- events.NewError(clock, events.ProviderClaude, string(adapters.ReasonExecutionFailed), err.Error())
				return
			}
		case msg, ok := <-msgCh:
			if !ok {
				reason := "claude: stream ended without a result"
				select {
				case err, ok := <-errCh:
					if ok && err != nil {
						reason = err.Error()
					}
				case <-ctx.Done():
				}
				out <- events.NewError(clock, events.ProviderClaude, string(adapters.ReasonExecutionFailed), reason)
				return
			}
			if done := a.handleMessage(clock, req, msg, out); done {
				return
			}
		}
	}
}

// handleMessage dispatches one SDK message, returning true once a
// terminal event has been emitted.
func (a *Adapter) handleMessage(clock *events.Clock, req adapters.StreamRequest, msg SDKMessage, out chan<- events.Event) bool {
	switch msg.Type {
	case "system":
		out <- events.NewSystemInit(clock, events.ProviderClaude)
	case "assistant":
		for _, block := range msg.Content {
			switch block.Type {
			case "text":
				if block.Text != "" {
					out <- events.NewChat(clock, events.ProviderClaude, block.Text)
				}
			case "tool_use":
				name, input := toolname.Normalize(block.Name, block.Input)
				summary := toolname.Render(name, input)
				out <- events.NewToolUse(clock, events.ProviderClaude, name, input, summary)
			}
		}
	case "user":
		// Tool results arrive as "user" messages; they carry no UI-facing
		// content distinct from the tool_use summary already emitted.
	case "result":
		if msg.SessionID != "" {
			a.SetSessionID(req.ProjectID, msg.SessionID)
		}
		d := msg.DurationMs
		md := events.Metadata{}
		if msg.IsError {
			md["is_error"] = true
		}
		out <- events.NewResult(clock, events.ProviderClaude, &d, md)
		return true
	}
	return false
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
		a.logger.Warn("claude: failed to persist session id", "error", err)
	}
}

func (a *Adapter) SupportedModels() []string { return modelmap.Models(providerName) }

func (a *Adapter) IsModelSupported(model string) bool { return modelmap.IsSupported(providerName, model) }
