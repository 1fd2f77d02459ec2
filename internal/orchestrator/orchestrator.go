// Package orchestrator implements the per-turn coordinator: it selects a
// provider adapter, drives its event stream, persists and broadcasts each
// event, and reduces the stream into a single TurnOutcome.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nullstream/agentcore/internal/adapters"
	"github.com/nullstream/agentcore/internal/events"
	"github.com/nullstream/agentcore/internal/store"
)

// TurnOutcome summarizes one completed (or failed) Execute call.
type TurnOutcome struct {
	Success       bool
	Provider      string
	HasChanges    bool
	MessagesCount int
	Error         string
}

// Manager coordinates turns across every registered provider adapter,
// grounded on the teacher's server.Server constructor-with-injected-deps
// shape: a registry plus the collaborators every turn needs.
type Manager struct {
	registry    *adapters.Registry
	store       store.Store
	broadcaster store.Broadcaster
	logger      *slog.Logger
}

// New builds a Manager over the given adapter registry, store, and
// broadcaster.
func New(registry *adapters.Registry, st store.Store, broadcaster store.Broadcaster, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{registry: registry, store: st, broadcaster: broadcaster, logger: logger}
}

// Execute drives one turn for (projectID, provider) and returns its outcome.
// conversationID is stamped onto every event's metadata but otherwise
// opaque to the Manager.
func (m *Manager) Execute(ctx context.Context, projectID, projectPath, sessionID, conversationID, provider string, opts adapters.Opts) TurnOutcome {
	adapter, ok := m.registry.Get(provider)
	if !ok {
		return TurnOutcome{Success: false, Provider: provider, Error: "provider not implemented"}
	}

	status := adapter.CheckAvailability(ctx)
	if !status.Available || !status.Configured {
		errMsg := status.Error
		if errMsg == "" {
			errMsg = "provider not available"
		}
		return TurnOutcome{Success: false, Provider: provider, Error: errMsg}
	}

	req := adapters.StreamRequest{
		ProjectID:      projectID,
		ProjectPath:    projectPath,
		SessionID:      sessionID,
		ConversationID: conversationID,
		Opts:           opts,
	}

	var (
		hasError       bool
		hasChanges     bool
		messagesCount  int
		cursorOutcome  *bool // nil until a Cursor result event resolves it
		sawCursorKind  = provider == string(events.ProviderCursor)
	)

	for ev := range adapter.Stream(ctx, req) {
		ev.ProjectID = projectID
		ev.SessionID = sessionID
		if ev.Metadata == nil {
			ev.Metadata = events.Metadata{}
		}
		ev.Metadata["conversation_id"] = conversationID

		if err := m.store.AppendEvent(ctx, projectID, ev); err != nil {
			m.logger.Error("orchestrator: append event failed", "provider", provider, "error", err)
		}

		if ev.Kind == events.KindError {
			hasError = true
		}
		if _, changed := ev.Metadata["changes_made"]; changed {
			hasChanges = true
		}
		if sawCursorKind && ev.Kind == events.KindResult {
			success := cursorResultSuccess(ev.Metadata)
			cursorOutcome = &success
		}

		messagesCount++

		if !ev.Metadata.Hidden() {
			m.broadcaster.Send(ctx, projectID, ev)
		}

		if ctx.Err() != nil {
			return TurnOutcome{Success: false, Provider: provider, HasChanges: hasChanges, MessagesCount: messagesCount, Error: "cancelled"}
		}
	}

	if ctx.Err() != nil {
		return TurnOutcome{Success: false, Provider: provider, HasChanges: hasChanges, MessagesCount: messagesCount, Error: "cancelled"}
	}

	success := !hasError
	if sawCursorKind && cursorOutcome != nil {
		success = *cursorOutcome
	}

	outcome := TurnOutcome{Success: success, Provider: provider, HasChanges: hasChanges, MessagesCount: messagesCount}
	if !success {
		outcome.Error = fmt.Sprintf("%s: turn failed", provider)
	}
	return outcome
}

// cursorResultSuccess applies the Cursor-specific success rule: the
// provider's own result payload, carried verbatim under
// metadata.original_event, is authoritative over the generic has_error
// flag.
func cursorResultSuccess(md events.Metadata) bool {
	raw, ok := md["original_event"].(map[string]any)
	if !ok {
		return true
	}
	subtype, _ := raw["subtype"].(string)
	isError, _ := raw["is_error"].(bool)
	switch {
	case subtype == "success":
		return true
	case isError || subtype == "error":
		return false
	default:
		return true
	}
}
