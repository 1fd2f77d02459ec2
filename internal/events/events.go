// Package events defines the canonical Event shape every provider adapter
// normalizes its wire protocol into.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Provider identifies which adapter produced an event.
type Provider string

const (
	ProviderClaude Provider = "claude"
	ProviderCursor Provider = "cursor"
	ProviderCodex  Provider = "codex"
	ProviderQwen   Provider = "qwen"
	ProviderGemini Provider = "gemini"
)

// Role mirrors the wire-level speaker of an event.
type Role string

const (
	RoleSystem    Role = "system"
	RoleAssistant Role = "assistant"
	RoleUser      Role = "user"
)

// Kind is the normalized event category, orthogonal to Role: a terminal
// turn marker is Role=system, Kind=result, for instance.
type Kind string

const (
	KindSystem     Kind = "system"
	KindChat       Kind = "chat"
	KindThinking   Kind = "thinking"
	KindToolUse    Kind = "tool_use"
	KindToolResult Kind = "tool_result"
	KindResult     Kind = "result"
	KindError      Kind = "error"
)

const hiddenKey = "hidden_from_ui"

// Metadata is the free-form, provider-specific side channel carried on
// every event. Keys used across the codebase: hidden_from_ui, tool_name,
// tool_input, duration_ms, reason, original_event, changes_made.
type Metadata map[string]any

// Hidden reports whether this event is excluded from the UI transcript.
func (m Metadata) Hidden() bool {
	if m == nil {
		return false
	}
	v, _ := m[hiddenKey].(bool)
	return v
}

// SetHidden marks the event hidden or visible.
func (m Metadata) SetHidden(hidden bool) {
	m[hiddenKey] = hidden
}

// Event is the normalized, provider-agnostic record every adapter emits.
type Event struct {
	ID        string
	ProjectID string
	SessionID string
	Provider  Provider
	Role      Role
	Kind      Kind
	Content   string
	Metadata  Metadata
	CreatedAt time.Time
}

// Equal compares events by identity, per spec: two Events are equal iff
// their IDs match.
func (e Event) Equal(other Event) bool {
	return e.ID == other.ID
}

// JSONView is the shape published to the Broadcaster and stored transcripts.
type JSONView struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	SessionID string    `json:"session_id"`
	Provider  string    `json:"provider"`
	Role      string    `json:"role"`
	Kind      string    `json:"kind"`
	Content   string    `json:"content"`
	Metadata  Metadata  `json:"metadata"`
	CreatedAt time.Time `json:"created_at"`
}

// View renders the broadcaster/store-facing JSON shape.
func (e Event) View() JSONView {
	return JSONView{
		ID:        e.ID,
		ProjectID: e.ProjectID,
		SessionID: e.SessionID,
		Provider:  string(e.Provider),
		Role:      string(e.Role),
		Kind:      string(e.Kind),
		Content:   e.Content,
		Metadata:  e.Metadata,
		CreatedAt: e.CreatedAt,
	}
}

// Clock stamps CreatedAt values that are monotonically non-decreasing
// within a single turn, even if two events land in the same nanosecond.
// One Clock is created per Stream call and threaded through every
// constructor an adapter uses for that turn.
type Clock struct {
	mu   sync.Mutex
	last time.Time
}

// NewClock returns a turn-scoped clock.
func NewClock() *Clock {
	return &Clock{}
}

// Now returns a timestamp strictly greater than or equal to the previous
// one returned by this Clock.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now().UTC()
	if !now.After(c.last) {
		now = c.last.Add(time.Nanosecond)
	}
	c.last = now
	return now
}

func newID() string {
	return uuid.NewString()
}

func cloneMetadata(md Metadata) Metadata {
	out := make(Metadata, len(md)+1)
	for k, v := range md {
		out[k] = v
	}
	return out
}

// New builds an Event stamped with a fresh ID and the clock's current time.
// SessionID/ProjectID are left blank for the Manager to fill in once the
// event is appended.
func New(clock *Clock, provider Provider, role Role, kind Kind, content string, md Metadata) Event {
	out := cloneMetadata(md)
	return Event{
		ID:        newID(),
		Provider:  provider,
		Role:      role,
		Kind:      kind,
		Content:   content,
		Metadata:  out,
		CreatedAt: clock.Now(),
	}
}

// NewSystemInit builds the hidden turn-start marker every adapter emits
// before any visible output.
func NewSystemInit(clock *Clock, provider Provider) Event {
	ev := New(clock, provider, RoleSystem, KindSystem, "", Metadata{})
	ev.Metadata.SetHidden(true)
	return ev
}

// NewChat builds a visible assistant text event.
func NewChat(clock *Clock, provider Provider, content string) Event {
	ev := New(clock, provider, RoleAssistant, KindChat, content, Metadata{})
	return ev
}

// NewThinking builds a visible reasoning/thought event.
func NewThinking(clock *Clock, provider Provider, content string) Event {
	return New(clock, provider, RoleAssistant, KindThinking, content, Metadata{})
}

// NewToolUse builds a visible tool invocation event. name must already be
// normalized (see package toolname); summary is the rendered one-line form.
func NewToolUse(clock *Clock, provider Provider, name string, input map[string]any, summary string) Event {
	md := Metadata{
		"tool_name":  name,
		"tool_input": input,
	}
	return New(clock, provider, RoleAssistant, KindToolUse, summary, md)
}

// NewToolResult builds a tool result event. Tool results are hidden by
// default: only the normalizer's rendered tool_use summary is surfaced to
// the UI, per spec.
func NewToolResult(clock *Clock, provider Provider, name string, durationMs *int64) Event {
	md := Metadata{"tool_name": name}
	if durationMs != nil {
		md["duration_ms"] = *durationMs
	}
	ev := New(clock, provider, RoleAssistant, KindToolResult, "", md)
	ev.Metadata.SetHidden(true)
	return ev
}

// NewResult builds the hidden terminal marker for a turn. Role is system
// even though Kind is result: role and kind are orthogonal fields.
func NewResult(clock *Clock, provider Provider, durationMs *int64, extra Metadata) Event {
	md := cloneMetadata(extra)
	if durationMs != nil {
		md["duration_ms"] = *durationMs
	}
	ev := New(clock, provider, RoleSystem, KindResult, "", md)
	ev.Metadata.SetHidden(true)
	return ev
}

// NewError builds a visible error event. reason should be one of the
// taxonomy values in package adapters (kept as a string here to avoid an
// import cycle: adapters imports events, not the reverse).
func NewError(clock *Clock, provider Provider, reason string, message string) Event {
	md := Metadata{"reason": reason}
	return New(clock, provider, RoleSystem, KindError, message, md)
}
