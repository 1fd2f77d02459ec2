// Package store defines the external collaborator interfaces the
// Orchestration Manager depends on (persistence and live fan-out), plus an
// in-memory reference implementation used by tests and the `turn` demo
// command. Production persistence is out of scope: see spec's Non-goals.
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nullstream/agentcore/internal/events"
)

// SessionHandle is the per-(project, provider) resume state a provider
// adapter persists across turns.
type SessionHandle struct {
	SessionID  string
	ResumeHint string
	UpdatedAt  time.Time
}

// Store is the persistence surface the Manager and every adapter talk to.
// Implementations MUST perform an atomic read-modify-write keyed by
// (projectID, provider) — never a single blind-overwrite blob column
// shared across providers (see DESIGN.md's Open Question decision).
type Store interface {
	AppendEvent(ctx context.Context, projectID string, ev events.Event) error
	GetSession(ctx context.Context, projectID, provider string) (SessionHandle, bool, error)
	SetSession(ctx context.Context, projectID, provider string, handle SessionHandle) error
	GetResumeHint(ctx context.Context, projectID, provider string) (string, bool, error)
	SetResumeHint(ctx context.Context, projectID, provider, hint string) error
	ListRepoFiles(ctx context.Context, projectPath string) ([]string, error)
}

// Broadcaster fans an event out to live listeners (e.g. a websocket hub).
// Send is best-effort: failures are the implementation's concern to log,
// never propagated back to the Manager.
type Broadcaster interface {
	Send(ctx context.Context, projectID string, ev events.Event)
}

// MemStore is an in-memory Store keyed by (projectID, provider), guarded
// by a single mutex — adequate for tests and the demo CLI, not a
// production persistence layer.
type MemStore struct {
	mu       sync.RWMutex
	sessions map[string]map[string]SessionHandle // projectID -> provider -> handle
	hints    map[string]map[string]string        // projectID -> provider -> resume hint
	events   map[string][]events.Event           // projectID -> ordered events
	seenIDs  map[string]map[string]bool          // projectID -> eventID -> true
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		sessions: make(map[string]map[string]SessionHandle),
		hints:    make(map[string]map[string]string),
		events:   make(map[string][]events.Event),
		seenIDs:  make(map[string]map[string]bool),
	}
}

// AppendEvent records ev, deduplicating by ID so a retried append is a
// no-op rather than a duplicate.
func (s *MemStore) AppendEvent(ctx context.Context, projectID string, ev events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seenIDs[projectID] == nil {
		s.seenIDs[projectID] = make(map[string]bool)
	}
	if s.seenIDs[projectID][ev.ID] {
		return nil
	}
	s.seenIDs[projectID][ev.ID] = true
	s.events[projectID] = append(s.events[projectID], ev)
	return nil
}

// Events returns a copy of every event appended for projectID, in append
// order. Exposed for tests, not part of the Store interface.
func (s *MemStore) Events(projectID string) []events.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.events[projectID]
	out := make([]events.Event, len(src))
	copy(out, src)
	return out
}

func (s *MemStore) GetSession(ctx context.Context, projectID, provider string) (SessionHandle, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byProvider, ok := s.sessions[projectID]
	if !ok {
		return SessionHandle{}, false, nil
	}
	h, ok := byProvider[provider]
	return h, ok, nil
}

func (s *MemStore) SetSession(ctx context.Context, projectID, provider string, handle SessionHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions[projectID] == nil {
		s.sessions[projectID] = make(map[string]SessionHandle)
	}
	s.sessions[projectID][provider] = handle
	return nil
}

func (s *MemStore) GetResumeHint(ctx context.Context, projectID, provider string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byProvider, ok := s.hints[projectID]
	if !ok {
		return "", false, nil
	}
	hint, ok := byProvider[provider]
	return hint, ok && hint != "", nil
}

func (s *MemStore) SetResumeHint(ctx context.Context, projectID, provider, hint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hints[projectID] == nil {
		s.hints[projectID] = make(map[string]string)
	}
	s.hints[projectID][provider] = hint
	return nil
}

// skipDirs are directory names pruned entirely from the initial-prompt
// file listing.
var skipDirs = map[string]bool{".git": true, "node_modules": true, ".cache": true}

// skipFiles are specific marker files excluded from the listing: each
// provider's own bootstrap instructions file is an implementation detail
// of that provider's adapter, not project context worth surfacing.
var skipFiles = map[string]bool{"AGENTS.md": true, "QWEN.md": true, "GEMINI.md": true}

// isGitMetadata matches ".git" and its siblings (".gitignore",
// ".gitattributes", ".gitmodules", ...), not just the ".git" directory
// itself.
func isGitMetadata(name string) bool {
	return strings.HasPrefix(name, ".git")
}

// ListRepoFiles walks projectPath, skipping VCS/marker directories and
// files, and returns paths relative to projectPath sorted lexically.
func (s *MemStore) ListRepoFiles(ctx context.Context, projectPath string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(projectPath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		name := d.Name()
		if d.IsDir() {
			if path != projectPath && (skipDirs[name] || isGitMetadata(name)) {
				return filepath.SkipDir
			}
			return nil
		}
		if isGitMetadata(name) || skipFiles[name] {
			return nil
		}
		rel, relErr := filepath.Rel(projectPath, path)
		if relErr != nil {
			return relErr
		}
		out = append(out, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: list repo files: %w", err)
	}
	sort.Strings(out)
	return out, nil
}

// MemBroadcaster records every Send call for test assertions.
type MemBroadcaster struct {
	mu   sync.Mutex
	sent map[string][]events.Event
}

// NewMemBroadcaster returns an empty MemBroadcaster.
func NewMemBroadcaster() *MemBroadcaster {
	return &MemBroadcaster{sent: make(map[string][]events.Event)}
}

func (b *MemBroadcaster) Send(ctx context.Context, projectID string, ev events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent[projectID] = append(b.sent[projectID], ev)
}

// Sent returns a copy of every event broadcast for projectID.
func (b *MemBroadcaster) Sent(projectID string) []events.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	src := b.sent[projectID]
	out := make([]events.Event, len(src))
	copy(out, src)
	return out
}
