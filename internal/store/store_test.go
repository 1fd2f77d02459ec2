package store

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nullstream/agentcore/internal/events"
)

func TestMemStoreSessionPerProviderIsolation(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	require.NoError(t, s.SetSession(ctx, "proj1", "claude", SessionHandle{SessionID: "c1"}))
	require.NoError(t, s.SetSession(ctx, "proj1", "cursor", SessionHandle{SessionID: "cur1"}))

	claudeH, ok, err := s.GetSession(ctx, "proj1", "claude")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "c1", claudeH.SessionID)

	cursorH, ok, err := s.GetSession(ctx, "proj1", "cursor")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "cur1", cursorH.SessionID)
}

func TestMemStoreConcurrentSetSessionDifferentProvidersNoClobber(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	providers := []string{"claude", "cursor", "codex", "qwen", "gemini"}

	var wg sync.WaitGroup
	for i, p := range providers {
		wg.Add(1)
		go func(p string, i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = s.SetSession(ctx, "proj1", p, SessionHandle{SessionID: p})
			}
		}(p, i)
	}
	wg.Wait()

	for _, p := range providers {
		h, ok, err := s.GetSession(ctx, "proj1", p)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, p, h.SessionID)
	}
}

func TestMemStoreAppendEventIdempotent(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	clock := events.NewClock()
	ev := events.NewChat(clock, events.ProviderClaude, "hi")

	require.NoError(t, s.AppendEvent(ctx, "proj1", ev))
	require.NoError(t, s.AppendEvent(ctx, "proj1", ev))

	assert.Len(t, s.Events("proj1"), 1)
}

func TestMemStoreResumeHint(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	_, ok, err := s.GetResumeHint(ctx, "proj1", "codex")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetResumeHint(ctx, "proj1", "codex", "/root/.codex/sessions/rollout-1.jsonl"))
	hint, ok, err := s.GetResumeHint(ctx, "proj1", "codex")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "/root/.codex/sessions/rollout-1.jsonl", hint)
}

func TestMemStoreListRepoFilesSkipsGit(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".git"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".git", "HEAD"), []byte("ref: refs/heads/main"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main"), 0o644))

	s := NewMemStore()
	files, err := s.ListRepoFiles(context.Background(), dir)
	require.NoError(t, err)
	assert.Contains(t, files, "main.go")
	for _, f := range files {
		assert.NotContains(t, f, ".git")
	}
}

func TestMemStoreListRepoFilesSkipsGitignoreAndMarkerFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".gitignore"), []byte("node_modules\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "AGENTS.md"), []byte("# agents"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "QWEN.md"), []byte("# qwen"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "GEMINI.md"), []byte("# gemini"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("# readme"), 0o644))

	s := NewMemStore()
	files, err := s.ListRepoFiles(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"README.md"}, files)
}

func TestMemBroadcasterRecordsSent(t *testing.T) {
	b := NewMemBroadcaster()
	clock := events.NewClock()
	ev := events.NewChat(clock, events.ProviderClaude, "hi")
	b.Send(context.Background(), "proj1", ev)

	sent := b.Sent("proj1")
	require.Len(t, sent, 1)
	assert.True(t, sent[0].Equal(ev))
}
