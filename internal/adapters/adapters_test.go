package adapters

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nullstream/agentcore/internal/events"
)

type fakeAdapter struct {
	name string
}

func (f *fakeAdapter) Name() string { return f.name }
func (f *fakeAdapter) CheckAvailability(ctx context.Context) ProviderStatus {
	return ProviderStatus{Available: true, Configured: true}
}
func (f *fakeAdapter) Stream(ctx context.Context, req StreamRequest) <-chan events.Event {
	ch := make(chan events.Event)
	close(ch)
	return ch
}
func (f *fakeAdapter) GetSessionID(projectID string) (string, bool) { return "", false }
func (f *fakeAdapter) SetSessionID(projectID, sessionID string)     {}
func (f *fakeAdapter) SupportedModels() []string                    { return nil }
func (f *fakeAdapter) IsModelSupported(model string) bool           { return false }

func TestRegistryRegisterGetList(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeAdapter{name: "claude"})
	r.Register(&fakeAdapter{name: "cursor"})

	a, ok := r.Get("claude")
	require.True(t, ok)
	assert.Equal(t, "claude", a.Name())

	_, ok = r.Get("nonexistent")
	assert.False(t, ok)

	assert.ElementsMatch(t, []string{"claude", "cursor"}, r.List())
}

func TestErrorWrapsReasonAndUnwraps(t *testing.T) {
	cause := assertError("boom")
	err := &Error{Provider: "codex", Reason: ReasonExecutionFailed, Err: cause}
	assert.Contains(t, err.Error(), "codex")
	assert.Contains(t, err.Error(), "execution_failed")
	assert.ErrorIs(t, err, cause)
}

type stringErr string

func (e stringErr) Error() string { return string(e) }

func assertError(s string) error { return stringErr(s) }

func TestDecodeImageFromPath(t *testing.T) {
	path, mime, ok := DecodeImage(Image{Path: "/tmp/foo.png"}, slog.Default())
	require.True(t, ok)
	assert.Equal(t, "/tmp/foo.png", path)
	assert.Equal(t, "image/png", mime)
}

func TestDecodeImageFromBase64(t *testing.T) {
	// 1x1 transparent PNG
	const tinyPNG = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAAAAC0lEQVR42mNk+A8AAQUBAScY42YAAAAASUVORK5CYII="
	path, mime, ok := DecodeImage(Image{Base64: tinyPNG}, slog.Default())
	require.True(t, ok)
	assert.NotEmpty(t, path)
	assert.Equal(t, "image/png", mime)
}

func TestDecodeImageRejectsOversizedBase64(t *testing.T) {
	huge := make([]byte, MaxImageBase64Bytes+1)
	for i := range huge {
		huge[i] = 'A'
	}
	_, _, ok := DecodeImage(Image{Base64: string(huge)}, slog.Default())
	assert.False(t, ok)
}

func TestDecodeImageRejectsEmpty(t *testing.T) {
	_, _, ok := DecodeImage(Image{}, slog.Default())
	assert.False(t, ok)
}

func TestBuildRepoFileContextIncludesFiles(t *testing.T) {
	out := BuildRepoFileContext([]string{"main.go", "go.mod"})
	assert.Contains(t, out, "main.go")
	assert.Contains(t, out, "go.mod")
}

func TestBuildRepoFileContextEmpty(t *testing.T) {
	assert.Empty(t, BuildRepoFileContext(nil))
}
