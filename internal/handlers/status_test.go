package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nullstream/agentcore/internal/adapters"
	"github.com/nullstream/agentcore/internal/events"
)

type fakeStatusAdapter struct {
	name   string
	status adapters.ProviderStatus
}

func (a *fakeStatusAdapter) Name() string { return a.name }
func (a *fakeStatusAdapter) CheckAvailability(ctx context.Context) adapters.ProviderStatus {
	return a.status
}
func (a *fakeStatusAdapter) Stream(ctx context.Context, req adapters.StreamRequest) <-chan events.Event {
	ch := make(chan events.Event)
	close(ch)
	return ch
}
func (a *fakeStatusAdapter) GetSessionID(projectID string) (string, bool) { return "", false }
func (a *fakeStatusAdapter) SetSessionID(projectID, sessionID string)     {}
func (a *fakeStatusAdapter) SupportedModels() []string                   { return a.status.Models }
func (a *fakeStatusAdapter) IsModelSupported(alias string) bool          { return true }

func TestStatusHandler_ReportsEveryRegisteredProvider(t *testing.T) {
	registry := adapters.NewRegistry()
	registry.Register(&fakeStatusAdapter{name: "cursor", status: adapters.ProviderStatus{Available: true, Configured: true, Models: []string{"sonnet-4"}}})
	registry.Register(&fakeStatusAdapter{name: "codex", status: adapters.ProviderStatus{Available: false, Configured: false, Error: "cli_not_found"}})

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	handler := NewStatusHandler(registry, logger)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var views []providerStatusView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 2)

	byName := make(map[string]providerStatusView, len(views))
	for _, v := range views {
		byName[v.Provider] = v
	}

	require.Contains(t, byName, "cursor")
	assert.True(t, byName["cursor"].Available)
	assert.Equal(t, []string{"sonnet-4"}, byName["cursor"].Models)

	require.Contains(t, byName, "codex")
	assert.False(t, byName["codex"].Available)
	assert.Equal(t, "cli_not_found", byName["codex"].Error)
}

func TestStatusHandler_EmptyRegistryReturnsEmptyArray(t *testing.T) {
	registry := adapters.NewRegistry()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	handler := NewStatusHandler(registry, logger)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	var views []providerStatusView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	assert.Empty(t, views)
}
