package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/nullstream/agentcore/internal/adapters"
)

// StatusHandler reports each registered provider's availability, the
// ambient surface a running core exposes in place of the teacher's
// request-proxying endpoint.
type StatusHandler struct {
	registry *adapters.Registry
	logger   *slog.Logger
}

// NewStatusHandler builds a StatusHandler over registry.
func NewStatusHandler(registry *adapters.Registry, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{registry: registry, logger: logger}
}

type providerStatusView struct {
	Provider   string   `json:"provider"`
	Available  bool     `json:"available"`
	Configured bool     `json:"configured"`
	Error      string   `json:"error,omitempty"`
	Models     []string `json:"models,omitempty"`
}

func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	names := h.registry.List()
	views := make([]providerStatusView, 0, len(names))
	for _, name := range names {
		a, ok := h.registry.Get(name)
		if !ok {
			continue
		}
		status := a.CheckAvailability(ctx)
		views = append(views, providerStatusView{
			Provider:   name,
			Available:  status.Available,
			Configured: status.Configured,
			Error:      status.Error,
			Models:     status.Models,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(views); err != nil {
		h.logger.Error("status handler: encode response failed", "error", err)
	}
}
