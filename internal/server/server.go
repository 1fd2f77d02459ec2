package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/nullstream/agentcore/internal/adapters"
	"github.com/nullstream/agentcore/internal/adapters/codex"
	"github.com/nullstream/agentcore/internal/adapters/cursor"
	"github.com/nullstream/agentcore/internal/adapters/gemini"
	"github.com/nullstream/agentcore/internal/adapters/qwen"
	"github.com/nullstream/agentcore/internal/config"
	"github.com/nullstream/agentcore/internal/handlers"
	"github.com/nullstream/agentcore/internal/middleware"
	"github.com/nullstream/agentcore/internal/modelmap"
	"github.com/nullstream/agentcore/internal/orchestrator"
	"github.com/nullstream/agentcore/internal/session"
	"github.com/nullstream/agentcore/internal/store"
)

// Server hosts the ambient status/health surface over the Orchestration
// Manager — not a request-proxying endpoint (see DESIGN.md's dropped
// ProxyHandler entry).
type Server struct {
	config         *config.Manager
	registry       *adapters.Registry
	orchestrator   *orchestrator.Manager
	rolloutWatcher *session.RolloutWatcher
	logger         *slog.Logger
	server         *http.Server
	stopWatcher    context.CancelFunc
}

// New builds a Server, registering every subprocess-based provider adapter
// (see BuildRegistry: the config's binary path overrides reach the cursor
// and codex adapters; qwen and gemini read QWEN_CMD / GEMINI_CMD or use
// their default binary name). The in-process Claude SDK
// adapter is left unregistered here: this repo defines its SDK boundary as
// an interface (see adapters/claude) but ships no concrete implementation,
// per spec's Non-goal of implementing providers themselves — a host
// embedding this core wires a real SDK and calls registry.Register itself.
func New(configManager *config.Manager, logger *slog.Logger) *Server {
	cfg := configManager.Get()

	st := store.NewMemStore()
	broadcaster := store.NewMemBroadcaster()
	registry, rolloutWatcher := BuildRegistry(cfg, st, logger)

	return &Server{
		config:         configManager,
		registry:       registry,
		orchestrator:   orchestrator.New(registry, st, broadcaster, logger),
		rolloutWatcher: rolloutWatcher,
		logger:         logger,
	}
}

// BuildRegistry constructs the adapter registry every subprocess-based
// provider is wired into, for callers (the HTTP server, cmd/status.go,
// cmd/turn.go) that need the same provider set without necessarily
// standing up an HTTP listener. The returned RolloutWatcher is not started;
// callers that outlive a single command invocation should call Start.
func BuildRegistry(cfg *config.Config, st store.Store, logger *slog.Logger) (*adapters.Registry, *session.RolloutWatcher) {
	for provider, override := range cfg.Providers {
		if len(override.ModelAliases) == 0 {
			continue
		}
		modelmap.SetOverrides(provider, override.ModelAliases)
	}

	registry := adapters.NewRegistry()
	envOverrides := buildEnvOverrides(cfg)

	registry.Register(cursor.New(cfg.BinaryFor("cursor"), os.Getenv("CURSOR_API_KEY"), st, logger, envOverrides))

	rolloutDir := filepath.Join(homeDir(), ".codex", "sessions")
	rolloutWatcher := session.NewRolloutWatcher(rolloutDir, logger)
	registry.Register(codex.New(cfg.BinaryFor("codex"), st, logger, envOverrides, rolloutWatcher, nil))

	registry.Register(qwen.New(st, logger, envOverrides))
	registry.Register(gemini.New(st, logger, envOverrides))

	return registry, rolloutWatcher
}

func (s *Server) Start() error {
	cfg := s.config.Get()
	if cfg == nil {
		return errors.New("configuration not loaded")
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	s.stopWatcher = cancel
	s.rolloutWatcher.Start(watchCtx)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	mux := s.setupRoutes()

	s.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second,
	}

	s.logger.Info("Starting server", "address", addr)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Server error", "error", err)
			if strings.Contains(err.Error(), "address already in use") || strings.Contains(err.Error(), "bind: address already in use") {
				s.handleAddressInUse(addr)
				os.Exit(1)
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	s.logger.Info("Server is shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	s.logger.Info("Server exited")

	return nil
}

func (s *Server) Stop() error {
	if s.stopWatcher != nil {
		s.stopWatcher()
	}
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// Orchestrator exposes the Manager built over the same registered adapters
// the HTTP surface reports on. (cmd/turn.go builds its own Manager via
// BuildRegistry rather than calling this.)
func (s *Server) Orchestrator() *orchestrator.Manager {
	return s.orchestrator
}

// buildEnvOverrides copies cfg's allow-listed environment variables out of
// the process environment, the form every subprocess adapter's envOverrides
// parameter expects.
func buildEnvOverrides(cfg *config.Config) map[string]string {
	overrides := make(map[string]string, len(cfg.EnvPassthrough))
	for _, name := range cfg.EnvPassthrough {
		if v, ok := os.LookupEnv(name); ok {
			overrides[name] = v
		}
	}
	return overrides
}

func homeDir() string {
	if h, err := os.UserHomeDir(); err == nil {
		return h
	}
	return "."
}

func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	healthHandler := handlers.NewHealthHandler(s.logger)
	statusHandler := handlers.NewStatusHandler(s.registry, s.logger)

	middlewareSet := middleware.NewMiddlewareSet(s.config, s.logger)

	mux.Handle("/health", middlewareSet.HealthChain().Handler(healthHandler))
	mux.Handle("/status", middlewareSet.DefaultChain().Handler(statusHandler))

	return mux
}

// handleAddressInUse diagnoses a bind failure on startup: it shells out to
// whatever port-inspection tool the host OS has and logs the PID/process
// name already holding the orchestration core's listen address, so an
// operator doesn't have to go hunting for it themselves.
func (s *Server) handleAddressInUse(addr string) {
	s.logger.Error("Address already in use", "address", addr)

	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		s.logger.Error("Failed to parse address", "address", addr, "error", err)
		return
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		s.logger.Error("Invalid port number", "port", portStr, "error", err)
		return
	}

	pid := s.findProcessUsingPort(port)
	if pid > 0 {
		processInfo := s.getProcessInfo(pid)
		s.logger.Error("Port is being used by another process",
			"port", port,
			"pid", pid,
			"process", processInfo)
	} else {
		s.logger.Error("Could not determine which process is using the port", "port", port)
	}
}

// findProcessUsingPort locates the PID bound to port using whichever
// OS-native tool is available, trying each output parser in turn against
// real command output.
func (s *Server) findProcessUsingPort(port int) int {
	switch runtime.GOOS {
	case "linux", "darwin":
		return s.findProcessUsingPortUnix(port)
	case "windows":
		return s.findProcessUsingPortWindows(port)
	default:
		s.logger.Warn("Unsupported OS for port detection", "os", runtime.GOOS)
		return 0
	}
}

func (s *Server) findProcessUsingPortUnix(port int) int {
	if pid := s.tryNetstat(port); pid > 0 {
		return pid
	}
	if pid := s.tryLsof(port); pid > 0 {
		return pid
	}
	if pid := s.trySS(port); pid > 0 {
		return pid
	}
	return 0
}

func (s *Server) tryNetstat(port int) int {
	output, err := exec.Command("netstat", "-tlnp").Output()
	if err != nil {
		return 0
	}
	return parseNetstatUnixOutput(string(output), port)
}

// parseNetstatUnixOutput extracts the listening PID from `netstat -tlnp`
// output: the PID/program name sits in the 7th whitespace-separated field
// of a matching LISTEN line, formatted as "pid/program".
func parseNetstatUnixOutput(output string, port int) int {
	portPattern := fmt.Sprintf(":%d ", port)
	for _, line := range strings.Split(output, "\n") {
		if !strings.Contains(line, portPattern) || !strings.Contains(line, "LISTEN") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 7 {
			continue
		}
		pidStr := strings.Split(parts[6], "/")[0]
		if pidStr == "-" {
			continue
		}
		if pid, err := strconv.Atoi(pidStr); err == nil {
			return pid
		}
	}
	return 0
}

func (s *Server) tryLsof(port int) int {
	if port < 1 || port > 65535 {
		return 0
	}
	output, err := exec.Command("lsof", "-ti", fmt.Sprintf(":%d", port)).Output()
	if err != nil {
		return 0
	}
	return parseLsofOutput(string(output))
}

// parseLsofOutput parses `lsof -ti :PORT`, which prints just a bare PID.
func parseLsofOutput(output string) int {
	pidStr := strings.TrimSpace(output)
	if pidStr == "" {
		return 0
	}
	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return 0
	}
	return pid
}

func (s *Server) trySS(port int) int {
	output, err := exec.Command("ss", "-tlnp").Output()
	if err != nil {
		return 0
	}
	return parseSSOutput(string(output), port)
}

// parseSSOutput extracts the PID from `ss -tlnp` output's inline
// `pid=<N>,` token on a matching LISTEN line.
func parseSSOutput(output string, port int) int {
	portPattern := fmt.Sprintf(":%d ", port)
	for _, line := range strings.Split(output, "\n") {
		if !strings.Contains(line, portPattern) || !strings.Contains(line, "LISTEN") {
			continue
		}
		idx := strings.Index(line, "pid=")
		if idx == -1 {
			continue
		}
		pidPart := line[idx+4:]
		commaIdx := strings.Index(pidPart, ",")
		if commaIdx == -1 {
			continue
		}
		if pid, err := strconv.Atoi(pidPart[:commaIdx]); err == nil {
			return pid
		}
	}
	return 0
}

func (s *Server) findProcessUsingPortWindows(port int) int {
	output, err := exec.Command("netstat", "-ano").Output()
	if err != nil {
		return 0
	}
	return parseNetstatWindowsOutput(string(output), port)
}

// parseNetstatWindowsOutput extracts the PID from `netstat -ano` output's
// 5th whitespace-separated field on a matching LISTENING line.
func parseNetstatWindowsOutput(output string, port int) int {
	portPattern := fmt.Sprintf(":%d ", port)
	for _, line := range strings.Split(output, "\n") {
		if !strings.Contains(line, portPattern) || !strings.Contains(line, "LISTENING") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 5 {
			continue
		}
		if pid, err := strconv.Atoi(parts[4]); err == nil {
			return pid
		}
	}
	return 0
}

// getProcessInfo resolves a human-readable process name for pid using
// whichever OS-native lookup tool is available.
func (s *Server) getProcessInfo(pid int) string {
	switch runtime.GOOS {
	case "linux", "darwin":
		return s.getProcessInfoUnix(pid)
	case "windows":
		return s.getProcessInfoWindows(pid)
	default:
		return fmt.Sprintf("PID %d", pid)
	}
}

func (s *Server) getProcessInfoUnix(pid int) string {
	if pid < 1 || pid > 4194304 {
		return fmt.Sprintf("PID %d (invalid)", pid)
	}
	output, err := exec.Command("ps", "-p", strconv.Itoa(pid), "-o", "comm=").Output()
	if err != nil {
		return fmt.Sprintf("PID: %d", pid)
	}
	return formatProcessInfoUnix(string(output), pid)
}

func formatProcessInfoUnix(output string, pid int) string {
	processName := strings.TrimSpace(output)
	if processName == "" {
		return fmt.Sprintf("PID: %d", pid)
	}
	return fmt.Sprintf("%s (PID: %d)", processName, pid)
}

func (s *Server) getProcessInfoWindows(pid int) string {
	output, err := exec.Command("tasklist", "/FI", fmt.Sprintf("PID eq %d", pid), "/FO", "CSV", "/NH").Output()
	if err != nil {
		return fmt.Sprintf("PID: %d", pid)
	}
	return formatProcessInfoWindows(string(output), pid)
}

func formatProcessInfoWindows(output string, pid int) string {
	lines := strings.Split(output, "\n")
	if len(lines) == 0 || lines[0] == "" {
		return fmt.Sprintf("PID: %d", pid)
	}
	parts := strings.Split(lines[0], ",")
	if len(parts) < 1 {
		return fmt.Sprintf("PID: %d", pid)
	}
	processName := strings.Trim(parts[0], "\"")
	return fmt.Sprintf("%s (PID: %d)", processName, pid)
}
