// Package adapters defines the Provider Adapter contract every
// provider-specific package (claude, cursor, codex, qwen, gemini)
// implements, plus the shared Registry and subprocess/image helpers they
// all use.
package adapters

import (
	"context"
	"fmt"
	"time"

	"github.com/nullstream/agentcore/internal/events"
)

// Reason is the closed error taxonomy spec §7 defines.
type Reason string

const (
	ReasonCLINotFound      Reason = "cli_not_found"
	ReasonCLINotConfigured Reason = "cli_not_configured"
	ReasonProtocolError    Reason = "protocol_error"
	ReasonSessionExpired   Reason = "session_expired"
	ReasonExecutionFailed  Reason = "execution_failed"
	ReasonCancelled        Reason = "cancelled"
	ReasonProviderError    Reason = "provider_error"
)

// Error wraps an adapter-level failure with its taxonomy reason and
// originating provider, so the Manager and tests can match on Reason
// instead of sniffing error strings.
type Error struct {
	Provider string
	Reason   Reason
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// Image is a single input image, supplied either as a local filesystem
// path or as inline base64 data (see DecodeImage).
type Image struct {
	Path     string
	Base64   string
	MimeType string
}

// Opts carries the caller-supplied parameters of a single turn.
type Opts struct {
	Instruction     string
	Images          []Image
	Model           string
	IsInitialPrompt bool
}

// StreamRequest is everything an Adapter needs to drive one turn.
type StreamRequest struct {
	ProjectID      string
	ProjectPath    string
	SessionID      string // turn id, distinct from the provider's resume session id
	ConversationID string
	Opts           Opts
}

// ProviderStatus is the result of an availability probe.
type ProviderStatus struct {
	Available     bool
	Configured    bool
	Error         string
	Models        []string
	DefaultModels []string
	CheckedAt     time.Time
}

// Adapter is the contract every provider package implements.
type Adapter interface {
	// Name is the provider's registry key (e.g. "claude").
	Name() string

	// CheckAvailability probes whether the provider's CLI/SDK is present
	// and configured. The adapters in this repo probe afresh on every call
	// and cache nothing; ProviderStatus.CheckedAt records when the probe ran.
	CheckAvailability(ctx context.Context) ProviderStatus

	// Stream drives one turn and returns a channel of normalized events.
	// Exactly one terminal event (Kind=result or Kind=error) is sent
	// before the channel is closed.
	Stream(ctx context.Context, req StreamRequest) <-chan events.Event

	// GetSessionID/SetSessionID expose the provider's resume state for a
	// given project, backed by the Session Store.
	GetSessionID(projectID string) (string, bool)
	SetSessionID(projectID, sessionID string)

	// SupportedModels/IsModelSupported expose the provider's known model
	// aliases (see package modelmap).
	SupportedModels() []string
	IsModelSupported(model string) bool
}
