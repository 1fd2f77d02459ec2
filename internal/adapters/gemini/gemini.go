// Package gemini adapts the Gemini CLI (`gemini --experimental-acp`) via
// the shared acpagent turn driver.
package gemini

import (
	"log/slog"

	"github.com/nullstream/agentcore/internal/adapters/acpagent"
	"github.com/nullstream/agentcore/internal/events"
	"github.com/nullstream/agentcore/internal/store"
)

func variant() acpagent.Variant {
	return acpagent.Variant{
		Provider:          events.ProviderGemini,
		BinaryEnvVar:      "GEMINI_CMD",
		DefaultBinary:     "gemini",
		MarkerFilename:    "GEMINI.md",
		AuthMethodEnv:     "GEMINI_AUTH_METHOD",
		DefaultAuthMethod: "oauth-personal",
		SupportsImages:    true,
		WrapThinking:      true,
		PostProcessChat:   nil,
	}
}

// New builds a Gemini adapter.
func New(st store.Store, logger *slog.Logger, envOverrides map[string]string) *acpagent.Adapter {
	return acpagent.New(variant(), st, logger, envOverrides)
}
