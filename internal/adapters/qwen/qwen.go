// Package qwen adapts the Qwen Code CLI (`qwen --experimental-acp`) via
// the shared acpagent turn driver.
package qwen

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/nullstream/agentcore/internal/adapters/acpagent"
	"github.com/nullstream/agentcore/internal/events"
	"github.com/nullstream/agentcore/internal/store"
)

var callIDLine = regexp.MustCompile(`(?m)^call[_-][A-Za-z0-9]+.*$\n?`)
var extraBlankLines = regexp.MustCompile(`\n{3,}`)

// postProcess strips Qwen's opaque call_XXXX "executing..." lines and
// collapses runs of blank lines left behind.
func postProcess(content string) string {
	content = callIDLine.ReplaceAllString(content, "")
	content = extraBlankLines.ReplaceAllString(content, "\n\n")
	return strings.TrimSpace(content)
}

func variant() acpagent.Variant {
	return acpagent.Variant{
		Provider:          events.ProviderQwen,
		BinaryEnvVar:      "QWEN_CMD",
		DefaultBinary:     "qwen",
		MarkerFilename:    "QWEN.md",
		AuthMethodEnv:     "QWEN_AUTH_METHOD",
		DefaultAuthMethod: "qwen-oauth",
		SupportsImages:    false,
		WrapThinking:      false,
		PostProcessChat:   postProcess,
	}
}

// New builds a Qwen adapter.
func New(st store.Store, logger *slog.Logger, envOverrides map[string]string) *acpagent.Adapter {
	return acpagent.New(variant(), st, logger, envOverrides)
}
