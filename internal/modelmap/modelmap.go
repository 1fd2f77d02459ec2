// Package modelmap resolves a caller-facing model alias (e.g. "sonnet-4")
// to the native model identifier each provider's CLI expects, via a static
// bi-directional table per provider.
package modelmap

import (
	"log/slog"
	"sync"
)

// table holds alias -> native for one provider. Reverse lookups (is this
// value already native?) are derived from the same table rather than
// maintained separately, so the two directions can never drift.
type table map[string]string

var tables = map[string]table{
	"claude": {
		"sonnet-4":  "claude-sonnet-4-20250514",
		"opus-4":    "claude-opus-4-20250514",
		"haiku-3.5": "claude-3-5-haiku-20241022",
	},
	"cursor": {
		"sonnet-4":  "sonnet-4",
		"opus-4":    "opus-4.1",
		"haiku-3.5": "haiku-3.5",
		"gpt-5":     "gpt-5",
	},
	"codex": {
		"sonnet-4":  "claude-3.5-sonnet",
		"gpt-5":     "gpt-5",
		"gpt-5-mini": "gpt-5-mini",
	},
	"qwen": {
		"qwen3-coder": "qwen3-coder-plus",
		"qwen3":       "qwen3-plus",
	},
	"gemini": {
		"gemini-2.5-pro":   "gemini-2.5-pro",
		"gemini-2.5-flash": "gemini-2.5-flash",
	},
}

var logger = slog.Default()

var mu sync.RWMutex

// SetLogger overrides the package-level logger used to warn about unknown
// aliases. Intended for wiring the shared application logger at startup.
func SetLogger(l *slog.Logger) {
	if l != nil {
		logger = l
	}
}

// SetOverrides layers operator-configured alias->native entries on top of
// provider's built-in table, adding new aliases or replacing existing ones.
// Intended to be called once at startup from the loaded Config.
func SetOverrides(provider string, overrides map[string]string) {
	if len(overrides) == 0 {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	t, ok := tables[provider]
	if !ok {
		t = make(table, len(overrides))
		tables[provider] = t
	}
	for alias, native := range overrides {
		t[alias] = native
	}
}

// Resolve maps alias to provider's native model identifier. If provider is
// unknown, or alias is already a native identifier for that provider, or
// alias is unrecognized, it is returned unchanged (and, for the
// unrecognized case, logged at Warn so callers can notice drift against a
// provider's model list without failing the turn).
func Resolve(provider, alias string) string {
	if alias == "" {
		return alias
	}
	mu.RLock()
	defer mu.RUnlock()
	t, ok := tables[provider]
	if !ok {
		return alias
	}
	if native, ok := t[alias]; ok {
		return native
	}
	for _, native := range t {
		if native == alias {
			return alias
		}
	}
	logger.Warn("modelmap: unrecognized model alias", "provider", provider, "alias", alias)
	return alias
}

// Models lists every native model identifier known for provider, in no
// fixed order (it follows Go's randomized map iteration order).
func Models(provider string) []string {
	mu.RLock()
	defer mu.RUnlock()
	t, ok := tables[provider]
	if !ok {
		return nil
	}
	seen := make(map[string]bool, len(t))
	out := make([]string, 0, len(t))
	for _, native := range t {
		if !seen[native] {
			seen[native] = true
			out = append(out, native)
		}
	}
	return out
}

// IsSupported reports whether model (alias or native) resolves to a known
// native identifier for provider.
func IsSupported(provider, model string) bool {
	mu.RLock()
	defer mu.RUnlock()
	t, ok := tables[provider]
	if !ok {
		return false
	}
	if _, ok := t[model]; ok {
		return true
	}
	for _, native := range t {
		if native == model {
			return true
		}
	}
	return false
}
