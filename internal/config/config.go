// Package config loads and caches the orchestration core's runtime
// configuration: the ambient HTTP surface (host/port/API key) plus
// per-provider binary path overrides, model alias overrides, and the
// environment passthrough allow-list.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPort           = 6970
	DefaultConfigFilename = "config.json"
	DefaultYAMLFilename   = "config.yaml"
	DefaultHost           = "127.0.0.1"
)

// DefaultBinaries maps each provider to the CLI/binary name it spawns when
// no override is configured.
var DefaultBinaries = map[string]string{
	"cursor": "cursor-agent",
	"codex":  "codex",
	"qwen":   "qwen",
	"gemini": "gemini",
}

// DefaultEnvPassthrough is the environment variable allow-list spec §6.5
// recognizes; any of these present in the process environment are forwarded
// to provider subprocesses even without an explicit Provider entry.
var DefaultEnvPassthrough = []string{
	"CURSOR_API_KEY",
	"CURSOR_MODEL",
	"QWEN_CMD",
	"QWEN_AUTH_METHOD",
	"GEMINI_AUTH_METHOD",
	"NO_BROWSER",
	"DISABLE_AGENTS_MD",
	"CODEX_RESUME",
}

// ProviderOverride holds operator overrides for a single provider: an
// alternate binary path (claude has none, since it is an in-process SDK)
// and additional/overriding model-alias mappings layered on top of
// modelmap's built-in tables. server.BuildRegistry applies BinaryPath to
// the cursor and codex adapters only; the qwen and gemini adapters take
// their binary from QWEN_CMD / GEMINI_CMD or their default name.
type ProviderOverride struct {
	BinaryPath   string            `json:"binary_path,omitempty" yaml:"binary_path,omitempty"`
	ModelAliases map[string]string `json:"model_aliases,omitempty" yaml:"model_aliases,omitempty"`
}

// Config is the orchestration core's full runtime configuration.
type Config struct {
	Host           string                      `json:"HOST,omitempty" yaml:"host,omitempty"`
	Port           int                         `json:"PORT,omitempty" yaml:"port,omitempty"`
	APIKey         string                      `json:"APIKEY,omitempty" yaml:"api_key,omitempty"`
	Providers      map[string]ProviderOverride `json:"providers,omitempty" yaml:"providers,omitempty"`
	EnvPassthrough []string                    `json:"env_passthrough,omitempty" yaml:"env_passthrough,omitempty"`
}

// Manager loads, caches, and persists Config. The file is not watched:
// changes on disk are picked up only by the next explicit Load. YAML is
// preferred; JSON is a fallback read format.
type Manager struct {
	baseDir     string
	jsonPath    string
	yamlPath    string
	configValue atomic.Value
}

// NewManager returns a Manager rooted at baseDir.
func NewManager(baseDir string) *Manager {
	return &Manager{
		baseDir:  baseDir,
		jsonPath: filepath.Join(baseDir, DefaultConfigFilename),
		yamlPath: filepath.Join(baseDir, DefaultYAMLFilename),
	}
}

func (m *Manager) minimalConfig() Config {
	return Config{
		Host:           DefaultHost,
		Port:           DefaultPort,
		EnvPassthrough: append([]string(nil), DefaultEnvPassthrough...),
	}
}

// Load reads YAML (preferred) or JSON config from baseDir, applies
// defaults, and caches the result for Get.
func (m *Manager) Load() (*Config, error) {
	var cfg Config
	var err error

	switch {
	case fileExists(m.yamlPath):
		cfg, err = m.loadYAML()
		if err != nil {
			return nil, fmt.Errorf("load YAML config: %w", err)
		}
	case fileExists(m.jsonPath):
		cfg, err = m.loadJSON()
		if err != nil {
			return nil, fmt.Errorf("load JSON config: %w", err)
		}
	default:
		cfg = m.minimalConfig()
	}

	m.applyDefaults(&cfg)
	m.configValue.Store(&cfg)
	return &cfg, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (m *Manager) loadYAML() (Config, error) {
	var cfg Config
	data, err := os.ReadFile(m.yamlPath)
	if err != nil {
		return cfg, fmt.Errorf("read YAML config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal YAML config: %w", err)
	}
	return cfg, nil
}

func (m *Manager) loadJSON() (Config, error) {
	var cfg Config
	data, err := os.ReadFile(m.jsonPath)
	if err != nil {
		return cfg, fmt.Errorf("read JSON config file: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal JSON config: %w", err)
	}
	return cfg, nil
}

func (m *Manager) applyDefaults(cfg *Config) {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if len(cfg.EnvPassthrough) == 0 {
		cfg.EnvPassthrough = append([]string(nil), DefaultEnvPassthrough...)
	}
}

// Get returns the cached Config, loading it first if Load hasn't run yet.
// On load failure it falls back to bare defaults rather than panicking,
// since a misconfigured config file should not prevent the `turn` demo
// command from running against explicit flags.
func (m *Manager) Get() *Config {
	if v := m.configValue.Load(); v != nil {
		return v.(*Config)
	}
	cfg, err := m.Load()
	if err != nil {
		fallback := m.minimalConfig()
		return &fallback
	}
	return cfg
}

// Save persists cfg as YAML, the preferred format for new writes.
func (m *Manager) Save(cfg *Config) error {
	return m.SaveAsYAML(cfg)
}

// SaveAsYAML persists cfg as YAML under baseDir.
func (m *Manager) SaveAsYAML(cfg *Config) error {
	if err := os.MkdirAll(m.baseDir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal YAML config: %w", err)
	}
	if err := os.WriteFile(m.yamlPath, data, 0644); err != nil {
		return fmt.Errorf("write YAML config file: %w", err)
	}
	m.configValue.Store(cfg)
	return nil
}

// SaveAsJSON persists cfg as JSON under baseDir.
func (m *Manager) SaveAsJSON(cfg *Config) error {
	if err := os.MkdirAll(m.baseDir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON config: %w", err)
	}
	if err := os.WriteFile(m.jsonPath, data, 0644); err != nil {
		return fmt.Errorf("write JSON config file: %w", err)
	}
	m.configValue.Store(cfg)
	return nil
}

// GetPath returns the YAML path if it exists, otherwise the JSON path.
func (m *Manager) GetPath() string {
	if fileExists(m.yamlPath) {
		return m.yamlPath
	}
	return m.jsonPath
}

func (m *Manager) GetYAMLPath() string { return m.yamlPath }
func (m *Manager) GetJSONPath() string { return m.jsonPath }

func (m *Manager) Exists() bool  { return fileExists(m.yamlPath) || fileExists(m.jsonPath) }
func (m *Manager) HasYAML() bool { return fileExists(m.yamlPath) }
func (m *Manager) HasJSON() bool { return fileExists(m.jsonPath) }

// CreateExampleYAML writes a comment-free example config covering every
// subprocess provider's override fields, for `agentcore config generate`.
func (m *Manager) CreateExampleYAML() error {
	cfg := &Config{
		Host:   DefaultHost,
		Port:   DefaultPort,
		APIKey: "your-core-api-key-here",
		Providers: map[string]ProviderOverride{
			"cursor": {ModelAliases: map[string]string{"sonnet-4": "sonnet-4"}},
			"codex":  {BinaryPath: "/usr/local/bin/codex"},
			"qwen":   {},
			"gemini": {},
		},
		EnvPassthrough: append([]string(nil), DefaultEnvPassthrough...),
	}
	return m.SaveAsYAML(cfg)
}

// BinaryFor resolves the binary/CLI name for provider: the configured
// override if present, otherwise DefaultBinaries[provider].
func (c *Config) BinaryFor(provider string) string {
	if o, ok := c.Providers[provider]; ok && o.BinaryPath != "" {
		return o.BinaryPath
	}
	return DefaultBinaries[provider]
}

// ModelAliasesFor returns provider's configured alias overrides, or nil if
// none are set.
func (c *Config) ModelAliasesFor(provider string) map[string]string {
	if o, ok := c.Providers[provider]; ok {
		return o.ModelAliases
	}
	return nil
}
