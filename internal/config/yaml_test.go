package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_YAML_Support(t *testing.T) {
	tempDir := t.TempDir()
	mgr := NewManager(tempDir)

	yamlConfig := `
host: "0.0.0.0"
port: 8080
api_key: "test-core-key"
providers:
  codex:
    binary_path: "/opt/codex/bin/codex"
    model_aliases:
      fast: "gpt-5-mini"
  cursor:
    model_aliases:
      default: "sonnet-4"
env_passthrough:
  - "CURSOR_API_KEY"
`

	yamlPath := filepath.Join(tempDir, DefaultYAMLFilename)
	err := os.WriteFile(yamlPath, []byte(yamlConfig), 0644)
	require.NoError(t, err)

	cfg, err := mgr.Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "test-core-key", cfg.APIKey)

	require.Contains(t, cfg.Providers, "codex")
	assert.Equal(t, "/opt/codex/bin/codex", cfg.Providers["codex"].BinaryPath)
	assert.Equal(t, "gpt-5-mini", cfg.Providers["codex"].ModelAliases["fast"])

	require.Contains(t, cfg.Providers, "cursor")
	assert.Equal(t, "sonnet-4", cfg.Providers["cursor"].ModelAliases["default"])

	assert.Equal(t, []string{"CURSOR_API_KEY"}, cfg.EnvPassthrough)
}

func TestManager_YAML_Takes_Precedence(t *testing.T) {
	tempDir := t.TempDir()
	mgr := NewManager(tempDir)

	jsonConfig := `{
		"HOST": "127.0.0.1",
		"PORT": 6970,
		"providers": {"codex": {"binary_path": "/json/codex"}}
	}`

	yamlConfig := `
host: "0.0.0.0"
port: 8080
providers:
  codex:
    binary_path: "/yaml/codex"
`

	jsonPath := filepath.Join(tempDir, DefaultConfigFilename)
	yamlPath := filepath.Join(tempDir, DefaultYAMLFilename)

	err := os.WriteFile(jsonPath, []byte(jsonConfig), 0644)
	require.NoError(t, err)

	err = os.WriteFile(yamlPath, []byte(yamlConfig), 0644)
	require.NoError(t, err)

	cfg, err := mgr.Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "/yaml/codex", cfg.Providers["codex"].BinaryPath)
}

func TestManager_DefaultsApplication(t *testing.T) {
	tempDir := t.TempDir()
	mgr := NewManager(tempDir)

	yamlConfig := `
providers:
  qwen: {}
`
	yamlPath := filepath.Join(tempDir, DefaultYAMLFilename)
	err := os.WriteFile(yamlPath, []byte(yamlConfig), 0644)
	require.NoError(t, err)

	cfg, err := mgr.Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultHost, cfg.Host)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultEnvPassthrough, cfg.EnvPassthrough)
}
