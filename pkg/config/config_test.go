package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("POLARIS_CONFIG_PATH", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:6572", cfg.ControlAddr)
	assert.Equal(t, "secretservice", cfg.KeyringBackend)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 10, cfg.HTTPTimeoutSeconds)

	for _, attr := range cfg.Attributes() {
		assert.Equal(t, "default", attr.Source, "attribute %s", attr.Name)
	}
}

func TestLoad_FileValues(t *testing.T) {
	dir := t.TempDir()
	content := []byte("control_addr: 127.0.0.1:9999\nlog_level: debug\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), content, 0o600))
	t.Setenv("POLARIS_CONFIG_PATH", dir)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9999", cfg.ControlAddr)
	assert.Equal(t, "debug", cfg.LogLevel)

	sources := map[string]string{}
	for _, attr := range cfg.Attributes() {
		sources[attr.Name] = attr.Source
	}
	assert.Equal(t, "file", sources["control_addr"])
	assert.Equal(t, "file", sources["log_level"])
	assert.Equal(t, "default", sources["api_base_url"])
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	content := []byte("log_level: debug\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), content, 0o600))
	t.Setenv("POLARIS_CONFIG_PATH", dir)
	t.Setenv("POLARIS_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestLoad_InvalidKeyringBackend(t *testing.T) {
	t.Setenv("POLARIS_CONFIG_PATH", t.TempDir())
	t.Setenv("POLARIS_KEYRING_BACKEND", "vault")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "keyring_backend")
}

func TestLoad_BadYAML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), []byte("control_addr: ["), 0o600))
	t.Setenv("POLARIS_CONFIG_PATH", dir)

	_, err := Load()
	require.Error(t, err)
}
