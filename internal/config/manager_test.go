package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_SaveAndLoadJSON(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)

	cfg := &Config{
		DefaultProvider: "openai",
		Providers: []ProviderConfig{
			{Name: "openai", Endpoint: "https://api.openai.com/v1"},
		},
		Aliases: map[string]string{"fast": "openai:gpt-4o-mini"},
	}

	require.NoError(t, m.Save(cfg))

	loaded, err := NewManager(dir).Load()
	require.NoError(t, err)

	assert.Equal(t, "openai", loaded.DefaultProvider)
	assert.Equal(t, DefaultPort, loaded.Port, "defaults are applied on load")
	assert.Equal(t, DefaultHost, loaded.Host)

	require.Len(t, loaded.Providers, 1)
	assert.Equal(t, "openai:gpt-4o-mini", loaded.Aliases["fast"])
}

func TestManager_LoadYAML(t *testing.T) {
	dir := t.TempDir()

	yamlConfig := `
port: 9999
default_provider: anthropic
providers:
  - name: anthropic
    endpoint: https://api.anthropic.com/v1
    chat_path: /messages
    headers:
      anthropic-version: "2023-06-01"
aliases:
  smart: anthropic:claude-3-opus
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yamlConfig), 0o644))

	m := NewManager(dir)

	cfg, err := m.Load()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Port)
	assert.Equal(t, "anthropic", cfg.DefaultProvider)

	require.Len(t, cfg.Providers, 1)
	assert.Equal(t, "/messages", cfg.Providers[0].ChatPath)
	assert.Equal(t, "2023-06-01", cfg.Providers[0].Headers["anthropic-version"])
	assert.Equal(t, "anthropic:claude-3-opus", cfg.Aliases["smart"])
}

func TestManager_YAMLPreferredOverMissingJSON(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yml"), []byte("port: 1234\nproviders: []\n"), 0o644))

	m := NewManager(dir)
	assert.True(t, m.Exists())

	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, 1234, cfg.Port)
}

func TestManager_GetFallsBackToDefaults(t *testing.T) {
	m := NewManager(t.TempDir())

	cfg := m.Get()
	assert.Equal(t, DefaultHost, cfg.Host)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.NotNil(t, cfg.Aliases)
}

func TestOperation_DefaultPaths(t *testing.T) {
	assert.Equal(t, "/chat/completions", OpChat.DefaultPath())
	assert.Equal(t, "/models", OpModels.DefaultPath())
	assert.Equal(t, "/images/generations", OpImages.DefaultPath())
	assert.Equal(t, "/embeddings", OpEmbeddings.DefaultPath())
	assert.Equal(t, "/audio/speech", OpSpeech.DefaultPath())
	assert.Equal(t, "/audio/transcriptions", OpAudio.DefaultPath())
}
