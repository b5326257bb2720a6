// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pagewarden Contributors

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sigil-dev/pagewarden/internal/config"
	pwerr "github.com/sigil-dev/pagewarden/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// redirectConfig makes init write into a temp dir.
func redirectConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pagewarden", "pagewarden.yaml")
	old := configPathForWrite
	configPathForWrite = func() (string, error) { return path, nil }
	t.Cleanup(func() { configPathForWrite = old })
	return path
}

func TestGenerateConfigYAML(t *testing.T) {
	tests := []struct {
		name       string
		opts       initOptions
		wantAPIKey string
	}{
		{
			name: "local backend has no key",
			opts: initOptions{Provider: "ollama", Model: "llama3.2", Endpoint: "http://127.0.0.1:11434/v1", Listen: "127.0.0.1:18790"},
		},
		{
			name:       "cloud key is a keyring reference",
			opts:       initOptions{Provider: "anthropic", Model: "claude-sonnet-4-5", APIKey: "sk-secret", Listen: "127.0.0.1:18790"},
			wantAPIKey: "keyring://pagewarden/anthropic-api-key",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := GenerateConfigYAML(tt.opts)
			require.NoError(t, err)
			assert.NotContains(t, string(data), "sk-secret")

			var doc map[string]any
			require.NoError(t, yaml.Unmarshal(data, &doc))

			providers := doc["providers"].(map[string]any)
			p := providers[tt.opts.Provider].(map[string]any)
			assert.Equal(t, tt.opts.Provider, p["type"])
			assert.Equal(t, tt.opts.Model, p["model"])
			if tt.wantAPIKey == "" {
				assert.NotContains(t, p, "api_key")
			} else {
				assert.Equal(t, tt.wantAPIKey, p["api_key"])
			}
		})
	}
}

func TestGenerateConfigYAML_LoadsAsValidConfig(t *testing.T) {
	data, err := GenerateConfigYAML(initOptions{Provider: "google", Model: "gemini-2.0-flash", APIKey: "k", Listen: "127.0.0.1:9000"})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "pagewarden.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.Networking.Listen)

	name, p, ok := cfg.DefaultProvider()
	require.True(t, ok)
	assert.Equal(t, "google", name)
	assert.Equal(t, "cloud", p.ResolvedLocation())
	// Defaults still apply to everything init does not write.
	assert.Equal(t, 5, cfg.Orchestrator.MaxIterations)
}

func TestInit_LocalBackend(t *testing.T) {
	isolate(t)
	path := redirectConfig(t)

	res := execute(t, "", "init")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	cfg, err := config.Load(path)
	require.NoError(t, err)
	_, p, ok := cfg.DefaultProvider()
	require.True(t, ok)
	assert.Equal(t, "llama3.2", p.Model)
	assert.Equal(t, "http://127.0.0.1:11434/v1", p.Endpoint)
}

func TestInit_CloudBackendStoresKey(t *testing.T) {
	_, keyring := isolate(t)
	path := redirectConfig(t)

	res := execute(t, "sk-ant-123\n", "init", "--provider", "anthropic", "--model", "claude-haiku-4-5")
	require.NoError(t, res.err)

	key, err := keyring.Retrieve("pagewarden", "anthropic-api-key")
	require.NoError(t, err)
	assert.Equal(t, "sk-ant-123", key)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "keyring://pagewarden/anthropic-api-key")
	assert.Contains(t, string(data), "claude-haiku-4-5")
	assert.NotContains(t, string(data), "sk-ant-123")
}

func TestInit_RefusesToOverwrite(t *testing.T) {
	isolate(t)
	path := redirectConfig(t)

	require.NoError(t, execute(t, "", "init").err)

	res := execute(t, "", "init")
	require.Error(t, res.err)
	assert.True(t, pwerr.IsConflict(res.err))
	assert.Contains(t, res.err.Error(), "--force")

	res = execute(t, "", "init", "--force", "--model", "qwen2.5")
	require.NoError(t, res.err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "qwen2.5")
}

func TestInit_Errors(t *testing.T) {
	isolate(t)
	redirectConfig(t)

	res := execute(t, "", "init", "--provider", "bedrock")
	require.Error(t, res.err)
	assert.True(t, pwerr.HasCode(res.err, pwerr.CodeCLIInputInvalid))

	res = execute(t, "", "init", "--provider", "openai")
	require.Error(t, res.err)
	assert.True(t, pwerr.HasCode(res.err, pwerr.CodeCLIInputInvalid), "missing API key on stdin")
}
