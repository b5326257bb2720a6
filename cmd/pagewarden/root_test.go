// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pagewarden Contributors

package main

import (
	"path/filepath"
	"testing"

	"github.com/sigil-dev/pagewarden/internal/config"
	pwerr "github.com/sigil-dev/pagewarden/pkg/errors"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_Help(t *testing.T) {
	isolate(t)
	res := execute(t, "", "--help")
	require.NoError(t, res.err)

	for _, sub := range []string{"serve", "ask", "mcp", "secret", "init", "status", "version"} {
		assert.Contains(t, res.stdout, sub)
	}
	assert.Contains(t, res.stdout, "--config")
	assert.Contains(t, res.stdout, "--data-dir")
	assert.Contains(t, res.stdout, "--verbose")
}

func TestVersionCommand(t *testing.T) {
	isolate(t)
	res := execute(t, "", "version")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "pagewarden dev")
}

func TestRootCommand_MissingConfigFile(t *testing.T) {
	isolate(t)
	res := execute(t, "", "--config", "/nonexistent/pagewarden.yaml", "mcp", "list")
	require.Error(t, res.err)
	assert.True(t, pwerr.HasCode(res.err, pwerr.CodeConfigLoadReadFailure))
}

func TestRootCommand_InvalidConfigIsRejected(t *testing.T) {
	isolate(t)
	t.Setenv("PAGEWARDEN_ORCHESTRATOR_MAX_ITERATIONS", "0")

	res := execute(t, "", "--data-dir", filepath.Join(t.TempDir(), "data"), "mcp", "list")
	require.Error(t, res.err)
	assert.Contains(t, res.err.Error(), "orchestrator.max_iterations")
}

func TestLoadConfig_ResolvesKeyringReferences(t *testing.T) {
	_, keyring := isolate(t)
	require.NoError(t, keyring.Store("pagewarden", "token", "s3cret"))
	t.Setenv("PAGEWARDEN_NETWORKING_API_TOKEN", "keyring://pagewarden/token")

	c := &cli{v: viper.New()}
	config.SetDefaults(c.v)
	config.SetupEnv(c.v)

	cfg, err := c.loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Networking.APIToken)
}

func TestLoadConfig_MissingKeyringEntryFails(t *testing.T) {
	isolate(t)
	t.Setenv("PAGEWARDEN_NETWORKING_API_TOKEN", "keyring://pagewarden/absent")

	res := execute(t, "", "--data-dir", t.TempDir(), "mcp", "list")
	require.Error(t, res.err)
	assert.True(t, pwerr.HasCode(res.err, pwerr.CodeSecretResolveFailure))
}

func TestDataDir(t *testing.T) {
	home, _ := isolate(t)
	c := &cli{}

	dir, err := c.dataDir(&config.Config{})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".local", "share", "pagewarden"), dir)

	dir, err = c.dataDir(&config.Config{DataDir: "/srv/pw"})
	require.NoError(t, err)
	assert.Equal(t, "/srv/pw", dir)
}
