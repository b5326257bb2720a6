// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pagewarden Contributors

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sigil-dev/pagewarden/internal/config"
	"github.com/sigil-dev/pagewarden/internal/secrets"
	pwerr "github.com/sigil-dev/pagewarden/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// initOptions holds what the init command collected.
type initOptions struct {
	Provider string
	Model    string
	Endpoint string
	APIKey   string
	Listen   string
}

// initProvider is the providers.<name> entry written by init.
type initProvider struct {
	Type     string `yaml:"type"`
	APIKey   string `yaml:"api_key,omitempty"`
	Endpoint string `yaml:"endpoint,omitempty"`
	Model    string `yaml:"model"`
}

// initFile is the subset of the config written by init. Everything else
// keeps its default.
type initFile struct {
	Networking struct {
		Listen string `yaml:"listen"`
	} `yaml:"networking"`
	Backend struct {
		Default string `yaml:"default"`
	} `yaml:"backend"`
	Providers map[string]initProvider `yaml:"providers"`
	Storage   struct {
		Backend string `yaml:"backend"`
	} `yaml:"storage"`
}

// defaultModels is the model init writes when --model is not given.
var defaultModels = map[string]string{
	config.ProviderTypeAnthropic: "claude-sonnet-4-5",
	config.ProviderTypeOpenAI:    "gpt-4o-mini",
	config.ProviderTypeGoogle:    "gemini-2.0-flash",
	config.ProviderTypeOllama:    "llama3.2",
}

// apiKeyName is the keyring entry holding a provider's key.
func apiKeyName(providerType string) string { return providerType + "-api-key" }

// GenerateConfigYAML renders the config written by init. API keys are
// referenced through keyring:// URIs, never inlined.
func GenerateConfigYAML(opts initOptions) ([]byte, error) {
	var f initFile
	f.Networking.Listen = opts.Listen
	f.Backend.Default = opts.Provider
	f.Storage.Backend = "sqlite"

	p := initProvider{Type: opts.Provider, Model: opts.Model, Endpoint: opts.Endpoint}
	if opts.APIKey != "" {
		p.APIKey = secrets.URI(apiKeyName(opts.Provider))
	}
	f.Providers = map[string]initProvider{opts.Provider: p}

	body, err := yaml.Marshal(&f)
	if err != nil {
		return nil, pwerr.Errorf(pwerr.CodeCLISetupFailure, "encoding config: %w", err)
	}
	header := "# pagewarden configuration, generated by pagewarden init.\n" +
		"# Every key can be overridden with a PAGEWARDEN_ environment variable.\n\n"
	return append([]byte(header), body...), nil
}

// configPathForWrite returns the path init writes to. Declared as a
// variable so tests can redirect it.
var configPathForWrite = config.DefaultConfigPath

func (c *cli) newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config file",
		Long: `Write ~/.config/pagewarden/pagewarden.yaml for one LLM backend.

For cloud backends the API key is read from stdin and stored in the OS
keyring; the config file only holds a keyring:// reference to it.`,
		Example: `  pagewarden init --provider ollama
  echo "$ANTHROPIC_API_KEY" | pagewarden init --provider anthropic`,
		Args: cobra.NoArgs,
		RunE: runInit,
	}

	cmd.Flags().String("provider", config.ProviderTypeOllama, "backend type: ollama, openai, anthropic or google")
	cmd.Flags().String("model", "", "model name (defaults per provider)")
	cmd.Flags().String("endpoint", "", "API endpoint override")
	cmd.Flags().String("listen", "127.0.0.1:18790", "API listen address")
	cmd.Flags().Bool("force", false, "overwrite an existing config file")

	return cmd
}

func runInit(cmd *cobra.Command, _ []string) error {
	opts := initOptions{}
	opts.Provider, _ = cmd.Flags().GetString("provider")
	opts.Model, _ = cmd.Flags().GetString("model")
	opts.Endpoint, _ = cmd.Flags().GetString("endpoint")
	opts.Listen, _ = cmd.Flags().GetString("listen")
	force, _ := cmd.Flags().GetBool("force")

	if _, ok := defaultModels[opts.Provider]; !ok {
		return pwerr.Errorf(pwerr.CodeCLIInputInvalid, "unknown provider %q: want ollama, openai, anthropic or google", opts.Provider)
	}
	if opts.Model == "" {
		opts.Model = defaultModels[opts.Provider]
	}
	if opts.Provider == config.ProviderTypeOllama && opts.Endpoint == "" {
		opts.Endpoint = "http://127.0.0.1:11434/v1"
	}

	cfgPath, err := configPathForWrite()
	if err != nil {
		return err
	}
	if !force {
		if _, statErr := os.Stat(cfgPath); statErr == nil {
			return pwerr.Errorf(pwerr.CodeConfigAlreadyExists,
				"config file already exists at %s; use --force to overwrite", cfgPath)
		}
	}

	if opts.Provider != config.ProviderTypeOllama {
		key, err := readAPIKey(cmd.InOrStdin(), cmd.ErrOrStderr(), opts.Provider)
		if err != nil {
			return err
		}
		opts.APIKey = key
		// Secrets stored before a failed config write are not rolled back; a
		// rerun overwrites them.
		if err := secretStoreFactory().Store(secrets.DefaultService, apiKeyName(opts.Provider), key); err != nil {
			return pwerr.Wrapf(err, pwerr.CodeSecretStoreFailure, "storing %s API key", opts.Provider)
		}
	}

	data, err := GenerateConfigYAML(opts)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(cfgPath), 0o700); err != nil {
		return pwerr.Errorf(pwerr.CodeCLISetupFailure, "creating config directory: %w", err)
	}
	if err := os.WriteFile(cfgPath, data, 0o600); err != nil {
		return pwerr.Errorf(pwerr.CodeCLISetupFailure, "writing config to %s: %w", cfgPath, err)
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\nNext: pagewarden serve\n", cfgPath)
	return nil
}

func readAPIKey(in io.Reader, prompt io.Writer, providerType string) (string, error) {
	_, _ = fmt.Fprintf(prompt, "%s API key: ", providerType)
	line, err := bufio.NewReader(in).ReadString('\n')
	key := strings.TrimSpace(line)
	if key == "" {
		if err != nil {
			return "", pwerr.Errorf(pwerr.CodeCLIInputInvalid, "reading API key: %w", err)
		}
		return "", pwerr.New(pwerr.CodeCLIInputInvalid, "API key must not be empty")
	}
	return key, nil
}
