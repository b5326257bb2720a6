// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pagewarden Contributors

package config

import (
	"errors"
	"net"
	"strconv"
	"strings"
	"time"

	pwerr "github.com/sigil-dev/pagewarden/pkg/errors"
	"github.com/spf13/viper"
)

// Provider types understood by the gateway.
const (
	ProviderTypeOpenAI    = "openai"
	ProviderTypeAnthropic = "anthropic"
	ProviderTypeGoogle    = "google"
	ProviderTypeOllama    = "ollama"
)

// Config is the top-level pagewarden configuration.
type Config struct {
	Networking   NetworkingConfig          `mapstructure:"networking"`
	Backend      BackendConfig             `mapstructure:"backend"`
	Providers    map[string]ProviderConfig `mapstructure:"providers"`
	Orchestrator OrchestratorConfig        `mapstructure:"orchestrator"`
	Storage      StorageConfig             `mapstructure:"storage"`
	Host         HostConfig                `mapstructure:"host"`
	MCP          MCPConfig                 `mapstructure:"mcp"`
	DataDir      string                    `mapstructure:"data_dir"`
}

// NetworkingConfig controls where the HTTP API listens.
type NetworkingConfig struct {
	Listen      string   `mapstructure:"listen"`
	CORSOrigins []string `mapstructure:"cors_origins"`
	// APIToken, when set, is required as a bearer token on /api routes.
	// It may be a keyring:// reference.
	APIToken string `mapstructure:"api_token"`
}

// BackendConfig selects which configured provider answers chat calls.
type BackendConfig struct {
	Default string `mapstructure:"default"`
}

// ProviderConfig holds credentials and endpoint for an LLM backend.
type ProviderConfig struct {
	Type     string `mapstructure:"type"`
	APIKey   string `mapstructure:"api_key"`
	Endpoint string `mapstructure:"endpoint"`
	Model    string `mapstructure:"model"`
	// NativeTools is nil when unset, which means structured tool calling is attempted.
	NativeTools *bool  `mapstructure:"native_tools"`
	Location    string `mapstructure:"location"`
	MaxTokens   int    `mapstructure:"max_tokens"`
}

// SupportsNativeTools reports whether structured tool calling should be attempted.
func (p ProviderConfig) SupportsNativeTools() bool {
	return p.NativeTools == nil || *p.NativeTools
}

// ResolvedLocation returns the processing location for this provider.
// Self-hosted backends are local unless configured otherwise.
func (p ProviderConfig) ResolvedLocation() string {
	if p.Location != "" {
		return p.Location
	}
	if p.Type == ProviderTypeOllama {
		return "local"
	}
	return "cloud"
}

// OrchestratorConfig bounds the orchestration loop.
type OrchestratorConfig struct {
	MaxIterations     int           `mapstructure:"max_iterations"`
	PreReadTimeout    time.Duration `mapstructure:"pre_read_timeout"`
	GenerationTimeout time.Duration `mapstructure:"generation_timeout"`
	LLMTimeout        time.Duration `mapstructure:"llm_timeout"`
	ToolTimeout       time.Duration `mapstructure:"tool_timeout"`
	SnapshotMaxChars  int           `mapstructure:"snapshot_max_chars"`
	ResultMaxChars    int           `mapstructure:"result_max_chars"`
	ContextLimit      int           `mapstructure:"context_limit"`
}

// StorageConfig selects the document store backend.
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
}

// HostConfig points at the browser the host executor drives.
type HostConfig struct {
	CDPURL      string        `mapstructure:"cdp_url"`
	LoadTimeout time.Duration `mapstructure:"load_timeout"`
}

// MCPConfig controls remote tool server discovery and calls.
type MCPConfig struct {
	EndpointPath string        `mapstructure:"endpoint_path"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// SetDefaults registers every default value on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("networking.listen", "127.0.0.1:18790")
	v.SetDefault("networking.api_token", "")
	v.SetDefault("backend.default", "ollama")
	v.SetDefault("providers.ollama.type", ProviderTypeOllama)
	v.SetDefault("providers.ollama.endpoint", "http://127.0.0.1:11434/v1")
	v.SetDefault("providers.ollama.model", "llama3.2")
	v.SetDefault("orchestrator.max_iterations", 5)
	v.SetDefault("orchestrator.pre_read_timeout", 3*time.Second)
	v.SetDefault("orchestrator.generation_timeout", 45*time.Second)
	v.SetDefault("orchestrator.llm_timeout", 60*time.Second)
	v.SetDefault("orchestrator.tool_timeout", 20*time.Second)
	v.SetDefault("orchestrator.snapshot_max_chars", 8000)
	v.SetDefault("orchestrator.result_max_chars", 4000)
	v.SetDefault("orchestrator.context_limit", 8192)
	v.SetDefault("storage.backend", "sqlite")
	v.SetDefault("host.cdp_url", "")
	v.SetDefault("host.load_timeout", 10*time.Second)
	v.SetDefault("mcp.endpoint_path", "/mcp")
	v.SetDefault("mcp.timeout", 15*time.Second)
}

// SetupEnv enables PAGEWARDEN_ prefixed environment overrides.
func SetupEnv(v *viper.Viper) {
	v.SetEnvPrefix("PAGEWARDEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load reads configuration from the given path (or defaults) with
// environment variable overrides (prefix PAGEWARDEN_).
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	SetupEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, pwerr.Errorf(pwerr.CodeConfigLoadReadFailure, "reading config %s: %w", path, err)
		}
	}

	return FromViper(v)
}

// FromViper decodes and validates the configuration held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, pwerr.Errorf(pwerr.CodeConfigParseInvalidFormat, "unmarshalling config: %w", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, pwerr.Errorf(pwerr.CodeConfigValidateInvalidValue, "validating config: %w", errors.Join(errs...))
	}

	return &cfg, nil
}

// DefaultProvider returns the provider named by backend.default.
func (c *Config) DefaultProvider() (string, ProviderConfig, bool) {
	p, ok := c.Providers[c.Backend.Default]
	return c.Backend.Default, p, ok
}

// Validate checks the configuration for logical errors.
// It returns every validation error found rather than stopping at the first.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateNetworking()...)
	errs = append(errs, c.validateStorage()...)
	errs = append(errs, c.validateProviders()...)
	errs = append(errs, c.validateOrchestrator()...)
	errs = append(errs, c.validateMCP()...)

	return errs
}

func invalid(format string, args ...any) error {
	return pwerr.Errorf(pwerr.CodeConfigValidateInvalidValue, "config: "+format, args...)
}

func (c *Config) validateNetworking() []error {
	var errs []error

	if c.Networking.Listen == "" {
		return append(errs, invalid("networking.listen must not be empty"))
	}

	_, portStr, err := net.SplitHostPort(c.Networking.Listen)
	if err != nil {
		return append(errs, invalid("networking.listen must be a valid host:port address, got %q: %w", c.Networking.Listen, err))
	}

	port, err := strconv.Atoi(portStr)
	switch {
	case err != nil:
		errs = append(errs, invalid("networking.listen port must be a number, got %q", portStr))
	case port < 1 || port > 65535:
		errs = append(errs, invalid("networking.listen port must be between 1 and 65535, got %d", port))
	}

	if strings.ContainsAny(c.Networking.APIToken, " \t\n") {
		errs = append(errs, invalid("networking.api_token must not contain whitespace"))
	}

	return errs
}

func (c *Config) validateStorage() []error {
	validBackends := map[string]bool{"sqlite": true, "memory": true}
	if !validBackends[c.Storage.Backend] {
		return []error{invalid("storage.backend must be one of [sqlite, memory], got %q", c.Storage.Backend)}
	}
	return nil
}

func (c *Config) validateProviders() []error {
	var errs []error

	if c.Backend.Default == "" {
		errs = append(errs, invalid("backend.default must not be empty"))
	} else if _, ok := c.Providers[c.Backend.Default]; !ok {
		errs = append(errs, invalid("backend.default %q references a provider which is not configured", c.Backend.Default))
	}

	validTypes := map[string]bool{
		ProviderTypeOpenAI:    true,
		ProviderTypeAnthropic: true,
		ProviderTypeGoogle:    true,
		ProviderTypeOllama:    true,
	}
	validLocations := map[string]bool{"": true, "local": true, "cloud": true}

	for name, p := range c.Providers {
		if !validTypes[p.Type] {
			errs = append(errs, invalid("providers.%s.type must be one of [openai, anthropic, google, ollama], got %q", name, p.Type))
		}
		if p.Model == "" {
			errs = append(errs, invalid("providers.%s.model must not be empty", name))
		}
		if !validLocations[p.Location] {
			errs = append(errs, invalid("providers.%s.location must be one of [local, cloud], got %q", name, p.Location))
		}
		if p.MaxTokens < 0 {
			errs = append(errs, invalid("providers.%s.max_tokens must not be negative, got %d", name, p.MaxTokens))
		}
	}

	return errs
}

func (c *Config) validateOrchestrator() []error {
	var errs []error
	o := c.Orchestrator

	if o.MaxIterations <= 0 {
		errs = append(errs, invalid("orchestrator.max_iterations must be greater than 0, got %d", o.MaxIterations))
	}

	durations := []struct {
		key string
		d   time.Duration
	}{
		{"orchestrator.pre_read_timeout", o.PreReadTimeout},
		{"orchestrator.generation_timeout", o.GenerationTimeout},
		{"orchestrator.llm_timeout", o.LLMTimeout},
		{"orchestrator.tool_timeout", o.ToolTimeout},
	}
	for _, d := range durations {
		if d.d <= 0 {
			errs = append(errs, invalid("%s must be greater than 0, got %s", d.key, d.d))
		}
	}

	if o.PreReadTimeout > 0 && o.GenerationTimeout > 0 && o.PreReadTimeout >= o.GenerationTimeout {
		errs = append(errs, invalid("orchestrator.pre_read_timeout (%s) must be shorter than orchestrator.generation_timeout (%s)",
			o.PreReadTimeout, o.GenerationTimeout))
	}

	limits := []struct {
		key string
		n   int
	}{
		{"orchestrator.snapshot_max_chars", o.SnapshotMaxChars},
		{"orchestrator.result_max_chars", o.ResultMaxChars},
		{"orchestrator.context_limit", o.ContextLimit},
	}
	for _, l := range limits {
		if l.n <= 0 {
			errs = append(errs, invalid("%s must be greater than 0, got %d", l.key, l.n))
		}
	}

	return errs
}

func (c *Config) validateMCP() []error {
	var errs []error

	if c.MCP.EndpointPath != "" && !strings.HasPrefix(c.MCP.EndpointPath, "/") {
		errs = append(errs, invalid("mcp.endpoint_path must start with \"/\", got %q", c.MCP.EndpointPath))
	}
	if c.MCP.Timeout <= 0 {
		errs = append(errs, invalid("mcp.timeout must be greater than 0, got %s", c.MCP.Timeout))
	}

	return errs
}
