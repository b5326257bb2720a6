// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pagewarden Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/sigil-dev/pagewarden/internal/agent"
	"github.com/sigil-dev/pagewarden/internal/config"
	"github.com/sigil-dev/pagewarden/internal/host/browser"
	"github.com/sigil-dev/pagewarden/internal/ledger"
	"github.com/sigil-dev/pagewarden/internal/mcp"
	"github.com/sigil-dev/pagewarden/internal/provider"
	anthropicprov "github.com/sigil-dev/pagewarden/internal/provider/anthropic"
	googleprov "github.com/sigil-dev/pagewarden/internal/provider/google"
	openaiprov "github.com/sigil-dev/pagewarden/internal/provider/openai"
	"github.com/sigil-dev/pagewarden/internal/security"
	"github.com/sigil-dev/pagewarden/internal/security/scanner"
	"github.com/sigil-dev/pagewarden/internal/store"
	_ "github.com/sigil-dev/pagewarden/internal/store/sqlite" // register sqlite backend
	"github.com/sigil-dev/pagewarden/internal/tools"
	pwerr "github.com/sigil-dev/pagewarden/pkg/errors"
)

// Host is the browser side of the app: tool commands plus tab lifecycle.
type Host interface {
	tools.HostExecutor
	Open(ctx context.Context, url string) (string, error)
	Shutdown() error
}

// TabHooks hears about tab lifecycle. *security.Guard implements it.
type TabHooks interface {
	OnNavigate(ctx context.Context, handle string)
	OnTeardown(ctx context.Context, handle string)
}

// hostFactory connects the browser and reports navigations and closed tabs
// to hooks. Declared as a variable so tests can inject a fake host.
var hostFactory = func(ctx context.Context, cfg *config.Config, hooks TabHooks) (Host, error) {
	e, err := browser.Connect(ctx, cfg.Host.CDPURL,
		browser.WithLoadTimeout(cfg.Host.LoadTimeout),
		browser.WithTeardownHook(hooks.OnTeardown),
		browser.WithNavigateHook(hooks.OnNavigate),
	)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// providerFactory builds a provider.Provider from a ProviderConfig.
type providerFactory func(name string, pc config.ProviderConfig) (provider.Provider, error)

// providerFactories maps provider types to their constructors. Declared as
// a variable so tests can inject scripted backends.
var providerFactories = map[string]providerFactory{
	config.ProviderTypeOpenAI: func(name string, pc config.ProviderConfig) (provider.Provider, error) {
		return openaiprov.New(openaiprov.Config{Name: name, APIKey: pc.APIKey, BaseURL: pc.Endpoint})
	},
	config.ProviderTypeOllama: func(name string, pc config.ProviderConfig) (provider.Provider, error) {
		return openaiprov.New(openaiprov.Config{Name: name, APIKey: pc.APIKey, BaseURL: pc.Endpoint, Local: true})
	},
	config.ProviderTypeAnthropic: func(_ string, pc config.ProviderConfig) (provider.Provider, error) {
		return anthropicprov.New(anthropicprov.Config{APIKey: pc.APIKey, BaseURL: pc.Endpoint})
	},
	config.ProviderTypeGoogle: func(_ string, pc config.ProviderConfig) (provider.Provider, error) {
		return googleprov.New(googleprov.Config{APIKey: pc.APIKey, BaseURL: pc.Endpoint})
	},
}

// App holds every wired subsystem and manages their lifecycle.
type App struct {
	Store   store.DocumentStore
	Gateway *provider.Gateway
	Ledger  *ledger.Ledger
	Guard   *security.Guard
	MCP     *mcp.Registry
	Host    Host
	Loop    *agent.Loop
	Runner  *agent.Runner
}

// WireApp creates all subsystems and wires them together. surface answers
// permission requests; the caller owns it. dataDir is the root directory for
// all persistent state.
func WireApp(ctx context.Context, cfg *config.Config, dataDir string, surface security.DecisionSurface) (_ *App, err error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, pwerr.Errorf(pwerr.CodeCLISetupFailure, "creating data directory: %w", err)
	}

	app := &App{}
	defer func() {
		if err != nil {
			_ = app.Close()
		}
	}()

	// 1. Document store (session, grants, MCP servers).
	app.Store, err = store.Open(cfg.Storage.Backend, dataDir)
	if err != nil {
		return nil, pwerr.Wrapf(err, pwerr.CodeCLISetupFailure, "opening %s store", cfg.Storage.Backend)
	}

	// 2. LLM gateway over the default backend.
	app.Gateway, err = newGateway(cfg)
	if err != nil {
		return nil, err
	}

	// 3. Ledger and permission guard.
	app.Ledger = ledger.New(cfg.Orchestrator.ContextLimit, scanner.NewDefault())
	gw := app.Gateway
	app.Guard = security.NewGuard(surface,
		security.WithStore(app.Store),
		security.WithRecorder(app.Ledger),
		security.WithLocalBackend(func() bool { return gw.Location() == provider.LocationLocal }),
	)
	if err := app.Guard.Load(ctx); err != nil {
		slog.Warn("discarding stored grants", "error", err)
	}

	// 4. Remote tool servers.
	app.MCP = mcp.NewRegistry(app.Store, mcp.WithClientFactory(mcp.HTTPClientFactory(cfg.MCP.Timeout, cfg.MCP.EndpointPath)))
	if err := app.MCP.Load(ctx); err != nil {
		slog.Warn("loading mcp servers", "error", err)
	}

	// 5. Browser host.
	app.Host, err = hostFactory(ctx, cfg, app.Guard)
	if err != nil {
		return nil, err
	}

	// 6. Tool dispatcher and orchestration loop.
	dispatcher, err := tools.NewDispatcher(tools.NewRegistry(app.MCP), app.Host, app.Guard,
		tools.WithToolTimeout(cfg.Orchestrator.ToolTimeout),
		tools.WithReadLimit(cfg.Orchestrator.SnapshotMaxChars),
	)
	if err != nil {
		return nil, pwerr.Wrapf(err, pwerr.CodeCLISetupFailure, "creating tool dispatcher")
	}

	o := cfg.Orchestrator
	app.Loop, err = agent.NewLoop(agent.LoopConfig{
		Gateway:           app.Gateway,
		Dispatcher:        dispatcher,
		Ledger:            app.Ledger,
		Guard:             app.Guard,
		Store:             app.Store,
		MaxIterations:     o.MaxIterations,
		PreReadTimeout:    o.PreReadTimeout,
		GenerationTimeout: o.GenerationTimeout,
		SnapshotMaxChars:  o.SnapshotMaxChars,
		ResultMaxChars:    o.ResultMaxChars,
	})
	if err != nil {
		return nil, pwerr.Wrapf(err, pwerr.CodeCLISetupFailure, "creating orchestration loop")
	}
	if restored, err := app.Loop.RestoreSession(ctx); err != nil {
		slog.Warn("starting a fresh session", "error", err)
	} else if restored {
		slog.Info("restored session", "session_id", app.Ledger.SessionID())
	}

	app.Runner = agent.NewRunner(nil)
	return app, nil
}

// newGateway builds the gateway for backend.default.
func newGateway(cfg *config.Config) (*provider.Gateway, error) {
	name, pc, ok := cfg.DefaultProvider()
	if !ok {
		return nil, pwerr.Errorf(pwerr.CodeCLISetupFailure, "backend %q is not configured", name)
	}
	factory, ok := providerFactories[pc.Type]
	if !ok {
		return nil, pwerr.Errorf(pwerr.CodeCLISetupFailure, "unknown provider type %q", pc.Type)
	}
	p, err := factory(name, pc)
	if err != nil {
		return nil, pwerr.Wrapf(err, pwerr.CodeCLISetupFailure, "creating provider %s", name)
	}

	gw, err := provider.NewGateway(provider.Backend{
		Name:        name,
		Provider:    p,
		Model:       pc.Model,
		Location:    provider.Location(pc.ResolvedLocation()),
		NativeTools: pc.SupportsNativeTools(),
		MaxTokens:   pc.MaxTokens,
	}, provider.WithTimeout(cfg.Orchestrator.LLMTimeout))
	if err != nil {
		_ = p.Close()
		return nil, err
	}
	slog.Info("llm backend ready", "backend", name, "model", pc.Model, "location", pc.ResolvedLocation())
	return gw, nil
}

// Close releases all resources held by the app.
func (a *App) Close() error {
	var errs []error
	if a.Host != nil {
		errs = append(errs, a.Host.Shutdown())
	}
	if a.Gateway != nil {
		errs = append(errs, a.Gateway.Close())
	}
	if a.MCP != nil {
		errs = append(errs, a.MCP.Close())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	return errors.Join(errs...)
}
