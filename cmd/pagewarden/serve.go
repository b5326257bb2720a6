// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pagewarden Contributors

package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/sigil-dev/pagewarden/internal/config"
	"github.com/sigil-dev/pagewarden/internal/security"
	"github.com/sigil-dev/pagewarden/internal/server"
	pwerr "github.com/sigil-dev/pagewarden/pkg/errors"
	"github.com/spf13/cobra"
)

func (c *cli) newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the pagewarden API server",
		Long: `Load configuration, connect the browser and LLM backend, and serve the HTTP API.

Permission requests are answered over the API: list them at
GET /api/v1/decisions, follow them at GET /api/v1/decisions/stream and
answer with POST /api/v1/decisions/{id}.`,
		RunE: c.runServe,
	}

	cmd.Flags().String("listen", "", "override listen address (host:port)")

	return cmd
}

func (c *cli) runServe(cmd *cobra.Command, _ []string) error {
	if f := cmd.Flags().Lookup("listen"); f != nil && f.Changed {
		c.v.Set("networking.listen", f.Value.String())
	}

	if c.cfgFile == "" {
		if path := config.BootstrapConfig(); path != "" {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "No config found; wrote defaults to %s\n", path)
		}
	}

	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	dataDir, err := c.dataDir(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := server.NewHub()
	broker := security.NewDecisionBroker(hub.PublishDecision)
	defer broker.Close()

	app, err := WireApp(ctx, cfg, dataDir, broker)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			slog.Warn("closing app", "error", err)
		}
	}()

	srv, err := newAPIServer(cfg, app, broker, hub)
	if err != nil {
		return err
	}

	if cfg.Networking.APIToken == "" {
		slog.Warn("api token not set: every local process can submit tasks and answer permission requests")
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "pagewarden listening on %s (backend %s, %s)\n",
		cfg.Networking.Listen, app.Gateway.BackendName(), app.Gateway.Location())

	return srv.Start(ctx)
}

// newAPIServer builds the HTTP server over the wired app.
func newAPIServer(cfg *config.Config, app *App, broker *security.DecisionBroker, hub *server.Hub) (*server.Server, error) {
	srv, err := server.New(server.Config{
		ListenAddr:  cfg.Networking.Listen,
		CORSOrigins: cfg.Networking.CORSOrigins,
		APIToken:    cfg.Networking.APIToken,
	})
	if err != nil {
		return nil, pwerr.Wrapf(err, pwerr.CodeCLISetupFailure, "creating server")
	}

	err = srv.RegisterServices(&server.Services{
		Tasks:     app.Loop,
		Runner:    app.Runner,
		Decisions: broker,
		Grants:    app.Guard,
		Session:   app.Ledger,
		MCP:       app.MCP,
		Backend:   app.Gateway,
		Pages:     app.Host,
		Hub:       hub,
	})
	if err != nil {
		return nil, pwerr.Wrapf(err, pwerr.CodeCLISetupFailure, "registering services")
	}
	return srv, nil
}
