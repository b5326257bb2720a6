// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pagewarden Contributors

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sigil-dev/pagewarden/internal/agent"
	"github.com/sigil-dev/pagewarden/internal/ledger"
	"github.com/sigil-dev/pagewarden/internal/mcp"
	"github.com/sigil-dev/pagewarden/internal/security"
	"github.com/sigil-dev/pagewarden/internal/security/scanner"
	"github.com/sigil-dev/pagewarden/internal/server"
	"github.com/sigil-dev/pagewarden/internal/store"
	pwerr "github.com/sigil-dev/pagewarden/pkg/errors"
)

func main() {
	spec, err := generateSpec()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	outPath := "api/openapi/spec.json"
	if len(os.Args) > 1 {
		outPath = os.Args[1]
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "error creating output dir: %v\n", err)
		os.Exit(1)
	}

	if err := os.WriteFile(outPath, spec, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "error writing spec: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("OpenAPI spec written to %s\n", outPath)
}

// generateSpec creates a server with all routes registered and extracts the
// OpenAPI document that huma generates from the Go type annotations.
func generateSpec() ([]byte, error) {
	st, err := store.Open("memory", "")
	if err != nil {
		return nil, err
	}
	defer func() { _ = st.Close() }()

	hub := server.NewHub()
	broker := security.NewDecisionBroker(hub.PublishDecision)
	defer broker.Close()

	srv, err := server.New(server.Config{ListenAddr: "127.0.0.1:0"})
	if err != nil {
		return nil, pwerr.Errorf(pwerr.CodeCLISetupFailure, "creating server: %w", err)
	}

	// Handlers are never invoked during generation; the in-memory services
	// only have to satisfy registration.
	err = srv.RegisterServices(&server.Services{
		Tasks:     stubTasks{},
		Runner:    agent.NewRunner(nil),
		Decisions: broker,
		Grants:    security.NewGuard(broker),
		Session:   ledger.New(0, scanner.NewDefault()),
		MCP:       mcp.NewRegistry(st),
		Hub:       hub,
	})
	if err != nil {
		return nil, pwerr.Wrapf(err, pwerr.CodeCLISetupFailure, "registering services")
	}

	return json.MarshalIndent(srv.API().OpenAPI(), "", "  ")
}

type stubTasks struct{}

func (stubTasks) Run(context.Context, agent.Task) (*agent.Outcome, error)     { return nil, nil }
func (stubTasks) RunPlan(context.Context, agent.Task) (*agent.Outcome, error) { return nil, nil }
