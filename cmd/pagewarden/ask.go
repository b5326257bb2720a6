// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pagewarden Contributors

package main

import (
	"context"
	"log/slog"
	"strings"

	"github.com/sigil-dev/pagewarden/internal/agent"
	"github.com/sigil-dev/pagewarden/internal/security"
	pwerr "github.com/sigil-dev/pagewarden/pkg/errors"
	"github.com/spf13/cobra"
)

func (c *cli) newAskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask <intent>",
		Short: "Run one task against a browser page",
		Long: `Run one task in-process. Permission requests are asked on this terminal:
answer p (page), s (site), t (task) or n (no).`,
		Example: `  pagewarden ask --url https://shop.example "When are you open on Sunday?"
  pagewarden ask --plan "Compare the prices on this page with my saved list"`,
		Args: cobra.MinimumNArgs(1),
		RunE: c.runAsk,
	}

	cmd.Flags().String("url", "", "open this URL in a new tab first")
	cmd.Flags().String("handle", "", "run against an existing tab")
	cmd.Flags().Bool("plan", false, "draft a multi-step plan before executing")
	cmd.Flags().Bool("audit", true, "print the audit trail after the answer")

	return cmd
}

func (c *cli) runAsk(cmd *cobra.Command, args []string) error {
	intent := strings.TrimSpace(strings.Join(args, " "))
	if intent == "" {
		return pwerr.New(pwerr.CodeCLIInputInvalid, "intent must not be empty")
	}
	url, _ := cmd.Flags().GetString("url")
	handle, _ := cmd.Flags().GetString("handle")
	plan, _ := cmd.Flags().GetBool("plan")
	showAudit, _ := cmd.Flags().GetBool("audit")

	if url != "" && handle != "" {
		return pwerr.New(pwerr.CodeCLIInputInvalid, "--url and --handle are mutually exclusive")
	}

	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	dataDir, err := c.dataDir(cfg)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	surface := security.NewPromptSurface(cmd.InOrStdin(), cmd.ErrOrStderr())
	app, err := WireApp(ctx, cfg, dataDir, surface)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			slog.Warn("closing app", "error", err)
		}
	}()

	if url != "" {
		handle, err = app.Host.Open(ctx, url)
		if err != nil {
			return err
		}
	}

	task := agent.Task{Intent: intent, Handle: handle}
	var out *agent.Outcome
	runErr := app.Runner.Do(ctx, func(ctx context.Context) error {
		var err error
		if plan {
			out, err = app.Loop.RunPlan(ctx, task)
		} else {
			out, err = app.Loop.Run(ctx, task)
		}
		return err
	})

	w := cmd.OutOrStdout()
	renderOutcome(w, out)
	if showAudit {
		renderAudit(w, app.Ledger.Snapshot())
	}
	return runErr
}
