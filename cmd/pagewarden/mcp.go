// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pagewarden Contributors

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sigil-dev/pagewarden/internal/mcp"
	"github.com/sigil-dev/pagewarden/internal/store"
	pwerr "github.com/sigil-dev/pagewarden/pkg/errors"
	"github.com/spf13/cobra"
)

func (c *cli) newMCPCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Manage remote MCP tool servers",
		Long:  "Register, list and toggle the remote tool servers whose tools are offered to the model.",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "add <name> <url>",
			Short: "Register a server and discover its tools",
			Args:  cobra.ExactArgs(2),
			RunE: c.withRegistry(func(ctx context.Context, cmd *cobra.Command, reg *mcp.Registry, args []string) error {
				s, err := reg.Connect(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Added %s (%s) with %d tool(s).\n", s.Name, s.ID, len(s.Tools))
				return nil
			}),
		},
		&cobra.Command{
			Use:   "list",
			Short: "List registered servers",
			Args:  cobra.NoArgs,
			RunE: c.withRegistry(func(_ context.Context, cmd *cobra.Command, reg *mcp.Registry, _ []string) error {
				renderServers(cmd.OutOrStdout(), reg.List())
				return nil
			}),
		},
		&cobra.Command{
			Use:   "remove <id|name>",
			Short: "Remove a server",
			Args:  cobra.ExactArgs(1),
			RunE: c.withRegistry(func(ctx context.Context, cmd *cobra.Command, reg *mcp.Registry, args []string) error {
				s, err := lookupServer(reg, args[0])
				if err != nil {
					return err
				}
				if err := reg.Delete(ctx, s.ID); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Removed %s.\n", s.Name)
				return nil
			}),
		},
		c.newMCPToggleCmd("enable", true),
		c.newMCPToggleCmd("disable", false),
	)

	return cmd
}

func (c *cli) newMCPToggleCmd(use string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id|name>",
		Short: use + " a server's tools",
		Args:  cobra.ExactArgs(1),
		RunE: c.withRegistry(func(ctx context.Context, cmd *cobra.Command, reg *mcp.Registry, args []string) error {
			s, err := lookupServer(reg, args[0])
			if err != nil {
				return err
			}
			if _, err := reg.SetEnabled(ctx, s.ID, enabled); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %sd.\n", s.Name, use)
			return nil
		}),
	}
}

type registryFunc func(ctx context.Context, cmd *cobra.Command, reg *mcp.Registry, args []string) error

// withRegistry opens the document store and the server registry for one
// command and closes them afterwards.
func (c *cli) withRegistry(fn registryFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := c.loadConfig()
		if err != nil {
			return err
		}
		dataDir, err := c.dataDir(cfg)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(dataDir, 0o700); err != nil {
			return pwerr.Errorf(pwerr.CodeCLISetupFailure, "creating data directory: %w", err)
		}

		st, err := store.Open(cfg.Storage.Backend, dataDir)
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		ctx := cmd.Context()
		reg := mcp.NewRegistry(st, mcp.WithClientFactory(mcp.HTTPClientFactory(cfg.MCP.Timeout, cfg.MCP.EndpointPath)))
		if err := reg.Load(ctx); err != nil {
			return err
		}
		defer func() { _ = reg.Close() }()
		return fn(ctx, cmd, reg, args)
	}
}

// lookupServer accepts either a server id or its name.
func lookupServer(reg *mcp.Registry, ref string) (mcp.Server, error) {
	if s, err := reg.Get(ref); err == nil {
		return s, nil
	}
	for _, s := range reg.List() {
		if s.Name == ref {
			return s, nil
		}
	}
	return mcp.Server{}, pwerr.Errorf(pwerr.CodeMCPServerNotFound, "no mcp server with id or name %q", ref)
}
