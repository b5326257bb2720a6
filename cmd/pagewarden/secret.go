// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pagewarden Contributors

package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/sigil-dev/pagewarden/internal/secrets"
	pwerr "github.com/sigil-dev/pagewarden/pkg/errors"
	"github.com/spf13/cobra"
)

// secretStoreFactory creates a secrets.Store. It is a package-level variable
// so tests can substitute an in-memory implementation.
var secretStoreFactory = func() secrets.Store {
	return secrets.NewKeyringStore()
}

func (c *cli) newSecretCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage secrets stored in the OS keyring",
		Long: `Store and delete secrets under the pagewarden service in the operating
system keyring. Reference a stored secret from the config file as
keyring://pagewarden/<name>.`,
	}

	set := &cobra.Command{
		Use:   "set <name>",
		Short: "Store a secret read from stdin",
		Args:  cobra.ExactArgs(1),
		RunE:  runSecretSet,
	}
	del := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a secret by name",
		Args:  cobra.ExactArgs(1),
		RunE:  runSecretDelete,
	}

	cmd.AddCommand(set, del)
	return cmd
}

func runSecretSet(cmd *cobra.Command, args []string) error {
	name := args[0]

	_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Value for %s: ", name)
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	value := strings.TrimSpace(line)
	if value == "" {
		if err != nil {
			return pwerr.Errorf(pwerr.CodeCLIInputInvalid, "reading secret value: %w", err)
		}
		return pwerr.New(pwerr.CodeCLIInputInvalid, "secret value must not be empty")
	}

	if err := secretStoreFactory().Store(secrets.DefaultService, name, value); err != nil {
		return pwerr.Wrapf(err, pwerr.CodeSecretStoreFailure, "storing secret %q", name)
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Stored secret %s. Reference it as %s\n", name, secrets.URI(name))
	return nil
}

func runSecretDelete(cmd *cobra.Command, args []string) error {
	name := args[0]

	if err := secretStoreFactory().Delete(secrets.DefaultService, name); err != nil {
		if pwerr.HasCode(err, pwerr.CodeSecretNotFound) {
			return pwerr.Errorf(pwerr.CodeSecretNotFound, "secret %q not found", name)
		}
		return pwerr.Wrapf(err, pwerr.CodeSecretDeleteFailure, "deleting secret %q", name)
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Deleted secret: %s\n", name)
	return nil
}
