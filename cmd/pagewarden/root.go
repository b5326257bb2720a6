// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pagewarden Contributors

package main

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/sigil-dev/pagewarden/internal/config"
	"github.com/sigil-dev/pagewarden/internal/secrets"
	pwerr "github.com/sigil-dev/pagewarden/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// cli carries state shared by every subcommand of one root command.
type cli struct {
	v *viper.Viper
	// cfgFile is the config file actually read, "" when running on defaults.
	cfgFile string
}

// NewRootCmd creates the root pagewarden command with all subcommands registered.
func NewRootCmd() *cobra.Command {
	c := &cli{v: viper.New()}

	root := &cobra.Command{
		Use:           "pagewarden",
		Short:         "Pagewarden: permission-gated LLM tool calling for web pages",
		Long:          "Pagewarden runs LLM tool-calling tasks against browser pages, asking before anything reads, acts on or sends page data.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.initViper(cmd)
		},
	}

	root.PersistentFlags().StringP("config", "c", "", "path to config file")
	root.PersistentFlags().String("data-dir", "", "path to data directory")
	root.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	root.AddCommand(
		c.newServeCmd(),
		c.newAskCmd(),
		c.newMCPCmd(),
		c.newSecretCmd(),
		c.newInitCmd(),
		c.newStatusCmd(),
		newVersionCmd(),
	)

	return root
}

// initViper sets up defaults, env bindings, flag bindings and the optional
// config file so the standard precedence (flag > env > file > defaults)
// holds for every subcommand.
func (c *cli) initViper(cmd *cobra.Command) error {
	v := c.v

	config.SetDefaults(v)
	config.SetupEnv(v)

	if cfgFile, _ := cmd.Flags().GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return pwerr.Errorf(pwerr.CodeConfigLoadReadFailure, "reading config file: %w", err)
		}
		c.cfgFile = cfgFile
	} else {
		// SetConfigType is omitted on purpose: with it, Viper also tries the
		// bare name, which collides with a ./pagewarden binary.
		v.SetConfigName("pagewarden")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/pagewarden")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return pwerr.Errorf(pwerr.CodeConfigLoadReadFailure, "reading config: %w", err)
			}
		} else {
			c.cfgFile = v.ConfigFileUsed()
		}
	}

	if err := v.BindPFlag("data_dir", cmd.Root().PersistentFlags().Lookup("data-dir")); err != nil {
		return pwerr.Errorf(pwerr.CodeCLISetupFailure, "binding data-dir flag: %w", err)
	}
	if err := v.BindPFlag("verbose", cmd.Root().PersistentFlags().Lookup("verbose")); err != nil {
		return pwerr.Errorf(pwerr.CodeCLISetupFailure, "binding verbose flag: %w", err)
	}

	if v.GetBool("verbose") {
		slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	return nil
}

// loadConfig resolves keyring references and decodes the validated config.
func (c *cli) loadConfig() (*config.Config, error) {
	config.WarnInsecurePermissions(c.cfgFile)

	if err := secrets.ResolveViperSecrets(c.v, secretStoreFactory()); err != nil {
		return nil, err
	}
	return config.FromViper(c.v)
}

// dataDir returns the configured data directory, defaulting to
// ~/.local/share/pagewarden.
func (c *cli) dataDir(cfg *config.Config) (string, error) {
	if cfg.DataDir != "" {
		return cfg.DataDir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", pwerr.Errorf(pwerr.CodeCLISetupFailure, "resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "pagewarden"), nil
}
