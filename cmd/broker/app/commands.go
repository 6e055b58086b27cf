// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package app provides the command-line interface of the authorization broker.
package app

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stacklok/tableau-broker/pkg/logger"
)

// NewRootCmd creates the root command and its subcommands. Each call returns
// an independent command tree with its own viper instance.
func NewRootCmd() *cobra.Command {
	v := viper.New()

	rootCmd := &cobra.Command{
		Use:               "tableau-broker",
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		Short:             "OAuth 2.1 authorization broker for the Tableau MCP server",
		Long: `tableau-broker issues bearer credentials to MCP clients after the user
authenticates at an upstream enterprise identity provider. The credentials
carry the upstream tokens the Tableau MCP server needs to call Tableau on the
user's behalf.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			if err := logger.Initialize(logger.Options{
				Debug:  v.GetBool("debug"),
				Format: v.GetString("log_format"),
			}); err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.Bool("debug", false, "Enable debug logging")
	flags.String("log-format", "", "Log format: text or json (defaults to UNSTRUCTURED_LOGS)")
	flags.String("config", "", "Path to the YAML configuration file")
	mustBindPFlag(v, "debug", flags.Lookup("debug"))
	mustBindPFlag(v, "log_format", flags.Lookup("log-format"))
	mustBindPFlag(v, "config", flags.Lookup("config"))

	rootCmd.AddCommand(
		newServeCmd(v),
		newValidateCmd(v),
		newVersionCmd(),
	)

	return rootCmd
}
