package main

import (
	"github.com/spf13/cobra"

	"github.com/carecircle/carecircle/internal/xdg"
)

// Global flags available to all subcommands.
var configFile string

// resolveConfigFile returns the --config flag value, falling back to the
// XDG config location when the flag is unset and a file exists there.
func resolveConfigFile() string {
	if configFile != "" {
		return configFile
	}
	return xdg.DefaultConfigFile()
}

// NewRootCmd creates the root command for the CareCircle CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "carecircle",
		Short: "CareCircle - credential and session management service",
		Long: `CareCircle manages accounts, credentials, sessions, and external
identity-provider logins for the CareCircle platform.`,
	}

	// Global flag for config file path
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	// Add subcommands
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewSweepCmd())
	cmd.AddCommand(NewCheckConfigCmd())

	return cmd
}
