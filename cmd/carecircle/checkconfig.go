// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CareCircle Contributors

package main

import (
	"github.com/spf13/cobra"
)

// NewCheckConfigCmd creates the check-config subcommand.
func NewCheckConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Load and validate the configuration",
		Long:  `Load the configuration, run validation, and print the effective values with secrets redacted.`,
		RunE:  runCheckConfig,
	}
}

func runCheckConfig(cmd *cobra.Command, _ []string) error {
	cfg, err := LoadConfig(resolveConfigFile(), cmd.Flags())
	if err != nil {
		return err
	}

	cmd.Printf("mode: %s\n", cfg.Mode)
	cmd.Printf("log: format=%s level=%s\n", cfg.Log.Format, cfg.Log.Level)
	cmd.Printf("database.url: %s\n", redact(cfg.Database.URL))
	cmd.Printf("observability.addr: %s\n", cfg.Observability.Addr)
	cmd.Printf("auth: bcrypt_cost=%d lockout_threshold=%d lockout_duration=%s\n",
		cfg.Auth.BcryptCost, cfg.Auth.LockoutThreshold, cfg.Auth.LockoutDuration)
	cmd.Printf("auth: access_token_ttl=%s refresh_token_ttl=%s state_ttl=%s\n",
		cfg.Auth.AccessTokenTTL, cfg.Auth.RefreshTokenTTL, cfg.Auth.StateTTL)
	cmd.Printf("auth.dev_bypass: enabled=%v\n", cfg.Auth.DevBypass.Enabled)
	for _, p := range cfg.Providers {
		cmd.Printf("provider %s: client_id=%s client_secret=%s redirect_url=%s\n",
			p.Name, p.ClientID, redact(p.ClientSecret), p.RedirectURL)
	}
	cmd.Printf("sweep.interval: %s\n", cfg.Sweep.Interval)
	cmd.Println("configuration is valid")
	return nil
}

// redact hides a secret value while showing whether it is set.
func redact(s string) string {
	if s == "" {
		return "(unset)"
	}
	return "(redacted)"
}
