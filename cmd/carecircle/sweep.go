// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CareCircle Contributors

package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/carecircle/carecircle/internal/auth"
	authpg "github.com/carecircle/carecircle/internal/auth/postgres"
	"github.com/carecircle/carecircle/internal/logging"
	"github.com/carecircle/carecircle/internal/observability"
	"github.com/carecircle/carecircle/internal/store"
	"github.com/carecircle/carecircle/pkg/errutil"
)

// NewSweepCmd creates the sweep subcommand.
func NewSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Periodically remove expired sessions",
		Long: `Run a cleanup loop that deletes sessions past their refresh expiry.
Expired sessions are already rejected at read time, so the sweep can run on
any schedule. The loop stops cleanly on SIGINT or SIGTERM.`,
		RunE: runSweep,
	}
}

func runSweep(cmd *cobra.Command, _ []string) error {
	cfg, err := LoadConfig(resolveConfigFile(), cmd.Flags())
	if err != nil {
		return err
	}
	if cfg.Database.URL == "" {
		return oops.Code("CONFIG_INVALID").Errorf("database.url is required")
	}

	logger := logging.Setup("carecircle-sweep", version, cfg.Log.Format,
		logging.ParseLevel(cfg.Log.Level), nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := store.Connect(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	obs := observability.NewServer(cfg.Observability.Addr, func() bool {
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return pool.Ping(pingCtx) == nil
	})
	obsErrCh, err := obs.Start()
	if err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = obs.Stop(stopCtx)
	}()

	manager, err := auth.NewSessionManager(authpg.NewSessionRepository(pool), logger)
	if err != nil {
		return err
	}
	metrics := obs.Metrics()

	logger.Info("sweep loop started", "interval", cfg.Sweep.Interval.String())
	ticker := time.NewTicker(cfg.Sweep.Interval)
	defer ticker.Stop()

	// Run one sweep immediately so a short-lived invocation still cleans up.
	sweepOnce(ctx, manager, metrics, logger)

	for {
		select {
		case <-ctx.Done():
			logger.Info("sweep loop stopping")
			return nil
		case err := <-obsErrCh:
			if err != nil {
				return oops.Code("OBSERVABILITY_FAILED").Wrap(err)
			}
		case <-ticker.C:
			sweepOnce(ctx, manager, metrics, logger)
		}
	}
}

func sweepOnce(ctx context.Context, manager *auth.SessionManager, metrics *observability.Metrics, logger *slog.Logger) {
	deleted, err := manager.DeleteExpired(ctx)
	if err != nil {
		if ctx.Err() == nil {
			errutil.LogError(logger, "session sweep failed", err)
		}
		return
	}
	metrics.SessionsSwept(deleted)
	if deleted > 0 {
		logger.Info("expired sessions removed", "count", deleted)
	}
}
