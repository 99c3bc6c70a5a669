package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"percolator/api/internal/logging"
	"percolator/api/internal/store"
)

func runMigrateUp(cmd *cobra.Command, args []string) error {
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	db, err := store.Open(cmd.Context(), cfg.DatabaseURL, store.DefaultPoolOptions())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	n, err := store.ApplyMigrations(cmd.Context(), db, cfg.MigrationsDir, logger)
	if err != nil {
		return err
	}
	logger.Info().Int("applied", n).Msg("migrations up to date")
	return nil
}

func runMigrateDown(cmd *cobra.Command, args []string) error {
	if rollbackSteps < 1 {
		return fmt.Errorf("--steps must be at least 1")
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	db, err := store.Open(cmd.Context(), cfg.DatabaseURL, store.DefaultPoolOptions())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	n, err := store.RollbackMigrations(cmd.Context(), db, cfg.MigrationsDir, rollbackSteps, logger)
	if err != nil {
		return err
	}
	logger.Info().Int("rolled_back", n).Msg("migrations rolled back")
	return nil
}
