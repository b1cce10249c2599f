package main

import (
	"github.com/spf13/cobra"

	"skillhub/backend/internal/repository"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}

		pool, err := initDatabase(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer pool.Close()

		mm := repository.NewMigrationManager(pool, logger)
		if err := mm.RunMigrations(ctx); err != nil {
			return err
		}
		v, err := mm.CurrentVersion(ctx)
		if err != nil {
			return err
		}
		logger.Info("Database schema up to date", "version", v)
		return nil
	},
}
