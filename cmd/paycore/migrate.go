package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"paycore/internal/common/database"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back the database schema",
	}
	cmd.AddCommand(migrateDirectionCmd(database.MigrateUp, "Apply all pending migrations"))
	cmd.AddCommand(migrateDirectionCmd(database.MigrateDown, "Roll back all migrations"))
	return cmd
}

func migrateDirectionCmd(direction database.MigrateDirection, short string) *cobra.Command {
	return &cobra.Command{
		Use:   string(direction),
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if !cfg.Database.Enabled() {
				return fmt.Errorf("DATABASE_URL is required")
			}
			logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
			return database.Migrate(cfg.Database, direction, logger)
		},
	}
}
