package main

import (
	"fmt"

	"github.com/MarkoPoloResearchLab/coinledger/internal/store/migrations"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"
)

const (
	migrateUp     = "up"
	migrateStatus = "status"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|status]",
		Short:     "Apply or inspect the postgres schema migrations",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{migrateUp, migrateStatus},
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := newSettings(cmd)
			if err != nil {
				return err
			}
			dsn := settings.GetString(flagDatabaseURL)
			driver, _, err := resolveDriver(dsn)
			if err != nil {
				return err
			}
			if driver != driverPostgres {
				return fmt.Errorf("migrations target postgres; sqlite schemas are auto-migrated at startup")
			}
			pool, err := pgxpool.New(cmd.Context(), dsn)
			if err != nil {
				return err
			}
			defer pool.Close()
			db := stdlib.OpenDBFromPool(pool)
			defer func() { _ = db.Close() }()

			if args[0] == migrateStatus {
				return migrations.Status(cmd.Context(), db)
			}
			return migrations.Up(cmd.Context(), db)
		},
	}
}
