// Package migrations carries the postgres schema shared by gormstore and pgstore.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"

	"github.com/pressly/goose/v3"
)

const (
	dialectPostgres = "postgres"
	migrationsDir   = "sql"
)

//go:embed sql/*.sql
var embedded embed.FS

// Up applies every pending migration.
func Up(ctx context.Context, db *sql.DB) error {
	if err := configure(); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db, migrationsDir); err != nil {
		return fmt.Errorf("migrations: up: %w", err)
	}
	return nil
}

// Status logs the applied state of each migration.
func Status(ctx context.Context, db *sql.DB) error {
	if err := configure(); err != nil {
		return err
	}
	if err := goose.StatusContext(ctx, db, migrationsDir); err != nil {
		return fmt.Errorf("migrations: status: %w", err)
	}
	return nil
}

// Files lists the embedded migration file names in apply order.
func Files() ([]string, error) {
	entries, err := fs.ReadDir(embedded, migrationsDir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func configure() error {
	goose.SetBaseFS(embedded)
	if err := goose.SetDialect(dialectPostgres); err != nil {
		return fmt.Errorf("migrations: dialect: %w", err)
	}
	return nil
}
