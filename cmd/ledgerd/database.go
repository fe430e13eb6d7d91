package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/MarkoPoloResearchLab/coinledger/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/coinledger/internal/store/migrations"
	"github.com/MarkoPoloResearchLab/coinledger/internal/store/pgstore"
	"github.com/MarkoPoloResearchLab/coinledger/pkg/ledger"
	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	backendGorm    = "gorm"
	backendPGX     = "pgx"
	driverPostgres = "postgres"
	driverSQLite   = "sqlite"
)

// notificationStore persists and lists notifications; both stores satisfy it.
type notificationStore interface {
	InsertNotification(ctx context.Context, notification ledger.Notification) error
	ListNotifications(ctx context.Context, userID ledger.UserID, limit int) ([]ledger.Notification, error)
}

type storageBackend struct {
	store         ledger.Store
	notifications notificationStore
	close         func()
}

func openBackend(ctx context.Context, backend string, dsn string) (*storageBackend, error) {
	switch backend {
	case backendGorm:
		return openGormBackend(ctx, dsn)
	case backendPGX:
		return openPGXBackend(ctx, dsn)
	default:
		return nil, fmt.Errorf("unsupported store backend %q", backend)
	}
}

func openGormBackend(ctx context.Context, dsn string) (*storageBackend, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, err
	}
	var db *gorm.DB
	switch driver {
	case driverPostgres:
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	case driverSQLite:
		db, err = gorm.Open(sqlite.Open(sqlitePath), &gorm.Config{})
	}
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if err := prepareSchema(ctx, db, driver); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	store := gormstore.New(db)
	return &storageBackend{
		store:         store,
		notifications: store,
		close:         func() { _ = sqlDB.Close() },
	}, nil
}

func openPGXBackend(ctx context.Context, dsn string) (*storageBackend, error) {
	driver, _, err := resolveDriver(dsn)
	if err != nil {
		return nil, err
	}
	if driver != driverPostgres {
		return nil, fmt.Errorf("pgx backend requires a postgres url")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	migrationDB := stdlib.OpenDBFromPool(pool)
	migrateErr := migrations.Up(ctx, migrationDB)
	_ = migrationDB.Close()
	if migrateErr != nil {
		pool.Close()
		return nil, migrateErr
	}
	store := pgstore.New(pool)
	return &storageBackend{
		store:         store,
		notifications: store,
		close:         pool.Close,
	}, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return driverPostgres, "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := u.Path
		if path == "" {
			path = u.Host
		}
		if path == "" || path == "/" {
			path = "coinledger.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return driverSQLite, sqlitePath, err
	}
	// Anything else is a plain sqlite path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return driverSQLite, sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}

// prepareSchema auto-migrates sqlite and applies the embedded goose migrations on postgres.
func prepareSchema(ctx context.Context, db *gorm.DB, driver string) error {
	if driver == driverSQLite {
		if err := db.AutoMigrate(gormstore.Models()...); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	if err := migrations.Up(ctx, sqlDB); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
