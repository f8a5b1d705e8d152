/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"fmt"
	"strings"
	"time"

	"github.com/friendsincode/sxnics_radio/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Connect establishes a gorm DB connection for the configured backend.
func Connect(cfg *config.Config) (*gorm.DB, error) {
	return Open(cfg.DBBackend, cfg.DBDSN, cfg.Environment == "development")
}

// Open connects to backend/dsn directly. Verbose enables gorm's SQL log.
func Open(backend config.DatabaseBackend, dsn string, verbose bool) (*gorm.DB, error) {
	var dialector gorm.Dialector

	switch backend {
	case config.DatabasePostgres:
		dialector = postgres.Open(dsn)
	case config.DatabaseMySQL:
		dialector = mysql.Open(dsn)
	case config.DatabaseSQLite:
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unknown database backend: %s", backend)
	}

	mode := logger.Warn
	if verbose {
		mode = logger.Info
	}
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(mode),
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	// The catalog is read by one refresher; a small pool is plenty.
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetMaxOpenConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	if backend == config.DatabaseSQLite && strings.Contains(dsn, ":memory:") {
		// Every sqlite connection gets its own in-memory database.
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetConnMaxLifetime(0)
	}

	if err := RegisterCallbacks(db); err != nil {
		return nil, fmt.Errorf("register db callbacks: %w", err)
	}

	return db, nil
}

// Close releases database resources.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
