/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/friendsincode/sxnics_radio/internal/catalog"
	"github.com/friendsincode/sxnics_radio/internal/config"
	"github.com/friendsincode/sxnics_radio/internal/db"
)

// OpenCatalog builds the configured catalog source. The database handle is
// returned for the db backend so the caller can close it.
func OpenCatalog(cfg *config.Config) (catalog.Source, *gorm.DB, error) {
	switch cfg.CatalogBackend {
	case config.CatalogFile:
		return catalog.NewFileSource(cfg.CatalogFile), nil, nil
	case config.CatalogDB:
		database, err := db.Connect(cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("connect catalog database: %w", err)
		}
		if err := db.Migrate(database); err != nil {
			_ = db.Close(database)
			return nil, nil, fmt.Errorf("migrate catalog database: %w", err)
		}
		return catalog.NewDBSource(database), database, nil
	}
	return nil, nil, fmt.Errorf("unsupported catalog backend %q", cfg.CatalogBackend)
}

func closeDB(database *gorm.DB) error {
	return db.Close(database)
}
