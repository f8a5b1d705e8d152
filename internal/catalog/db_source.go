/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package catalog

import (
	"context"
	"fmt"

	"github.com/friendsincode/sxnics_radio/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DBSource reads the catalog from the tracks table.
type DBSource struct {
	db *gorm.DB
}

// NewDBSource wraps a gorm connection.
func NewDBSource(db *gorm.DB) *DBSource {
	return &DBSource{db: db}
}

// ListTracks returns every row in insertion order.
func (s *DBSource) ListTracks(ctx context.Context) ([]models.Track, error) {
	var rows []models.TrackRecord
	if err := s.db.WithContext(ctx).Order("created_at ASC").Order("id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list tracks: %w", err)
	}
	tracks := make([]models.Track, 0, len(rows))
	for _, row := range rows {
		tracks = append(tracks, row.ToTrack())
	}
	return tracks, nil
}

// Import upserts tracks by id. Tracks without an id get a fresh uuid.
func (s *DBSource) Import(ctx context.Context, tracks []models.Track) (int, error) {
	if len(tracks) == 0 {
		return 0, nil
	}
	rows := make([]models.TrackRecord, 0, len(tracks))
	for _, t := range tracks {
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		rows = append(rows, models.NewTrackRecord(t))
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"file_path", "track_name", "artist_name", "duration", "track_starts", "track_ends", "updated_at"}),
		}).Create(&rows).Error
	})
	if err != nil {
		return 0, fmt.Errorf("import tracks: %w", err)
	}
	return len(rows), nil
}
