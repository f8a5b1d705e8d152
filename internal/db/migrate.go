/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"fmt"

	"github.com/friendsincode/sxnics_radio/internal/models"
	"gorm.io/gorm"
)

// Migrate applies database schema migrations using GORM auto-migrate.
func Migrate(database *gorm.DB) error {
	if err := database.AutoMigrate(&models.TrackRecord{}); err != nil {
		return err
	}

	if err := applyPostgresAppointmentOverlapGuard(database); err != nil {
		return err
	}

	return nil
}

// applyPostgresAppointmentOverlapGuard rejects overlapping appointment
// windows at write time. Other backends rely on catalog validation, which
// drops overlapping appointments when the view is built.
func applyPostgresAppointmentOverlapGuard(database *gorm.DB) error {
	if database.Dialector.Name() != "postgres" {
		return nil
	}

	stmt := `
CREATE OR REPLACE FUNCTION prevent_track_appointment_overlap()
RETURNS trigger
LANGUAGE plpgsql
AS $$
BEGIN
  IF NEW.track_starts IS NULL AND NEW.track_ends IS NULL THEN
    RETURN NEW;
  END IF;

  IF NEW.track_starts IS NULL OR NEW.track_ends IS NULL OR NEW.track_ends <= NEW.track_starts THEN
    RAISE EXCEPTION 'appointment end must be after start'
      USING ERRCODE = '23514';
  END IF;

  IF EXISTS (
    SELECT 1
    FROM tracks t
    WHERE t.id <> NEW.id
      AND t.track_starts IS NOT NULL
      AND t.track_ends IS NOT NULL
      AND tstzrange(t.track_starts, t.track_ends, '[)') && tstzrange(NEW.track_starts, NEW.track_ends, '[)')
  ) THEN
    RAISE EXCEPTION 'overlapping appointments are not allowed'
      USING ERRCODE = '23514';
  END IF;

  RETURN NEW;
END;
$$;

DROP TRIGGER IF EXISTS trg_prevent_track_appointment_overlap ON tracks;

CREATE TRIGGER trg_prevent_track_appointment_overlap
BEFORE INSERT OR UPDATE OF track_starts, track_ends
ON tracks
FOR EACH ROW
EXECUTE FUNCTION prevent_track_appointment_overlap();
`
	if err := database.Exec(stmt).Error; err != nil {
		return fmt.Errorf("apply postgres appointment overlap guard: %w", err)
	}
	return nil
}
