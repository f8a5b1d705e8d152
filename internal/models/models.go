/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"path"
	"strings"
	"time"
)

// Schedule pins a track to an absolute time window. The zero value means
// the track is unscheduled and belongs to rotation.
type Schedule struct {
	Start time.Time
	End   time.Time
}

// IsAppointment reports whether the schedule carries a fixed window.
func (s Schedule) IsAppointment() bool {
	return !s.Start.IsZero() || !s.End.IsZero()
}

// Duration returns the length of the appointment window.
func (s Schedule) Duration() time.Duration {
	if !s.IsAppointment() {
		return 0
	}
	return s.End.Sub(s.Start)
}

// Contains reports whether t falls inside [Start, End).
func (s Schedule) Contains(t time.Time) bool {
	return s.IsAppointment() && !t.Before(s.Start) && t.Before(s.End)
}

// Overlaps reports whether two appointment windows intersect.
func (s Schedule) Overlaps(o Schedule) bool {
	if !s.IsAppointment() || !o.IsAppointment() {
		return false
	}
	return s.Start.Before(o.End) && o.Start.Before(s.End)
}

// Track is one playable item. Tracks are values: a catalog refresh replaces
// them wholesale and nothing mutates a loaded track.
type Track struct {
	ID              string
	Locator         string
	Artist          string
	Title           string
	DurationSeconds float64
	Schedule        Schedule
}

// DisplayName returns the listener-facing "Artist - Title" label.
func (t Track) DisplayName() string {
	artist := strings.TrimSpace(t.Artist)
	title := strings.TrimSpace(t.Title)
	switch {
	case artist != "" && title != "":
		return artist + " - " + title
	case title != "":
		return title
	case artist != "":
		return artist
	}
	base := path.Base(t.Locator)
	if base == "." || base == "/" {
		return t.ID
	}
	return strings.TrimSuffix(base, path.Ext(base))
}

// Duration returns the track length as a time.Duration.
func (t Track) Duration() time.Duration {
	return time.Duration(t.DurationSeconds * float64(time.Second))
}

// IsAppointment reports whether the track has a fixed start time.
func (t Track) IsAppointment() bool {
	return t.Schedule.IsAppointment()
}

// TrackRecord is the persisted catalog row.
type TrackRecord struct {
	ID          string     `gorm:"size:36;primaryKey"`
	FilePath    string     `gorm:"not null"`
	TrackName   string     `gorm:"index"`
	ArtistName  string     `gorm:"index"`
	Duration    float64    // seconds
	TrackStarts *time.Time `gorm:"index"`
	TrackEnds   *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TableName pins the table name used by the catalog.
func (TrackRecord) TableName() string {
	return "tracks"
}

// ToTrack converts a persisted row into a catalog track.
func (r TrackRecord) ToTrack() Track {
	t := Track{
		ID:              r.ID,
		Locator:         r.FilePath,
		Artist:          r.ArtistName,
		Title:           r.TrackName,
		DurationSeconds: r.Duration,
	}
	if r.TrackStarts != nil || r.TrackEnds != nil {
		if r.TrackStarts != nil {
			t.Schedule.Start = r.TrackStarts.UTC()
		}
		if r.TrackEnds != nil {
			t.Schedule.End = r.TrackEnds.UTC()
		}
	}
	return t
}

// NewTrackRecord converts a track into a row for persistence.
func NewTrackRecord(t Track) TrackRecord {
	r := TrackRecord{
		ID:         t.ID,
		FilePath:   t.Locator,
		TrackName:  t.Title,
		ArtistName: t.Artist,
		Duration:   t.DurationSeconds,
	}
	if !t.Schedule.Start.IsZero() {
		start := t.Schedule.Start.UTC()
		r.TrackStarts = &start
	}
	if !t.Schedule.End.IsZero() {
		end := t.Schedule.End.UTC()
		r.TrackEnds = &end
	}
	return r
}

// NowPlaying is the notification payload emitted on every track start.
type NowPlaying struct {
	ID              string    `json:"id"`
	DisplayName     string    `json:"display_name"`
	DurationSeconds float64   `json:"duration_seconds"`
	Scheduled       bool      `json:"scheduled"`
	StartedAt       time.Time `json:"started_at"`
}

// NewNowPlaying builds the notification for a track starting at startedAt.
func NewNowPlaying(t Track, startedAt time.Time) NowPlaying {
	return NowPlaying{
		ID:              t.ID,
		DisplayName:     t.DisplayName(),
		DurationSeconds: t.DurationSeconds,
		Scheduled:       t.IsAppointment(),
		StartedAt:       startedAt,
	}
}
