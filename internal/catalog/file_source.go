/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package catalog

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/friendsincode/sxnics_radio/internal/models"
	"gopkg.in/yaml.v3"
)

// FileSource reads the catalog from a YAML (or JSON) document:
//
//	tracks:
//	  - id: intro
//	    locator: audio/intro.mp3
//	    artist: Sxnics
//	    title: Intro
//	    duration: 182.4
//	    starts: 2026-05-01T18:00:00Z   # appointments only
//	    ends: 2026-05-01T19:00:00Z
type FileSource struct {
	path string
}

// NewFileSource reads from path on every ListTracks call.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

type fileCatalog struct {
	Tracks []fileTrack `yaml:"tracks"`
}

type fileTrack struct {
	ID       string     `yaml:"id"`
	Locator  string     `yaml:"locator"`
	Artist   string     `yaml:"artist"`
	Title    string     `yaml:"title"`
	Duration float64    `yaml:"duration"`
	Starts   *time.Time `yaml:"starts"`
	Ends     *time.Time `yaml:"ends"`
}

// ListTracks parses the file. Entries without an id use their locator.
func (s *FileSource) ListTracks(ctx context.Context) ([]models.Track, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}
	return ParseFile(data)
}

// ParseFile decodes a catalog document.
func ParseFile(data []byte) ([]models.Track, error) {
	var doc fileCatalog
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse catalog file: %w", err)
	}

	tracks := make([]models.Track, 0, len(doc.Tracks))
	for _, ft := range doc.Tracks {
		t := models.Track{
			ID:              ft.ID,
			Locator:         ft.Locator,
			Artist:          ft.Artist,
			Title:           ft.Title,
			DurationSeconds: ft.Duration,
		}
		if t.ID == "" {
			t.ID = ft.Locator
		}
		if ft.Starts != nil {
			t.Schedule.Start = ft.Starts.UTC()
		}
		if ft.Ends != nil {
			t.Schedule.End = ft.Ends.UTC()
		}
		tracks = append(tracks, t)
	}
	return tracks, nil
}
