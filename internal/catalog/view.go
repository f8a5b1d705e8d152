/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package catalog

import (
	"context"
	"sort"
	"time"

	"github.com/friendsincode/sxnics_radio/internal/models"
)

// Source lists the full catalog. Every call is treated as a complete
// replacement snapshot.
type Source interface {
	ListTracks(ctx context.Context) ([]models.Track, error)
}

// View is an immutable projection of the catalog. A refresh builds a new
// View; nothing mutates one after Build returns.
type View struct {
	// Appointments are sorted ascending by start and never overlap.
	Appointments []models.Track
	// Rotation keeps catalog order so gap-fill picks are reproducible.
	Rotation []models.Track
	LoadedAt time.Time

	byID map[string]models.Track
}

// Build validates tracks and assembles a view. Tracks that fail validation
// are left out and reported as issues; Build never fails outright.
func Build(tracks []models.Track, loadedAt time.Time) (*View, []Issue) {
	v := &View{
		LoadedAt: loadedAt,
		byID:     make(map[string]models.Track, len(tracks)),
	}

	var issues []Issue
	var appointments []models.Track
	for _, t := range tracks {
		if issue, ok := checkTrack(t); !ok {
			issues = append(issues, issue)
			continue
		}
		if _, dup := v.byID[t.ID]; dup {
			issues = append(issues, newIssue(t, ErrInvalidTrack, "duplicate id"))
			continue
		}
		v.byID[t.ID] = t
		if t.IsAppointment() {
			appointments = append(appointments, t)
		} else {
			v.Rotation = append(v.Rotation, t)
		}
	}

	sort.SliceStable(appointments, func(i, j int) bool {
		return appointments[i].Schedule.Start.Before(appointments[j].Schedule.Start)
	})

	// The earlier appointment wins an overlap.
	for _, t := range appointments {
		if n := len(v.Appointments); n > 0 && v.Appointments[n-1].Schedule.Overlaps(t.Schedule) {
			prev := v.Appointments[n-1]
			issues = append(issues, newIssue(t, ErrMalformedSchedule, "overlaps appointment "+prev.ID))
			delete(v.byID, t.ID)
			continue
		}
		v.Appointments = append(v.Appointments, t)
	}

	return v, issues
}

// Empty reports whether the view holds nothing playable.
func (v *View) Empty() bool {
	return v == nil || (len(v.Appointments) == 0 && len(v.Rotation) == 0)
}

// Lookup finds a track by id.
func (v *View) Lookup(id string) (models.Track, bool) {
	if v == nil {
		return models.Track{}, false
	}
	t, ok := v.byID[id]
	return t, ok
}

// HasRotation reports whether id is a rotation track in this view.
func (v *View) HasRotation(id string) bool {
	t, ok := v.Lookup(id)
	return ok && !t.IsAppointment()
}

// ActiveAppointment returns the appointment whose window contains now.
func (v *View) ActiveAppointment(now time.Time) (models.Track, bool) {
	if v == nil {
		return models.Track{}, false
	}
	for _, t := range v.Appointments {
		if t.Schedule.Start.After(now) {
			break
		}
		if t.Schedule.Contains(now) {
			return t, true
		}
	}
	return models.Track{}, false
}

// NextAppointment returns the earliest appointment starting after now.
func (v *View) NextAppointment(now time.Time) (models.Track, bool) {
	if v == nil {
		return models.Track{}, false
	}
	i := sort.Search(len(v.Appointments), func(i int) bool {
		return v.Appointments[i].Schedule.Start.After(now)
	})
	if i == len(v.Appointments) {
		return models.Track{}, false
	}
	return v.Appointments[i], true
}

// Equal reports whether two views hold the same tracks in the same order.
func (v *View) Equal(o *View) bool {
	if v == nil || o == nil {
		return v == o
	}
	return sameTracks(v.Appointments, o.Appointments) && sameTracks(v.Rotation, o.Rotation)
}

func sameTracks(a, b []models.Track) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		x, y := a[i], b[i]
		if x.ID != y.ID || x.Locator != y.Locator || x.Artist != y.Artist || x.Title != y.Title ||
			x.DurationSeconds != y.DurationSeconds ||
			!x.Schedule.Start.Equal(y.Schedule.Start) || !x.Schedule.End.Equal(y.Schedule.End) {
			return false
		}
	}
	return true
}
