/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package catalog

import (
	"errors"
	"fmt"

	"github.com/friendsincode/sxnics_radio/internal/models"
)

var (
	// ErrMalformedSchedule marks appointments excluded from scheduling.
	ErrMalformedSchedule = errors.New("malformed schedule")
	// ErrInvalidTrack marks tracks that cannot be played at all.
	ErrInvalidTrack = errors.New("invalid track")
	// ErrCatalogUnavailable is returned when the source cannot be read.
	ErrCatalogUnavailable = errors.New("catalog unavailable")
)

// Issue describes one track left out of a view.
type Issue struct {
	TrackID string
	Display string
	Reason  string
	Err     error
}

func (i Issue) Error() string {
	return fmt.Sprintf("%s (%s): %s: %v", i.TrackID, i.Display, i.Reason, i.Err)
}

func (i Issue) Unwrap() error { return i.Err }

func newIssue(t models.Track, err error, reason string) Issue {
	return Issue{TrackID: t.ID, Display: t.DisplayName(), Reason: reason, Err: err}
}

// checkTrack applies the per-track rules. Overlaps are checked by Build.
func checkTrack(t models.Track) (Issue, bool) {
	switch {
	case t.ID == "":
		return newIssue(t, ErrInvalidTrack, "missing id"), false
	case t.Locator == "":
		return newIssue(t, ErrInvalidTrack, "missing locator"), false
	case t.DurationSeconds < 0:
		if t.IsAppointment() {
			return newIssue(t, ErrMalformedSchedule, "negative duration"), false
		}
		return newIssue(t, ErrInvalidTrack, "negative duration"), false
	}

	if !t.IsAppointment() {
		return Issue{}, true
	}
	s := t.Schedule
	switch {
	case s.Start.IsZero() || s.End.IsZero():
		return newIssue(t, ErrMalformedSchedule, "appointment needs both start and end"), false
	case !s.End.After(s.Start):
		return newIssue(t, ErrMalformedSchedule, "end is not after start"), false
	case t.DurationSeconds == 0:
		return newIssue(t, ErrMalformedSchedule, "non-positive duration"), false
	}
	return Issue{}, true
}
