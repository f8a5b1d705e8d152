/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"time"

	"github.com/friendsincode/sxnics_radio/internal/catalog"
	"github.com/friendsincode/sxnics_radio/internal/models"
)

// Step is one entry of a simulated running order.
type Step struct {
	At     time.Time
	Action Action
	Track  models.Track
	Reset  bool
}

// Simulate runs the selection rules forward from start for at most n
// decisions, assuming every track plays to its full duration. It stops
// early when the station would go idle.
func Simulate(view *catalog.View, start time.Time, n int, opts Options) []Step {
	s := NewSession()
	at := start
	steps := make([]Step, 0, n)

	for len(steps) < n {
		d := Decide(view, s, at, opts)
		steps = append(steps, Step{At: at, Action: d.Action, Track: d.Track, Reset: d.Reset})

		switch d.Action {
		case ActionPlayAppointment, ActionPlayRotation:
			s.Start(d.Track, at)
			at = at.Add(d.Track.Duration())
			s.Finish()
			s.Reconcile(view, at)
		case ActionWait:
			at = d.Until
		default:
			return steps
		}
	}
	return steps
}
