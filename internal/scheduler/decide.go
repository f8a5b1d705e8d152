/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package scheduler decides what plays next. Decide and Predict are pure:
// they read a catalog view and a session and never touch timers, I/O or the
// wall clock.
package scheduler

import (
	"math/rand/v2"
	"time"

	"github.com/friendsincode/sxnics_radio/internal/catalog"
	"github.com/friendsincode/sxnics_radio/internal/models"
)

// Action is the outcome of a scheduling decision.
type Action int

const (
	// ActionIdle means there is nothing to play.
	ActionIdle Action = iota
	// ActionBusy means a track is already playing; nothing was selected.
	ActionBusy
	ActionPlayAppointment
	ActionPlayRotation
	// ActionWait means the next appointment is due before any filler fits.
	ActionWait
)

func (a Action) String() string {
	switch a {
	case ActionIdle:
		return "idle"
	case ActionBusy:
		return "busy"
	case ActionPlayAppointment:
		return "play_appointment"
	case ActionPlayRotation:
		return "play_rotation"
	case ActionWait:
		return "wait"
	}
	return "unknown"
}

// Decision is what Decide selected.
type Decision struct {
	Action Action
	Track  models.Track
	// Until is the appointment start for ActionWait.
	Until time.Time
	// Reset is set when the rotation was exhausted and cleared to decide.
	Reset bool
}

// Plays reports whether the decision starts a track.
func (d Decision) Plays() bool {
	return d.Action == ActionPlayAppointment || d.Action == ActionPlayRotation
}

// Rand is the randomness source for rotation picks.
type Rand interface {
	IntN(n int) int
}

type globalRand struct{}

func (globalRand) IntN(n int) int { return rand.IntN(n) }

// Options tune a decision.
type Options struct {
	// Buffer is the safety margin a gap filler must leave before the
	// next appointment.
	Buffer time.Duration
	// Exclude holds track ids that failed in the current selection cycle.
	Exclude map[string]struct{}
	// Prefer picks this track id when it is eligible, so a real selection
	// agrees with an earlier prediction.
	Prefer string
	Rand   Rand
}

func (o Options) excluded(id string) bool {
	_, ok := o.Exclude[id]
	return ok
}

func (o Options) rng() Rand {
	if o.Rand != nil {
		return o.Rand
	}
	return globalRand{}
}

// Decide applies the selection rules in order:
//
//  1. an appointment whose window contains now and that has not played yet
//  2. the first unplayed rotation track that ends, plus Buffer, strictly
//     before the next appointment starts (gap fill)
//  3. otherwise wait for the next appointment
//  4. with no future appointment, a uniformly random unplayed rotation track
//
// When every rotation track has played or is excluded, the played set is
// cleared and the selection retried immediately with the exclusions still
// applied. Decide mutates s only for that reset.
func Decide(view *catalog.View, s *Session, now time.Time, opts Options) Decision {
	if s.NowPlaying != nil {
		return Decision{Action: ActionBusy, Track: *s.NowPlaying}
	}

	if appt, ok := view.ActiveAppointment(now); ok && !opts.excluded(appt.ID) {
		if _, played := s.PlayedAppointments[appt.ID]; !played {
			return Decision{Action: ActionPlayAppointment, Track: appt}
		}
	}

	if next, ok := view.NextAppointment(now); ok {
		timeUntil := next.Schedule.Start.Sub(now)
		fits := func(t models.Track) bool {
			return t.Duration()+opts.Buffer < timeUntil
		}
		if t, ok := pickFiller(view, s, opts, fits); ok {
			return Decision{Action: ActionPlayRotation, Track: t}
		}
		if exhausted(view, s, opts) {
			s.ResetRotation()
			if t, ok := pickFiller(view, s, opts, fits); ok {
				return Decision{Action: ActionPlayRotation, Track: t, Reset: true}
			}
			return Decision{Action: ActionWait, Track: next, Until: next.Schedule.Start, Reset: true}
		}
		return Decision{Action: ActionWait, Track: next, Until: next.Schedule.Start}
	}

	if t, ok := pickRandom(view, s, opts); ok {
		return Decision{Action: ActionPlayRotation, Track: t}
	}
	if exhausted(view, s, opts) {
		s.ResetRotation()
		if t, ok := pickRandom(view, s, opts); ok {
			return Decision{Action: ActionPlayRotation, Track: t, Reset: true}
		}
	}
	return Decision{Action: ActionIdle}
}

// pickFiller returns the preferred track if it fits, else the first
// eligible track in catalog order.
func pickFiller(view *catalog.View, s *Session, opts Options, fits func(models.Track) bool) (models.Track, bool) {
	var first *models.Track
	for i := range view.Rotation {
		t := view.Rotation[i]
		if !eligible(t, s, opts) || !fits(t) {
			continue
		}
		if t.ID == opts.Prefer {
			return t, true
		}
		if first == nil {
			first = &view.Rotation[i]
		}
	}
	if first == nil {
		return models.Track{}, false
	}
	return *first, true
}

func pickRandom(view *catalog.View, s *Session, opts Options) (models.Track, bool) {
	candidates := make([]models.Track, 0, len(view.Rotation))
	for _, t := range view.Rotation {
		if !eligible(t, s, opts) {
			continue
		}
		if t.ID == opts.Prefer {
			return t, true
		}
		candidates = append(candidates, t)
	}
	if len(candidates) == 0 {
		return models.Track{}, false
	}
	return candidates[opts.rng().IntN(len(candidates))], true
}

func eligible(t models.Track, s *Session, opts Options) bool {
	if _, played := s.PlayedRotation[t.ID]; played {
		return false
	}
	return !opts.excluded(t.ID)
}

// exhausted reports whether no rotation track is left this cycle: each one
// has either played or is excluded.
func exhausted(view *catalog.View, s *Session, opts Options) bool {
	if len(view.Rotation) == 0 || len(s.PlayedRotation) == 0 {
		return false
	}
	for _, t := range view.Rotation {
		if _, played := s.PlayedRotation[t.ID]; !played && !opts.excluded(t.ID) {
			return false
		}
	}
	return true
}

// Predict applies the rules hypothetically: current plays to completion
// and the decision is taken at its expected end. The session is not
// modified. The returned decision is ActionPlay*, ActionWait (the track is
// the awaited appointment) or ActionIdle.
func Predict(view *catalog.View, s *Session, current models.Track, endsAt time.Time, opts Options) Decision {
	hypo := s.Clone()
	hypo.NowPlaying = nil
	hypo.Start(current, endsAt)
	hypo.Finish()
	opts.Prefer = ""
	return Decide(view, hypo, endsAt, opts)
}
