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

// State is the playback state machine position.
type State int

const (
	StateIdle State = iota
	StatePlaying
	StateWaitingForAppointment
	StateFadingOut
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePlaying:
		return "playing"
	case StateWaitingForAppointment:
		return "waiting_for_appointment"
	case StateFadingOut:
		return "fading_out"
	}
	return "unknown"
}

// Session is the process-wide playback state. It is owned by a single
// goroutine and handed to Decide by pointer; nothing here is synchronized.
type Session struct {
	State      State
	NowPlaying *models.Track
	StartedAt  time.Time

	// PlayedRotation holds rotation ids played since the last reset.
	PlayedRotation map[string]struct{}
	// PlayedAppointments maps appointment ids to their window end so an
	// appointment is not replayed inside its own window.
	PlayedAppointments map[string]time.Time

	LastFinished *models.Track
}

// NewSession returns an idle session.
func NewSession() *Session {
	return &Session{
		PlayedRotation:     make(map[string]struct{}),
		PlayedAppointments: make(map[string]time.Time),
	}
}

// Clone returns a deep copy for hypothetical decisions.
func (s *Session) Clone() *Session {
	c := &Session{
		State:              s.State,
		StartedAt:          s.StartedAt,
		PlayedRotation:     make(map[string]struct{}, len(s.PlayedRotation)),
		PlayedAppointments: make(map[string]time.Time, len(s.PlayedAppointments)),
	}
	if s.NowPlaying != nil {
		t := *s.NowPlaying
		c.NowPlaying = &t
	}
	if s.LastFinished != nil {
		t := *s.LastFinished
		c.LastFinished = &t
	}
	for id := range s.PlayedRotation {
		c.PlayedRotation[id] = struct{}{}
	}
	for id, end := range s.PlayedAppointments {
		c.PlayedAppointments[id] = end
	}
	return c
}

// Start records t as now playing and marks it played.
func (s *Session) Start(t models.Track, now time.Time) {
	track := t
	s.NowPlaying = &track
	s.StartedAt = now
	s.State = StatePlaying
	if t.IsAppointment() {
		s.PlayedAppointments[t.ID] = t.Schedule.End
	} else {
		s.PlayedRotation[t.ID] = struct{}{}
	}
}

// Finish clears now playing and returns the finished track.
func (s *Session) Finish() *models.Track {
	finished := s.NowPlaying
	if finished != nil {
		s.LastFinished = finished
	}
	s.NowPlaying = nil
	s.StartedAt = time.Time{}
	s.State = StateIdle
	return finished
}

// Abort clears now playing without recording it as finished and makes the
// track eligible again. Used when a track failed before producing audio.
func (s *Session) Abort() *models.Track {
	aborted := s.NowPlaying
	if aborted != nil {
		if aborted.IsAppointment() {
			delete(s.PlayedAppointments, aborted.ID)
		} else {
			delete(s.PlayedRotation, aborted.ID)
		}
	}
	s.NowPlaying = nil
	s.StartedAt = time.Time{}
	s.State = StateIdle
	return aborted
}

// ResetRotation makes every rotation track eligible again.
func (s *Session) ResetRotation() {
	s.PlayedRotation = make(map[string]struct{})
}

// Reconcile restores the session invariants against a freshly loaded view:
// played rotation ids are a subset of the view's rotation, and played
// appointments whose window has closed are forgotten.
func (s *Session) Reconcile(v *catalog.View, now time.Time) {
	for id := range s.PlayedRotation {
		if !v.HasRotation(id) {
			delete(s.PlayedRotation, id)
		}
	}
	for id, end := range s.PlayedAppointments {
		if !end.After(now) {
			delete(s.PlayedAppointments, id)
		}
	}
}
