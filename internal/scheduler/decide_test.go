/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/friendsincode/sxnics_radio/internal/catalog"
	"github.com/friendsincode/sxnics_radio/internal/models"
)

var now = time.Date(2026, 5, 1, 17, 0, 0, 0, time.UTC)

const buffer = 5 * time.Second

func rot(id string, seconds float64) models.Track {
	return models.Track{ID: id, Locator: id + ".mp3", DurationSeconds: seconds}
}

func appt(id string, start, end time.Time) models.Track {
	return models.Track{
		ID:              id,
		Locator:         id + ".mp3",
		DurationSeconds: end.Sub(start).Seconds(),
		Schedule:        models.Schedule{Start: start, End: end},
	}
}

func view(t *testing.T, tracks ...models.Track) *catalog.View {
	t.Helper()
	v, issues := catalog.Build(tracks, now)
	if len(issues) != 0 {
		t.Fatalf("unexpected catalog issues %v", issues)
	}
	return v
}

func opts() Options {
	return Options{Buffer: buffer, Rand: rand.New(rand.NewPCG(1, 2))}
}

func TestRotationExhaustion(t *testing.T) {
	const n = 7
	tracks := make([]models.Track, n)
	for i := range tracks {
		tracks[i] = rot(fmt.Sprintf("r%d", i), 120)
	}
	v := view(t, tracks...)
	s := NewSession()
	o := opts()

	seen := map[string]bool{}
	for i := 0; i < n; i++ {
		d := Decide(v, s, now, o)
		if d.Action != ActionPlayRotation || d.Reset {
			t.Fatalf("selection %d: unexpected decision %+v", i, d)
		}
		if seen[d.Track.ID] {
			t.Fatalf("selection %d repeated %s before the cycle finished", i, d.Track.ID)
		}
		seen[d.Track.ID] = true
		s.Start(d.Track, now)
		s.Finish()
	}

	d := Decide(v, s, now, o)
	if d.Action != ActionPlayRotation || !d.Reset {
		t.Fatalf("expected a reset on selection n+1, got %+v", d)
	}
	if len(s.PlayedRotation) != 0 {
		t.Fatal("reset must clear the played set")
	}
}

func TestGapFillBoundaryIsStrict(t *testing.T) {
	start := now.Add(15 * time.Second)
	tests := []struct {
		name     string
		duration float64
		want     Action
	}{
		{name: "exact fit is not eligible", duration: 10, want: ActionWait},
		{name: "one millisecond shorter fits", duration: 9.999, want: ActionPlayRotation},
		{name: "too long", duration: 11, want: ActionWait},
	}

	for _, tt := range tests {
		v := view(t, appt("show", start, start.Add(time.Hour)), rot("filler", tt.duration))
		d := Decide(v, NewSession(), now, opts())
		if d.Action != tt.want {
			t.Fatalf("%s: got %s, want %s", tt.name, d.Action, tt.want)
		}
		if d.Action == ActionWait && (!d.Until.Equal(start) || d.Track.ID != "show") {
			t.Fatalf("%s: wait must target the appointment, got %+v", tt.name, d)
		}
	}
}

func TestAppointmentScenario(t *testing.T) {
	start := now.Add(12 * time.Second)
	v := view(t,
		appt("show", start, now.Add(15*time.Second)),
		rot("A", 5),
		rot("B", 10),
	)
	s := NewSession()
	o := opts()

	d := Decide(v, s, now, o)
	if d.Action != ActionPlayRotation || d.Track.ID != "A" {
		t.Fatalf("expected A as filler, got %+v", d)
	}
	s.Start(d.Track, now)

	// A ends at +5s: 7s left, B needs 15s.
	endA := now.Add(5 * time.Second)
	s.Finish()
	d = Decide(v, s, endA, o)
	if d.Action != ActionWait || !d.Until.Equal(start) {
		t.Fatalf("expected wait for the appointment, got %+v", d)
	}
	s.State = StateWaitingForAppointment

	d = Decide(v, s, start, o)
	if d.Action != ActionPlayAppointment || d.Track.ID != "show" {
		t.Fatalf("expected the appointment at its start, got %+v", d)
	}
}

func TestBusyWhilePlaying(t *testing.T) {
	v := view(t, rot("a", 60), rot("b", 60))
	s := NewSession()
	s.Start(rot("a", 60), now)

	d := Decide(v, s, now, opts())
	if d.Action != ActionBusy || d.Track.ID != "a" {
		t.Fatalf("expected busy, got %+v", d)
	}
	if len(s.PlayedRotation) != 1 {
		t.Fatal("busy decision must not change the session")
	}
}

func TestAppointmentNotReplayedInsideWindow(t *testing.T) {
	start := now.Add(-time.Minute)
	v := view(t, appt("show", start, now.Add(time.Hour)), rot("r", 60))
	s := NewSession()

	d := Decide(v, s, now, opts())
	if d.Action != ActionPlayAppointment {
		t.Fatalf("expected active appointment, got %+v", d)
	}
	s.Start(d.Track, now)
	s.Finish()

	d = Decide(v, s, now.Add(time.Minute), opts())
	if d.Action != ActionPlayRotation || d.Track.ID != "r" {
		t.Fatalf("expected rotation after the appointment played, got %+v", d)
	}
}

func TestPastAppointmentsAreIgnored(t *testing.T) {
	v := view(t, appt("yesterday", now.Add(-24*time.Hour), now.Add(-23*time.Hour)), rot("r", 60))
	d := Decide(v, NewSession(), now, opts())
	if d.Action != ActionPlayRotation {
		t.Fatalf("expected rotation, got %+v", d)
	}
}

func TestExhaustionDuringAppointmentWaitResets(t *testing.T) {
	start := now.Add(time.Minute)
	v := view(t, appt("show", start, start.Add(time.Hour)), rot("a", 10), rot("b", 10))
	s := NewSession()
	s.PlayedRotation["a"] = struct{}{}
	s.PlayedRotation["b"] = struct{}{}

	d := Decide(v, s, now, opts())
	if d.Action != ActionPlayRotation || !d.Reset || d.Track.ID != "a" {
		t.Fatalf("expected immediate retry after reset, got %+v", d)
	}
}

func TestUnplayedButTooLongDoesNotReset(t *testing.T) {
	start := now.Add(time.Minute)
	v := view(t, appt("show", start, start.Add(time.Hour)), rot("a", 10), rot("long", 600))
	s := NewSession()
	s.PlayedRotation["a"] = struct{}{}

	d := Decide(v, s, now, opts())
	if d.Action != ActionWait || d.Reset {
		t.Fatalf("expected wait without reset, got %+v", d)
	}
	if _, ok := s.PlayedRotation["a"]; !ok {
		t.Fatal("played set must survive")
	}
}

func TestExcludeAndPrefer(t *testing.T) {
	v := view(t, rot("a", 60), rot("b", 60), rot("c", 60))

	o := opts()
	o.Exclude = map[string]struct{}{"a": {}, "b": {}}
	if d := Decide(v, NewSession(), now, o); d.Track.ID != "c" {
		t.Fatalf("expected c, got %+v", d)
	}

	o.Exclude = map[string]struct{}{"a": {}, "b": {}, "c": {}}
	if d := Decide(v, NewSession(), now, o); d.Action != ActionIdle {
		t.Fatalf("expected idle when everything is excluded, got %+v", d)
	}

	o = opts()
	o.Prefer = "b"
	for i := 0; i < 5; i++ {
		if d := Decide(v, NewSession(), now, o); d.Track.ID != "b" {
			t.Fatalf("expected preferred b, got %+v", d)
		}
	}
}

func TestExcludedLeftoverResetsRotation(t *testing.T) {
	tests := []struct {
		name   string
		tracks []models.Track
	}{
		{name: "random pick", tracks: []models.Track{rot("good", 60), rot("bad", 60)}},
		{name: "gap fill", tracks: []models.Track{
			appt("show", now.Add(time.Hour), now.Add(2*time.Hour)),
			rot("good", 60),
			rot("bad", 60),
		}},
	}

	for _, tt := range tests {
		v := view(t, tt.tracks...)
		s := NewSession()
		s.PlayedRotation["good"] = struct{}{}
		o := opts()
		o.Exclude = map[string]struct{}{"bad": {}}

		d := Decide(v, s, now, o)
		if d.Action != ActionPlayRotation || d.Track.ID != "good" || !d.Reset {
			t.Fatalf("%s: expected good after a reset, got %+v", tt.name, d)
		}
	}
}

func TestEmptyCatalogIsIdle(t *testing.T) {
	if d := Decide(view(t), NewSession(), now, opts()); d.Action != ActionIdle {
		t.Fatalf("expected idle, got %+v", d)
	}
}

func TestPredictDoesNotMutateSession(t *testing.T) {
	start := now.Add(12 * time.Second)
	v := view(t, appt("show", start, now.Add(15*time.Second)), rot("A", 5), rot("B", 10))
	s := NewSession()

	current := rot("A", 5)
	s.Start(current, now)

	p := Predict(v, s, current, now.Add(5*time.Second), opts())
	if p.Action != ActionWait || p.Track.ID != "show" {
		t.Fatalf("expected the appointment to follow A, got %+v", p)
	}
	if s.NowPlaying == nil || s.NowPlaying.ID != "A" || len(s.PlayedRotation) != 1 {
		t.Fatal("predict must not mutate the session")
	}

	// Without an appointment, prediction and the preferred real selection agree.
	v = view(t, rot("x", 60), rot("y", 60), rot("z", 60))
	s = NewSession()
	cur := rot("x", 60)
	s.Start(cur, now)
	p = Predict(v, s, cur, now.Add(time.Minute), opts())
	if p.Action != ActionPlayRotation || p.Track.ID == "x" {
		t.Fatalf("unexpected prediction %+v", p)
	}
	s.Finish()
	o := opts()
	o.Prefer = p.Track.ID
	if d := Decide(v, s, now.Add(time.Minute), o); d.Track.ID != p.Track.ID {
		t.Fatalf("real selection %s disagrees with prediction %s", d.Track.ID, p.Track.ID)
	}
}

func TestSessionReconcile(t *testing.T) {
	v := view(t, rot("keep", 60))
	s := NewSession()
	s.PlayedRotation["keep"] = struct{}{}
	s.PlayedRotation["gone"] = struct{}{}
	s.PlayedAppointments["old"] = now.Add(-time.Minute)
	s.PlayedAppointments["live"] = now.Add(time.Minute)

	s.Reconcile(v, now)

	if _, ok := s.PlayedRotation["gone"]; ok {
		t.Fatal("played ids must stay a subset of the rotation")
	}
	if _, ok := s.PlayedRotation["keep"]; !ok {
		t.Fatal("existing ids must be kept")
	}
	if _, ok := s.PlayedAppointments["old"]; ok {
		t.Fatal("closed windows must be pruned")
	}
	if _, ok := s.PlayedAppointments["live"]; !ok {
		t.Fatal("open windows must be kept")
	}
}

func TestSessionAbortMakesTrackEligible(t *testing.T) {
	v := view(t, rot("only", 60))
	s := NewSession()
	s.Start(rot("only", 60), now)

	if got := s.Abort(); got == nil || got.ID != "only" {
		t.Fatalf("unexpected aborted track %v", got)
	}
	if s.LastFinished != nil {
		t.Fatal("aborted track must not count as finished")
	}
	if d := Decide(v, s, now, opts()); d.Track.ID != "only" || d.Reset {
		t.Fatalf("expected aborted track to be eligible without a reset, got %+v", d)
	}
}

func TestSimulateRunningOrder(t *testing.T) {
	v := view(t,
		rot("a", 5),
		rot("b", 5),
		appt("show", now.Add(12*time.Second), now.Add(15*time.Second)),
	)

	steps := Simulate(v, now, 10, opts())

	var got []string
	for _, st := range steps {
		got = append(got, st.Action.String()+":"+st.Track.ID)
	}
	want := []string{
		"play_rotation:a",
		"wait:show",
		"play_appointment:show",
		"play_rotation:b",
	}
	for i, w := range want {
		if i >= len(got) || got[i] != w {
			t.Fatalf("running order %v, want prefix %v", got, want)
		}
	}
	if len(steps) < 5 || steps[4].Action != ActionPlayRotation || !steps[4].Reset {
		t.Fatal("expected a rotation reset once a and b have both played")
	}
	if !steps[2].At.Equal(now.Add(12 * time.Second)) {
		t.Fatalf("appointment should start on time, got %s", steps[2].At)
	}
}

func TestSimulateStopsWhenIdle(t *testing.T) {
	v := view(t)
	steps := Simulate(v, now, 5, opts())
	if len(steps) != 1 || steps[0].Action != ActionIdle {
		t.Fatalf("expected a single idle step, got %+v", steps)
	}
}
