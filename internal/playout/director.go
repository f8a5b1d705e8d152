/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package playout drives the station: it asks the scheduler what to play,
// pulls the bytes through the prefetch cache, renders them with the encoder
// and paces the result into the broadcast hub.
package playout

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/sxnics_radio/internal/catalog"
	"github.com/friendsincode/sxnics_radio/internal/encoder"
	"github.com/friendsincode/sxnics_radio/internal/events"
	"github.com/friendsincode/sxnics_radio/internal/logging"
	"github.com/friendsincode/sxnics_radio/internal/models"
	"github.com/friendsincode/sxnics_radio/internal/pacer"
	"github.com/friendsincode/sxnics_radio/internal/prefetch"
	"github.com/friendsincode/sxnics_radio/internal/scheduler"
	"github.com/friendsincode/sxnics_radio/internal/telemetry"
	"github.com/friendsincode/sxnics_radio/internal/transition"
)

// Catalog supplies the current view and later replacements.
type Catalog interface {
	Current() *catalog.View
	Updates() <-chan *catalog.View
}

// Config holds the Director's timing settings.
type Config struct {
	BitrateKbps   int
	GapBuffer     time.Duration
	CrossfadeWait time.Duration
	RetryDelay    time.Duration
}

type eventKind int

const (
	evTrackEnded eventKind = iota
	evWake
	evRetry
)

type event struct {
	kind eventKind
	gen  uint64
	err  error
	// emitted is the number of bytes the ended stream delivered.
	emitted int64
}

// activeStream is the render currently feeding the hub.
type activeStream struct {
	gen    uint64
	track  models.Track
	input  []byte
	plan   transition.Plan
	pacer  *pacer.Pacer
	cancel context.CancelFunc
	endsAt time.Time
}

// carry is the head of the next track already mixed into the current render.
type carry struct {
	trackID string
	seconds float64
}

// Status is a snapshot for status endpoints.
type Status struct {
	State      string             `json:"state"`
	NowPlaying *models.NowPlaying `json:"now_playing,omitempty"`
	NextID     string             `json:"next_id,omitempty"`
	WaitUntil  *time.Time         `json:"wait_until,omitempty"`
}

// Director owns the playback session. Fields from view down are touched only
// by the Run goroutine; streams and timers post events instead.
type Director struct {
	cfg     Config
	catalog Catalog
	cache   *prefetch.Cache
	planner *transition.Planner
	enc     encoder.Encoder
	sink    io.Writer
	bus     events.Publisher
	logger  zerolog.Logger

	now  func() time.Time
	rand scheduler.Rand

	events  chan event
	stopped chan struct{}
	status  atomic.Pointer[Status]
	wg      sync.WaitGroup

	view      *catalog.View
	session   *scheduler.Session
	exclude   map[string]struct{}
	predicted *models.Track
	carry     *carry
	stream    *activeStream
	streamGen uint64
	timer     *time.Timer
	timerGen  uint64
	waitUntil time.Time
}

// NewDirector creates a Director. bus may be nil.
func NewDirector(cfg Config, cat Catalog, cache *prefetch.Cache, planner *transition.Planner, enc encoder.Encoder, sink io.Writer, bus events.Publisher, logger zerolog.Logger) *Director {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	if cfg.BitrateKbps <= 0 {
		cfg.BitrateKbps = 128
	}
	d := &Director{
		cfg:     cfg,
		catalog: cat,
		cache:   cache,
		planner: planner,
		enc:     enc,
		sink:    sink,
		bus:     bus,
		logger:  logging.Component(logger, "director"),
		now:     time.Now,
		events:  make(chan event, 16),
		stopped: make(chan struct{}),
		session: scheduler.NewSession(),
		exclude: make(map[string]struct{}),
	}
	d.status.Store(&Status{State: scheduler.StateIdle.String()})
	return d
}

// SetRand replaces the rotation randomness source. Call before Run.
func (d *Director) SetRand(r scheduler.Rand) {
	d.rand = r
}

// Status returns the latest playback snapshot. Safe for concurrent use.
func (d *Director) Status() Status {
	return *d.status.Load()
}

// Run executes the event loop until ctx is cancelled. The current stream
// and any pending timer are stopped on return.
func (d *Director) Run(ctx context.Context) error {
	d.logger.Info().Msg("playout director started")
	defer func() {
		close(d.stopped)
		d.cancelTimer()
		if d.stream != nil {
			d.stream.cancel()
		}
		d.wg.Wait()
		d.logger.Info().Msg("playout director stopped")
	}()

	d.view = d.catalog.Current()
	if d.view == nil {
		d.view, _ = catalog.Build(nil, d.now())
	}
	d.scheduleNext(ctx)
	d.publishStatus()

	updates := d.catalog.Updates()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case v := <-updates:
			if v != nil {
				d.catalogUpdated(ctx, v)
			}
		case ev := <-d.events:
			d.handle(ctx, ev)
		}
		d.publishStatus()
	}
}

func (d *Director) handle(ctx context.Context, ev event) {
	switch ev.kind {
	case evTrackEnded:
		d.trackEnded(ctx, ev)
	case evWake:
		if ev.gen != d.timerGen {
			return
		}
		d.timer = nil
		d.wakeFired(ctx)
	case evRetry:
		if ev.gen != d.timerGen {
			return
		}
		d.timer = nil
		d.logger.Info().Msg("retrying selection")
		d.scheduleNext(ctx)
	}
}

func (d *Director) post(ev event) {
	select {
	case d.events <- ev:
	case <-d.stopped:
	}
}

func (d *Director) options() scheduler.Options {
	opts := scheduler.Options{Buffer: d.cfg.GapBuffer, Exclude: d.exclude, Rand: d.rand}
	if d.predicted != nil {
		opts.Prefer = d.predicted.ID
	}
	return opts
}

// scheduleNext selects and starts the next track. Failed candidates are
// excluded and the selection repeats until something plays or nothing is
// left, in which case a retry is armed.
func (d *Director) scheduleNext(ctx context.Context) {
	for ctx.Err() == nil {
		now := d.now()
		dec := scheduler.Decide(d.view, d.session, now, d.options())
		telemetry.SchedulerDecisionsTotal.WithLabelValues(dec.Action.String()).Inc()
		if dec.Reset {
			d.logger.Info().Int("rotation", len(d.view.Rotation)).Msg("rotation exhausted, reset played set")
		}

		switch dec.Action {
		case scheduler.ActionBusy:
			d.logger.Debug().Str("track", dec.Track.ID).Msg("already playing, ignoring selection request")
			return

		case scheduler.ActionIdle:
			d.session.State = scheduler.StateIdle
			d.predicted = nil
			if len(d.exclude) > 0 {
				d.logger.Warn().Int("excluded", len(d.exclude)).Dur("retry_in", d.cfg.RetryDelay).Msg("no playable track, retrying later")
				clear(d.exclude)
				d.armTimer(evRetry, d.cfg.RetryDelay)
				return
			}
			d.logger.Info().Msg("nothing to play, idle until the catalog changes")
			return

		case scheduler.ActionWait:
			d.session.State = scheduler.StateWaitingForAppointment
			d.waitUntil = dec.Until
			appt := dec.Track
			d.predicted = &appt
			d.cache.Prefetch(appt)
			d.armTimer(evWake, dec.Until.Sub(now))
			d.logger.Info().Str("appointment", appt.ID).Time("until", dec.Until).Msg("waiting for appointment")
			return

		default:
			if err := d.start(ctx, dec.Track, now); err != nil {
				d.logger.Warn().Err(err).Str("track", dec.Track.ID).Msg("track failed, selecting another")
				d.exclude[dec.Track.ID] = struct{}{}
				continue
			}
			return
		}
	}
}

// start fetches, plans and launches track.
func (d *Director) start(ctx context.Context, track models.Track, now time.Time) error {
	spanCtx, span := telemetry.StartSpan(ctx, "playout.fetch",
		telemetry.TrackAttributes(track.ID, track.Locator, track.IsAppointment())...)
	data, err := d.cache.Request(spanCtx, track)
	telemetry.EndSpan(span, err)
	if err != nil {
		telemetry.TrackFailuresTotal.WithLabelValues("fetch").Inc()
		return fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}

	leadIn := 0.0
	if d.carry != nil && d.carry.trackID == track.ID {
		leadIn = d.carry.seconds
	}
	d.carry = nil
	d.cancelTimer()
	d.waitUntil = time.Time{}

	d.session.Start(track, now)
	remaining := time.Duration((track.DurationSeconds - leadIn) * float64(time.Second))
	endsAt := now.Add(max(remaining, 0))

	next := d.predict(ctx, track, endsAt)

	var nextBytes []byte
	var nextTrack *models.Track
	if next != nil {
		waitCtx, cancel := context.WithTimeout(ctx, d.cfg.CrossfadeWait)
		if b, ok := d.cache.Await(waitCtx, *next); ok {
			nextBytes, nextTrack = b, next
		}
		cancel()
	}

	plan := d.planner.Plan(track, nextTrack, leadIn)
	if plan.HasNext {
		d.carry = &carry{trackID: nextTrack.ID, seconds: plan.NextTrim}
	}

	job := encoder.Job{Input: data, Next: nextBytes, Plan: plan, BitrateKbps: d.cfg.BitrateKbps}
	if err := d.launch(ctx, track, data, plan, job, endsAt); err != nil {
		d.session.Abort()
		d.carry = nil
		telemetry.TrackFailuresTotal.WithLabelValues("encode").Inc()
		return err
	}

	kind := "rotation"
	if track.IsAppointment() {
		kind = "appointment"
	}
	telemetry.TracksStartedTotal.WithLabelValues(kind).Inc()
	d.logger.Info().
		Str("track", track.ID).
		Str("name", track.DisplayName()).
		Str("kind", kind).
		Float64("lead_in", leadIn).
		Bool("crossfade", plan.HasNext).
		Msg("track started")

	np := models.NewNowPlaying(track, now)
	if d.bus != nil {
		d.bus.Publish(events.EventNowPlaying, events.NowPlayingPayload(np))
	}

	d.armPreemption(track, now, endsAt)
	return nil
}

// predict decides what follows track and prefetches it. It returns the
// following track when it directly follows (a crossfade candidate).
func (d *Director) predict(ctx context.Context, track models.Track, endsAt time.Time) *models.Track {
	opts := d.options()
	opts.Exclude = nil
	p := scheduler.Predict(d.view, d.session, track, endsAt, opts)

	switch p.Action {
	case scheduler.ActionPlayAppointment, scheduler.ActionPlayRotation:
		next := p.Track
		d.predicted = &next
		d.cache.Prefetch(next)
		return &next
	case scheduler.ActionWait:
		// A gap separates the tracks, so no crossfade, but the appointment
		// is fetched ahead of time.
		appt := p.Track
		d.predicted = &appt
		d.cache.Prefetch(appt)
		return nil
	}
	d.predicted = nil
	d.cache.Invalidate()
	return nil
}

// launch starts the encoder and the pacing goroutine for a new stream
// generation, superseding any previous stream.
func (d *Director) launch(ctx context.Context, track models.Track, input []byte, plan transition.Plan, job encoder.Job, endsAt time.Time) error {
	if d.stream != nil {
		d.stream.cancel()
	}
	d.streamGen++
	gen := d.streamGen

	streamCtx, cancel := context.WithCancel(ctx)
	spanCtx, span := telemetry.StartSpan(streamCtx, "playout.encode",
		telemetry.TrackAttributes(track.ID, track.Locator, track.IsAppointment())...)
	rc, err := d.enc.Encode(spanCtx, job)
	telemetry.EndSpan(span, err)
	if err != nil {
		cancel()
		d.stream = nil
		return fmt.Errorf("%w: %s: %w", ErrEncodeFailed, track.ID, err)
	}

	p := pacer.New(d.cfg.BitrateKbps)
	d.stream = &activeStream{
		gen:    gen,
		track:  track,
		input:  input,
		plan:   plan,
		pacer:  p,
		cancel: cancel,
		endsAt: endsAt,
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer rc.Close()
		err := p.Copy(streamCtx, d.sink, rc)
		if streamCtx.Err() != nil {
			err = nil
		}
		d.post(event{kind: evTrackEnded, gen: gen, err: err, emitted: p.Emitted()})
	}()
	return nil
}

func (d *Director) trackEnded(ctx context.Context, ev event) {
	if d.stream == nil || ev.gen != d.stream.gen {
		d.logger.Debug().Uint64("gen", ev.gen).Msg("ignoring end of superseded stream")
		return
	}
	stream := d.stream
	d.stream = nil
	stream.cancel()

	if ev.err != nil && ev.emitted == 0 {
		err := fmt.Errorf("%w: %s: %w", ErrEncodeFailed, stream.track.ID, ev.err)
		d.logger.Warn().Err(err).Msg("stream produced no audio")
		telemetry.TrackFailuresTotal.WithLabelValues("encode").Inc()
		d.session.Abort()
		d.carry = nil
		d.exclude[stream.track.ID] = struct{}{}
		d.cancelTimer()
		d.scheduleNext(ctx)
		return
	}
	if ev.err != nil {
		d.logger.Warn().Err(ev.err).Str("track", stream.track.ID).Int64("bytes", ev.emitted).Msg("stream ended early")
	}

	finished := d.session.Finish()
	if finished != nil {
		d.logger.Info().Str("track", finished.ID).Int64("bytes", ev.emitted).Msg("track finished")
	}
	clear(d.exclude)
	d.cancelTimer()
	d.scheduleNext(ctx)
}

// wakeFired handles the single wake timer: either an awaited appointment
// is due or a playing rotation track must give way to one.
func (d *Director) wakeFired(ctx context.Context) {
	np := d.session.NowPlaying
	if np == nil {
		d.scheduleNext(ctx)
		return
	}
	if np.IsAppointment() {
		d.logger.Debug().Str("track", np.ID).Msg("appointment playing, not preempting")
		return
	}
	if d.session.State == scheduler.StateFadingOut || d.stream == nil {
		return
	}
	d.preempt(ctx)
}

// preempt cuts the current rotation track with a short fade from where
// listeners currently are.
func (d *Director) preempt(ctx context.Context) {
	cur := d.stream
	position := cur.plan.StartOffset + cur.pacer.Position().Seconds()
	plan := d.planner.Preempt(cur.track, position)

	d.logger.Info().
		Str("track", cur.track.ID).
		Float64("position", position).
		Float64("fade", plan.FadeOutDuration).
		Msg("preempting rotation track for appointment")
	telemetry.PreemptionsTotal.Inc()

	d.carry = nil
	if appt, ok := d.view.ActiveAppointment(d.now()); ok {
		d.predicted = &appt
		d.cache.Prefetch(appt)
	}

	job := encoder.Job{Input: cur.input, Plan: plan, BitrateKbps: d.cfg.BitrateKbps}
	if err := d.launch(ctx, cur.track, cur.input, plan, job, d.now().Add(time.Duration(plan.FadeOutDuration*float64(time.Second)))); err != nil {
		// Without a fade the track simply stops.
		d.logger.Warn().Err(err).Msg("fade-out failed, cutting track")
		d.session.Finish()
		d.scheduleNext(ctx)
		return
	}
	d.session.State = scheduler.StateFadingOut
}

// catalogUpdated swaps in a new view and recomputes timers and prediction.
func (d *Director) catalogUpdated(ctx context.Context, v *catalog.View) {
	now := d.now()
	d.view = v
	d.session.Reconcile(v, now)
	d.logger.Info().
		Int("appointments", len(v.Appointments)).
		Int("rotation", len(v.Rotation)).
		Str("state", d.session.State.String()).
		Msg("catalog updated")

	d.cancelTimer()

	switch d.session.State {
	case scheduler.StateIdle, scheduler.StateWaitingForAppointment:
		d.predicted = nil
		d.waitUntil = time.Time{}
		d.scheduleNext(ctx)
	case scheduler.StatePlaying:
		if d.stream == nil || d.session.NowPlaying == nil {
			return
		}
		track := *d.session.NowPlaying
		prev := d.predicted
		opts := d.options()
		opts.Exclude = nil
		p := scheduler.Predict(d.view, d.session, track, d.stream.endsAt, opts)
		var nextID string
		if p.Action != scheduler.ActionIdle {
			nextID = p.Track.ID
		}
		if prev == nil || prev.ID != nextID {
			d.cache.Invalidate()
			d.predicted = nil
			if nextID != "" {
				next := p.Track
				d.predicted = &next
				d.cache.Prefetch(next)
			}
			d.logger.Debug().Str("next", nextID).Msg("prediction changed")
		}
		d.armPreemption(track, now, d.stream.endsAt)
	}
}

// armPreemption sets the wake timer when a rotation track would still be
// playing at the next appointment's start.
func (d *Director) armPreemption(track models.Track, now, endsAt time.Time) {
	if track.IsAppointment() {
		return
	}
	appt, ok := d.view.NextAppointment(now)
	if !ok || !appt.Schedule.Start.Before(endsAt) {
		return
	}
	d.armTimer(evWake, appt.Schedule.Start.Sub(now))
}

// armTimer replaces the single pending timer.
func (d *Director) armTimer(kind eventKind, delay time.Duration) {
	d.cancelTimer()
	gen := d.timerGen
	d.timer = time.AfterFunc(max(delay, 0), func() {
		d.post(event{kind: kind, gen: gen})
	})
}

// cancelTimer stops the pending timer; a fire already in flight is
// discarded by the generation check. Safe to call repeatedly.
func (d *Director) cancelTimer() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.timerGen++
}

func (d *Director) publishStatus() {
	st := &Status{State: d.session.State.String()}
	if np := d.session.NowPlaying; np != nil {
		n := models.NewNowPlaying(*np, d.session.StartedAt)
		st.NowPlaying = &n
	}
	if d.predicted != nil {
		st.NextID = d.predicted.ID
	}
	if !d.waitUntil.IsZero() {
		until := d.waitUntil
		st.WaitUntil = &until
	}
	d.status.Store(st)
}
