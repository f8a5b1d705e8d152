/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package catalog

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/friendsincode/sxnics_radio/internal/events"
	"github.com/friendsincode/sxnics_radio/internal/logging"
	"github.com/friendsincode/sxnics_radio/internal/telemetry"
	"github.com/rs/zerolog"
)

// Refresher polls a Source and publishes a fresh View when the catalog changes.
type Refresher struct {
	source   Source
	interval time.Duration
	timeout  time.Duration
	bus      events.Publisher
	logger   zerolog.Logger
	now      func() time.Time

	current atomic.Pointer[View]
	updates chan *View
}

// NewRefresher creates a refresher. bus may be nil.
func NewRefresher(source Source, interval time.Duration, bus events.Publisher, logger zerolog.Logger) *Refresher {
	return &Refresher{
		source:   source,
		interval: interval,
		timeout:  30 * time.Second,
		bus:      bus,
		logger:   logging.Component(logger, "catalog"),
		now:      time.Now,
		updates:  make(chan *View, 1),
	}
}

// Current returns the last successfully loaded view, or nil.
func (r *Refresher) Current() *View {
	return r.current.Load()
}

// Updates delivers each changed view. Only the newest pending view is kept.
func (r *Refresher) Updates() <-chan *View {
	return r.updates
}

// Load reads the source once. On failure the previous view stays current
// and the error wraps ErrCatalogUnavailable.
func (r *Refresher) Load(ctx context.Context) (*View, []Issue, error) {
	loadCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tracks, err := r.source.ListTracks(loadCtx)
	if err != nil {
		telemetry.CatalogRefreshTotal.WithLabelValues("error").Inc()
		return nil, nil, fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
	}

	view, issues := Build(tracks, r.now())
	for _, issue := range issues {
		r.logger.Warn().
			Str("track_id", issue.TrackID).
			Str("track", issue.Display).
			Str("reason", issue.Reason).
			Msg("track excluded from catalog")
	}

	prev := r.current.Load()
	if prev.Equal(view) {
		telemetry.CatalogRefreshTotal.WithLabelValues("unchanged").Inc()
		return prev, issues, nil
	}

	r.current.Store(view)
	telemetry.CatalogRefreshTotal.WithLabelValues("ok").Inc()
	telemetry.CatalogTracks.WithLabelValues("appointment").Set(float64(len(view.Appointments)))
	telemetry.CatalogTracks.WithLabelValues("rotation").Set(float64(len(view.Rotation)))

	r.logger.Info().
		Int("appointments", len(view.Appointments)).
		Int("rotation", len(view.Rotation)).
		Int("excluded", len(issues)).
		Msg("catalog loaded")

	r.deliver(view)
	if r.bus != nil {
		r.bus.Publish(events.EventCatalogUpdate, events.Payload{
			"appointments": len(view.Appointments),
			"rotation":     len(view.Rotation),
			"excluded":     len(issues),
			"loaded_at":    view.LoadedAt,
		})
	}
	return view, issues, nil
}

// deliver replaces any undelivered view with v.
func (r *Refresher) deliver(v *View) {
	for {
		select {
		case r.updates <- v:
			return
		default:
		}
		select {
		case <-r.updates:
		default:
		}
	}
}

// Run reloads the catalog every interval until ctx is done.
func (r *Refresher) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, _, err := r.Load(ctx); err != nil {
				r.logger.Warn().Err(err).Msg("catalog refresh failed, keeping previous view")
			}
		}
	}
}
