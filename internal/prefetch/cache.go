/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package prefetch holds the raw bytes of the track predicted to play next.
//
// Every Prefetch call bumps a monotonic prediction token. A background fetch
// only commits its result if its token is still the current one, so a
// prefetch that completes after the prediction moved on is discarded and
// can never be served.
package prefetch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/friendsincode/sxnics_radio/internal/logging"
	"github.com/friendsincode/sxnics_radio/internal/media"
	"github.com/friendsincode/sxnics_radio/internal/models"
	"github.com/friendsincode/sxnics_radio/internal/telemetry"
	"github.com/rs/zerolog"
)

// Token identifies one prediction.
type Token uint64

type entry struct {
	trackID string
	token   Token
	data    []byte
}

type flight struct {
	trackID string
	token   Token
	done    chan struct{}
	err     error
}

// Cache is a single-slot prefetch cache.
type Cache struct {
	fetcher media.Fetcher
	timeout time.Duration
	logger  zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	token    Token
	slot     *entry
	inflight *flight
}

// New creates a cache. timeout bounds every fetch.
func New(fetcher media.Fetcher, timeout time.Duration, logger zerolog.Logger) *Cache {
	ctx, cancel := context.WithCancel(context.Background())
	return &Cache{
		fetcher: fetcher,
		timeout: timeout,
		logger:  logging.Component(logger, "prefetch"),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Prefetch records track as the new prediction and fetches it in the
// background. It never blocks and never reports errors.
func (c *Cache) Prefetch(track models.Track) Token {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.token++
	tok := c.token

	if c.slot != nil {
		if c.slot.trackID == track.ID {
			c.slot.token = tok
			return tok
		}
		telemetry.PrefetchResultsTotal.WithLabelValues("stale").Inc()
		c.logger.Debug().Str("discarded", c.slot.trackID).Str("predicted", track.ID).Msg("prediction changed, dropping prefetched track")
		c.slot = nil
	}
	if c.inflight != nil && c.inflight.trackID == track.ID {
		c.inflight.token = tok
		return tok
	}

	f := &flight{trackID: track.ID, token: tok, done: make(chan struct{})}
	c.inflight = f
	go c.run(f, track)
	return tok
}

func (c *Cache) run(f *flight, track models.Track) {
	ctx, cancel := context.WithTimeout(c.ctx, c.timeout)
	defer cancel()

	data, err := c.fetcher.FetchBytes(ctx, track.Locator)

	c.mu.Lock()
	defer c.mu.Unlock()
	defer close(f.done)

	f.err = err
	if c.inflight == f {
		c.inflight = nil
	}
	current := f.token == c.token

	if err != nil {
		c.logger.Warn().Err(err).Str("track_id", track.ID).Msg("prefetch failed")
		telemetry.PrefetchResultsTotal.WithLabelValues("failed").Inc()
		if current {
			c.slot = nil
		}
		return
	}
	if !current {
		telemetry.PrefetchResultsTotal.WithLabelValues("stale").Inc()
		c.logger.Debug().Str("track_id", track.ID).Msg("prefetch finished after prediction changed, discarding")
		return
	}
	c.slot = &entry{trackID: track.ID, token: f.token, data: data}
	c.logger.Debug().Str("track_id", track.ID).Int("bytes", len(data)).Msg("prefetch ready")
}

// Request returns the bytes for track. A committed slot for the track is
// consumed; an in-flight prefetch for it is awaited; otherwise the bytes are
// fetched synchronously.
func (c *Cache) Request(ctx context.Context, track models.Track) ([]byte, error) {
	c.mu.Lock()
	if data, ok := c.takeLocked(track.ID); ok {
		c.mu.Unlock()
		telemetry.PrefetchResultsTotal.WithLabelValues("hit").Inc()
		return data, nil
	}
	f := c.inflight
	if f != nil && (f.trackID != track.ID || f.token != c.token) {
		f = nil
	}
	c.mu.Unlock()

	if f != nil {
		waitCtx, cancel := context.WithTimeout(ctx, c.timeout)
		select {
		case <-f.done:
		case <-waitCtx.Done():
		}
		cancel()

		c.mu.Lock()
		data, ok := c.takeLocked(track.ID)
		c.mu.Unlock()
		if ok {
			telemetry.PrefetchResultsTotal.WithLabelValues("waited").Inc()
			return data, nil
		}
	}

	telemetry.PrefetchResultsTotal.WithLabelValues("miss").Inc()
	fetchCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	data, err := c.fetcher.FetchBytes(fetchCtx, track.Locator)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", track.ID, err)
	}
	return data, nil
}

// takeLocked consumes the slot if it holds trackID under the current token.
func (c *Cache) takeLocked(trackID string) ([]byte, bool) {
	if c.slot == nil || c.slot.trackID != trackID || c.slot.token != c.token {
		return nil, false
	}
	data := c.slot.data
	c.slot = nil
	return data, true
}

// Peek returns the committed bytes for track without consuming them.
func (c *Cache) Peek(track models.Track) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.slot == nil || c.slot.trackID != track.ID || c.slot.token != c.token {
		return nil, false
	}
	return c.slot.data, true
}

// Await waits for an in-flight prefetch of track (bounded by ctx), then peeks.
func (c *Cache) Await(ctx context.Context, track models.Track) ([]byte, bool) {
	c.mu.Lock()
	f := c.inflight
	c.mu.Unlock()

	if f != nil && f.trackID == track.ID {
		select {
		case <-f.done:
		case <-ctx.Done():
			return nil, false
		}
	}
	return c.Peek(track)
}

// Invalidate drops the prediction. In-flight fetches finish but cannot commit.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token++
	if c.slot != nil {
		telemetry.PrefetchResultsTotal.WithLabelValues("stale").Inc()
	}
	c.slot = nil
	c.inflight = nil
}

// Close cancels in-flight fetches.
func (c *Cache) Close() {
	c.cancel()
	c.Invalidate()
}
