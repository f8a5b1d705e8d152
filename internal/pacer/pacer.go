/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package pacer throttles encoded audio to real-time playback speed.
package pacer

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// DefaultChunkSize is the read size used by Copy.
const DefaultChunkSize = 4096

// Pacer emits bytes no faster than bitrate*1000/8 bytes per second. A Pacer
// is used for a single track; create a new one at every track boundary so
// no rate-limiting debt carries over.
type Pacer struct {
	limiter     *rate.Limiter
	bytesPerSec int
	chunk       int
	emitted     atomic.Int64
}

// New creates a pacer for the target bitrate in kbit/s.
func New(bitrateKbps int) *Pacer {
	return NewWithChunk(bitrateKbps, DefaultChunkSize)
}

// NewWithChunk creates a pacer that reads and emits at most chunk bytes at a time.
func NewWithChunk(bitrateKbps, chunk int) *Pacer {
	bps := bitrateKbps * 1000 / 8
	if bps <= 0 {
		bps = 1
	}
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}
	return &Pacer{
		limiter:     rate.NewLimiter(rate.Limit(bps), chunk),
		bytesPerSec: bps,
		chunk:       chunk,
	}
}

// BytesPerSecond returns the pacing rate.
func (p *Pacer) BytesPerSecond() int {
	return p.bytesPerSec
}

// Emitted returns the number of bytes written so far.
func (p *Pacer) Emitted() int64 {
	return p.emitted.Load()
}

// Position converts emitted bytes into playback time.
func (p *Pacer) Position() time.Duration {
	return time.Duration(float64(p.Emitted()) / float64(p.bytesPerSec) * float64(time.Second))
}

// Write paces b into dst. Chunks larger than the burst are split.
func (p *Pacer) Write(ctx context.Context, dst io.Writer, b []byte) error {
	for len(b) > 0 {
		n := min(len(b), p.chunk)
		if err := p.limiter.WaitN(ctx, n); err != nil {
			return err
		}
		written, err := dst.Write(b[:n])
		p.emitted.Add(int64(written))
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

// Copy reads src until EOF and paces everything into dst. It returns nil
// at EOF and the context error when cancelled.
func (p *Pacer) Copy(ctx context.Context, dst io.Writer, src io.Reader) error {
	buf := make([]byte, p.chunk)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if werr := p.Write(ctx, dst, buf[:n]); werr != nil {
				return werr
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}
