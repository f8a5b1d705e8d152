/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package pacer

import (
	"bytes"
	"context"
	"testing"
	"time"
)

func TestBytesPerSecond(t *testing.T) {
	if got := New(128).BytesPerSecond(); got != 16000 {
		t.Fatalf("expected 16000, got %d", got)
	}
}

func TestCopyIsRateLimited(t *testing.T) {
	// 8 kbit/s = 1000 B/s, burst of 100 bytes.
	p := NewWithChunk(8, 100)
	src := bytes.NewReader(make([]byte, 400))
	var dst bytes.Buffer

	start := time.Now()
	if err := p.Copy(context.Background(), &dst, src); err != nil {
		t.Fatalf("copy: %v", err)
	}
	elapsed := time.Since(start)

	if dst.Len() != 400 || p.Emitted() != 400 {
		t.Fatalf("expected 400 bytes, got %d/%d", dst.Len(), p.Emitted())
	}
	// First 100 bytes are the burst; the remaining 300 need ~300ms.
	if elapsed < 250*time.Millisecond {
		t.Fatalf("copy finished too fast: %s", elapsed)
	}
	if p.Position() != 400*time.Millisecond {
		t.Fatalf("unexpected position %s", p.Position())
	}
}

func TestWriteSplitsLargeChunks(t *testing.T) {
	p := NewWithChunk(8000, 10)
	var dst chunkRecorder
	if err := p.Write(context.Background(), &dst, make([]byte, 35)); err != nil {
		t.Fatal(err)
	}
	if len(dst.sizes) != 4 || dst.sizes[3] != 5 {
		t.Fatalf("unexpected chunk sizes %v", dst.sizes)
	}
}

func TestCopyStopsOnCancel(t *testing.T) {
	p := NewWithChunk(8, 100)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := p.Copy(ctx, &bytes.Buffer{}, bytes.NewReader(make([]byte, 10000)))
	// The limiter reports a would-exceed-deadline error before the context fires.
	if err == nil {
		t.Fatal("expected cancellation error")
	}
}

func TestNewPacerStartsWithFullBurst(t *testing.T) {
	// A fresh pacer per track must not inherit the previous track's debt.
	first := NewWithChunk(8, 100)
	_ = first.Write(context.Background(), &bytes.Buffer{}, make([]byte, 100))

	second := NewWithChunk(8, 100)
	start := time.Now()
	if err := second.Write(context.Background(), &bytes.Buffer{}, make([]byte, 100)); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Fatal("new pacer was throttled by the previous one")
	}
}

type chunkRecorder struct {
	sizes []int
}

func (c *chunkRecorder) Write(b []byte) (int, error) {
	c.sizes = append(c.sizes, len(b))
	return len(b), nil
}
