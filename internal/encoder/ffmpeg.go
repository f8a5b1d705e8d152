/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package encoder turns raw track bytes plus a transition plan into an
// encoded MP3 stream by driving an external ffmpeg process.
package encoder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/friendsincode/sxnics_radio/internal/logging"
	"github.com/friendsincode/sxnics_radio/internal/transition"
)

// ErrEncoder is returned when the encoder process cannot start or exits
// with a failure.
var ErrEncoder = errors.New("encoder failed")

// Job is one render: the current track, optionally the head of the next
// track for the crossfade, and the plan that ties them together.
type Job struct {
	Input       []byte
	Next        []byte
	Plan        transition.Plan
	BitrateKbps int
}

// Encoder produces an encoded stream. The returned reader yields the
// encoded bytes and reports a failure of the encoder as a read error.
// Closing it stops the encoder.
type Encoder interface {
	Encode(ctx context.Context, job Job) (io.ReadCloser, error)
}

// Config holds ffmpeg settings.
type Config struct {
	Bin        string
	SampleRate int
	Channels   int
	ExtraArgs  []string
}

// FFmpeg runs one ffmpeg process per job. The current track is fed on
// stdin, the next track on fd 3, and MP3 is read from stdout.
type FFmpeg struct {
	cfg    Config
	logger zerolog.Logger

	commandContext func(ctx context.Context, name string, args ...string) *exec.Cmd
}

// NewFFmpeg creates an ffmpeg encoder.
func NewFFmpeg(cfg Config, logger zerolog.Logger) *FFmpeg {
	if cfg.Bin == "" {
		cfg.Bin = "ffmpeg"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 44100
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 2
	}
	return &FFmpeg{
		cfg:            cfg,
		logger:         logging.Component(logger, "encoder"),
		commandContext: exec.CommandContext,
	}
}

// Args builds the ffmpeg command line for job.
func (f *FFmpeg) Args(job Job) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-fflags", "+nobuffer", "-flags", "low_delay"}
	if job.Plan.StartOffset > 0 {
		args = append(args, "-ss", strconv.FormatFloat(job.Plan.StartOffset, 'f', 3, 64))
	}
	args = append(args, "-i", "pipe:0")
	if job.Plan.HasNext && len(job.Next) > 0 {
		args = append(args, "-i", "pipe:3")
	}
	args = append(args, "-filter_complex", f.graph(job), "-map", "[out]")

	bitrate := job.BitrateKbps
	if bitrate <= 0 {
		bitrate = 128
	}
	args = append(args,
		"-c:a", "libmp3lame",
		"-b:a", strconv.Itoa(bitrate)+"k",
		"-ac", strconv.Itoa(f.cfg.Channels),
		"-ar", strconv.Itoa(f.cfg.SampleRate),
	)
	args = append(args, f.cfg.ExtraArgs...)
	return append(args, "-f", "mp3", "pipe:1")
}

// graph drops the mix when the next track's bytes are unavailable.
func (f *FFmpeg) graph(job Job) string {
	plan := job.Plan
	if plan.HasNext && len(job.Next) == 0 {
		plan.HasNext = false
	}
	return plan.FilterGraph()
}

// Encode starts ffmpeg for job.
func (f *FFmpeg) Encode(ctx context.Context, job Job) (io.ReadCloser, error) {
	if len(job.Input) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrEncoder)
	}

	ctx, cancel := context.WithCancel(ctx)
	cmd := f.commandContext(ctx, f.cfg.Bin, f.Args(job)...)
	cmd.Stdin = bytes.NewReader(job.Input)

	stderr := &limitedBuffer{max: 4096}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: stdout pipe: %v", ErrEncoder, err)
	}

	var nextWriter *os.File
	if job.Plan.HasNext && len(job.Next) > 0 {
		r, w, err := os.Pipe()
		if err != nil {
			cancel()
			return nil, fmt.Errorf("%w: next pipe: %v", ErrEncoder, err)
		}
		cmd.ExtraFiles = []*os.File{r}
		nextWriter = w
		defer r.Close()
	}

	if err := cmd.Start(); err != nil {
		cancel()
		if nextWriter != nil {
			nextWriter.Close()
		}
		return nil, fmt.Errorf("%w: start %s: %v", ErrEncoder, f.cfg.Bin, err)
	}

	if nextWriter != nil {
		go func(data []byte) {
			// ffmpeg may stop reading once the trim is satisfied.
			_, _ = nextWriter.Write(data)
			nextWriter.Close()
		}(job.Next)
	}

	f.logger.Debug().
		Float64("start_offset", job.Plan.StartOffset).
		Bool("crossfade", job.Plan.HasNext).
		Bool("preempt", job.Plan.Preempt).
		Msg("encoder started")

	return &stream{cmd: cmd, stdout: stdout, cancel: cancel, stderr: stderr}, nil
}

type stream struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	cancel context.CancelFunc
	stderr *limitedBuffer

	once    sync.Once
	waitErr error
}

func (s *stream) Read(p []byte) (int, error) {
	n, err := s.stdout.Read(p)
	if errors.Is(err, io.EOF) {
		if werr := s.wait(); werr != nil {
			return n, werr
		}
	}
	return n, err
}

func (s *stream) wait() error {
	s.once.Do(func() {
		err := s.cmd.Wait()
		s.cancel()
		if err != nil {
			msg := strings.TrimSpace(s.stderr.String())
			if msg != "" {
				s.waitErr = fmt.Errorf("%w: %v: %s", ErrEncoder, err, msg)
			} else {
				s.waitErr = fmt.Errorf("%w: %v", ErrEncoder, err)
			}
		}
	})
	return s.waitErr
}

// Close stops the process and reaps it.
func (s *stream) Close() error {
	s.cancel()
	_ = s.wait()
	return nil
}

// limitedBuffer keeps the first max bytes of stderr.
type limitedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
	max int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if room := b.max - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
