/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package encoder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"slices"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/friendsincode/sxnics_radio/internal/models"
	"github.com/friendsincode/sxnics_radio/internal/transition"
)

func TestArgsSoloTrack(t *testing.T) {
	f := NewFFmpeg(Config{}, zerolog.Nop())
	plan := transition.NewPlanner(3, 0, 0).Plan(models.Track{DurationSeconds: 180}, nil, 0)

	args := f.Args(Job{Input: []byte("x"), Plan: plan, BitrateKbps: 128})
	got := strings.Join(args, " ")

	for _, want := range []string{
		"-i pipe:0",
		"-filter_complex [0:a]afade=t=out:st=177:d=3[out]",
		"-map [out]",
		"-c:a libmp3lame -b:a 128k -ac 2 -ar 44100",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("args %q missing %q", got, want)
		}
	}
	if slices.Contains(args, "-ss") || slices.Contains(args, "pipe:3") {
		t.Fatalf("unexpected seek or second input: %q", got)
	}
	if !strings.HasSuffix(got, "-f mp3 pipe:1") {
		t.Fatalf("output must be mp3 on stdout: %q", got)
	}
}

func TestArgsCrossfadeWithLeadIn(t *testing.T) {
	f := NewFFmpeg(Config{ExtraArgs: []string{"-write_xing", "0"}}, zerolog.Nop())
	next := models.Track{DurationSeconds: 200}
	plan := transition.NewPlanner(3, 0, 0).Plan(models.Track{DurationSeconds: 180}, &next, 3)

	got := strings.Join(f.Args(Job{Input: []byte("x"), Next: []byte("y"), Plan: plan, BitrateKbps: 96}), " ")
	for _, want := range []string{"-ss 3.000 -i pipe:0 -i pipe:3", "amix=inputs=2", "-b:a 96k", "-write_xing 0 -f mp3"} {
		if !strings.Contains(got, want) {
			t.Fatalf("args %q missing %q", got, want)
		}
	}
}

func TestArgsDropsMixWithoutNextBytes(t *testing.T) {
	f := NewFFmpeg(Config{}, zerolog.Nop())
	next := models.Track{DurationSeconds: 200}
	plan := transition.NewPlanner(3, 0, 0).Plan(models.Track{DurationSeconds: 180}, &next, 0)

	got := strings.Join(f.Args(Job{Input: []byte("x"), Plan: plan}), " ")
	if strings.Contains(got, "pipe:3") || strings.Contains(got, "amix") {
		t.Fatalf("mix requested without next bytes: %q", got)
	}
}

func TestEncodeStreamsOutput(t *testing.T) {
	f := helperEncoder(t, "echo")
	rc, err := f.Encode(context.Background(), Job{Input: []byte("pcm-bytes"), Plan: transition.Plan{CurrentDuration: 1}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	defer rc.Close()

	out, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(out) != "pcm-bytes" {
		t.Fatalf("got %q", out)
	}
}

func TestEncodeReportsProcessFailure(t *testing.T) {
	f := helperEncoder(t, "fail")
	rc, err := f.Encode(context.Background(), Job{Input: []byte("x"), Plan: transition.Plan{CurrentDuration: 1}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	defer rc.Close()

	_, err = io.ReadAll(rc)
	if !errors.Is(err, ErrEncoder) {
		t.Fatalf("expected ErrEncoder, got %v", err)
	}
	if !strings.Contains(err.Error(), "bad input") {
		t.Fatalf("expected stderr in error, got %v", err)
	}
}

func TestEncodeRejectsEmptyInput(t *testing.T) {
	f := NewFFmpeg(Config{}, zerolog.Nop())
	if _, err := f.Encode(context.Background(), Job{}); !errors.Is(err, ErrEncoder) {
		t.Fatalf("expected ErrEncoder, got %v", err)
	}
}

func TestEncodeMissingBinary(t *testing.T) {
	f := NewFFmpeg(Config{Bin: "/nonexistent/ffmpeg"}, zerolog.Nop())
	_, err := f.Encode(context.Background(), Job{Input: []byte("x")})
	if !errors.Is(err, ErrEncoder) {
		t.Fatalf("expected ErrEncoder, got %v", err)
	}
}

// helperEncoder re-executes the test binary in place of ffmpeg.
func helperEncoder(t *testing.T, mode string) *FFmpeg {
	t.Helper()
	f := NewFFmpeg(Config{}, zerolog.Nop())
	f.commandContext = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		cs := append([]string{"-test.run=TestHelperProcess", "--", name}, args...)
		cmd := exec.CommandContext(ctx, os.Args[0], cs...)
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", "HELPER_MODE="+mode)
		return cmd
	}
	return f
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	switch os.Getenv("HELPER_MODE") {
	case "fail":
		fmt.Fprint(os.Stderr, "bad input")
		os.Exit(1)
	default:
		_, _ = io.Copy(os.Stdout, os.Stdin)
	}
	os.Exit(0)
}
