/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package media

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/friendsincode/sxnics_radio/internal/config"
	"github.com/rs/zerolog"
)

func TestFSFetcher(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "audio"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "audio", "a.mp3"), []byte("ID3a"), 0o644); err != nil {
		t.Fatal(err)
	}
	f := NewFSFetcher(root, zerolog.Nop())

	data, err := f.FetchBytes(context.Background(), "audio/a.mp3")
	if err != nil || string(data) != "ID3a" {
		t.Fatalf("unexpected result %q %v", data, err)
	}

	if _, err := f.FetchBytes(context.Background(), "audio/missing.mp3"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	// Traversal is clamped to the root.
	if _, err := f.FetchBytes(context.Background(), "../../etc/passwd"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected traversal to stay inside root, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.FetchBytes(ctx, "audio/a.mp3"); !errors.Is(err, ErrTransient) {
		t.Fatalf("expected ErrTransient on cancelled context, got %v", err)
	}

	if err := f.CheckAccess(context.Background()); err != nil {
		t.Fatalf("check access: %v", err)
	}
	if err := NewFSFetcher(filepath.Join(root, "nope"), zerolog.Nop()).CheckAccess(context.Background()); err == nil {
		t.Fatal("expected missing root to fail")
	}
}

func TestHTTPFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/contents/audio/my%20track.mp3", "/contents/audio/my track.mp3":
			if r.Header.Get("Authorization") != "token secret" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			if r.Header.Get("Accept") != "application/vnd.github.v3.raw" {
				w.WriteHeader(http.StatusNotAcceptable)
				return
			}
			_, _ = w.Write([]byte("raw-bytes"))
		case "/contents/busy.mp3":
			w.WriteHeader(http.StatusServiceUnavailable)
		case "/contents/forbidden.mp3":
			w.WriteHeader(http.StatusForbidden)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.URL+"/contents/", "secret", zerolog.Nop())

	data, err := f.FetchBytes(context.Background(), "audio/my track.mp3")
	if err != nil || string(data) != "raw-bytes" {
		t.Fatalf("unexpected result %q %v", data, err)
	}

	tests := []struct {
		locator   string
		transient bool
		notFound  bool
	}{
		{locator: "missing.mp3", notFound: true},
		{locator: "busy.mp3", transient: true},
		{locator: "forbidden.mp3"},
	}
	for _, tt := range tests {
		_, err := f.FetchBytes(context.Background(), tt.locator)
		if err == nil {
			t.Fatalf("%s: expected error", tt.locator)
		}
		if errors.Is(err, ErrTransient) != tt.transient || errors.Is(err, ErrNotFound) != tt.notFound {
			t.Fatalf("%s: unexpected classification %v", tt.locator, err)
		}
	}
}

func TestS3FetcherAgainstPathStyleEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/tracks/audio/a.mp3":
			w.Header().Set("Content-Type", "audio/mpeg")
			_, _ = w.Write([]byte("s3-bytes"))
		default:
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`))
		}
	}))
	defer srv.Close()

	f, err := NewS3Fetcher(context.Background(), S3Config{
		AccessKeyID:     "test",
		SecretAccessKey: "test",
		Region:          "us-east-1",
		Bucket:          "tracks",
		Endpoint:        srv.URL,
		UsePathStyle:    true,
		MaxAttempts:     1,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new s3 fetcher: %v", err)
	}

	data, err := f.FetchBytes(context.Background(), "audio/a.mp3")
	if err != nil || string(data) != "s3-bytes" {
		t.Fatalf("unexpected result %q %v", data, err)
	}
	if _, err := f.FetchBytes(context.Background(), "audio/gone.mp3"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

type slowFetcher struct{}

func (slowFetcher) FetchBytes(ctx context.Context, _ string) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestInstrumentMarksDeadlineTransient(t *testing.T) {
	f := Instrument(slowFetcher{}, "test")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := f.FetchBytes(ctx, "x")
	if !errors.Is(err, ErrTransient) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected transient deadline error, got %v", err)
	}
}

func TestNewFetcherSelectsBackend(t *testing.T) {
	cfg := &config.Config{MediaBackend: config.MediaFilesystem, MediaRoot: t.TempDir()}
	f, err := NewFetcher(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}
	if c, ok := f.(Checker); !ok || c.CheckAccess(context.Background()) != nil {
		t.Fatal("expected instrumented fetcher to expose a working CheckAccess")
	}

	cfg.MediaBackend = "ftp"
	if _, err := NewFetcher(context.Background(), cfg, zerolog.Nop()); err == nil {
		t.Fatal("expected unsupported backend error")
	}
}
