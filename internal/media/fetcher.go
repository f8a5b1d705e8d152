/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package media

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/friendsincode/sxnics_radio/internal/config"
	"github.com/friendsincode/sxnics_radio/internal/logging"
	"github.com/friendsincode/sxnics_radio/internal/telemetry"
	"github.com/rs/zerolog"
)

var (
	// ErrNotFound means the locator does not resolve to a file.
	ErrNotFound = errors.New("media not found")
	// ErrTransient means the fetch may succeed if retried later.
	ErrTransient = errors.New("transient media error")
)

// Fetcher resolves a track locator to its raw audio bytes.
type Fetcher interface {
	FetchBytes(ctx context.Context, locator string) ([]byte, error)
}

// Checker is implemented by fetchers that can verify their backend at startup.
type Checker interface {
	CheckAccess(ctx context.Context) error
}

// NewFetcher builds the fetcher selected by configuration.
func NewFetcher(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (Fetcher, error) {
	logger = logging.Component(logger, "media").With().Str("backend", string(cfg.MediaBackend)).Logger()

	var (
		f   Fetcher
		err error
	)
	switch cfg.MediaBackend {
	case config.MediaFilesystem:
		f = NewFSFetcher(cfg.MediaRoot, logger)
	case config.MediaS3:
		f, err = NewS3Fetcher(ctx, S3Config{
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			Region:          cfg.S3Region,
			Bucket:          cfg.S3Bucket,
			Endpoint:        cfg.S3Endpoint,
			UsePathStyle:    cfg.S3UsePathStyle,
		}, logger)
	case config.MediaHTTP:
		f = NewHTTPFetcher(cfg.HTTPMediaURL, cfg.HTTPMediaAuth, logger)
	default:
		return nil, fmt.Errorf("unsupported media backend %q", cfg.MediaBackend)
	}
	if err != nil {
		return nil, err
	}
	return Instrument(f, string(cfg.MediaBackend)), nil
}

// Instrument wraps f so every fetch is timed per backend.
func Instrument(f Fetcher, backend string) Fetcher {
	return &instrumented{next: f, backend: backend}
}

type instrumented struct {
	next    Fetcher
	backend string
}

func (i *instrumented) FetchBytes(ctx context.Context, locator string) ([]byte, error) {
	start := time.Now()
	data, err := i.next.FetchBytes(ctx, locator)
	telemetry.FetchDuration.WithLabelValues(i.backend).Observe(time.Since(start).Seconds())
	if err == nil {
		return data, nil
	}
	// A deadline hit is a retryable failure, not a missing file.
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrTransient) {
		err = fmt.Errorf("%w: %w", ErrTransient, err)
	}
	return nil, err
}

func (i *instrumented) CheckAccess(ctx context.Context) error {
	if c, ok := i.next.(Checker); ok {
		return c.CheckAccess(ctx)
	}
	return nil
}
