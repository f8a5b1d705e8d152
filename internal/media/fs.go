/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package media

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// FSFetcher reads tracks from a directory on local disk.
type FSFetcher struct {
	rootDir string
	logger  zerolog.Logger
}

// NewFSFetcher creates a filesystem fetcher rooted at rootDir.
func NewFSFetcher(rootDir string, logger zerolog.Logger) *FSFetcher {
	return &FSFetcher{rootDir: rootDir, logger: logger}
}

// FetchBytes reads the file at locator relative to the root.
func (f *FSFetcher) FetchBytes(ctx context.Context, locator string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransient, err)
	}
	full, err := f.resolve(locator)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, locator)
		}
		return nil, fmt.Errorf("%w: read %s: %w", ErrTransient, locator, err)
	}

	f.logger.Debug().Str("path", full).Int("bytes", len(data)).Msg("read media file")
	return data, nil
}

// resolve joins locator under the root and refuses paths that escape it.
func (f *FSFetcher) resolve(locator string) (string, error) {
	clean := filepath.Clean("/" + filepath.FromSlash(locator))
	full := filepath.Join(f.rootDir, clean)
	rel, err := filepath.Rel(f.rootDir, full)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("%w: locator %q escapes media root", ErrNotFound, locator)
	}
	return full, nil
}

// CheckAccess verifies the media root exists and is a directory.
func (f *FSFetcher) CheckAccess(ctx context.Context) error {
	info, err := os.Stat(f.rootDir)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("media root directory does not exist: %s", f.rootDir)
		}
		return fmt.Errorf("cannot access media root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("media root is not a directory: %s", f.rootDir)
	}
	return nil
}
