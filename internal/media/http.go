/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// HTTPFetcher retrieves raw files from a content service such as the GitHub
// contents API: GET <base>/<locator> with a token and a raw-media Accept header.
type HTTPFetcher struct {
	baseURL string
	token   string
	client  *http.Client
	logger  zerolog.Logger
}

// NewHTTPFetcher creates a fetcher for baseURL. Request deadlines come from
// the caller's context.
func NewHTTPFetcher(baseURL, token string, logger zerolog.Logger) *HTTPFetcher {
	return &HTTPFetcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		logger:  logger,
	}
}

// FetchBytes downloads the file named by locator.
func (f *HTTPFetcher) FetchBytes(ctx context.Context, locator string) ([]byte, error) {
	target := f.baseURL + "/" + escapePath(locator)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github.v3.raw")
	if f.token != "" {
		req.Header.Set("Authorization", "token "+f.token)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %w", ErrTransient, locator, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, locator)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: get %s: status %d", ErrTransient, locator, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("get %s: status %d", locator, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrTransient, locator, err)
	}
	f.logger.Debug().Str("locator", locator).Int("bytes", len(data)).Msg("downloaded media file")
	return data, nil
}

func escapePath(locator string) string {
	parts := strings.Split(strings.TrimPrefix(locator, "/"), "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
