/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"testing"
	"time"
)

func TestLoadDefaultsWithFileCatalog(t *testing.T) {
	t.Setenv("SXNICS_CATALOG_BACKEND", "file")
	t.Setenv("SXNICS_CATALOG_FILE", "/etc/sxnics/catalog.yaml")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.BitrateKbps != 128 {
		t.Fatalf("expected default bitrate 128, got %d", cfg.BitrateKbps)
	}
	if cfg.BytesPerSecond() != 16000 {
		t.Fatalf("expected 16000 bytes/s, got %d", cfg.BytesPerSecond())
	}
	if cfg.GapBuffer != 5*time.Second {
		t.Fatalf("expected 5s gap buffer, got %s", cfg.GapBuffer)
	}
	if cfg.PreemptFade != time.Second || cfg.PreemptFadeSteps != 10 {
		t.Fatalf("unexpected preempt fade %s/%d", cfg.PreemptFade, cfg.PreemptFadeSteps)
	}
	if cfg.CORSAllowedOrigin != "*" {
		t.Fatalf("expected any origin by default, got %q", cfg.CORSAllowedOrigin)
	}
}

func TestLoadRequiresDSNForDBCatalog(t *testing.T) {
	t.Setenv("SXNICS_CATALOG_BACKEND", "db")
	t.Setenv("SXNICS_DB_DSN", "")
	t.Setenv("RADIO_DB_DSN", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error without DSN")
	}

	t.Setenv("SXNICS_DB_DSN", "file::memory:")
	t.Setenv("SXNICS_DB_BACKEND", "sqlite")
	if _, err := Load(); err != nil {
		t.Fatalf("expected sqlite catalog to load: %v", err)
	}
}

func TestLoadMediaBackendRequirements(t *testing.T) {
	t.Setenv("SXNICS_CATALOG_BACKEND", "file")
	t.Setenv("SXNICS_MEDIA_BACKEND", "s3")
	t.Setenv("SXNICS_S3_BUCKET", "")
	t.Setenv("S3_BUCKET", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected s3 backend without bucket to fail")
	}

	t.Setenv("SXNICS_S3_BUCKET", "tracks")
	if _, err := Load(); err != nil {
		t.Fatalf("expected s3 backend with bucket to load: %v", err)
	}

	t.Setenv("SXNICS_MEDIA_BACKEND", "http")
	t.Setenv("SXNICS_HTTP_MEDIA_URL", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected http backend without url to fail")
	}
}

func TestLoadParsesDurations(t *testing.T) {
	t.Setenv("SXNICS_CATALOG_BACKEND", "file")
	t.Setenv("SXNICS_CATALOG_REFRESH", "90")
	t.Setenv("SXNICS_FETCH_TIMEOUT", "1m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.CatalogRefreshInterval != 90*time.Second {
		t.Fatalf("expected 90s refresh, got %s", cfg.CatalogRefreshInterval)
	}
	if cfg.FetchTimeout != time.Minute {
		t.Fatalf("expected 1m fetch timeout, got %s", cfg.FetchTimeout)
	}
}

func TestLoadReportsLegacyEnvWarnings(t *testing.T) {
	t.Setenv("SXNICS_CATALOG_BACKEND", "file")
	t.Setenv("MONGODB_URI", "mongodb://localhost")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if len(cfg.LegacyEnvWarnings) == 0 {
		t.Fatal("expected legacy env warnings")
	}
}
