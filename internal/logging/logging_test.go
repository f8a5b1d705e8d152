/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestSetupProductionWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupWithWriter("production", &buf)

	if logger.GetLevel() != zerolog.InfoLevel {
		t.Fatalf("expected info level, got %s", logger.GetLevel())
	}

	l := Component(logger, "scheduler")
	l.Info().Str("track", "t1").Msg("playing")
	logger.Debug().Msg("hidden")

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("expected a single JSON line, got %q: %v", buf.String(), err)
	}
	if entry["component"] != "scheduler" || entry["track"] != "t1" {
		t.Fatalf("unexpected entry %v", entry)
	}
}

func TestSetupDevelopmentIsDebug(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupWithWriter("development", &buf)
	if logger.GetLevel() != zerolog.DebugLevel {
		t.Fatalf("expected debug level, got %s", logger.GetLevel())
	}
	logger.Debug().Msg("visible")
	if !bytes.Contains(buf.Bytes(), []byte("visible")) {
		t.Fatalf("expected debug output, got %q", buf.String())
	}
}
