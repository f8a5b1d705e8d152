/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup configures zerolog for the process.
func Setup(environment string) zerolog.Logger {
	return SetupWithWriter(environment, nil)
}

// SetupWithWriter configures zerolog. Development gets a console writer at
// debug level; every other environment logs JSON at info level so log
// shippers can parse it. If out is nil, stdout is used.
func SetupWithWriter(environment string, out io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if out == nil {
		out = os.Stdout
	}

	level := zerolog.InfoLevel
	writer := out
	if environment == "development" {
		level = zerolog.DebugLevel
		writer = zerolog.ConsoleWriter{Out: out}
	}

	logger := zerolog.New(writer).With().Timestamp().Logger().Level(level)
	log.Logger = logger
	return logger
}

// Component derives a child logger tagged with the component name.
func Component(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}
