/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package logging configures the process-wide zerolog logger.
package logging

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup configures zerolog for the process and returns the base logger.
// Development environments get a human-readable console writer and debug
// level; anything else gets JSON on stdout at info level.
func Setup(environment, levelOverride string) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level := zerolog.InfoLevel
	if environment == "development" {
		level = zerolog.DebugLevel
	}
	if levelOverride != "" {
		if parsed, err := zerolog.ParseLevel(levelOverride); err == nil {
			level = parsed
		}
	}

	var writer = os.Stdout
	logger := zerolog.New(writer).With().Timestamp().Logger().Level(level)
	if environment == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: writer}).With().Timestamp().Logger().Level(level)
	}

	log.Logger = logger
	return logger
}
