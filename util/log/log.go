// Copyright (c) 2021 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package waLog contains a simple logger interface used by the other chatmodule packages.
package waLog

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

const (
	// Timestamp format
	timeFormat = "15:04:05.000"

	DebugLevel = "DEBUG" // Loggers initialized with DebugLevel will output Debugf(), Infof(), Warnf() and Errorf().
	InfoLevel  = "INFO"  // Loggers initialized with InfoLevel will output Infof(), Warnf() and Errorf().
	WarnLevel  = "WARN"  // Loggers initialized with WarnLevel will output Warnf() and Errorf().
	ErrorLevel = "ERROR" // Loggers initialized with ErrorLevel will output Errorf().
)

// Logger is a simple logger interface that can have subloggers for specific areas.
type Logger interface {
	Warnf(msg string, args ...interface{})
	Errorf(msg string, args ...interface{})
	Infof(msg string, args ...interface{})
	Debugf(msg string, args ...interface{})
	Sub(module string) Logger
}

type noopLogger struct{}

func (n *noopLogger) Errorf(_ string, _ ...interface{}) {}
func (n *noopLogger) Warnf(_ string, _ ...interface{})  {}
func (n *noopLogger) Infof(_ string, _ ...interface{})  {}
func (n *noopLogger) Debugf(_ string, _ ...interface{}) {}
func (n *noopLogger) Sub(_ string) Logger               { return n }

// Noop is a no-op Logger implementation that silently drops everything.
var Noop Logger = &noopLogger{}

type zeroLogger struct {
	mod string
	zerolog.Logger
}

// Zerolog wraps a [zerolog.Logger] to implement the Logger interface.
//
// Subloggers will be created by adding a "sublogger" field to the log context.
func Zerolog(log zerolog.Logger) Logger {
	return &zeroLogger{Logger: log}
}

func (z *zeroLogger) Errorf(msg string, args ...interface{}) { z.Error().Msgf(msg, args...) }
func (z *zeroLogger) Warnf(msg string, args ...interface{})  { z.Warn().Msgf(msg, args...) }
func (z *zeroLogger) Infof(msg string, args ...interface{})  { z.Info().Msgf(msg, args...) }
func (z *zeroLogger) Debugf(msg string, args ...interface{}) { z.Debug().Msgf(msg, args...) }

// Sub returns a sub-logger which has the module name joined to the parent's with a slash.
func (z *zeroLogger) Sub(module string) Logger {
	module = sub(z.mod, module)
	return &zeroLogger{mod: module, Logger: z.Logger.With().Str("sublogger", module).Logger()}
}

// Stdout is a simple Logger implementation that outputs to stdout. The module name given is
// included in log lines.
//
// If color is true, levels are colored using ANSI color escape codes.
//
// The minLevel is the minimum level to log and can be DebugLevel, InfoLevel, WarnLevel or
// ErrorLevel.
func Stdout(module string, minLevel string, color bool) Logger {
	return Writer(os.Stdout, module, minLevel, color)
}

// Writer is like Stdout, but writes human-readable lines to the given writer.
func Writer(w io.Writer, module string, minLevel string, color bool) Logger {
	console := zerolog.ConsoleWriter{
		Out:        w,
		NoColor:    !color,
		TimeFormat: timeFormat,
		FormatMessage: func(i interface{}) string {
			return fmt.Sprintf("%v", i)
		},
	}
	log := zerolog.New(console).Level(ParseLevel(minLevel)).With().Timestamp().Logger()
	zl := &zeroLogger{Logger: log}
	if module != "" {
		return zl.Sub(module)
	}
	return zl
}

// ParseLevel converts one of the level constants (case-insensitive) to a zerolog level.
// Unknown values log everything.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToUpper(level) {
	case DebugLevel:
		return zerolog.DebugLevel
	case InfoLevel:
		return zerolog.InfoLevel
	case WarnLevel, "WARNING":
		return zerolog.WarnLevel
	case ErrorLevel:
		return zerolog.ErrorLevel
	default:
		return zerolog.TraceLevel
	}
}

// sub is a helper to consistently propagate the name of a submodule for all loggers.
func sub(existing, new string) string {
	out := existing
	if out != "" && new != "" {
		out += "/"
	}
	out += new
	return out
}
