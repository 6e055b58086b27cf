// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package logger configures the broker's process-wide slog logger.
//
// This is a thin shim over toolhive-core/logging. Packages that only log
// call log/slog directly; the helpers here exist for CLI code and handlers
// that prefer the Debugw/Infow call style.
package logger

import (
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"

	"github.com/stacklok/toolhive-core/env"
	"github.com/stacklok/toolhive-core/logging"
)

// Log formats accepted by Options.Format.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// singleton is the package-level logger created by Initialize.
// Accessed atomically to be safe for concurrent use across goroutines.
var singleton atomic.Pointer[slog.Logger]

func init() {
	// Set a default logger so callers that skip Initialize() don't panic.
	singleton.Store(logging.New())
}

// Options selects the logger configuration.
type Options struct {
	// Debug enables debug level output.
	Debug bool

	// Format is FormatText or FormatJSON. Empty defers to the
	// UNSTRUCTURED_LOGS environment variable.
	Format string
}

func get() *slog.Logger {
	return singleton.Load()
}

// Get returns the underlying *slog.Logger for injection into structs.
func Get() *slog.Logger {
	return get()
}

// Set replaces the singleton logger. This is intended for tests that need to
// capture log output; production code should use [Initialize] instead.
func Set(l *slog.Logger) {
	singleton.Store(l)
}

// Debugw logs a message at debug level with additional key-value pairs.
func Debugw(msg string, keysAndValues ...any) {
	get().Debug(msg, keysAndValues...)
}

// Infof logs a formatted message at info level.
func Infof(msg string, args ...any) {
	get().Info(fmt.Sprintf(msg, args...))
}

// Infow logs a message at info level with additional key-value pairs.
func Infow(msg string, keysAndValues ...any) {
	get().Info(msg, keysAndValues...)
}

// Warnw logs a message at warning level with additional key-value pairs.
func Warnw(msg string, keysAndValues ...any) {
	get().Warn(msg, keysAndValues...)
}

// Errorw logs a message at error level with additional key-value pairs.
func Errorw(msg string, keysAndValues ...any) {
	get().Error(msg, keysAndValues...)
}

// Initialize creates the logger from opts and the process environment and
// installs it as the slog default.
func Initialize(opts Options) error {
	return InitializeWithEnv(&env.OSReader{}, opts)
}

// InitializeWithEnv is Initialize with a custom environment reader, for tests.
func InitializeWithEnv(envReader env.Reader, opts Options) error {
	var logOpts []logging.Option

	switch opts.Format {
	case FormatText:
		logOpts = append(logOpts, logging.WithFormat(logging.FormatText))
	case FormatJSON:
	case "":
		if unstructuredLogsWithEnv(envReader) {
			logOpts = append(logOpts, logging.WithFormat(logging.FormatText))
		}
	default:
		return fmt.Errorf("unknown log format %q (must be %q or %q)", opts.Format, FormatText, FormatJSON)
	}

	if opts.Debug {
		logOpts = append(logOpts, logging.WithLevel(slog.LevelDebug))
	}

	l := logging.New(logOpts...)
	singleton.Store(l)
	slog.SetDefault(l)
	return nil
}

func unstructuredLogsWithEnv(envReader env.Reader) bool {
	unstructuredLogs, err := strconv.ParseBool(envReader.Getenv("UNSTRUCTURED_LOGS"))
	if err != nil {
		// at this point if the error is not nil, the env var wasn't set, or is ""
		// which means we just default to outputting unstructured logs.
		return true
	}
	return unstructuredLogs
}
