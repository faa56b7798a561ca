// Copyright (c) 2026 The Nexus developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package log provides the process-wide logging backend shared by every
// subsystem of the worker: a single rotating backend with one named Logger
// per subsystem.
package log

import (
	"fmt"
	"os"

	"github.com/Eacred/slog"
	"github.com/jrick/logrotate/rotator"
)

// logWriter implements io.Writer and writes to both standard output and
// the log rotator, if one has been initialized.
type logWriter struct{}

func (logWriter) Write(p []byte) (int, error) {
	os.Stdout.Write(p)
	if logRotator != nil {
		logRotator.Write(p)
	}
	return len(p), nil
}

// backendLog is the logging backend used to create all subsystem loggers.
var backendLog = slog.NewBackend(logWriter{})

// logRotator is initialized by InitLogRotator. It is nil until a caller
// opts into file logging.
var logRotator *rotator.Rotator

// Disconnected is a fallback logger used before InitLogRotator or
// NewSubsystem has been called from init paths outside the normal
// supervisor wiring (e.g. early config validation).
var Disconnected = backendLog.Logger("NXUS")

// InitLogRotator creates a rotating file logger that writes to logFile,
// rolling it over at 32 MiB and keeping the last three rolls. It must be
// called at most once, before any subsystem logger produced by
// NewSubsystem is used concurrently from multiple goroutines.
func InitLogRotator(logFile string) error {
	r, err := rotator.New(logFile, 32*1024, false, 3)
	if err != nil {
		return fmt.Errorf("failed to create log rotator: %w", err)
	}
	logRotator = r
	return nil
}

// NewSubsystem returns a leveled logger tagged with the given four-to-five
// character subsystem code (e.g. "FETC" for the fetcher, "PROV" for the
// prover worker pool).
func NewSubsystem(tag string) slog.Logger {
	l := backendLog.Logger(tag)
	l.SetLevel(slog.LevelInfo)
	return l
}

// SetLevel adjusts the level of the Disconnected fallback logger only.
// Loggers created through NewSubsystem keep their own level and are not
// changed by it; they are re-leveled directly via their own SetLevel
// method.
func SetLevel(lvl slog.Level) {
	Disconnected.SetLevel(lvl)
}
