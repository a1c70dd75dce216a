// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

// Package logging holds the process-wide logger used by the stores, the
// privileged proxies and the CLI.
package logging

import (
	"fmt"
	"io"
	"os"

	clog "github.com/charmbracelet/log"
)

// L is the package-level logger. Callers should use the helper functions
// below; tests may swap L for a buffer-backed logger.
var L = newLogger(os.Stderr)

func newLogger(w io.Writer) *clog.Logger {
	l := clog.NewWithOptions(w, clog.Options{
		Prefix:          "keymaster-sshd",
		ReportTimestamp: true,
	})
	l.SetLevel(clog.InfoLevel)
	return l
}

// SetOutput redirects the package logger to w, keeping the current level.
func SetOutput(w io.Writer) {
	lvl := L.GetLevel()
	L = newLogger(w)
	L.SetLevel(lvl)
}

// SetDebug enables or disables debug-level output.
func SetDebug(enabled bool) {
	if enabled {
		L.SetLevel(clog.DebugLevel)
		return
	}
	L.SetLevel(clog.InfoLevel)
}

// Debugf logs a debug-level formatted message.
func Debugf(format string, v ...any) {
	L.Debug(fmt.Sprintf(format, v...))
}

// Infof logs an info-level formatted message.
func Infof(format string, v ...any) {
	L.Info(fmt.Sprintf(format, v...))
}

// Warnf logs a warning-level formatted message.
func Warnf(format string, v ...any) {
	L.Warn(fmt.Sprintf(format, v...))
}

// Errorf logs an error-level formatted message.
func Errorf(format string, v ...any) {
	L.Error(fmt.Sprintf(format, v...))
}
