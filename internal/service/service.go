// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

// Package service controls the SSH daemon process so configuration changes
// can take effect. The config store only needs Running and Restart.
package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/toeirei/keymaster-sshd/internal/privileged"
)

// Handle is the restart-capable view of the daemon.
type Handle interface {
	Running(ctx context.Context) (bool, error)
	Restart(ctx context.Context) error
}

// Noop never reports the daemon as running. Use it when the daemon is not
// managed by this tool.
type Noop struct{}

func (Noop) Running(context.Context) (bool, error) { return false, nil }
func (Noop) Restart(context.Context) error         { return nil }

// Script drives the daemon with shell snippets run through the privileged
// proxy. The status snippet must exit 0 exactly when the daemon runs.
type Script struct {
	proxy   privileged.Proxy
	status  string
	restart string
}

// NewScript returns a script-driven handle.
func NewScript(proxy privileged.Proxy, statusScript, restartScript string) *Script {
	return &Script{proxy: proxy, status: statusScript, restart: restartScript}
}

// PidFileScripts returns status and restart snippets that signal the process
// recorded in pidFile. sshd re-reads its configuration on SIGHUP.
func PidFileScripts(pidFile string) (status, restart string) {
	pid := `"$(cat -- ` + privileged.Quote(pidFile) + `)"`
	status = "kill -0 " + pid + " 2>/dev/null"
	restart = "kill -HUP " + pid
	return status, restart
}

// SystemctlScripts returns snippets that query and restart unit with
// systemctl. They serve hosts reached over SSH, where the local D-Bus
// connection cannot see the unit.
func SystemctlScripts(unit string) (status, restart string) {
	u := privileged.Quote(unit)
	return "systemctl is-active --quiet " + u, "systemctl restart " + u
}

// StoppedExitCode is the exit status Running maps to a stopped daemon, the
// LSB status code for "program is not running". Any other failure, such as
// sudo refusing to elevate, is reported as an error.
const StoppedExitCode = 3

// Running runs the status snippet. A snippet that fails means the daemon is
// stopped; failing to run it at all is an error.
func (s *Script) Running(ctx context.Context) (bool, error) {
	script := "if {\n" + s.status + "\n}; then exit 0; fi\nexit " + strconv.Itoa(StoppedExitCode)
	_, err := s.proxy.RunScript(ctx, script)
	if err == nil {
		return true, nil
	}
	var se *privileged.ScriptError
	if errors.As(err, &se) && se.ExitCode == StoppedExitCode {
		return false, nil
	}
	return false, fmt.Errorf("service status: %w", err)
}

// Restart runs the restart snippet.
func (s *Script) Restart(ctx context.Context) error {
	if _, err := s.proxy.RunScript(ctx, s.restart); err != nil {
		return fmt.Errorf("service restart: %w", err)
	}
	return nil
}
