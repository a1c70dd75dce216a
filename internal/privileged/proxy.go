// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

// Package privileged performs file reads, file writes and shell scripts with
// elevated filesystem access. The stores never touch protected paths
// directly; they go through a Proxy.
package privileged

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kballard/go-shellquote"
)

// ErrUnavailable is returned when the elevated channel itself cannot be
// used (the elevation command cannot start, the SSH connection is gone).
var ErrUnavailable = errors.New("privileged channel unavailable")

// Proxy is the elevated-access collaborator consumed by the stores.
// WriteFile always replaces the whole file.
type Proxy interface {
	ReadFile(ctx context.Context, path string) ([]byte, error)
	WriteFile(ctx context.Context, path string, content []byte) error
	RunScript(ctx context.Context, script string) ([]byte, error)
}

// ScriptError reports a script that ran but exited unsuccessfully.
type ScriptError struct {
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ScriptError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		return fmt.Sprintf("script exited with status %d", e.ExitCode)
	}
	return fmt.Sprintf("script exited with status %d: %s", e.ExitCode, msg)
}

func (e *ScriptError) Unwrap() error { return e.Err }

// Quote returns path quoted for use inside a POSIX shell script.
func Quote(path string) string {
	return shellquote.Join(path)
}

func readScript(path string) string {
	return "cat -- " + Quote(path)
}

func writeScript(path string) string {
	return "cat > " + Quote(path)
}
