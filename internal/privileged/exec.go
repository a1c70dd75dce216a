// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

package privileged

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"

	"github.com/toeirei/keymaster-sshd/internal/logging"
)

// Elevation command prefixes. The script is appended as the final argument.
var (
	SudoCommand = []string{"sudo", "-n", "sh", "-c"}
	SuCommand   = []string{"su", "root", "-c"}
	ShellOnly   = []string{"sh", "-c"}
)

// ExecProxy runs scripts on the local machine through an elevation command
// such as sudo or su.
type ExecProxy struct {
	command []string
}

// NewExecProxy returns a proxy that runs every script as
// command[0] command[1:]... <script>. An empty command falls back to sh -c.
func NewExecProxy(command []string) *ExecProxy {
	if len(command) == 0 {
		command = ShellOnly
	}
	c := make([]string, len(command))
	copy(c, command)
	return &ExecProxy{command: c}
}

// Command returns the elevation prefix in use.
func (p *ExecProxy) Command() []string {
	out := make([]string, len(p.command))
	copy(out, p.command)
	return out
}

// ReadFile returns the content of path.
func (p *ExecProxy) ReadFile(ctx context.Context, path string) ([]byte, error) {
	out, err := p.run(ctx, readScript(path), nil)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return out, nil
}

// WriteFile replaces path with content.
func (p *ExecProxy) WriteFile(ctx context.Context, path string, content []byte) error {
	if _, err := p.run(ctx, writeScript(path), content); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// RunScript runs script and returns its standard output.
func (p *ExecProxy) RunScript(ctx context.Context, script string) ([]byte, error) {
	return p.run(ctx, script, nil)
}

func (p *ExecProxy) run(ctx context.Context, script string, stdin []byte) ([]byte, error) {
	args := append(append([]string{}, p.command[1:]...), script)
	cmd := exec.CommandContext(ctx, p.command[0], args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	logging.Debugf("privileged: exec %s (%d bytes stdin)", p.command[0], len(stdin))
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return stdout.Bytes(), &ScriptError{ExitCode: exitErr.ExitCode(), Stderr: stderr.String(), Err: err}
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return stdout.Bytes(), nil
}
