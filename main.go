// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

// Command-line entrypoint for keymaster-sshd.
//
// Usage:
//
//	go run . [flags]
//	./keymaster-sshd [command] [flags]
//
// Without a command the interactive TUI starts. See --help for options.
package main

import (
	"os"

	"github.com/toeirei/keymaster-sshd/internal/logging"
	"github.com/toeirei/keymaster-sshd/ui/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		logging.Errorf("%v", err)
		os.Exit(1)
	}
}
