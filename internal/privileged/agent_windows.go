//go:build windows

// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

package privileged

import (
	"net"
	"os"

	"github.com/Microsoft/go-winio"
	"github.com/davidmz/go-pageant"
	"golang.org/x/crypto/ssh/agent"
)

// getSSHAgent tries Pageant-compatible agents first, then the OpenSSH agent
// named pipe (SSH_AUTH_SOCK or the default pipe).
func getSSHAgent() agent.Agent {
	if pageant.Available() {
		return pageant.New()
	}

	var agentConn net.Conn
	var err error
	if sshAgentSocket := os.Getenv("SSH_AUTH_SOCK"); sshAgentSocket != "" {
		agentConn, err = winio.DialPipe(sshAgentSocket, nil)
	} else {
		agentConn, err = winio.DialPipe(`\\.\pipe\openssh-ssh-agent`, nil)
	}
	if err == nil && agentConn != nil {
		return agent.NewClient(agentConn)
	}
	return nil
}
