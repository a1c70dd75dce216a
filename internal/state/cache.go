// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

// Package state holds transient secrets shared between the CLI prompt and
// the remote privileged proxy.
package state

import "sync"

// PassphraseCache carries the identity file passphrase from the prompt to
// the SSH dialer. Values are byte slices so they can be wiped.
var PassphraseCache = &secretMailbox{}

type secretMailbox struct {
	mu    sync.RWMutex
	value []byte
}

// Set stores a copy of secret, replacing and wiping any previous value.
func (m *secretMailbox) Set(secret []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wipe(m.value)
	if secret == nil {
		m.value = nil
		return
	}
	m.value = append([]byte(nil), secret...)
}

// Get returns a copy of the stored secret, or nil. The caller wipes it.
func (m *secretMailbox) Get() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.value == nil {
		return nil
	}
	return append([]byte(nil), m.value...)
}

// Has reports whether a secret is stored.
func (m *secretMailbox) Has() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.value != nil
}

// Clear wipes the stored secret.
func (m *secretMailbox) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	wipe(m.value)
	m.value = nil
}

// Wipe zeroes b in place.
func Wipe(b []byte) { wipe(b) }

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
