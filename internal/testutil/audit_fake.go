// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

package testutil

import "sync"

// FakeAuditWriter collects audit events in memory.
type FakeAuditWriter struct {
	mu      sync.Mutex
	Actions []string
	Details []string
	Err     error
}

func (w *FakeAuditWriter) LogAction(action, details string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Actions = append(w.Actions, action)
	w.Details = append(w.Details, details)
	return w.Err
}

// Count returns the number of recorded events.
func (w *FakeAuditWriter) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.Actions)
}
