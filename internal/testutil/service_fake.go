// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

package testutil

import (
	"context"
	"sync"
)

// FakeService is a service handle that records restarts.
type FakeService struct {
	mu         sync.Mutex
	running    bool
	restarts   int
	RunningErr error
	RestartErr error
}

// NewFakeService returns a FakeService in the given running state.
func NewFakeService(running bool) *FakeService {
	return &FakeService{running: running}
}

func (s *FakeService) Running(context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.RunningErr != nil {
		return false, s.RunningErr
	}
	return s.running, nil
}

func (s *FakeService) Restart(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restarts++
	return s.RestartErr
}

// SetRunning changes the reported running state.
func (s *FakeService) SetRunning(running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = running
}

// Restarts returns how many times Restart was called.
func (s *FakeService) Restarts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restarts
}
