// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

package testutil

import (
	"context"
	"errors"
	"sync"
)

// ErrFakeUnavailable is returned by FakeProxy when a failure is injected.
var ErrFakeUnavailable = errors.New("fake proxy unavailable")

// FakeProxy is an in-memory privileged proxy. Files live in a map; scripts
// are answered by ScriptFunc (or fail when it is nil).
type FakeProxy struct {
	mu sync.Mutex

	Files map[string][]byte

	// ScriptFunc, if set, answers RunScript calls.
	ScriptFunc func(script string) ([]byte, error)

	FailRead   bool
	FailWrite  bool
	FailScript bool

	Writes  []FakeWrite
	Scripts []string
}

// FakeWrite records one WriteFile call.
type FakeWrite struct {
	Path    string
	Content string
}

// NewFakeProxy returns an empty FakeProxy.
func NewFakeProxy() *FakeProxy {
	return &FakeProxy{Files: map[string][]byte{}}
}

func (f *FakeProxy) ReadFile(_ context.Context, path string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailRead {
		return nil, ErrFakeUnavailable
	}
	data, ok := f.Files[path]
	if !ok {
		return nil, errors.New("no such file: " + path)
	}
	return append([]byte(nil), data...), nil
}

func (f *FakeProxy) WriteFile(_ context.Context, path string, content []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailWrite {
		return ErrFakeUnavailable
	}
	f.Files[path] = append([]byte(nil), content...)
	f.Writes = append(f.Writes, FakeWrite{Path: path, Content: string(content)})
	return nil
}

func (f *FakeProxy) RunScript(_ context.Context, script string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Scripts = append(f.Scripts, script)
	if f.FailScript || f.ScriptFunc == nil {
		return nil, ErrFakeUnavailable
	}
	return f.ScriptFunc(script)
}

// WriteCount returns the number of successful WriteFile calls.
func (f *FakeProxy) WriteCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Writes)
}

// File returns the current content of path as a string.
func (f *FakeProxy) File(path string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return string(f.Files[path])
}
