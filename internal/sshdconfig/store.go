// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

package sshdconfig

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"
	"unicode"

	"github.com/toeirei/keymaster-sshd/internal/logging"
	"github.com/toeirei/keymaster-sshd/internal/privileged"
	"github.com/toeirei/keymaster-sshd/internal/service"
)

var (
	// ErrUnreadable is returned by Load when the config file could not be
	// obtained through the privileged proxy.
	ErrUnreadable = errors.New("sshd config unreadable")
	// ErrInvalidDirective rejects names and values that would not survive
	// a write and reload.
	ErrInvalidDirective = errors.New("invalid directive")
	// ErrNotLoaded refuses mutations on a store whose last Load failed.
	// Saving it would replace the file with the empty in-memory state.
	ErrNotLoaded = errors.New("sshd config not loaded")
)

// Audit actions recorded after a successful save.
const (
	ActionSetDirective    = "SET_DIRECTIVE"
	ActionRemoveDirective = "REMOVE_DIRECTIVE"
	ActionApplyDirectives = "APPLY_DIRECTIVES"
)

// AuditWriter records configuration changes.
type AuditWriter interface {
	LogAction(action, details string) error
}

// Options tunes a Store. Zero values select the stock OpenSSH layout.
type Options struct {
	ConfigPath      string
	Defaults        map[string]string
	DefaultHostKeys []string
	Audit           AuditWriter
}

// Store is the in-memory view of the daemon config file.
type Store struct {
	proxy privileged.Proxy
	svc   service.Handle
	audit AuditWriter

	path            string
	defaults        map[string]string
	defaultHostKeys []string

	mu         sync.Mutex
	directives map[string]string
	hostKeys   []string
	loaded     bool
}

// New builds an empty store. Call Load to read the file.
func New(proxy privileged.Proxy, svc service.Handle, opts Options) *Store {
	if svc == nil {
		svc = service.Noop{}
	}
	s := &Store{
		proxy:           proxy,
		svc:             svc,
		audit:           opts.Audit,
		path:            opts.ConfigPath,
		defaults:        maps.Clone(opts.Defaults),
		defaultHostKeys: append([]string(nil), opts.DefaultHostKeys...),
		directives:      make(map[string]string),
	}
	if s.path == "" {
		s.path = DefaultConfigPath
	}
	if s.defaults == nil {
		s.defaults = DefaultDirectives("")
	}
	if len(s.defaultHostKeys) == 0 {
		s.defaultHostKeys = DefaultHostKeys()
	}
	return s
}

// Path returns the config file location.
func (s *Store) Path() string { return s.path }

// Load creates the file from defaults when it is missing, then reads it.
// On failure the store is left empty but usable and the returned error
// wraps ErrUnreadable.
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.directives = make(map[string]string)
	s.hostKeys = nil
	s.loaded = false

	baseline := Serialize(s.defaults, s.defaultHostKeys)
	out, err := s.proxy.RunScript(ctx, BootstrapScript(s.path, baseline))
	if err != nil {
		logging.Warnf("sshd config loading error for %s: %v", s.path, err)
		return fmt.Errorf("%w: %s: %w", ErrUnreadable, s.path, err)
	}

	directives, hostKeys := Parse(out)
	filled := fillDefaults(directives, s.defaults)
	if len(hostKeys) == 0 {
		hostKeys = append([]string(nil), s.defaultHostKeys...)
	}
	s.directives = directives
	s.hostKeys = hostKeys
	s.loaded = true
	logging.Debugf("loaded %s: %d directives (%d defaulted), %d host keys", s.path, len(directives), filled, len(hostKeys))
	return nil
}

// Loaded reports whether the last Load succeeded.
func (s *Store) Loaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

// Get returns the value of a directive. HostKey is never present here.
func (s *Store) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.directives[key]
	return v, ok
}

// All returns a copy of the directive map.
func (s *Store) All() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.directives)
}

// HostKeys returns a copy of the host key list in file order.
func (s *Store) HostKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.hostKeys...)
}

// AuthorizedKeysPath resolves the first path of the AuthorizedKeysFile
// directive.
func (s *Store) AuthorizedKeysPath() (string, bool) {
	v, ok := s.Get(AuthorizedKeysDirective)
	if !ok {
		return "", false
	}
	fields := strings.Fields(v)
	if len(fields) == 0 {
		return "", false
	}
	return fields[0], true
}

// AddOrUpdate sets a directive and persists the file. Setting a directive
// to its current value does nothing.
func (s *Store) AddOrUpdate(ctx context.Context, key, value string) error {
	value = normalizeValue(value)
	if err := validate(key, value); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return s.notLoaded()
	}
	if cur, ok := s.directives[key]; ok && cur == value {
		return nil
	}
	s.directives[key] = value
	return s.save(ctx, ActionSetDirective, key+"="+value)
}

// Remove deletes a directive and persists the file. Removing an absent
// directive does nothing.
func (s *Store) Remove(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return s.notLoaded()
	}
	if _, ok := s.directives[key]; !ok {
		return nil
	}
	delete(s.directives, key)
	return s.save(ctx, ActionRemoveDirective, key)
}

// Apply replaces the whole directive map with a single save. Host keys are
// left untouched.
func (s *Store) Apply(ctx context.Context, directives map[string]string) error {
	next := make(map[string]string, len(directives))
	for key, value := range directives {
		value = normalizeValue(value)
		if err := validate(key, value); err != nil {
			return err
		}
		next[key] = value
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return s.notLoaded()
	}
	if maps.Equal(next, s.directives) {
		return nil
	}
	s.directives = next
	return s.save(ctx, ActionApplyDirectives, fmt.Sprintf("directives=%d", len(next)))
}

// save writes the full file and restarts the daemon if it is running.
// Callers hold s.mu.
func (s *Store) save(ctx context.Context, action, details string) error {
	content := Serialize(s.directives, s.hostKeys)
	if err := s.proxy.WriteFile(ctx, s.path, content); err != nil {
		logging.Errorf("failed to write %s: %v", s.path, err)
		return fmt.Errorf("write %s: %w", s.path, err)
	}
	if s.audit != nil {
		if err := s.audit.LogAction(action, details); err != nil {
			logging.Warnf("audit %s: %v", action, err)
		}
	}
	s.restartIfRunning(ctx)
	return nil
}

func (s *Store) restartIfRunning(ctx context.Context) {
	running, err := s.svc.Running(ctx)
	if err != nil {
		logging.Warnf("sshd status check failed, not restarting: %v", err)
		return
	}
	if !running {
		return
	}
	if err := s.svc.Restart(ctx); err != nil {
		logging.Errorf("sshd restart failed: %v", err)
		return
	}
	logging.Infof("sshd restarted after config change")
}

func (s *Store) notLoaded() error {
	return fmt.Errorf("%w: %s", ErrNotLoaded, s.path)
}

// normalizeValue collapses whitespace the same way Parse does.
func normalizeValue(value string) string {
	return strings.Join(strings.Fields(value), " ")
}

func validate(key, value string) error {
	switch {
	case key == "" || strings.IndexFunc(key, unicode.IsSpace) >= 0 || key[0] == '#':
		return fmt.Errorf("%w: name %q", ErrInvalidDirective, key)
	case key == HostKeyDirective:
		return fmt.Errorf("%w: %s is managed as a list", ErrInvalidDirective, HostKeyDirective)
	case value == "":
		return fmt.Errorf("%w: %s needs a value", ErrInvalidDirective, key)
	}
	return nil
}
