// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

// Package authkeys keeps the daemon's authorized keys file in memory and
// writes every change straight back through the privileged proxy.
package authkeys

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/toeirei/keymaster-sshd/internal/logging"
	"github.com/toeirei/keymaster-sshd/internal/privileged"
	"github.com/toeirei/keymaster-sshd/internal/sshkey"
)

var (
	// ErrUnreadable is returned by Load when the file could not be read.
	ErrUnreadable = errors.New("authorized keys unreadable")
	// ErrOutOfRange is returned by RemoveKey for a position outside the list.
	ErrOutOfRange = errors.New("key position out of range")
	// ErrNoPath means the daemon config names no authorized keys file.
	ErrNoPath = errors.New("authorized keys path not configured")
	// ErrNotLoaded refuses AddFromReader and RemoveKey while the file
	// content is unknown. Writing then would drop the keys on disk.
	ErrNotLoaded = errors.New("authorized keys not loaded")
)

// Audit actions recorded after a successful save.
const (
	ActionAddKeys     = "ADD_AUTHORIZED_KEYS"
	ActionRemoveKey   = "REMOVE_AUTHORIZED_KEY"
	ActionReplaceKeys = "REPLACE_AUTHORIZED_KEYS"
)

// maxLineSize bounds a single key line.
const maxLineSize = 1 << 20

// PathFunc resolves the authorized keys file location. It is consulted on
// every load and save so config changes take effect immediately.
type PathFunc func() (string, bool)

// AuditWriter records key changes.
type AuditWriter interface {
	LogAction(action, details string) error
}

// Options tunes a Store.
type Options struct {
	Audit AuditWriter
}

// Store holds the authorized key list.
type Store struct {
	proxy privileged.Proxy
	path  PathFunc
	audit AuditWriter

	mu     sync.Mutex
	keys   []sshkey.AuthorizedKey
	loaded bool
}

// New builds an empty store. Call Load to read the file.
func New(proxy privileged.Proxy, path PathFunc, opts Options) *Store {
	return &Store{proxy: proxy, path: path, audit: opts.Audit}
}

// Load reads and parses the file. A file that does not exist loads as an
// empty list. On any other failure the list is empty, the store refuses
// incremental changes and the returned error wraps ErrUnreadable or
// ErrNoPath.
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.keys = nil
	s.loaded = false

	p, err := s.resolve()
	if err != nil {
		logging.Warnf("authorized keys not loaded: %v", err)
		return err
	}
	data, err := s.proxy.ReadFile(ctx, p)
	if err != nil && s.absent(ctx, p) {
		s.loaded = true
		logging.Infof("authorized keys file %s does not exist yet", p)
		return nil
	}
	if err != nil {
		logging.Warnf("authorized keys loading error for %s: %v", p, err)
		return fmt.Errorf("%w: %s: %w", ErrUnreadable, p, err)
	}
	s.keys = Parse(strings.NewReader(string(data)))
	s.loaded = true
	logging.Debugf("loaded %d authorized keys from %s", len(s.keys), p)
	return nil
}

// absent reports whether p is known not to exist. A failed check counts as
// present.
func (s *Store) absent(ctx context.Context, p string) bool {
	out, err := s.proxy.RunScript(ctx, "if [ -e "+privileged.Quote(p)+" ]; then echo present; else echo absent; fi")
	return err == nil && strings.TrimSpace(string(out)) == "absent"
}

// Loaded reports whether the last Load succeeded.
func (s *Store) Loaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

// Keys returns a copy of the list in file order.
func (s *Store) Keys() []sshkey.AuthorizedKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sshkey.AuthorizedKey(nil), s.keys...)
}

// AddFromReader appends every well-formed key line read from r and saves
// the file. It returns the number of keys added; nothing is written when r
// holds no usable line.
func (s *Store) AddFromReader(ctx context.Context, r io.Reader) (int, error) {
	added := Parse(r)
	if len(added) == 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return 0, ErrNotLoaded
	}

	next := append(append([]sshkey.AuthorizedKey(nil), s.keys...), added...)
	if err := s.save(ctx, next, ActionAddKeys, fmt.Sprintf("count=%d", len(added))); err != nil {
		return 0, err
	}
	return len(added), nil
}

// RemoveKey deletes the key at position and saves the file.
func (s *Store) RemoveKey(ctx context.Context, position int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return ErrNotLoaded
	}

	if position < 0 || position >= len(s.keys) {
		return fmt.Errorf("%w: %d (have %d keys)", ErrOutOfRange, position, len(s.keys))
	}
	removed := s.keys[position]
	next := make([]sshkey.AuthorizedKey, 0, len(s.keys)-1)
	next = append(next, s.keys[:position]...)
	next = append(next, s.keys[position+1:]...)
	return s.save(ctx, next, ActionRemoveKey, fmt.Sprintf("position=%d, type=%s, comment=%s", position, removed.Algorithm(), removed.Comment))
}

// Replace swaps the whole list and saves the file. It does not depend on
// the previous content, so it also works on a store that failed to load.
func (s *Store) Replace(ctx context.Context, keys []sshkey.AuthorizedKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := append([]sshkey.AuthorizedKey(nil), keys...)
	return s.save(ctx, next, ActionReplaceKeys, fmt.Sprintf("count=%d", len(next)))
}

// save writes next and adopts it as the in-memory list. Callers hold s.mu.
func (s *Store) save(ctx context.Context, next []sshkey.AuthorizedKey, action, details string) error {
	p, err := s.resolve()
	if err != nil {
		return err
	}
	// Not rolled back on a failed write.
	s.keys = next
	if err := s.proxy.WriteFile(ctx, p, Format(next)); err != nil {
		logging.Errorf("failed to write %s: %v", p, err)
		return fmt.Errorf("write %s: %w", p, err)
	}
	if s.audit != nil {
		if err := s.audit.LogAction(action, details); err != nil {
			logging.Warnf("audit %s: %v", action, err)
		}
	}
	return nil
}

func (s *Store) resolve() (string, error) {
	if s.path == nil {
		return "", ErrNoPath
	}
	p, ok := s.path()
	if !ok || p == "" {
		return "", ErrNoPath
	}
	return p, nil
}

// Parse reads key lines from r. Lines with fewer than three fields and
// lines longer than maxLineSize are dropped.
func Parse(r io.Reader) []sshkey.AuthorizedKey {
	var keys []sshkey.AuthorizedKey
	br := bufio.NewReader(r)
	dropped := 0
	for {
		line, tooLong, err := readLine(br)
		switch {
		case tooLong:
			dropped++
		case strings.TrimSpace(line) == "":
		default:
			if k, ok := sshkey.ParseLine(line); ok {
				keys = append(keys, k)
			} else {
				dropped++
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logging.Warnf("authorized keys parsing stopped: %v", err)
			}
			break
		}
	}
	if dropped > 0 {
		logging.Debugf("dropped %d malformed authorized key lines", dropped)
	}
	return keys
}

// readLine returns the next line without its terminator. An overlong line
// is consumed completely and reported with tooLong set.
func readLine(br *bufio.Reader) (string, bool, error) {
	var buf []byte
	tooLong := false
	for {
		chunk, err := br.ReadSlice('\n')
		if !tooLong {
			if len(buf)+len(chunk) > maxLineSize+2 {
				tooLong, buf = true, nil
			} else {
				buf = append(buf, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return strings.TrimRight(string(buf), "\r\n"), tooLong, err
	}
}

// Format renders one line per key joined by newlines, with a trailing
// newline when the list is not empty.
func Format(keys []sshkey.AuthorizedKey) []byte {
	if len(keys) == 0 {
		return []byte{}
	}
	lines := make([]string, len(keys))
	for i, k := range keys {
		lines[i] = k.String()
	}
	return []byte(strings.Join(lines, "\n") + "\n")
}
