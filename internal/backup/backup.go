// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

// Package backup writes and reads zstd-compressed JSON snapshots of the
// daemon config and the authorized keys.
package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/toeirei/keymaster-sshd/internal/sshkey"
)

// SchemaVersion is written into every snapshot.
const SchemaVersion = 1

// ErrSchemaVersion rejects snapshots written by a newer release.
var ErrSchemaVersion = errors.New("unsupported backup schema version")

// Snapshot is the serialized state of both stores.
type Snapshot struct {
	SchemaVersion  int               `json:"schema_version"`
	CreatedAt      time.Time         `json:"created_at"`
	Directives     map[string]string `json:"directives"`
	HostKeys       []string          `json:"host_keys"`
	AuthorizedKeys []string          `json:"authorized_keys"`
}

// New captures the given state. Keys are stored as authorized_keys lines so
// unknown key types survive a restore.
func New(directives map[string]string, hostKeys []string, keys []sshkey.AuthorizedKey) *Snapshot {
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, k.String())
	}
	return &Snapshot{
		SchemaVersion:  SchemaVersion,
		CreatedAt:      time.Now().UTC(),
		Directives:     directives,
		HostKeys:       hostKeys,
		AuthorizedKeys: lines,
	}
}

// Keys parses the stored key lines, skipping any that are malformed.
func (s *Snapshot) Keys() []sshkey.AuthorizedKey {
	out := make([]sshkey.AuthorizedKey, 0, len(s.AuthorizedKeys))
	for _, line := range s.AuthorizedKeys {
		if k, ok := sshkey.ParseLine(line); ok {
			out = append(out, k)
		}
	}
	return out
}

// Write streams snap as indented JSON through a zstd encoder.
func Write(w io.Writer, snap *Snapshot) error {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("create zstd writer: %w", err)
	}
	enc := json.NewEncoder(zw)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		_ = zw.Close()
		return fmt.Errorf("encode backup: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("flush zstd writer: %w", err)
	}
	return nil
}

// Read decodes a snapshot written by Write.
func Read(r io.Reader) (*Snapshot, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("create zstd reader: %w", err)
	}
	defer zr.Close()
	var snap Snapshot
	if err := json.NewDecoder(zr).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode backup: %w", err)
	}
	if snap.SchemaVersion > SchemaVersion {
		return nil, fmt.Errorf("%w: %d", ErrSchemaVersion, snap.SchemaVersion)
	}
	return &snap, nil
}

// FileName appends .zst unless name already carries it. An empty name
// yields a dated default.
func FileName(name string, now time.Time) string {
	if name == "" {
		return fmt.Sprintf("keymaster-sshd-backup-%s.json.zst", now.Format("2006-01-02"))
	}
	if !strings.HasSuffix(name, ".zst") {
		name += ".zst"
	}
	return name
}

// WriteFile creates path and writes snap into it.
func WriteFile(path string, snap *Snapshot) (err error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("could not create file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()
	return Write(f, snap)
}

// ReadFile opens path and decodes the snapshot inside.
func ReadFile(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open file: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Read(f)
}

// DirectiveApplier replaces the daemon directives in one save.
type DirectiveApplier interface {
	Apply(ctx context.Context, directives map[string]string) error
}

// KeyReplacer replaces the authorized key list in one save.
type KeyReplacer interface {
	Replace(ctx context.Context, keys []sshkey.AuthorizedKey) error
}

// Restore writes the snapshot's directives and keys back. Host keys are not
// restored.
func Restore(ctx context.Context, snap *Snapshot, cfg DirectiveApplier, keys KeyReplacer) error {
	if len(snap.Directives) > 0 {
		if err := cfg.Apply(ctx, snap.Directives); err != nil {
			return fmt.Errorf("restore directives: %w", err)
		}
	}
	if err := keys.Replace(ctx, snap.Keys()); err != nil {
		return fmt.Errorf("restore authorized keys: %w", err)
	}
	return nil
}
