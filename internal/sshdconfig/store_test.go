// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

package sshdconfig

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"testing"

	"github.com/toeirei/keymaster-sshd/internal/privileged"
	"github.com/toeirei/keymaster-sshd/internal/testutil"
)

const testPath = "/etc/ssh/sshd_config"

// newLoadedStore returns a store loaded from content through a fake proxy.
func newLoadedStore(t *testing.T, content string, running bool) (*Store, *testutil.FakeProxy, *testutil.FakeService) {
	t.Helper()
	proxy := testutil.NewFakeProxy()
	proxy.ScriptFunc = func(string) ([]byte, error) { return []byte(content), nil }
	svc := testutil.NewFakeService(running)
	s := New(proxy, svc, Options{ConfigPath: testPath})
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	return s, proxy, svc
}

func TestLoad_DefaultsDoNotOverwrite(t *testing.T) {
	s, _, _ := newLoadedStore(t, "Port 2222\n", false)

	if v, _ := s.Get("Port"); v != "2222" {
		t.Fatalf("Port = %q, want 2222", v)
	}
	if v, _ := s.Get("PermitRootLogin"); v != "prohibit-password" {
		t.Fatalf("PermitRootLogin = %q", v)
	}
	if p, ok := s.AuthorizedKeysPath(); !ok || p != DefaultAuthorizedKeysPath {
		t.Fatalf("AuthorizedKeysPath() = %q, %v", p, ok)
	}
	if !s.Loaded() {
		t.Fatalf("expected Loaded() after successful load")
	}
}

func TestLoad_SeedsHostKeys(t *testing.T) {
	s, _, _ := newLoadedStore(t, "Port 22\n", false)
	if got := s.HostKeys(); !slices.Equal(got, DefaultHostKeys()) {
		t.Fatalf("HostKeys() = %v, want %v", got, DefaultHostKeys())
	}
}

func TestLoad_KeepsDeclaredHostKeys(t *testing.T) {
	s, _, _ := newLoadedStore(t, "HostKey /k/ed25519\nHostKey /k/ed25519\n", false)
	want := []string{"/k/ed25519", "/k/ed25519"}
	if got := s.HostKeys(); !slices.Equal(got, want) {
		t.Fatalf("HostKeys() = %v, want %v", got, want)
	}
}

func TestLoad_ScriptCarriesBaseline(t *testing.T) {
	_, proxy, _ := newLoadedStore(t, "", false)
	if len(proxy.Scripts) != 1 {
		t.Fatalf("expected one script, got %d", len(proxy.Scripts))
	}
	script := proxy.Scripts[0]
	for _, want := range []string{"HostKey " + DefaultRSAHostKeyPath, "PasswordAuthentication no", "cat -- " + testPath} {
		if !strings.Contains(script, want) {
			t.Fatalf("bootstrap script missing %q", want)
		}
	}
}

func TestLoad_Unreadable(t *testing.T) {
	proxy := testutil.NewFakeProxy()
	proxy.FailScript = true
	s := New(proxy, testutil.NewFakeService(true), Options{})

	err := s.Load(context.Background())
	if !errors.Is(err, ErrUnreadable) {
		t.Fatalf("expected ErrUnreadable, got %v", err)
	}
	if s.Loaded() {
		t.Fatalf("store must not report loaded")
	}
	if _, ok := s.Get("Port"); ok {
		t.Fatalf("degraded store must not answer lookups")
	}
	if len(s.HostKeys()) != 0 {
		t.Fatalf("degraded store must have no host keys")
	}
	if _, ok := s.AuthorizedKeysPath(); ok {
		t.Fatalf("degraded store must not resolve the authorized keys path")
	}
}

func TestMutationsRefusedWhenNotLoaded(t *testing.T) {
	proxy := testutil.NewFakeProxy()
	proxy.FailScript = true
	svc := testutil.NewFakeService(true)
	s := New(proxy, svc, Options{ConfigPath: testPath})
	ctx := context.Background()
	if err := s.Load(ctx); !errors.Is(err, ErrUnreadable) {
		t.Fatalf("Load() = %v, want ErrUnreadable", err)
	}

	tests := []struct {
		name string
		op   func() error
	}{
		{"AddOrUpdate", func() error { return s.AddOrUpdate(ctx, "Port", "2222") }},
		{"Remove", func() error { return s.Remove(ctx, "Port") }},
		{"Apply", func() error { return s.Apply(ctx, map[string]string{"Port": "2222"}) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.op(); !errors.Is(err, ErrNotLoaded) {
				t.Fatalf("%s() = %v, want ErrNotLoaded", tt.name, err)
			}
		})
	}
	if proxy.WriteCount() != 0 || svc.Restarts() != 0 {
		t.Fatalf("writes=%d restarts=%d, want 0/0", proxy.WriteCount(), svc.Restarts())
	}
}

func TestLoad_ReloadReplacesState(t *testing.T) {
	content := "Port 2200\nUseDNS no\n"
	proxy := testutil.NewFakeProxy()
	proxy.ScriptFunc = func(string) ([]byte, error) { return []byte(content), nil }
	s := New(proxy, nil, Options{})
	ctx := context.Background()
	if err := s.Load(ctx); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	content = "Port 2201\n"
	if err := s.Load(ctx); err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if _, ok := s.Get("UseDNS"); ok {
		t.Fatalf("reload kept a directive that is gone from the file")
	}
	if v, _ := s.Get("Port"); v != "2201" {
		t.Fatalf("Port = %q", v)
	}
}

func TestAddOrUpdate_WritesAndRestartsOnce(t *testing.T) {
	s, proxy, svc := newLoadedStore(t, "Port 22\n", true)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := s.AddOrUpdate(ctx, "Port", "2222"); err != nil {
			t.Fatalf("AddOrUpdate #%d failed: %v", i, err)
		}
	}
	if proxy.WriteCount() != 1 {
		t.Fatalf("writes = %d, want 1", proxy.WriteCount())
	}
	if svc.Restarts() != 1 {
		t.Fatalf("restarts = %d, want 1", svc.Restarts())
	}
	written := proxy.File(testPath)
	if !strings.Contains(written, "\nPort 2222\n") {
		t.Fatalf("written file lacks new value:\n%s", written)
	}
	if !strings.HasPrefix(written, "HostKey ") {
		t.Fatalf("host keys must come first:\n%s", written)
	}
}

func TestAddOrUpdate_NormalizesWhitespace(t *testing.T) {
	s, proxy, _ := newLoadedStore(t, "Subsystem sftp internal-sftp\n", false)
	if err := s.AddOrUpdate(context.Background(), "Subsystem", "  sftp   internal-sftp "); err != nil {
		t.Fatalf("AddOrUpdate failed: %v", err)
	}
	if proxy.WriteCount() != 0 {
		t.Fatalf("equivalent value must not trigger a write")
	}
}

func TestAddOrUpdate_Invalid(t *testing.T) {
	s, proxy, _ := newLoadedStore(t, "", false)
	tests := []struct{ key, value string }{
		{"", "x"},
		{"Bad Key", "x"},
		{"Foo\u00a0Bar", "x"},
		{"Foo\vBar", "x"},
		{"Foo\fBar", "x"},
		{"#Port", "22"},
		{HostKeyDirective, "/etc/ssh/k"},
		{"Port", "   "},
	}
	for _, tt := range tests {
		if err := s.AddOrUpdate(context.Background(), tt.key, tt.value); !errors.Is(err, ErrInvalidDirective) {
			t.Fatalf("AddOrUpdate(%q, %q) = %v, want ErrInvalidDirective", tt.key, tt.value, err)
		}
	}
	if proxy.WriteCount() != 0 {
		t.Fatalf("invalid directives must not be written")
	}
}

func TestRestartGating(t *testing.T) {
	tests := []struct {
		name       string
		running    bool
		runningErr error
		want       int
	}{
		{"running", true, nil, 1},
		{"stopped", false, nil, 0},
		{"status unknown", true, errors.New("dbus down"), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _, svc := newLoadedStore(t, "", tt.running)
			svc.RunningErr = tt.runningErr
			if err := s.AddOrUpdate(context.Background(), "UseDNS", "no"); err != nil {
				t.Fatalf("AddOrUpdate failed: %v", err)
			}
			if svc.Restarts() != tt.want {
				t.Fatalf("restarts = %d, want %d", svc.Restarts(), tt.want)
			}
		})
	}
}

func TestRestartFailureIsNotReturned(t *testing.T) {
	s, proxy, svc := newLoadedStore(t, "", true)
	svc.RestartErr = errors.New("unit failed")
	if err := s.AddOrUpdate(context.Background(), "UseDNS", "no"); err != nil {
		t.Fatalf("restart failure leaked to caller: %v", err)
	}
	if proxy.WriteCount() != 1 {
		t.Fatalf("writes = %d, want 1", proxy.WriteCount())
	}
}

func TestRemove(t *testing.T) {
	s, proxy, svc := newLoadedStore(t, "UseDNS no\n", true)
	ctx := context.Background()

	if err := s.Remove(ctx, "NoSuchDirective"); err != nil {
		t.Fatalf("Remove absent failed: %v", err)
	}
	if proxy.WriteCount() != 0 || svc.Restarts() != 0 {
		t.Fatalf("removing an absent directive must be a no-op")
	}
	if err := s.Remove(ctx, "UseDNS"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, ok := s.Get("UseDNS"); ok {
		t.Fatalf("UseDNS still present")
	}
	if strings.Contains(proxy.File(testPath), "UseDNS") {
		t.Fatalf("UseDNS still written")
	}
	if proxy.WriteCount() != 1 || svc.Restarts() != 1 {
		t.Fatalf("writes=%d restarts=%d, want 1/1", proxy.WriteCount(), svc.Restarts())
	}
}

func TestWriteFailure(t *testing.T) {
	s, proxy, svc := newLoadedStore(t, "", true)
	proxy.FailWrite = true

	err := s.AddOrUpdate(context.Background(), "Port", "2022")
	if !errors.Is(err, testutil.ErrFakeUnavailable) {
		t.Fatalf("expected write error, got %v", err)
	}
	if v, _ := s.Get("Port"); v != "2022" {
		t.Fatalf("in-memory value = %q, want 2022 (no rollback)", v)
	}
	if svc.Restarts() != 0 {
		t.Fatalf("failed write must not restart the daemon")
	}
}

func TestApply(t *testing.T) {
	s, proxy, svc := newLoadedStore(t, "HostKey /k/rsa\nPort 22\n", true)
	ctx := context.Background()
	next := map[string]string{"Port": "2022", "AuthorizedKeysFile": "/srv/keys"}

	if err := s.Apply(ctx, next); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if err := s.Apply(ctx, next); err != nil {
		t.Fatalf("second Apply failed: %v", err)
	}
	if proxy.WriteCount() != 1 || svc.Restarts() != 1 {
		t.Fatalf("writes=%d restarts=%d, want 1/1", proxy.WriteCount(), svc.Restarts())
	}
	want := "HostKey /k/rsa\nAuthorizedKeysFile /srv/keys\nPort 2022\n"
	if got := proxy.File(testPath); got != want {
		t.Fatalf("file =\n%q\nwant\n%q", got, want)
	}
	if err := s.Apply(ctx, map[string]string{HostKeyDirective: "/x"}); !errors.Is(err, ErrInvalidDirective) {
		t.Fatalf("Apply with HostKey = %v, want ErrInvalidDirective", err)
	}
}

func TestAuditEvents(t *testing.T) {
	proxy := testutil.NewFakeProxy()
	proxy.ScriptFunc = func(string) ([]byte, error) { return nil, nil }
	audit := &testutil.FakeAuditWriter{Err: errors.New("journal offline")}
	s := New(proxy, nil, Options{Audit: audit})
	ctx := context.Background()
	if err := s.Load(ctx); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if err := s.AddOrUpdate(ctx, "UseDNS", "no"); err != nil {
		t.Fatalf("AddOrUpdate failed: %v", err)
	}
	if err := s.Remove(ctx, "UseDNS"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if err := s.Apply(ctx, map[string]string{"Port": "22"}); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	want := []string{ActionSetDirective, ActionRemoveDirective, ActionApplyDirectives}
	if !slices.Equal(audit.Actions, want) {
		t.Fatalf("audit actions = %v, want %v", audit.Actions, want)
	}
	if audit.Details[0] != "UseDNS=no" {
		t.Fatalf("audit details = %q", audit.Details[0])
	}
}

func TestStore_WithLocalShell(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	dir := t.TempDir()
	cfg := filepath.Join(dir, "ssh", "sshd_config")
	proxy := privileged.NewExecProxy(privileged.ShellOnly)
	s := New(proxy, nil, Options{ConfigPath: cfg, Defaults: DefaultDirectives(filepath.Join(dir, "keys"))})
	ctx := context.Background()

	if err := s.Load(ctx); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	created, err := os.ReadFile(cfg)
	if err != nil {
		t.Fatalf("bootstrap did not create the file: %v", err)
	}
	if string(created) != string(Serialize(s.All(), s.HostKeys())) {
		t.Fatalf("created file does not match loaded state:\n%s", created)
	}

	if err := s.AddOrUpdate(ctx, "Port", "2222"); err != nil {
		t.Fatalf("AddOrUpdate failed: %v", err)
	}
	reloaded := New(proxy, nil, Options{ConfigPath: cfg})
	if err := reloaded.Load(ctx); err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if v, _ := reloaded.Get("Port"); v != "2222" {
		t.Fatalf("Port after reload = %q", v)
	}
	if p, _ := reloaded.AuthorizedKeysPath(); p != filepath.Join(dir, "keys") {
		t.Fatalf("AuthorizedKeysPath() = %q", p)
	}
}
