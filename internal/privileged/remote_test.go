// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

package privileged

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

type mockFile struct {
	data []byte
	mode os.FileMode
}

type mockFileInfo struct {
	name string
	mode os.FileMode
	size int64
}

func (m mockFileInfo) Name() string       { return m.name }
func (m mockFileInfo) Size() int64        { return m.size }
func (m mockFileInfo) Mode() os.FileMode  { return m.mode }
func (m mockFileInfo) ModTime() time.Time { return time.Time{} }
func (m mockFileInfo) IsDir() bool        { return false }
func (m mockFileInfo) Sys() any           { return nil }

type mockWriter struct {
	buf    bytes.Buffer
	commit func([]byte)
}

func (w *mockWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }
func (w *mockWriter) Close() error                { w.commit(w.buf.Bytes()); return nil }

// mockSftp is an in-memory sftpRaw recording every action.
type mockSftp struct {
	files     map[string]*mockFile
	actions   []string
	renameErr error
}

func newMockSftpClient() *mockSftp {
	return &mockSftp{files: map[string]*mockFile{}}
}

func (m *mockSftp) Open(p string) (io.ReadCloser, error) {
	m.actions = append(m.actions, "open "+p)
	f, ok := m.files[p]
	if !ok {
		return nil, os.ErrNotExist
	}
	return io.NopCloser(bytes.NewReader(f.data)), nil
}

func (m *mockSftp) Create(p string) (io.WriteCloser, error) {
	m.actions = append(m.actions, "create "+p)
	return &mockWriter{commit: func(b []byte) {
		m.files[p] = &mockFile{data: append([]byte(nil), b...), mode: 0o644}
	}}, nil
}

func (m *mockSftp) Stat(p string) (os.FileInfo, error) {
	f, ok := m.files[p]
	if !ok {
		return nil, os.ErrNotExist
	}
	return mockFileInfo{name: filepath.Base(p), mode: f.mode, size: int64(len(f.data))}, nil
}

func (m *mockSftp) Chmod(p string, mode os.FileMode) error {
	m.actions = append(m.actions, fmt.Sprintf("chmod %s %o", p, mode))
	f, ok := m.files[p]
	if !ok {
		return os.ErrNotExist
	}
	f.mode = mode
	return nil
}

func (m *mockSftp) PosixRename(oldname, newname string) error {
	m.actions = append(m.actions, "rename "+oldname+" "+newname)
	if m.renameErr != nil {
		return m.renameErr
	}
	f, ok := m.files[oldname]
	if !ok {
		return os.ErrNotExist
	}
	m.files[newname] = f
	delete(m.files, oldname)
	return nil
}

func (m *mockSftp) Remove(p string) error {
	m.actions = append(m.actions, "remove "+p)
	delete(m.files, p)
	return nil
}

func (m *mockSftp) Close() error {
	m.actions = append(m.actions, "close")
	return nil
}

type staticKnownHosts map[string]string

func (s staticKnownHosts) KnownHostKey(_ context.Context, host string) (string, error) {
	return s[host], nil
}

func TestRemoteProxy_WriteFileIsAtomicAndKeepsMode(t *testing.T) {
	mock := newMockSftpClient()
	mock.files["/etc/ssh/authorized_keys"] = &mockFile{data: []byte("old"), mode: 0o600}
	r := &RemoteProxy{sftp: mock}

	if err := r.WriteFile(context.Background(), "/etc/ssh/authorized_keys", []byte("new content")); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	f := mock.files["/etc/ssh/authorized_keys"]
	if f == nil || string(f.data) != "new content" {
		t.Fatalf("unexpected content after write: %+v", f)
	}
	if f.mode != 0o600 {
		t.Fatalf("expected mode 0600 to be preserved, got %o", f.mode)
	}
	if len(mock.files) != 1 {
		t.Fatalf("temporary file left behind: %v", mock.files)
	}
	var renamed bool
	for _, a := range mock.actions {
		if strings.HasPrefix(a, "rename /etc/ssh/.authorized_keys.keymaster-sshd.") {
			renamed = true
		}
	}
	if !renamed {
		t.Fatalf("expected rename from a temp file in the same directory, actions: %v", mock.actions)
	}
}

func TestRemoteProxy_WriteFileRenameFailureCleansUp(t *testing.T) {
	mock := newMockSftpClient()
	mock.renameErr = errors.New("permission denied")
	r := &RemoteProxy{sftp: mock}

	if err := r.WriteFile(context.Background(), "/etc/ssh/sshd_config", []byte("x")); err == nil {
		t.Fatalf("expected rename failure to surface")
	}
	if len(mock.files) != 0 {
		t.Fatalf("temporary file not removed: %v", mock.files)
	}
}

func TestRemoteProxy_ReadFile(t *testing.T) {
	mock := newMockSftpClient()
	mock.files["/etc/ssh/sshd_config"] = &mockFile{data: []byte("Port 22\n")}
	r := &RemoteProxy{sftp: mock}

	got, err := r.ReadFile(context.Background(), "/etc/ssh/sshd_config")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(got) != "Port 22\n" {
		t.Fatalf("unexpected content %q", got)
	}
	if _, err := r.ReadFile(context.Background(), "/missing"); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestRemoteProxy_SudoModeUsesScripts(t *testing.T) {
	var scripts []string
	var stdins []string
	r := &RemoteProxy{
		cfg: RemoteConfig{Sudo: true},
		run: func(_ context.Context, script string, stdin []byte) ([]byte, error) {
			scripts = append(scripts, script)
			stdins = append(stdins, string(stdin))
			return []byte("content"), nil
		},
	}
	ctx := context.Background()
	if err := r.WriteFile(ctx, "/etc/ssh/sshd_config", []byte("Port 22\n")); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if _, err := r.ReadFile(ctx, "/etc/ssh/sshd_config"); err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if scripts[0] != "cat > /etc/ssh/sshd_config" || stdins[0] != "Port 22\n" {
		t.Fatalf("unexpected write script %q / stdin %q", scripts[0], stdins[0])
	}
	if scripts[1] != "cat -- /etc/ssh/sshd_config" {
		t.Fatalf("unexpected read script %q", scripts[1])
	}
}

func TestRemoteProxy_CloseClosesSftp(t *testing.T) {
	mock := newMockSftpClient()
	r := &RemoteProxy{sftp: mock}
	r.Close()
	if len(mock.actions) == 0 || mock.actions[len(mock.actions)-1] != "close" {
		t.Fatalf("expected sftp Close to be called, actions: %v", mock.actions)
	}
}

func newHostKey(t *testing.T) ssh.PublicKey {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	pk, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatalf("NewPublicKey: %v", err)
	}
	return pk
}

func TestHostKeyCallback(t *testing.T) {
	key := newHostKey(t)
	other := newHostKey(t)
	marshal := func(k ssh.PublicKey) string { return strings.TrimSpace(string(ssh.MarshalAuthorizedKey(k))) }

	known := staticKnownHosts{"trusted.example": marshal(key), "moved.example": marshal(other)}
	cb := hostKeyCallback(context.Background(), known)

	if err := cb("trusted.example:22", nil, key); err != nil {
		t.Fatalf("expected trusted key to pass: %v", err)
	}
	if err := cb("unknown.example:22", nil, key); err == nil || !strings.Contains(err.Error(), "unknown host key") {
		t.Fatalf("expected unknown host error, got %v", err)
	}
	if err := cb("moved.example", nil, key); err == nil || !strings.Contains(err.Error(), "MISMATCH") {
		t.Fatalf("expected mismatch error, got %v", err)
	}
}

func writeIdentity(t *testing.T, passphrase string) string {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	var block *pem.Block
	if passphrase == "" {
		block, err = ssh.MarshalPrivateKey(priv, "test")
	} else {
		block, err = ssh.MarshalPrivateKeyWithPassphrase(priv, "test", []byte(passphrase))
	}
	if err != nil {
		t.Fatalf("MarshalPrivateKey: %v", err)
	}
	p := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(p, pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatalf("write identity: %v", err)
	}
	return p
}

func TestIdentitySigner_Passphrase(t *testing.T) {
	plain := writeIdentity(t, "")
	if _, err := identitySigner(plain, nil); err != nil {
		t.Fatalf("unencrypted identity failed: %v", err)
	}

	enc := writeIdentity(t, "s3cret")
	if _, err := identitySigner(enc, nil); !errors.Is(err, ErrPassphraseRequired) {
		t.Fatalf("expected ErrPassphraseRequired, got %v", err)
	}
	if _, err := identitySigner(enc, []byte("wrong")); err == nil {
		t.Fatalf("expected wrong passphrase to fail")
	}
	if _, err := identitySigner(enc, []byte("s3cret")); err != nil {
		t.Fatalf("expected correct passphrase to work: %v", err)
	}
}

func TestDialRemote_IdentityFailsAgentSucceeds(t *testing.T) {
	origDial, origSftp, origAgent := sshDial, newSftpClient, sshAgentGetter
	defer func() { sshDial, newSftpClient, sshAgentGetter = origDial, origSftp, origAgent }()

	keyring := agent.NewKeyring()
	_, priv, _ := ed25519.GenerateKey(rand.Reader)
	if err := keyring.Add(agent.AddedKey{PrivateKey: priv, Comment: "test"}); err != nil {
		t.Fatalf("failed to add key to agent: %v", err)
	}

	calls := 0
	var addrs []string
	sshDial = func(network, addr string, cfg *ssh.ClientConfig) (*ssh.Client, error) {
		calls++
		addrs = append(addrs, addr)
		if calls == 1 {
			return nil, errors.New("ssh: handshake failed: ssh: unable to authenticate")
		}
		return nil, nil
	}
	mock := newMockSftpClient()
	newSftpClient = func(c *ssh.Client) (sftpRaw, error) { return mock, nil }
	sshAgentGetter = func() agent.Agent { return keyring }

	cfg := RemoteConfig{Host: "daemon.example", User: "root", IdentityFile: writeIdentity(t, "")}
	r, err := DialRemote(context.Background(), cfg, staticKnownHosts{}, nil)
	if err != nil {
		t.Fatalf("expected agent fallback to succeed: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected two dial attempts, got %d", calls)
	}
	if addrs[0] != "daemon.example:22" {
		t.Fatalf("expected default port to be added, got %s", addrs[0])
	}
	r.Close()
}

func TestDialRemote_NoAuthMethod(t *testing.T) {
	origAgent := sshAgentGetter
	defer func() { sshAgentGetter = origAgent }()
	sshAgentGetter = func() agent.Agent { return nil }

	_, err := DialRemote(context.Background(), RemoteConfig{Host: "h", User: "u"}, staticKnownHosts{}, nil)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestDialRemote_NonAuthFailureFailsFast(t *testing.T) {
	origDial, origAgent := sshDial, sshAgentGetter
	defer func() { sshDial, sshAgentGetter = origDial, origAgent }()
	sshDial = func(network, addr string, cfg *ssh.ClientConfig) (*ssh.Client, error) {
		return nil, errors.New("dial tcp: connection refused")
	}
	agentUsed := false
	sshAgentGetter = func() agent.Agent { agentUsed = true; return agent.NewKeyring() }

	cfg := RemoteConfig{Host: "h", User: "u", IdentityFile: writeIdentity(t, "")}
	if _, err := DialRemote(context.Background(), cfg, staticKnownHosts{}, nil); err == nil {
		t.Fatalf("expected connection failure")
	}
	if agentUsed {
		t.Fatalf("agent must not be tried after a non-auth failure")
	}
}

func TestFetchHostKey(t *testing.T) {
	orig := sshDial
	defer func() { sshDial = orig }()
	key := newHostKey(t)
	sshDial = func(network, addr string, cfg *ssh.ClientConfig) (*ssh.Client, error) {
		if err := cfg.HostKeyCallback(addr, nil, key); err != nil {
			return nil, fmt.Errorf("ssh: handshake failed: %w", err)
		}
		return nil, errors.New("unexpected")
	}
	got, err := FetchHostKey(context.Background(), "daemon.example")
	if err != nil {
		t.Fatalf("FetchHostKey failed: %v", err)
	}
	if got != strings.TrimSpace(string(ssh.MarshalAuthorizedKey(key))) {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestHostKeyName(t *testing.T) {
	tests := map[string]string{
		"example.org":      "example.org",
		"example.org:2222": "example.org",
		"[::1]:22":         "::1",
		"10.0.0.5":         "10.0.0.5",
	}
	for in, want := range tests {
		if got := HostKeyName(in); got != want {
			t.Fatalf("HostKeyName(%q) = %q, want %q", in, got, want)
		}
	}
}
