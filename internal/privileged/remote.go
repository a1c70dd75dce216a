// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

package privileged

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"github.com/toeirei/keymaster-sshd/internal/logging"
	"golang.org/x/crypto/ssh"
)

// DefaultConnectionTimeout bounds the SSH handshake.
const DefaultConnectionTimeout = 10 * time.Second

// ErrPassphraseRequired is returned when the identity file is encrypted and
// no passphrase was supplied.
var ErrPassphraseRequired = errors.New("identity file requires a passphrase")

// HostKeyLookup returns the trusted host key for a hostname in
// authorized_keys format, or "" when the host has never been trusted.
type HostKeyLookup interface {
	KnownHostKey(ctx context.Context, hostname string) (string, error)
}

// RemoteConfig describes the SSH endpoint of a remotely managed daemon.
type RemoteConfig struct {
	Host         string
	User         string
	IdentityFile string
	// Sudo routes every file operation through `sudo -n` on the remote host
	// instead of SFTP. Use it when the login user cannot write the files.
	Sudo    bool
	Timeout time.Duration
}

// sftpRaw is the subset of *sftp.Client used here.
type sftpRaw interface {
	Open(path string) (io.ReadCloser, error)
	Create(path string) (io.WriteCloser, error)
	Stat(path string) (os.FileInfo, error)
	Chmod(path string, mode os.FileMode) error
	PosixRename(oldname, newname string) error
	Remove(path string) error
	Close() error
}

type sftpAdapter struct{ c *sftp.Client }

func (a sftpAdapter) Open(p string) (io.ReadCloser, error)    { return a.c.Open(p) }
func (a sftpAdapter) Create(p string) (io.WriteCloser, error) { return a.c.Create(p) }
func (a sftpAdapter) Stat(p string) (os.FileInfo, error)      { return a.c.Stat(p) }
func (a sftpAdapter) Chmod(p string, m os.FileMode) error     { return a.c.Chmod(p, m) }
func (a sftpAdapter) PosixRename(oldname, newname string) error {
	return a.c.PosixRename(oldname, newname)
}
func (a sftpAdapter) Remove(p string) error { return a.c.Remove(p) }
func (a sftpAdapter) Close() error          { return a.c.Close() }

type runFunc func(ctx context.Context, script string, stdin []byte) ([]byte, error)

// Package-level hooks so tests can avoid real network connections.
var (
	sshDial = func(network, addr string, cfg *ssh.ClientConfig) (*ssh.Client, error) {
		return ssh.Dial(network, addr, cfg)
	}
	newSftpClient = func(c *ssh.Client) (sftpRaw, error) {
		s, err := sftp.NewClient(c)
		if err != nil {
			return nil, err
		}
		return sftpAdapter{c: s}, nil
	}
	sshAgentGetter = getSSHAgent
)

// RemoteProxy manages the files of a daemon on another machine over SSH.
type RemoteProxy struct {
	cfg    RemoteConfig
	client *ssh.Client
	sftp   sftpRaw
	run    runFunc
}

// canonicalAddr adds port 22 when host carries none.
func canonicalAddr(host string) string {
	if _, _, err := net.SplitHostPort(host); err != nil {
		return net.JoinHostPort(host, "22")
	}
	return host
}

// hostOnly strips the port from an address.
func hostOnly(addr string) string {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return h
}

// HostKeyName returns the name a host key is trusted under: the host part
// of addr without its port.
func HostKeyName(addr string) string {
	return hostOnly(canonicalAddr(addr))
}

// hostKeyCallback verifies presented keys against the trusted host key table.
func hostKeyCallback(ctx context.Context, known HostKeyLookup) ssh.HostKeyCallback {
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		host := hostOnly(hostname)
		presented := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(key)))

		trusted, err := known.KnownHostKey(ctx, host)
		if err != nil {
			return fmt.Errorf("failed to query trusted host keys: %w", err)
		}
		if trusted == "" {
			return fmt.Errorf("unknown host key for %s. run 'keymaster-sshd trust-host' to add it", host)
		}
		if strings.TrimSpace(trusted) != presented {
			return fmt.Errorf("HOST KEY MISMATCH FOR %s: remote presented %s", host, presented)
		}
		return nil
	}
}

// identitySigner parses the identity file, decrypting it with passphrase
// when needed.
func identitySigner(file string, passphrase []byte) (ssh.Signer, error) {
	pem, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("unable to read identity file: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(pem)
	if err == nil {
		return signer, nil
	}
	var missing *ssh.PassphraseMissingError
	if !errors.As(err, &missing) {
		return nil, fmt.Errorf("unable to parse identity file: %w", err)
	}
	if len(passphrase) == 0 {
		return nil, ErrPassphraseRequired
	}
	signer, err = ssh.ParsePrivateKeyWithPassphrase(pem, passphrase)
	if err != nil {
		return nil, fmt.Errorf("unable to decrypt identity file: %w", err)
	}
	return signer, nil
}

// DialRemote connects to cfg.Host. The identity file is tried first; on an
// authentication failure (or when no identity file is configured) the
// running SSH agent is used.
func DialRemote(ctx context.Context, cfg RemoteConfig, known HostKeyLookup, passphrase []byte) (*RemoteProxy, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultConnectionTimeout
	}
	addr := canonicalAddr(cfg.Host)
	callback := hostKeyCallback(ctx, known)

	var finalErr error
	if cfg.IdentityFile != "" {
		signer, err := identitySigner(cfg.IdentityFile, passphrase)
		if err != nil {
			return nil, err
		}
		client, err := sshDial("tcp", addr, &ssh.ClientConfig{
			User:            cfg.User,
			Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
			HostKeyCallback: callback,
			Timeout:         cfg.Timeout,
		})
		if err == nil {
			return newRemoteProxy(cfg, client)
		}
		if !strings.Contains(err.Error(), "unable to authenticate") {
			return nil, fmt.Errorf("%w: connection with identity file failed: %v", ErrUnavailable, err)
		}
		finalErr = err
	}

	agentClient := sshAgentGetter()
	if agentClient == nil {
		if finalErr != nil {
			return nil, fmt.Errorf("%w: identity authentication failed and no SSH agent available: %v", ErrUnavailable, finalErr)
		}
		return nil, fmt.Errorf("%w: no authentication method available (no identity file and no ssh agent)", ErrUnavailable)
	}

	client, err := sshDial("tcp", addr, &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeysCallback(agentClient.Signers)},
		HostKeyCallback: callback,
		Timeout:         cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: connection with ssh agent failed: %v", ErrUnavailable, err)
	}
	return newRemoteProxy(cfg, client)
}

func newRemoteProxy(cfg RemoteConfig, client *ssh.Client) (*RemoteProxy, error) {
	sc, err := newSftpClient(client)
	if err != nil {
		if client != nil {
			_ = client.Close()
		}
		return nil, fmt.Errorf("%w: failed to create sftp client: %v", ErrUnavailable, err)
	}
	logging.Debugf("privileged: connected to %s as %s", cfg.Host, cfg.User)
	return &RemoteProxy{cfg: cfg, client: client, sftp: sc, run: sessionRunner(client, cfg.Sudo)}, nil
}

// sessionRunner runs scripts in a fresh SSH session per call.
func sessionRunner(client *ssh.Client, sudo bool) runFunc {
	return func(ctx context.Context, script string, stdin []byte) ([]byte, error) {
		if client == nil {
			return nil, fmt.Errorf("%w: not connected", ErrUnavailable)
		}
		sess, err := client.NewSession()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		defer func() { _ = sess.Close() }()

		var stdout, stderr bytes.Buffer
		sess.Stdout = &stdout
		sess.Stderr = &stderr
		if stdin != nil {
			sess.Stdin = bytes.NewReader(stdin)
		}
		command := "sh -c " + Quote(script)
		if sudo {
			command = "sudo -n " + command
		}

		done := make(chan error, 1)
		go func() { done <- sess.Run(command) }()
		select {
		case <-ctx.Done():
			_ = sess.Signal(ssh.SIGKILL)
			return nil, ctx.Err()
		case err := <-done:
			if err == nil {
				return stdout.Bytes(), nil
			}
			var exitErr *ssh.ExitError
			if errors.As(err, &exitErr) {
				return stdout.Bytes(), &ScriptError{ExitCode: exitErr.ExitStatus(), Stderr: stderr.String(), Err: err}
			}
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
}

// ReadFile returns the content of the remote file.
func (r *RemoteProxy) ReadFile(ctx context.Context, p string) ([]byte, error) {
	if r.cfg.Sudo {
		out, err := r.run(ctx, readScript(p), nil)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		return out, nil
	}
	f, err := r.sftp.Open(p)
	if err != nil {
		return nil, fmt.Errorf("failed to open remote file %s: %w", p, err)
	}
	defer func() { _ = f.Close() }()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read from remote file %s: %w", p, err)
	}
	return content, nil
}

// WriteFile replaces the remote file. Over SFTP the content is uploaded to a
// temporary file in the same directory and renamed into place, keeping the
// previous file mode when one exists.
func (r *RemoteProxy) WriteFile(ctx context.Context, p string, content []byte) error {
	if r.cfg.Sudo {
		if _, err := r.run(ctx, writeScript(p), content); err != nil {
			return fmt.Errorf("write %s: %w", p, err)
		}
		return nil
	}

	mode := os.FileMode(0o600)
	if fi, err := r.sftp.Stat(p); err == nil {
		mode = fi.Mode().Perm()
	}

	tmpPath := path.Join(path.Dir(p), fmt.Sprintf(".%s.keymaster-sshd.%d", path.Base(p), time.Now().UnixNano()))
	f, err := r.sftp.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create temporary file on remote: %w", err)
	}
	if _, err := f.Write(content); err != nil {
		_ = f.Close()
		_ = r.sftp.Remove(tmpPath)
		return fmt.Errorf("failed to write to temporary file on remote: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = r.sftp.Remove(tmpPath)
		return fmt.Errorf("failed to close temporary file on remote: %w", err)
	}
	if err := r.sftp.Chmod(tmpPath, mode); err != nil {
		_ = r.sftp.Remove(tmpPath)
		return fmt.Errorf("failed to chmod temporary file: %w", err)
	}
	if err := r.sftp.PosixRename(tmpPath, p); err != nil {
		_ = r.sftp.Remove(tmpPath)
		return fmt.Errorf("failed to rename %s into place: %w", p, err)
	}
	return nil
}

// RunScript runs script on the remote host.
func (r *RemoteProxy) RunScript(ctx context.Context, script string) ([]byte, error) {
	return r.run(ctx, script, nil)
}

// Close closes the SFTP and SSH clients.
func (r *RemoteProxy) Close() {
	if r.sftp != nil {
		_ = r.sftp.Close()
	}
	if r.client != nil {
		_ = r.client.Close()
	}
}

// FetchHostKey connects to host only to retrieve its public key. The key is
// returned in authorized_keys format.
func FetchHostKey(ctx context.Context, host string) (string, error) {
	keyChan := make(chan ssh.PublicKey, 1)
	const hostKeyDone = "keymaster-sshd: retrieved host key"

	timeout := DefaultConnectionTimeout
	if dl, ok := ctx.Deadline(); ok {
		timeout = time.Until(dl)
	}
	config := &ssh.ClientConfig{
		User: "keymaster-sshd-hostkey",
		HostKeyCallback: func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			keyChan <- key
			return errors.New(hostKeyDone)
		},
		Timeout: timeout,
	}

	client, err := sshDial("tcp", canonicalAddr(host), config)
	if err == nil {
		if client != nil {
			_ = client.Close()
		}
		return "", fmt.Errorf("ssh handshake with %s succeeded unexpectedly, could not retrieve key", host)
	}
	if !strings.Contains(err.Error(), hostKeyDone) {
		return "", fmt.Errorf("failed to connect to %s: %w", host, err)
	}
	key := <-keyChan
	return strings.TrimSpace(string(ssh.MarshalAuthorizedKey(key))), nil
}
