// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

package sshkey

import (
	"crypto/ed25519"
	"crypto/rand"
	"strings"
	"testing"

	"golang.org/x/crypto/ssh"
)

func TestParseLine_NormalLine(t *testing.T) {
	k, ok := ParseLine("ssh-rsa AAAAB3NzaC1yc2EAAAADAQABAAABAQC3 test-key@example.com")
	if !ok {
		t.Fatalf("ParseLine rejected a valid line")
	}
	if k.Type != KeyTypeRSA {
		t.Fatalf("unexpected type: %s", k.Type)
	}
	if k.Key != "AAAAB3NzaC1yc2EAAAADAQABAAABAQC3" {
		t.Fatalf("unexpected key data: %s", k.Key)
	}
	if k.Comment != "test-key@example.com" {
		t.Fatalf("unexpected comment: %s", k.Comment)
	}
}

func TestParseLine_TooFewTokens(t *testing.T) {
	for _, line := range []string{"", "badline", "ssh-ed25519 BBBB", "   \t  "} {
		if _, ok := ParseLine(line); ok {
			t.Fatalf("expected %q to be rejected", line)
		}
	}
}

func TestParseLine_CommentWithSpaces(t *testing.T) {
	k, ok := ParseLine("ssh-ed25519   AAAA   Jane   Doe laptop")
	if !ok {
		t.Fatalf("ParseLine rejected a valid line")
	}
	if k.Comment != "Jane Doe laptop" {
		t.Fatalf("unexpected comment: %q", k.Comment)
	}
}

func TestParseKeyType(t *testing.T) {
	tests := []struct {
		token string
		want  KeyType
	}{
		{"ssh-rsa", KeyTypeRSA},
		{"ssh-dss", KeyTypeDSS},
		{"ssh-ed25519", KeyTypeEd25519},
		{"ecdsa-sha2-nistp256", KeyTypeECDSA256},
		{"ecdsa-sha2-nistp384", KeyTypeECDSA384},
		{"ecdsa-sha2-nistp521", KeyTypeECDSA521},
		{"sk-ssh-ed25519@openssh.com", KeyTypeSKEd25519},
		{"sk-ecdsa-sha2-nistp256@openssh.com", KeyTypeSKECDSA256},
		{"no-pty", KeyTypeUnknown},
		{"SSH-RSA", KeyTypeUnknown},
		{"", KeyTypeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			if got := ParseKeyType(tt.token); got != tt.want {
				t.Errorf("ParseKeyType(%q) = %s, want %s", tt.token, got, tt.want)
			}
		})
	}
	if KeyTypeUnknown.Known() {
		t.Fatalf("unknown type must not report Known")
	}
}

func TestString_UnknownTypeRoundTrips(t *testing.T) {
	line := "ssh-foo AAAA comment"
	k, ok := ParseLine(line)
	if !ok {
		t.Fatalf("ParseLine rejected line")
	}
	if k.Type != KeyTypeUnknown {
		t.Fatalf("expected unknown type, got %s", k.Type)
	}
	if k.String() != line {
		t.Fatalf("String() = %q, want %q", k.String(), line)
	}
}

func TestString_BuiltWithoutAlgorithm(t *testing.T) {
	k := AuthorizedKey{Type: KeyTypeEd25519, Key: "AAAA", Comment: "c"}
	if k.String() != "ssh-ed25519 AAAA c" {
		t.Fatalf("unexpected line: %q", k.String())
	}
}

func TestFingerprint(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatalf("NewPublicKey: %v", err)
	}
	line := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(sshPub))) + " me@host"
	k, ok := ParseLine(line)
	if !ok {
		t.Fatalf("ParseLine rejected generated key")
	}
	fp, err := k.Fingerprint()
	if err != nil {
		t.Fatalf("Fingerprint failed: %v", err)
	}
	if fp != ssh.FingerprintSHA256(sshPub) {
		t.Fatalf("unexpected fingerprint %s", fp)
	}

	if _, err := New("ssh-rsa", "not base64!", "x").Fingerprint(); err == nil {
		t.Fatalf("expected error for invalid material")
	}
}
