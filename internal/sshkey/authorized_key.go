// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

package sshkey

import (
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/ssh"
)

// AuthorizedKey is one record of an authorized_keys file.
type AuthorizedKey struct {
	Type    KeyType
	Key     string
	Comment string

	// algorithm keeps the original token so unknown types are written back
	// unchanged.
	algorithm string
}

// New builds a record from its three parts.
func New(algorithm, key, comment string) AuthorizedKey {
	return AuthorizedKey{
		Type:      ParseKeyType(algorithm),
		Key:       key,
		Comment:   comment,
		algorithm: algorithm,
	}
}

// ParseLine splits a line into type, key material and comment. It reports
// false for lines with fewer than three whitespace-separated tokens. Tokens
// after the third are kept in the comment, joined by single spaces.
func ParseLine(line string) (AuthorizedKey, bool) {
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return AuthorizedKey{}, false
	}
	return New(fields[0], fields[1], strings.Join(fields[2:], " ")), true
}

// Algorithm returns the algorithm token as it appeared in the source line,
// or the type token for records built without one.
func (k AuthorizedKey) Algorithm() string {
	if k.algorithm != "" {
		return k.algorithm
	}
	return string(k.Type)
}

// String renders the record as an authorized_keys line.
func (k AuthorizedKey) String() string {
	return fmt.Sprintf("%s %s %s", k.Algorithm(), k.Key, k.Comment)
}

// Fingerprint returns the SHA256 fingerprint of the key material in the
// format printed by ssh-keygen -l.
func (k AuthorizedKey) Fingerprint() (string, error) {
	raw, err := base64.StdEncoding.DecodeString(k.Key)
	if err != nil {
		return "", fmt.Errorf("invalid key material: %w", err)
	}
	pub, err := ssh.ParsePublicKey(raw)
	if err != nil {
		return "", fmt.Errorf("unable to parse public key: %w", err)
	}
	return ssh.FingerprintSHA256(pub), nil
}

// Equal reports whether two records carry the same algorithm, material and
// comment.
func (k AuthorizedKey) Equal(other AuthorizedKey) bool {
	return k.Algorithm() == other.Algorithm() && k.Key == other.Key && k.Comment == other.Comment
}
