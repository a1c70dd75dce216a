// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

// Package sshkey provides the authorized_keys record type and the small,
// deterministic helpers used to parse and render it. Parsing never fails:
// lines that do not carry a type, key material and comment are dropped by
// the callers.
package sshkey
