// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

// Package sshdconfig keeps the SSH daemon's configuration file in memory.
//
// The file is the durable copy and the in-memory directive map is the read
// path. Every mutation is written through to disk immediately, replacing the
// whole file, and restarts the daemon when it is running.
//
// HostKey directives are additive in sshd, so they are kept as an ordered
// list rather than a map entry and always written before other directives.
// For every other directive a later line in the file wins over an earlier
// one with the same name.
package sshdconfig
