// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

// Package db stores the audit journal and the trusted host keys used when
// managing a remote daemon. It runs on Bun over SQLite (default), PostgreSQL
// or MySQL.
package db
