// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"time"

	"github.com/uptrace/bun"
)

// AuditLogModel maps the audit_log table.
type AuditLogModel struct {
	bun.BaseModel `bun:"table:audit_log"`
	ID            int64     `bun:"id,pk,autoincrement"`
	Timestamp     time.Time `bun:"timestamp,notnull"`
	Username      string    `bun:"username,notnull"`
	Action        string    `bun:"action,notnull"`
	Details       string    `bun:"details"`
}

// KnownHostModel maps known_hosts.
type KnownHostModel struct {
	bun.BaseModel `bun:"table:known_hosts"`
	Hostname      string `bun:"hostname,pk,type:varchar(255)"`
	Key           string `bun:"key,notnull"`
}

// AuditEntry is one journal line.
type AuditEntry struct {
	ID        int64
	Timestamp time.Time
	Username  string
	Action    string
	Details   string
}

func auditModelToEntry(m AuditLogModel) AuditEntry {
	return AuditEntry{ID: m.ID, Timestamp: m.Timestamp, Username: m.Username, Action: m.Action, Details: m.Details}
}
