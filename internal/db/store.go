// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/user"
	"strconv"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/toeirei/keymaster-sshd/internal/logging"
)

// DefaultAuditLimit bounds AuditLog when no limit is given.
const DefaultAuditLimit = 50

var (
	// sqlOpenFunc allows tests to override database opening behavior.
	sqlOpenFunc = sql.Open
	nowFunc     = func() time.Time { return time.Now().UTC() }
)

// BunStore is the journal and trusted host store.
type BunStore struct {
	bun      *bun.DB
	dbType   string
	username string
}

// NewStoreFromDSN opens the database, creates missing tables and returns a
// ready store. dbType is one of sqlite, postgres or mysql.
func NewStoreFromDSN(dbType, dsn string) (*BunStore, error) {
	driverName := dbType
	switch dbType {
	case "sqlite", "mysql":
	case "postgres":
		// The pgx stdlib registers driver name "pgx".
		driverName = "pgx"
	default:
		return nil, fmt.Errorf("unsupported database type: '%s'", dbType)
	}

	start := time.Now()
	sqlDB, err := sqlOpenFunc(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	const (
		defaultMaxOpenConns    = 4
		defaultConnMaxLifetime = 5 * time.Minute
	)
	maxOpen := defaultMaxOpenConns
	if v := os.Getenv("KEYMASTER_SSHD_DB_MAX_OPEN_CONNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			maxOpen = n
		}
	}
	// Every connection to ":memory:" sees its own database.
	if dbType == "sqlite" && strings.Contains(dsn, ":memory:") {
		maxOpen = 1
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxOpen)
	sqlDB.SetConnMaxLifetime(defaultConnMaxLifetime)

	s := &BunStore{bun: createBunDB(sqlDB, dbType), dbType: dbType, username: currentUsername()}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.createSchema(ctx); err != nil {
		_ = s.bun.Close()
		return nil, fmt.Errorf("failed to prepare schema: %w", err)
	}
	logging.Debugf("db: opened %s driver in %s (max open=%d)", driverName, time.Since(start), maxOpen)
	return s, nil
}

// createBunDB wraps sqlDB with the dialect for dbType.
func createBunDB(sqlDB *sql.DB, dbType string) *bun.DB {
	switch dbType {
	case "postgres":
		return bun.NewDB(sqlDB, pgdialect.New())
	case "mysql":
		return bun.NewDB(sqlDB, mysqldialect.New())
	default:
		return bun.NewDB(sqlDB, sqlitedialect.New())
	}
}

func (s *BunStore) createSchema(ctx context.Context) error {
	for _, m := range []any{(*AuditLogModel)(nil), (*KnownHostModel)(nil)} {
		if _, err := s.bun.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

// currentUsername returns the OS user without a Windows domain prefix.
func currentUsername() string {
	u, err := user.Current()
	if err != nil {
		return "unknown"
	}
	if parts := strings.Split(u.Username, `\`); len(parts) > 1 {
		return parts[1]
	}
	return u.Username
}

// LogAction appends a journal entry attributed to the current OS user.
func (s *BunStore) LogAction(action, details string) error {
	entry := &AuditLogModel{
		Timestamp: nowFunc(),
		Username:  s.username,
		Action:    action,
		Details:   details,
	}
	_, err := s.bun.NewInsert().Model(entry).Exec(context.Background())
	return MapDBError(err)
}

// AuditLog returns the newest entries first. A limit of zero or less uses
// DefaultAuditLimit.
func (s *BunStore) AuditLog(ctx context.Context, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = DefaultAuditLimit
	}
	var rows []AuditLogModel
	if err := s.bun.NewSelect().Model(&rows).OrderExpr("id DESC").Limit(limit).Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]AuditEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, auditModelToEntry(r))
	}
	return out, nil
}

// KnownHostKey returns the trusted key for hostname, or "" when none is
// stored.
func (s *BunStore) KnownHostKey(ctx context.Context, hostname string) (string, error) {
	var kh KnownHostModel
	err := s.bun.NewSelect().Model(&kh).Where("hostname = ?", hostname).Limit(1).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return kh.Key, nil
}

// AddKnownHostKey trusts key for hostname. It returns ErrDuplicate when the
// host is already trusted.
func (s *BunStore) AddKnownHostKey(ctx context.Context, hostname, key string) error {
	_, err := s.bun.NewInsert().Model(&KnownHostModel{Hostname: hostname, Key: key}).Exec(ctx)
	if err := MapDBError(err); err != nil {
		return err
	}
	_ = s.LogAction("TRUST_HOST", fmt.Sprintf("hostname: %s", hostname))
	return nil
}

// ReplaceKnownHostKey overwrites the trusted key of an already trusted host.
func (s *BunStore) ReplaceKnownHostKey(ctx context.Context, hostname, key string) error {
	cur, err := s.KnownHostKey(ctx, hostname)
	if err != nil {
		return err
	}
	if cur == "" {
		return fmt.Errorf("host %s is not trusted", hostname)
	}
	_, err = s.bun.NewUpdate().Model((*KnownHostModel)(nil)).
		Set("? = ?", bun.Ident("key"), key).
		Where("hostname = ?", hostname).
		Exec(ctx)
	if err != nil {
		return err
	}
	_ = s.LogAction("REPLACE_HOST_KEY", fmt.Sprintf("hostname: %s", hostname))
	return nil
}

// Close releases the database handle.
func (s *BunStore) Close() error {
	return s.bun.Close()
}
