// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

package service

import (
	"context"
	"fmt"

	"github.com/coreos/go-systemd/v22/dbus"
	"github.com/toeirei/keymaster-sshd/internal/logging"
)

// DefaultUnit is the systemd unit of OpenSSH on most distributions.
const DefaultUnit = "ssh.service"

// dbusConn is the subset of *dbus.Conn used here.
type dbusConn interface {
	ListUnitsByNamesContext(ctx context.Context, units []string) ([]dbus.UnitStatus, error)
	RestartUnitContext(ctx context.Context, name string, mode string, ch chan<- string) (int, error)
	Close()
}

var newDBus = func(ctx context.Context) (dbusConn, error) {
	conn, err := dbus.NewWithContext(ctx)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Systemd controls a systemd unit over D-Bus.
type Systemd struct {
	Unit string
}

// NewSystemd returns a handle for unit, or DefaultUnit when unit is empty.
func NewSystemd(unit string) *Systemd {
	if unit == "" {
		unit = DefaultUnit
	}
	return &Systemd{Unit: unit}
}

func (s *Systemd) conn(ctx context.Context) (dbusConn, error) {
	conn, err := newDBus(ctx)
	if err != nil {
		logging.Errorf("failed to connect to dbus for unit %q: %v", s.Unit, err)
		return nil, fmt.Errorf("dbus connect: %w", err)
	}
	return conn, nil
}

// Running reports whether the unit is loaded and active.
func (s *Systemd) Running(ctx context.Context) (bool, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	units, err := conn.ListUnitsByNamesContext(ctx, []string{s.Unit})
	if err != nil {
		return false, fmt.Errorf("failed to query unit %q from dbus: %w", s.Unit, err)
	}
	for _, unit := range units {
		if unit.Name == s.Unit {
			return unit.LoadState == "loaded" && unit.ActiveState == "active", nil
		}
	}
	return false, nil
}

// Restart restarts the unit and waits for systemd to report the job result.
func (s *Systemd) Restart(ctx context.Context) error {
	conn, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	statusCh := make(chan string, 1)
	if _, err := conn.RestartUnitContext(ctx, s.Unit, "replace", statusCh); err != nil {
		return fmt.Errorf("dbus restart request for %q failed: %w", s.Unit, err)
	}
	select {
	case status := <-statusCh:
		if status != "done" {
			return fmt.Errorf("failed to restart %q (job result %q)", s.Unit, status)
		}
	case <-ctx.Done():
		return ctx.Err()
	}
	logging.Debugf("service %q restarted", s.Unit)
	return nil
}
