// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/kballard/go-shellquote"

	"github.com/toeirei/keymaster-sshd/internal/privileged"
)

// Privilege modes.
const (
	ModeSudo = "sudo"
	ModeSu   = "su"
	ModeNone = "none"
	ModeSSH  = "ssh"
)

// Service kinds.
const (
	ServiceSystemd = "systemd"
	ServiceScript  = "script"
	ServiceNone    = "none"
)

// Config is the application configuration.
type Config struct {
	SSHD      SSHDConfig      `mapstructure:"sshd" yaml:"sshd"`
	Privilege PrivilegeConfig `mapstructure:"privilege" yaml:"privilege"`
	Service   ServiceConfig   `mapstructure:"service" yaml:"service"`
	Database  DatabaseConfig  `mapstructure:"database" yaml:"database"`
	Language  string          `mapstructure:"language" yaml:"language"`
	Debug     bool            `mapstructure:"debug" yaml:"debug"`
}

// SSHDConfig locates the daemon's files.
type SSHDConfig struct {
	ConfigPath         string `mapstructure:"config_path" yaml:"config_path"`
	AuthorizedKeysPath string `mapstructure:"authorized_keys_path" yaml:"authorized_keys_path"`
	RSAHostKey         string `mapstructure:"rsa_host_key" yaml:"rsa_host_key"`
	DSAHostKey         string `mapstructure:"dsa_host_key" yaml:"dsa_host_key"`
}

// PrivilegeConfig selects how privileged file access is obtained.
type PrivilegeConfig struct {
	Mode         string `mapstructure:"mode" yaml:"mode"`
	Command      string `mapstructure:"command" yaml:"command"`
	Host         string `mapstructure:"host" yaml:"host"`
	User         string `mapstructure:"user" yaml:"user"`
	IdentityFile string `mapstructure:"identity_file" yaml:"identity_file"`
	RemoteSudo   bool   `mapstructure:"remote_sudo" yaml:"remote_sudo"`
}

// ServiceConfig selects how the daemon is queried and restarted.
type ServiceConfig struct {
	Kind    string `mapstructure:"kind" yaml:"kind"`
	Unit    string `mapstructure:"unit" yaml:"unit"`
	PidFile string `mapstructure:"pid_file" yaml:"pid_file"`
}

// DatabaseConfig points at the audit journal.
type DatabaseConfig struct {
	Type string `mapstructure:"type" yaml:"type"`
	Dsn  string `mapstructure:"dsn" yaml:"dsn"`
}

// DefaultDatabaseDSN places the sqlite journal next to the user config file.
func DefaultDatabaseDSN() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "./" + appName + ".db"
	}
	return filepath.Join(dir, appName, appName+".db")
}

// Defaults returns the viper default map.
func Defaults() map[string]any {
	return map[string]any{
		"sshd.config_path":          "/etc/ssh/sshd_config",
		"sshd.authorized_keys_path": "/etc/ssh/authorized_keys",
		"sshd.rsa_host_key":         "/etc/ssh/ssh_host_rsa_key",
		"sshd.dsa_host_key":         "/etc/ssh/ssh_host_dsa_key",
		"privilege.mode":            ModeSudo,
		"privilege.command":         "",
		"privilege.host":            "",
		"privilege.user":            "root",
		"privilege.identity_file":   "",
		"privilege.remote_sudo":     false,
		"service.kind":              ServiceSystemd,
		"service.unit":              "ssh.service",
		"service.pid_file":          "/var/run/sshd.pid",
		"database.type":             "sqlite",
		"database.dsn":              DefaultDatabaseDSN(),
		"language":                  "en",
		"debug":                     false,
	}
}

// ElevationCommand returns the local command prefix scripts are run with.
// A non-empty privilege.command overrides the mode's built-in prefix.
func (p PrivilegeConfig) ElevationCommand() ([]string, error) {
	if p.Command != "" {
		words, err := shellquote.Split(p.Command)
		if err != nil {
			return nil, fmt.Errorf("privilege.command: %w", err)
		}
		if len(words) == 0 {
			return nil, fmt.Errorf("privilege.command is blank")
		}
		return words, nil
	}
	switch p.Mode {
	case ModeSudo, "":
		return slices.Clone(privileged.SudoCommand), nil
	case ModeSu:
		return slices.Clone(privileged.SuCommand), nil
	case ModeNone:
		return slices.Clone(privileged.ShellOnly), nil
	default:
		return nil, fmt.Errorf("privilege.mode %q has no local command", p.Mode)
	}
}
