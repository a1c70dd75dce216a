// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

// Package config loads the application settings with viper from defaults,
// keymaster-sshd.yaml, KEYMASTER_SSHD_* environment variables and flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	appName  = "keymaster-sshd"
	fileName = appName + ".yaml"
)

// getConfigPath returns the full path for the configuration file.
func getConfigPath(system bool) (string, error) {
	var configDir string
	if system {
		switch runtime.GOOS {
		case "windows":
			configDir = filepath.Join(os.Getenv("ProgramData"), "KeymasterSSHD")
		default:
			configDir = "/etc/" + appName
		}
	} else {
		dir, err := os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("could not get user config directory: %w", err)
		}
		configDir = filepath.Join(dir, appName)
	}
	return filepath.Join(configDir, fileName), nil
}

// GetConfigPath is the exported form of getConfigPath.
func GetConfigPath(system bool) (string, error) {
	return getConfigPath(system)
}

// LoadConfig merges defaults, the first config file found, the environment
// and the command flags into a T. It also returns the config file that was
// read, or "" when none exists yet.
func LoadConfig[T any](cmd *cobra.Command, defaults map[string]any, explicitPath *string) (T, string, error) {
	var c T
	v := viper.New()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetConfigName(appName)
	v.SetConfigType("yaml")
	if explicitPath != nil && *explicitPath != "" {
		v.SetConfigFile(*explicitPath)
	}
	if userConfigPath, err := getConfigPath(false); err == nil {
		v.AddConfigPath(filepath.Dir(userConfigPath))
	}
	if systemConfigPath, err := getConfigPath(true); err == nil {
		v.AddConfigPath(filepath.Dir(systemConfigPath))
	}
	v.AddConfigPath(".")

	used := ""
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return c, "", err
		}
	} else {
		used = v.ConfigFileUsed()
	}

	v.AutomaticEnv()
	v.AllowEmptyEnv(true)
	v.SetEnvPrefix("keymaster_sshd")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if cmd != nil {
		if err := v.BindPFlags(cmd.Flags()); err != nil {
			return c, used, err
		}
	}

	if err := v.Unmarshal(&c); err != nil {
		return c, used, err
	}
	return c, used, nil
}

// WriteConfigFile writes c as YAML to the user (or system) config location
// and returns the path written.
func WriteConfigFile[T any](c *T, system bool) (string, error) {
	path, err := getConfigPath(system)
	if err != nil {
		return "", err
	}
	return path, WriteConfigFileTo(c, path)
}

// WriteConfigFileTo writes c as YAML to path, creating parent directories.
func WriteConfigFileTo[T any](c *T, path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	configDir := filepath.Dir(path)
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("could not create config directory %s: %w", configDir, err)
	}
	// 0600: the file may carry a database DSN with credentials.
	return os.WriteFile(path, data, 0o600)
}
