// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/toeirei/keymaster-sshd/internal/backup"
	"github.com/toeirei/keymaster-sshd/internal/i18n"
	"github.com/toeirei/keymaster-sshd/internal/logging"
)

var nowFunc = time.Now

func newBackupCmd(a *app) *cobra.Command {
	return needsStores(&cobra.Command{
		Use:   "backup [file]",
		Short: "Write directives and authorized keys to a compressed snapshot",
		Long: `Writes the current daemon directives, host key list and authorized keys
to a zstd-compressed JSON file. Without a file name a dated name in the
current directory is used.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !a.sshd.Loaded() {
				return errors.New(i18n.T("cli.error_backup_unloaded", a.sshd.Path()))
			}
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			path := backup.FileName(name, nowFunc())
			snap := backup.New(a.sshd.All(), a.sshd.HostKeys(), a.keys.Keys())
			snap.CreatedAt = nowFunc().UTC()
			if err := backup.WriteFile(path, snap); err != nil {
				return err
			}
			if err := a.journal.LogAction("BACKUP", fmt.Sprintf("file: %s", path)); err != nil {
				logging.Warnf("journal: %v", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), i18n.T("cli.backup_written", path, len(snap.Directives), len(snap.AuthorizedKeys)))
			return nil
		},
	})
}

func newRestoreCmd(a *app) *cobra.Command {
	return needsStores(&cobra.Command{
		Use:   "restore <file>",
		Short: "Restore directives and authorized keys from a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireConfigLoaded(); err != nil {
				return err
			}
			if err := a.requireKeysLoaded(); err != nil {
				return err
			}
			snap, err := backup.ReadFile(args[0])
			if err != nil {
				return err
			}
			if err := backup.Restore(cmd.Context(), snap, a.sshd, a.keys); err != nil {
				return err
			}
			if err := a.journal.LogAction("RESTORE", fmt.Sprintf("file: %s", args[0])); err != nil {
				logging.Warnf("journal: %v", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, i18n.T("cli.restore_done", len(snap.Directives), len(snap.AuthorizedKeys)))
			for _, hk := range snap.HostKeys {
				fmt.Fprintln(out, i18n.T("cli.restore_host_key", hk))
			}
			return nil
		},
	})
}
