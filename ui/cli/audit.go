// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/toeirei/keymaster-sshd/internal/db"
	"github.com/toeirei/keymaster-sshd/internal/i18n"
)

func newAuditCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the most recent journal entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := a.journal.AuditLog(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), i18n.T("cli.audit_empty"))
				return nil
			}
			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				rows = append(rows, []string{
					e.Timestamp.Local().Format(time.DateTime),
					e.Username,
					e.Action,
					e.Details,
				})
			}
			printTable(cmd.OutOrStdout(), []string{
				i18n.T("cli.column_time"),
				i18n.T("cli.column_user"),
				i18n.T("cli.column_action"),
				i18n.T("cli.column_details"),
			}, rows)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", db.DefaultAuditLimit, "Number of entries to show")
	return cmd
}
