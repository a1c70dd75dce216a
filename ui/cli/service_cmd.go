// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/toeirei/keymaster-sshd/internal/i18n"
)

func newServiceCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Query or restart the SSH daemon",
	}
	status := needsStores(&cobra.Command{
		Use:   "status",
		Short: "Report whether sshd is running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			running, err := a.svc.Running(cmd.Context())
			if err != nil {
				return err
			}
			if running {
				fmt.Fprintln(cmd.OutOrStdout(), i18n.T("cli.service_running"))
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), i18n.T("cli.service_stopped"))
			}
			return nil
		},
	})
	restart := needsStores(&cobra.Command{
		Use:   "restart",
		Short: "Restart sshd",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.svc.Restart(cmd.Context()); err != nil {
				return err
			}
			_ = a.journal.LogAction("RESTART_SERVICE", "manual")
			fmt.Fprintln(cmd.OutOrStdout(), i18n.T("cli.service_restarted"))
			return nil
		},
	})
	cmd.AddCommand(status, restart)
	return cmd
}
