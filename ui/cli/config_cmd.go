// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/toeirei/keymaster-sshd/internal/i18n"
	"github.com/toeirei/keymaster-sshd/internal/sshdconfig"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and edit sshd_config directives",
	}

	list := needsStores(&cobra.Command{
		Use:   "list",
		Short: "List all directives, host keys first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			warnIfConfigUnloaded(cmd, a)
			var rows [][]string
			for _, hk := range a.sshd.HostKeys() {
				rows = append(rows, []string{sshdconfig.HostKeyDirective, hk})
			}
			all := a.sshd.All()
			for _, k := range slices.Sorted(maps.Keys(all)) {
				rows = append(rows, []string{k, all[k]})
			}
			printTable(cmd.OutOrStdout(), []string{i18n.T("cli.column_directive"), i18n.T("cli.column_value")}, rows)
			return nil
		},
	})

	get := needsStores(&cobra.Command{
		Use:   "get <directive>",
		Short: "Print the value of a directive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, ok := a.sshd.Get(args[0])
			if !ok {
				return fmt.Errorf("%s", i18n.T("cli.error_directive_unset", args[0]))
			}
			fmt.Fprintln(cmd.OutOrStdout(), v)
			return nil
		},
	})

	set := needsStores(&cobra.Command{
		Use:   "set <directive> <value>...",
		Short: "Add or update a directive and restart sshd if it runs",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireConfigLoaded(); err != nil {
				return err
			}
			value := strings.Join(args[1:], " ")
			if err := a.sshd.AddOrUpdate(cmd.Context(), args[0], value); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), i18n.T("cli.directive_set", args[0], value))
			return nil
		},
	})

	unset := needsStores(&cobra.Command{
		Use:     "unset <directive>",
		Aliases: []string{"remove"},
		Short:   "Remove a directive and restart sshd if it runs",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireConfigLoaded(); err != nil {
				return err
			}
			if _, ok := a.sshd.Get(args[0]); !ok {
				fmt.Fprintln(cmd.OutOrStdout(), i18n.T("cli.directive_absent", args[0]))
				return nil
			}
			if err := a.sshd.Remove(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), i18n.T("cli.directive_removed", args[0]))
			return nil
		},
	})

	hostkeys := needsStores(&cobra.Command{
		Use:   "hostkeys",
		Short: "List the configured host key files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, hk := range a.sshd.HostKeys() {
				fmt.Fprintln(cmd.OutOrStdout(), hk)
			}
			return nil
		},
	})

	cmd.AddCommand(list, get, set, unset, hostkeys)
	return cmd
}

func warnIfConfigUnloaded(cmd *cobra.Command, a *app) {
	if !a.sshd.Loaded() {
		fmt.Fprintln(cmd.ErrOrStderr(), i18n.T("cli.config_degraded", a.sshd.Path()))
	}
}
