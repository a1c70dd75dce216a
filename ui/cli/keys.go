// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/toeirei/keymaster-sshd/internal/i18n"
)

func newKeysCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage the daemon's authorized keys file",
	}

	var fingerprints bool
	list := needsStores(&cobra.Command{
		Use:   "list",
		Short: "List authorized keys with their positions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !a.keys.Loaded() {
				fmt.Fprintln(cmd.ErrOrStderr(), i18n.T("cli.keys_degraded"))
			}
			keys := a.keys.Keys()
			if len(keys) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), i18n.T("cli.no_keys"))
				return nil
			}
			headers := []string{"#", i18n.T("cli.column_type"), i18n.T("cli.column_comment")}
			if fingerprints {
				headers = append(headers, i18n.T("cli.column_fingerprint"))
			}
			rows := make([][]string, 0, len(keys))
			for i, k := range keys {
				row := []string{strconv.Itoa(i), k.Algorithm(), k.Comment}
				if fingerprints {
					fp, err := k.Fingerprint()
					if err != nil {
						fp = i18n.T("cli.invalid_key")
					}
					row = append(row, fp)
				}
				rows = append(rows, row)
			}
			printTable(cmd.OutOrStdout(), headers, rows)
			return nil
		},
	})
	list.Flags().BoolVar(&fingerprints, "fingerprints", false, "Show SHA256 fingerprints")

	add := needsStores(&cobra.Command{
		Use:   "add [file|-]",
		Short: "Append keys read from a file or standard input",
		Long: `Reads authorized_keys lines from the given file, or from standard input when
the argument is "-" or omitted, and appends every well-formed line.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireKeysLoaded(); err != nil {
				return err
			}
			var r io.Reader = cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer func() { _ = f.Close() }()
				r = f
			}
			n, err := a.keys.AddFromReader(cmd.Context(), r)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), i18n.T("cli.keys_added", n))
			return nil
		},
	})

	remove := needsStores(&cobra.Command{
		Use:   "remove <position>",
		Short: "Remove the key at a position shown by 'keys list'",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireKeysLoaded(); err != nil {
				return err
			}
			pos, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("%s", i18n.T("cli.error_position", args[0]))
			}
			if err := a.keys.RemoveKey(cmd.Context(), pos); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), i18n.T("cli.key_removed", pos))
			return nil
		},
	})

	cmd.AddCommand(list, add, remove)
	return cmd
}
