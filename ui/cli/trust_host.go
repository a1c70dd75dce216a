// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/ssh"

	"github.com/toeirei/keymaster-sshd/internal/db"
	"github.com/toeirei/keymaster-sshd/internal/i18n"
	"github.com/toeirei/keymaster-sshd/internal/privileged"
)

func newTrustHostCmd(a *app) *cobra.Command {
	var assumeYes, replace bool
	cmd := &cobra.Command{
		Use:   "trust-host <host[:port]>",
		Short: "Record the host key of a remote daemon host",
		Long: `Connects to the host, shows the fingerprint of its host key and, after
confirmation, stores the key so that remote privileged execution can verify
the host on later connections.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := args[0]
			key, err := fetchHostKey(cmd.Context(), addr)
			if err != nil {
				return err
			}
			pub, _, _, _, err := ssh.ParseAuthorizedKey([]byte(key))
			if err != nil {
				return fmt.Errorf("could not parse host key: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, i18n.T("cli.host_key_fingerprint", addr, pub.Type(), ssh.FingerprintSHA256(pub)))

			if !assumeYes {
				fmt.Fprint(out, i18n.T("cli.trust_prompt"))
				answer, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				answer = strings.ToLower(strings.TrimSpace(answer))
				if answer != "y" && answer != "yes" {
					fmt.Fprintln(out, i18n.T("cli.trust_aborted"))
					return nil
				}
			}

			host := privileged.HostKeyName(addr)
			err = a.journal.AddKnownHostKey(cmd.Context(), host, key)
			if errors.Is(err, db.ErrDuplicate) {
				if !replace {
					return fmt.Errorf("%s", i18n.T("cli.error_host_trusted", host))
				}
				err = a.journal.ReplaceKnownHostKey(cmd.Context(), host, key)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(out, i18n.T("cli.host_trusted", host))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Trust the key without asking")
	cmd.Flags().BoolVar(&replace, "replace", false, "Overwrite a previously trusted key")
	return cmd
}
