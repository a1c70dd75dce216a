// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"

	"github.com/toeirei/keymaster-sshd/buildvars"
	"github.com/toeirei/keymaster-sshd/internal/tui"
)

var version = "dev"   // set by the linker
var gitCommit = "dev" // short commit SHA, set at build time
var buildDate = ""    // RFC3339, set at build time

// Execute runs the CLI. The main package handles process exit.
func Execute() error {
	cmd, a := newRootCmd()
	defer a.close()
	return cmd.Execute()
}

// NewRootCmd returns a fresh command tree.
func NewRootCmd() *cobra.Command {
	cmd, _ := newRootCmd()
	return cmd
}

func newRootCmd() (*cobra.Command, *app) {
	a := &app{}
	cmd := &cobra.Command{
		Use:   "keymaster-sshd",
		Short: "Manage an OpenSSH daemon's config and authorized keys.",
		Long: `keymaster-sshd edits sshd_config and the daemon's authorized keys file
through a privileged channel (sudo, su or SSH). Every change is written
straight to disk and the daemon is restarted when it is running.

Running without a subcommand launches the interactive TUI.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		RunE: func(cmd *cobra.Command, args []string) error {
			return tui.Run(cmd.Context(), a.keys, a.sshd)
		},
	}
	needsStores(cmd)
	cmd.Version = compositeVersion()

	cmd.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file")
	cmd.PersistentFlags().BoolVar(&a.debug, "debug", false, "Enable debug logging")
	cmd.PersistentFlags().StringVar(&a.language, "language", "en", `Output language ("en", "de")`)

	cmd.AddCommand(
		newConfigCmd(a),
		newKeysCmd(a),
		newServiceCmd(a),
		newTrustHostCmd(a),
		newAuditCmd(a),
		newBackupCmd(a),
		newRestoreCmd(a),
		needsStores(&cobra.Command{
			Use:   "tui",
			Short: "Launch the interactive terminal UI",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return tui.Run(cmd.Context(), a.keys, a.sshd)
			},
		}),
		newVersionCmd(),
	)
	return cmd, a
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print version",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationSkipSetup: "true"},
		Run: func(cmd *cobra.Command, args []string) {
			v, c, d := resolveBuildVersion(nil)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "version: %s\n", v)
			fmt.Fprintf(out, "commit: %s\n", c)
			if d != "" {
				fmt.Fprintf(out, "built: %s\n", d)
			}
		},
	}
}

func compositeVersion() string {
	v, c, d := resolveBuildVersion(nil)
	if c != "" && c != "dev" {
		v += " (" + c + ")"
	}
	if d != "" {
		v += " built: " + d
	}
	return v
}

// resolveBuildVersion computes the best-available version, commit and build
// date. If info is nil, it reads build info from the runtime.
func resolveBuildVersion(info *debug.BuildInfo) (versionOut, commitOut, dateOut string) {
	versionOut = buildvars.VersionOrDefault(version)
	commitOut = gitCommit
	dateOut = buildDate

	if info == nil {
		if local, ok := debug.ReadBuildInfo(); ok {
			info = local
		}
	}
	if info == nil {
		return versionOut, commitOut, dateOut
	}
	if versionOut == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		versionOut = info.Main.Version
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			if s.Value != "" && commitOut == "dev" {
				commitOut = s.Value
				if len(commitOut) > 12 {
					commitOut = commitOut[:12]
				}
			}
		case "vcs.time":
			if s.Value != "" && dateOut == "" {
				dateOut = s.Value
			}
		}
	}
	return versionOut, commitOut, dateOut
}
