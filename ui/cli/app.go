// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/toeirei/keymaster-sshd/internal/authkeys"
	"github.com/toeirei/keymaster-sshd/internal/config"
	"github.com/toeirei/keymaster-sshd/internal/db"
	"github.com/toeirei/keymaster-sshd/internal/i18n"
	"github.com/toeirei/keymaster-sshd/internal/logging"
	"github.com/toeirei/keymaster-sshd/internal/privileged"
	"github.com/toeirei/keymaster-sshd/internal/service"
	"github.com/toeirei/keymaster-sshd/internal/sshdconfig"
	"github.com/toeirei/keymaster-sshd/internal/state"
)

// Command annotations steering the composition root.
const (
	annotationSkipSetup = "keymaster-sshd/skip-setup"
	annotationStores    = "keymaster-sshd/stores"
)

// Replaceable in tests.
var (
	proxyFactory   = defaultProxyFactory
	serviceFactory = defaultServiceFactory
	fetchHostKey   = privileged.FetchHostKey
)

// app carries everything the commands need once setup has run.
type app struct {
	cfgFile  string
	debug    bool
	language string

	cfg        config.Config
	journal    *db.BunStore
	proxy      privileged.Proxy
	closeProxy func()
	svc        service.Handle
	sshd       *sshdconfig.Store
	keys       *authkeys.Store
}

func needsStores(cmd *cobra.Command) *cobra.Command {
	if cmd.Annotations == nil {
		cmd.Annotations = map[string]string{}
	}
	cmd.Annotations[annotationStores] = "true"
	return cmd
}

// configPathFromFlags returns the --config value when it was set and the
// file exists.
func configPathFromFlags(cmd *cobra.Command) (*string, error) {
	if !cmd.Flags().Changed("config") {
		return nil, nil
	}
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("could not read --config flag: %w", err)
	}
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file specified via --config flag not found or is not accessible: %w", err)
	}
	return &path, nil
}

// setup is the PersistentPreRunE of the root command.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	if cmd.Annotations[annotationSkipSetup] == "true" {
		return nil
	}
	explicit, err := configPathFromFlags(cmd)
	if err != nil {
		return err
	}
	cfg, used, err := config.LoadConfig[config.Config](cmd, config.Defaults(), explicit)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	a.cfg = cfg
	logging.SetDebug(cfg.Debug)
	i18n.Init(cfg.Language)

	if used == "" {
		if path, werr := config.WriteConfigFile(&a.cfg, false); werr != nil {
			logging.Warnf("could not write default config file: %v", werr)
		} else {
			logging.Infof("wrote default config to %s", path)
		}
	} else {
		logging.Debugf("using config file %s", used)
	}

	if err := a.openJournal(); err != nil {
		return errors.New(i18n.T("cli.error_init_db", err))
	}

	if cmd.Annotations[annotationStores] != "true" {
		return nil
	}
	return a.openStores(cmd.Context())
}

func (a *app) openJournal() error {
	dsn := a.cfg.Database.Dsn
	if a.cfg.Database.Type == "sqlite" && !strings.Contains(dsn, ":memory:") && !strings.HasPrefix(dsn, "file:") {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o700); err != nil {
			return err
		}
	}
	j, err := db.NewStoreFromDSN(a.cfg.Database.Type, dsn)
	if err != nil {
		return err
	}
	a.journal = j
	return nil
}

func (a *app) openStores(ctx context.Context) error {
	proxy, closeProxy, err := proxyFactory(ctx, a.cfg, a.journal)
	if err != nil {
		return errors.New(i18n.T("cli.error_privileged", err))
	}
	a.proxy, a.closeProxy = proxy, closeProxy

	svc, err := serviceFactory(a.cfg, proxy)
	if err != nil {
		return err
	}
	a.svc = svc

	a.sshd = sshdconfig.New(proxy, svc, sshdconfig.Options{
		ConfigPath:      a.cfg.SSHD.ConfigPath,
		Defaults:        sshdconfig.DefaultDirectives(a.cfg.SSHD.AuthorizedKeysPath),
		DefaultHostKeys: defaultHostKeys(a.cfg.SSHD),
		Audit:           a.journal,
	})
	if err := a.sshd.Load(ctx); err != nil {
		logging.Warnf("%s", i18n.T("cli.warn_config_unloaded", err))
	}

	a.keys = authkeys.New(proxy, a.sshd.AuthorizedKeysPath, authkeys.Options{Audit: a.journal})
	if err := a.keys.Load(ctx); err != nil {
		logging.Warnf("%s", i18n.T("cli.warn_keys_unloaded", err))
	}
	return nil
}

// requireConfigLoaded refuses commands that would rewrite sshd_config from
// a store whose load failed.
func (a *app) requireConfigLoaded() error {
	if !a.sshd.Loaded() {
		return errors.New(i18n.T("cli.error_config_unloaded", a.sshd.Path()))
	}
	return nil
}

// requireKeysLoaded refuses commands that would rewrite the authorized
// keys file without knowing its content.
func (a *app) requireKeysLoaded() error {
	if !a.keys.Loaded() {
		return errors.New(i18n.T("cli.error_keys_unloaded"))
	}
	return nil
}

func defaultHostKeys(c config.SSHDConfig) []string {
	var out []string
	for _, p := range []string{c.RSAHostKey, c.DSAHostKey} {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// close releases the journal and the proxy. It is safe to call more than
// once.
func (a *app) close() {
	if a.closeProxy != nil {
		a.closeProxy()
		a.closeProxy = nil
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			logging.Debugf("closing journal: %v", err)
		}
		a.journal = nil
	}
}

func defaultProxyFactory(ctx context.Context, cfg config.Config, known privileged.HostKeyLookup) (privileged.Proxy, func(), error) {
	if cfg.Privilege.Mode != config.ModeSSH {
		command, err := cfg.Privilege.ElevationCommand()
		if err != nil {
			return nil, nil, err
		}
		return privileged.NewExecProxy(command), func() {}, nil
	}
	if cfg.Privilege.Host == "" {
		return nil, nil, errors.New("privilege.host is required in ssh mode")
	}
	rc := privileged.RemoteConfig{
		Host:         cfg.Privilege.Host,
		User:         cfg.Privilege.User,
		IdentityFile: cfg.Privilege.IdentityFile,
		Sudo:         cfg.Privilege.RemoteSudo,
	}
	rp, err := dialRemote(ctx, rc, known)
	if err != nil {
		return nil, nil, err
	}
	return rp, rp.Close, nil
}

// dialRemote connects, prompting once for the identity passphrase when the
// key is encrypted.
func dialRemote(ctx context.Context, rc privileged.RemoteConfig, known privileged.HostKeyLookup) (*privileged.RemoteProxy, error) {
	defer state.PassphraseCache.Clear()

	pass := state.PassphraseCache.Get()
	rp, err := privileged.DialRemote(ctx, rc, known, pass)
	state.Wipe(pass)
	if !errors.Is(err, privileged.ErrPassphraseRequired) {
		return rp, err
	}

	entered, perr := promptPassphrase(rc.IdentityFile)
	if perr != nil {
		return nil, perr
	}
	state.PassphraseCache.Set(entered)
	state.Wipe(entered)

	pass = state.PassphraseCache.Get()
	defer state.Wipe(pass)
	return privileged.DialRemote(ctx, rc, known, pass)
}

func promptPassphrase(identityFile string) ([]byte, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, privileged.ErrPassphraseRequired
	}
	fmt.Fprint(os.Stderr, i18n.T("cli.passphrase_prompt", identityFile))
	pass, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("read passphrase: %w", err)
	}
	return pass, nil
}

func defaultServiceFactory(cfg config.Config, proxy privileged.Proxy) (service.Handle, error) {
	unit := cfg.Service.Unit
	if unit == "" {
		unit = service.DefaultUnit
	}
	switch cfg.Service.Kind {
	case config.ServiceSystemd, "":
		if cfg.Privilege.Mode == config.ModeSSH {
			status, restart := service.SystemctlScripts(unit)
			return service.NewScript(proxy, status, restart), nil
		}
		return service.NewSystemd(unit), nil
	case config.ServiceScript:
		status, restart := service.PidFileScripts(cfg.Service.PidFile)
		return service.NewScript(proxy, status, restart), nil
	case config.ServiceNone:
		return service.Noop{}, nil
	default:
		return nil, fmt.Errorf("unknown service.kind %q", cfg.Service.Kind)
	}
}
