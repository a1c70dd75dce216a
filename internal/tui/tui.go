// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

// Package tui is the interactive view of the authorized keys and the daemon
// configuration.
package tui

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/toeirei/keymaster-sshd/internal/i18n"
	"github.com/toeirei/keymaster-sshd/internal/sshkey"
)

// KeyStore is the part of the authorized keys store the TUI drives.
type KeyStore interface {
	Load(ctx context.Context) error
	Keys() []sshkey.AuthorizedKey
	RemoveKey(ctx context.Context, position int) error
}

// ConfigView is the read-only part of the daemon config store shown in the
// config tab.
type ConfigView interface {
	All() map[string]string
	HostKeys() []string
}

type viewState int

const (
	keysView viewState = iota
	configView
)

// keyRemovedMsg reports the outcome of a removal.
type keyRemovedMsg struct {
	comment string
	err     error
}

// keysReloadedMsg reports the outcome of a reload.
type keysReloadedMsg struct{ err error }

type model struct {
	ctx   context.Context
	store KeyStore
	cfg   ConfigView

	state     viewState
	keysTable table.Model
	cfgTable  table.Model
	help      help.Model
	keymap    keyMap

	// displayed maps table rows to store positions.
	displayed   []int
	filter      string
	isFiltering bool

	isConfirmingDelete bool
	deletePosition     int
	confirmCursor      int // 0 for No, 1 for Yes

	status string
	err    error
	width  int
	height int

	copyToClipboard func(string) error
}

func newModel(ctx context.Context, store KeyStore, cfg ConfigView) model {
	keysTable := table.New(
		table.WithColumns([]table.Column{
			{Title: "#", Width: 4},
			{Title: i18n.T("tui.column_type"), Width: 22},
			{Title: i18n.T("tui.column_key"), Width: 30},
			{Title: i18n.T("tui.column_comment"), Width: 30},
		}),
		table.WithFocused(true),
		table.WithHeight(12),
	)
	keysTable.SetStyles(tableStyles())
	cfgTable := table.New(
		table.WithColumns([]table.Column{
			{Title: i18n.T("tui.column_directive"), Width: 30},
			{Title: i18n.T("tui.column_value"), Width: 50},
		}),
		table.WithFocused(true),
		table.WithHeight(12),
	)
	cfgTable.SetStyles(tableStyles())

	m := model{
		ctx:             ctx,
		store:           store,
		cfg:             cfg,
		keysTable:       keysTable,
		cfgTable:        cfgTable,
		help:            help.New(),
		keymap:          defaultKeyMap(),
		copyToClipboard: clipboard.WriteAll,
	}
	m.rebuildKeys()
	m.rebuildConfig()
	return m
}

// Run starts the TUI and blocks until the user quits.
func Run(ctx context.Context, store KeyStore, cfg ConfigView) error {
	p := tea.NewProgram(newModel(ctx, store, cfg), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}

func (m model) Init() tea.Cmd { return nil }

// rebuildKeys refreshes the key table from the store, applying the filter.
func (m *model) rebuildKeys() {
	keys := m.store.Keys()
	lowerFilter := strings.ToLower(m.filter)
	m.displayed = nil
	rows := make([]table.Row, 0, len(keys))
	for i, k := range keys {
		if m.filter != "" &&
			!strings.Contains(strings.ToLower(k.Comment), lowerFilter) &&
			!strings.Contains(strings.ToLower(k.Algorithm()), lowerFilter) {
			continue
		}
		m.displayed = append(m.displayed, i)
		rows = append(rows, table.Row{fmt.Sprint(i), k.Algorithm(), abbreviate(k.Key, 28), k.Comment})
	}
	m.keysTable.SetRows(rows)
	if c := m.keysTable.Cursor(); c >= len(rows) && len(rows) > 0 {
		m.keysTable.SetCursor(len(rows) - 1)
	}
}

func (m *model) rebuildConfig() {
	if m.cfg == nil {
		return
	}
	var rows []table.Row
	for _, hk := range m.cfg.HostKeys() {
		rows = append(rows, table.Row{"HostKey", hk})
	}
	directives := m.cfg.All()
	for _, name := range slices.Sorted(maps.Keys(directives)) {
		rows = append(rows, table.Row{name, directives[name]})
	}
	m.cfgTable.SetRows(rows)
}

// selectedPosition returns the store position under the cursor.
func (m model) selectedPosition() (int, bool) {
	c := m.keysTable.Cursor()
	if c < 0 || c >= len(m.displayed) {
		return 0, false
	}
	return m.displayed[c], true
}

func (m model) removeKey(position int, comment string) tea.Cmd {
	return func() tea.Msg {
		return keyRemovedMsg{comment: comment, err: m.store.RemoveKey(m.ctx, position)}
	}
}

func (m model) reload() tea.Cmd {
	return func() tea.Msg {
		return keysReloadedMsg{err: m.store.Load(m.ctx)}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		h := max(msg.Height-10, 5)
		m.keysTable.SetHeight(h)
		m.cfgTable.SetHeight(h)
		m.help.Width = msg.Width
		return m, nil

	case keyRemovedMsg:
		if msg.err != nil {
			m.err = msg.err
			m.status = ""
		} else {
			m.err = nil
			m.status = i18n.T("tui.key_deleted", msg.comment)
		}
		m.rebuildKeys()
		return m, nil

	case keysReloadedMsg:
		m.err = msg.err
		m.status = ""
		if msg.err == nil {
			m.status = i18n.T("tui.reloaded")
		}
		m.rebuildKeys()
		return m, nil

	case tea.KeyMsg:
		if m.isConfirmingDelete {
			return m.updateConfirm(msg)
		}
		if m.isFiltering {
			return m.updateFilter(msg), nil
		}
		switch {
		case key.Matches(msg, m.keymap.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keymap.Help):
			m.help.ShowAll = !m.help.ShowAll
			return m, nil
		case key.Matches(msg, m.keymap.Tab):
			if m.state == keysView {
				m.state = configView
				m.rebuildConfig()
			} else {
				m.state = keysView
			}
			return m, nil
		}
		if m.state == keysView {
			switch {
			case key.Matches(msg, m.keymap.Delete):
				if pos, ok := m.selectedPosition(); ok {
					m.isConfirmingDelete = true
					m.deletePosition = pos
					m.confirmCursor = 0
				}
				return m, nil
			case key.Matches(msg, m.keymap.Copy):
				if pos, ok := m.selectedPosition(); ok {
					keys := m.store.Keys()
					if pos < len(keys) {
						if err := m.copyToClipboard(keys[pos].String()); err != nil {
							m.err = err
						} else {
							m.err = nil
							m.status = i18n.T("tui.key_copied")
						}
					}
				}
				return m, nil
			case key.Matches(msg, m.keymap.Filter):
				m.isFiltering = true
				m.filter = ""
				return m, nil
			case key.Matches(msg, m.keymap.Reload):
				return m, m.reload()
			}
		}
	}

	var cmd tea.Cmd
	if m.state == keysView {
		m.keysTable, cmd = m.keysTable.Update(msg)
	} else {
		m.cfgTable, cmd = m.cfgTable.Update(msg)
	}
	return m, cmd
}

func (m model) updateConfirm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "y":
		m.confirmCursor = 1
		fallthrough
	case "enter":
		m.isConfirmingDelete = false
		if m.confirmCursor != 1 {
			m.status = i18n.T("tui.delete_cancelled")
			return m, nil
		}
		keys := m.store.Keys()
		comment := ""
		if m.deletePosition < len(keys) {
			comment = keys[m.deletePosition].Comment
		}
		return m, m.removeKey(m.deletePosition, comment)
	case "n", "q", "esc":
		m.isConfirmingDelete = false
		m.status = i18n.T("tui.delete_cancelled")
	case "right", "tab", "l":
		m.confirmCursor = 1
	case "left", "shift+tab", "h":
		m.confirmCursor = 0
	}
	return m, nil
}

func (m model) updateFilter(msg tea.KeyMsg) model {
	switch msg.Type {
	case tea.KeyEsc:
		m.isFiltering = false
		m.filter = ""
	case tea.KeyEnter:
		m.isFiltering = false
	case tea.KeyBackspace:
		if len(m.filter) > 0 {
			m.filter = m.filter[:len(m.filter)-1]
		}
	case tea.KeyRunes:
		m.filter += string(msg.Runes)
	}
	m.rebuildKeys()
	return m
}

func (m model) View() string {
	var b strings.Builder

	keysTab, cfgTab := activeTabStyle, tabStyle
	if m.state == configView {
		keysTab, cfgTab = tabStyle, activeTabStyle
	}
	b.WriteString(titleStyle.Render("keymaster-sshd") + " ")
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		keysTab.Render(i18n.T("tui.tab_keys")),
		cfgTab.Render(i18n.T("tui.tab_config")),
	))
	b.WriteString("\n\n")

	if m.state == keysView {
		if len(m.displayed) == 0 {
			b.WriteString(helpStyle.Render(i18n.T("tui.no_keys")) + "\n")
		} else {
			b.WriteString(m.keysTable.View() + "\n")
		}
		if m.isFiltering || m.filter != "" {
			b.WriteString(specialStyle.Render(i18n.T("tui.filter", m.filter)) + "\n")
		}
	} else {
		b.WriteString(m.cfgTable.View() + "\n")
	}

	if m.isConfirmingDelete {
		b.WriteString("\n" + m.confirmView() + "\n")
	}
	if m.err != nil {
		b.WriteString(errorStyle.Render(i18n.T("tui.error", m.err)) + "\n")
	} else if m.status != "" {
		b.WriteString(successStyle.Render(m.status) + "\n")
	}
	b.WriteString("\n" + m.help.View(m.keymap))
	return docStyle.Render(b.String())
}

func (m model) confirmView() string {
	label := ""
	if keys := m.store.Keys(); m.deletePosition < len(keys) {
		label = keys[m.deletePosition].Comment
	}
	no, yes := activeButtonStyle, buttonStyle
	if m.confirmCursor == 1 {
		no, yes = buttonStyle, activeButtonStyle
	}
	buttons := lipgloss.JoinHorizontal(lipgloss.Top,
		no.Render(i18n.T("tui.no")), "  ", yes.Render(i18n.T("tui.yes")))
	return dialogBoxStyle.Render(i18n.T("tui.confirm_delete", label) + "\n" + buttons)
}

// abbreviate shortens s to width runes, keeping both ends.
func abbreviate(s string, width int) string {
	r := []rune(s)
	if len(r) <= width || width < 5 {
		return s
	}
	half := (width - 1) / 2
	return string(r[:half]) + "…" + string(r[len(r)-(width-1-half):])
}
