// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

package tui

import (
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
)

const (
	colorSubtle    = lipgloss.Color("240") // Muted gray
	colorHighlight = lipgloss.Color("81")  // Teal
	colorSpecial   = lipgloss.Color("208") // Orange
	colorError     = lipgloss.Color("196")
	colorSuccess   = lipgloss.Color("40")
	colorWhite     = lipgloss.Color("231")
)

var (
	docStyle = lipgloss.NewStyle().Margin(1, 2)

	titleStyle = lipgloss.NewStyle().
			Foreground(colorHighlight).
			Bold(true).
			Padding(0, 1)

	tabStyle       = lipgloss.NewStyle().Padding(0, 2).Foreground(colorSubtle)
	activeTabStyle = tabStyle.
			Foreground(colorWhite).
			Background(colorHighlight)

	errorStyle   = lipgloss.NewStyle().Foreground(colorError)
	successStyle = lipgloss.NewStyle().Foreground(colorSuccess)
	specialStyle = lipgloss.NewStyle().Foreground(colorSpecial)
	helpStyle    = lipgloss.NewStyle().Foreground(colorSubtle)

	dialogBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.ThickBorder()).
			BorderForeground(colorSpecial).
			Padding(1, 2).
			Width(60)

	buttonStyle = lipgloss.NewStyle().
			Foreground(colorWhite).
			Background(lipgloss.Color("237")).
			Padding(0, 3).
			MarginTop(1)

	activeButtonStyle = buttonStyle.
				Background(colorHighlight).
				Underline(true)
)

// tableStyles highlights the selected row in the accent color.
func tableStyles() table.Styles {
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(colorSubtle).
		BorderBottom(true).
		Bold(true)
	s.Selected = s.Selected.
		Foreground(colorWhite).
		Background(colorHighlight).
		Bold(false)
	return s
}
