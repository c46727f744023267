// Package ui renders kycctl output as lipgloss panels.
package ui

import "github.com/charmbracelet/lipgloss"

var (
	Primary  = lipgloss.Color("#7D56F4")
	Success  = lipgloss.Color("#00C853")
	Warning  = lipgloss.Color("#FFD600")
	ErrorCol = lipgloss.Color("#FF1744")
	Text     = lipgloss.Color("#C0CAF5")
	Muted    = lipgloss.Color("#565F89")

	HeaderStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(Primary).
			Bold(true).
			Padding(0, 2).
			MarginTop(1)

	CardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(Primary).
			Padding(1, 2).
			Width(64)

	StatusLabelStyle = lipgloss.NewStyle().
				Bold(true).
				Padding(0, 1)

	InfoKeyStyle = lipgloss.NewStyle().
			Foreground(Muted).
			Width(18)

	InfoValueStyle = lipgloss.NewStyle().
			Foreground(Text)

	MutedStyle = lipgloss.NewStyle().
			Foreground(Muted).
			Italic(true)

	ErrorTextStyle = lipgloss.NewStyle().
			Foreground(ErrorCol).
			Bold(true)
)
