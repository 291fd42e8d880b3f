package commands

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var (
	ColorAccent  = lipgloss.Color("#8b5cf6")
	ColorSuccess = lipgloss.Color("#22c55e")
	ColorWarning = lipgloss.Color("#eab308")
	ColorError   = lipgloss.Color("#ef4444")
	ColorInfo    = lipgloss.Color("#3b82f6")
	ColorMuted   = lipgloss.Color("#6b7280")
	ColorDim     = lipgloss.Color("#4b5563")
	ColorWhite   = lipgloss.Color("#f9fafb")
)

// isTTY reports whether stdout is a terminal.
func isTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

var (
	StyleHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorWhite)

	StyleSubheader = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorMuted)

	StyleAccent = lipgloss.NewStyle().
			Foreground(ColorAccent).
			Bold(true)

	StyleSuccess = lipgloss.NewStyle().Foreground(ColorSuccess)
	StyleWarning = lipgloss.NewStyle().Foreground(ColorWarning)
	StyleError   = lipgloss.NewStyle().Foreground(ColorError)
	StyleInfo    = lipgloss.NewStyle().Foreground(ColorInfo)
	StyleMuted   = lipgloss.NewStyle().Foreground(ColorMuted)
	StyleDim     = lipgloss.NewStyle().Foreground(ColorDim)

	StyleLabel = lipgloss.NewStyle().
			Foreground(ColorMuted).
			Width(16)

	StyleValue = lipgloss.NewStyle().
			Foreground(ColorWhite)

	StyleBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorDim).
			Padding(0, 1)

	StyleTableHeader = lipgloss.NewStyle().
				Bold(true).
				Foreground(ColorAccent).
				Padding(0, 1)

	StyleTableRow = lipgloss.NewStyle().
			Foreground(ColorWhite).
			Padding(0, 1)

	StyleTableRowAlt = lipgloss.NewStyle().
				Foreground(ColorMuted).
				Padding(0, 1)
)

// StatusBadge renders a colored pill for a stake or daemon state.
func StatusBadge(status string) string {
	if !isTTY() {
		return status
	}
	var bg lipgloss.Color
	switch status {
	case "active", "healthy", "unlocked", "premium":
		bg = ColorSuccess
	case "paused", "unhealthy", "closed":
		bg = ColorError
	case "locked", "degraded":
		bg = ColorWarning
	default:
		bg = ColorMuted
	}
	return lipgloss.NewStyle().
		Foreground(lipgloss.Color("#000000")).
		Background(bg).
		Padding(0, 1).
		Bold(true).
		Render(status)
}
