package tui

import "github.com/charmbracelet/lipgloss"

const (
	colorAccent  = lipgloss.Color("#5FAFFF")
	colorOK      = lipgloss.Color("#33CC66")
	colorWarn    = lipgloss.Color("#FFCC00")
	colorError   = lipgloss.Color("#FF4444")
	colorMuted   = lipgloss.Color("#808080")
	colorBorder  = lipgloss.Color("#3A3A3A")
	colorHeading = lipgloss.Color("#F5F6FA")
)

var (
	titleStyle = lipgloss.NewStyle().Foreground(colorHeading).Background(lipgloss.Color("#1B4F8F")).Bold(true).Padding(0, 1)
	labelStyle = lipgloss.NewStyle().Foreground(colorMuted)
	valueStyle = lipgloss.NewStyle().Foreground(colorAccent).Bold(true)
	errorStyle = lipgloss.NewStyle().Foreground(colorError)
	helpStyle  = lipgloss.NewStyle().Foreground(colorMuted)
	panelStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(colorBorder).Padding(0, 1)
)
