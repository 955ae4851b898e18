package tui

import "github.com/charmbracelet/lipgloss"

var (
	colorText    lipgloss.Color = "#cdd6f4"
	colorMuted   lipgloss.Color = "#a6adc8"
	colorBorder  lipgloss.Color = "#585b70"
	colorAccent  lipgloss.Color = "#89b4fa"
	colorSuccess lipgloss.Color = "#a6e3a1"
	colorError   lipgloss.Color = "#f38ba8"
	colorMantle  lipgloss.Color = "#181825"
	colorBall    lipgloss.Color = "#f9e2af"
)

var (
	titleStyle = lipgloss.NewStyle().Foreground(colorAccent).Bold(true)
	mutedStyle = lipgloss.NewStyle().Foreground(colorMuted)

	capStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Foreground(colorText).
			Padding(0, 2)
	capPickedStyle = capStyle.BorderForeground(colorAccent)
	capWonStyle    = capStyle.BorderForeground(colorSuccess)
	capLostStyle   = capStyle.BorderForeground(colorError)
	ballStyle      = lipgloss.NewStyle().Foreground(colorBall).Bold(true)

	countStyle     = lipgloss.NewStyle().Foreground(colorText)
	countFadeStyle = lipgloss.NewStyle().Foreground(colorAccent).Bold(true)
	winStyle       = lipgloss.NewStyle().Foreground(colorSuccess).Bold(true)
	lossStyle      = lipgloss.NewStyle().Foreground(colorError).Bold(true)

	statusBarStyle = lipgloss.NewStyle().
			Foreground(colorSuccess).
			Background(colorMantle)
	statusErrBarStyle = lipgloss.NewStyle().
				Foreground(colorError).
				Background(colorMantle)
	keyStyle      = lipgloss.NewStyle().Foreground(colorAccent).Bold(true)
	helpDescStyle = lipgloss.NewStyle().Foreground(colorMuted)
)
