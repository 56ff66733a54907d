package console

import "github.com/charmbracelet/lipgloss"

// Palette.
var (
	PrimaryColor = lipgloss.Color("#A78BFA")
	SuccessColor = lipgloss.Color("#10B981")
	WarningColor = lipgloss.Color("#F59E0B")
	ErrorColor   = lipgloss.Color("#F87171")
	MutedColor   = lipgloss.Color("#9CA3AF")
	BlueColor    = lipgloss.Color("#60A5FA")
)

// Text styles.
var (
	statusStyle  = lipgloss.NewStyle().Foreground(PrimaryColor).Bold(true)
	successStyle = lipgloss.NewStyle().Foreground(SuccessColor).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(ErrorColor).Bold(true)
	codeStyle    = lipgloss.NewStyle().Foreground(BlueColor)
	mutedStyle   = lipgloss.NewStyle().Foreground(MutedColor)
	barFillStyle = lipgloss.NewStyle().Foreground(PrimaryColor)
	barRestStyle = lipgloss.NewStyle().Foreground(MutedColor)
)
