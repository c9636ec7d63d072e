// Package tui provides Bubble Tea TUI components for the sluice CLI.
//
// TUI is opt-in (--tui) and read-only. Views render the same payloads
// as the table, json and yaml formats.
package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Palette. Up, stale and down follow the item state colors.
var (
	accentColor = lipgloss.AdaptiveColor{Light: "#5B21B6", Dark: "#A78BFA"}
	upColor     = lipgloss.AdaptiveColor{Light: "#047857", Dark: "#34D399"}
	staleColor  = lipgloss.AdaptiveColor{Light: "#B45309", Dark: "#FBBF24"}
	downColor   = lipgloss.AdaptiveColor{Light: "#B91C1C", Dark: "#F87171"}
	dimColor    = lipgloss.AdaptiveColor{Light: "#6B7280", Dark: "#9CA3AF"}
	infoColor   = lipgloss.AdaptiveColor{Light: "#1D4ED8", Dark: "#60A5FA"}
	textColor   = lipgloss.AdaptiveColor{Light: "#111827", Dark: "#F9FAFB"}
)

var (
	TitleStyle = lipgloss.NewStyle().Bold(true).Foreground(accentColor).MarginBottom(1)
	HelpStyle  = lipgloss.NewStyle().Foreground(dimColor).MarginTop(1)

	// LabelStyle pads labels so values line up.
	LabelStyle = lipgloss.NewStyle().Foreground(dimColor).Width(16)
	ValueStyle = lipgloss.NewStyle().Foreground(textColor)

	SuccessStyle = lipgloss.NewStyle().Foreground(upColor)
	WarningStyle = lipgloss.NewStyle().Foreground(staleColor)
	ErrorStyle   = lipgloss.NewStyle().Foreground(downColor)

	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(dimColor).
			Padding(1, 2)

	// StatBoxStyle is one counter tile. Callers set the border color.
	StatBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			Padding(0, 1).
			Width(18).
			Align(lipgloss.Center)
	StatLabelStyle = lipgloss.NewStyle().Foreground(dimColor)
	StatValueStyle = lipgloss.NewStyle().Bold(true)
)

// StateStyle returns a style for an item state such as "Open/Ok". The
// stream state decides first, then the data state.
func StateStyle(state string) lipgloss.Style {
	stream, data, _ := strings.Cut(state, "/")
	switch {
	case stream == "Closed" || stream == "Redirected":
		return ErrorStyle
	case stream == "ClosedRecover" || data == "Suspect":
		return WarningStyle
	case stream == "Open" || stream == "NonStreaming":
		return SuccessStyle
	default:
		return ValueStyle
	}
}
