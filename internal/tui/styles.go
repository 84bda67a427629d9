package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/litescript/snowfl-tui/internal/theme"
)

// Styles holds all lipgloss styles derived from a palette
type Styles struct {
	Title         lipgloss.Style
	SearchPrompt  lipgloss.Style
	SortedHeader  lipgloss.Style
	TableRow      lipgloss.Style
	TableSelected lipgloss.Style
	HealthGood    lipgloss.Style
	HealthMed     lipgloss.Style
	HealthBad     lipgloss.Style
	Muted         lipgloss.Style
	Error         lipgloss.Style
	Online        lipgloss.Style
	Offline       lipgloss.Style
	HelpKey       lipgloss.Style
	PanelTitle    lipgloss.Style
	Badge         lipgloss.Style
}

// NewStyles creates styles from a palette
func NewStyles(p theme.Palette) Styles {
	return Styles{
		Title:         lipgloss.NewStyle().Foreground(lipgloss.Color(p.FG)).Bold(true),
		SearchPrompt:  lipgloss.NewStyle().Foreground(lipgloss.Color(p.Muted)),
		SortedHeader:  lipgloss.NewStyle().Foreground(lipgloss.Color(p.Accent)).Bold(true),
		TableRow:      lipgloss.NewStyle().Foreground(lipgloss.Color(p.FG)),
		TableSelected: lipgloss.NewStyle().Foreground(lipgloss.Color(p.Accent)).Background(lipgloss.Color(p.AccentBg)).Bold(true),
		HealthGood:    lipgloss.NewStyle().Foreground(lipgloss.Color(p.Accent)),
		HealthMed:     lipgloss.NewStyle().Foreground(lipgloss.Color(p.Warn)),
		HealthBad:     lipgloss.NewStyle().Foreground(lipgloss.Color(p.Error)),
		Muted:         lipgloss.NewStyle().Foreground(lipgloss.Color(p.Muted)),
		Error:         lipgloss.NewStyle().Foreground(lipgloss.Color(p.Error)).Bold(true),
		Online:        lipgloss.NewStyle().Foreground(lipgloss.Color(p.Accent)),
		Offline:       lipgloss.NewStyle().Foreground(lipgloss.Color(p.Error)),
		HelpKey:       lipgloss.NewStyle().Foreground(lipgloss.Color(p.Muted)),
		PanelTitle:    lipgloss.NewStyle().Foreground(lipgloss.Color(p.FG)).Bold(true).Underline(true),
		Badge:         lipgloss.NewStyle().Foreground(lipgloss.Color(p.Warn)),
	}
}

// HealthBar renders a visual health indicator
func (s Styles) HealthBar(health int, width int) string {
	filled := (health * width) / 100
	if filled > width {
		filled = width
	}

	var style lipgloss.Style
	switch {
	case health >= 70:
		style = s.HealthGood
	case health >= 40:
		style = s.HealthMed
	default:
		style = s.HealthBad
	}

	return style.Render(strings.Repeat("█", filled)) + s.Muted.Render(strings.Repeat("░", width-filled))
}

// TruncateString truncates a string to max runes with ellipsis
func TruncateString(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}

// PadRight pads a string to a specific width
func PadRight(s string, width int) string {
	w := lipgloss.Width(s)
	if w >= width {
		return s
	}
	return s + strings.Repeat(" ", width-w)
}

// PadLeft pads a string on the left to a specific width
func PadLeft(s string, width int) string {
	w := lipgloss.Width(s)
	if w >= width {
		return s
	}
	return strings.Repeat(" ", width-w) + s
}
