// Package theme picks the TUI colors from the user's terminal configuration.
// Omarchy, Alacritty, Kitty and Foot are read in that order, with
// SNOWFL_TUI_* environment variables applied on top.
package theme

import (
	"os"

	"github.com/litescript/snowfl-tui/internal/watch"
)

// Palette holds the color scheme for the TUI
type Palette struct {
	BG       string // background
	FG       string // foreground (primary text)
	Muted    string // secondary info
	Accent   string // health bars, highlights
	AccentBg string // selection background
	Warn     string
	Error    string
}

// DefaultPalette returns the amber-on-dark theme
func DefaultPalette() Palette {
	return Palette{
		BG:       "#0a0a0a",
		FG:       "#d4a017",
		Muted:    "#6b6b4f",
		Accent:   "#8bc34a",
		AccentBg: "#1a1a14",
		Warn:     "#e0a030",
		Error:    "#ff6b6b",
	}
}

// Detect reads the palette for the current user.
func Detect() Palette {
	home, err := os.UserHomeDir()
	if err != nil {
		return applyEnv(DefaultPalette())
	}
	p, _ := DetectIn(home)
	return p
}

// DetectIn reads the palette from terminal configs under home and reports
// which terminal supplied it ("default" when none did).
func DetectIn(home string) (Palette, string) {
	for _, src := range sources {
		for _, path := range src.paths(home) {
			if p, ok := src.parse(path); ok {
				return applyEnv(p), src.name
			}
		}
	}
	return applyEnv(DefaultPalette()), "default"
}

// Watcher re-runs detection when a terminal config changes
type Watcher struct {
	*watch.Debounced
}

// NewWatcher watches the terminal config directories under home and calls
// onChange with the newly detected palette.
func NewWatcher(home string, onChange func(Palette)) (*Watcher, error) {
	var dirs []string
	for _, src := range sources {
		dirs = append(dirs, src.dirs(home)...)
	}

	d, err := watch.New(dirs, nil, 0, func() {
		p, _ := DetectIn(home)
		if onChange != nil {
			onChange(p)
		}
	})
	if err != nil {
		return nil, err
	}
	return &Watcher{Debounced: d}, nil
}
