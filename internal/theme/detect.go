package theme

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/ini.v1"
)

// source is one terminal whose config can supply a palette.
type source struct {
	name  string
	paths func(home string) []string
	parse func(path string) (Palette, bool)
}

func (s source) dirs(home string) []string {
	var out []string
	for _, p := range s.paths(home) {
		out = append(out, filepath.Dir(p))
	}
	return out
}

var sources = []source{
	{
		name: "omarchy",
		paths: func(home string) []string {
			return []string{filepath.Join(home, ".config", "omarchy", "current", "theme", "alacritty.toml")}
		},
		parse: parseAlacritty,
	},
	{
		name: "alacritty",
		paths: func(home string) []string {
			return []string{
				filepath.Join(home, ".config", "alacritty", "alacritty.toml"),
				filepath.Join(home, ".alacritty.toml"),
			}
		},
		parse: parseAlacritty,
	},
	{
		name: "kitty",
		paths: func(home string) []string {
			return []string{filepath.Join(home, ".config", "kitty", "kitty.conf")}
		},
		parse: parseKitty,
	},
	{
		name: "foot",
		paths: func(home string) []string {
			return []string{filepath.Join(home, ".config", "foot", "foot.ini")}
		},
		parse: parseFoot,
	},
}

// fromTerminal derives a palette from a terminal's background, foreground
// and optional selection color. The status colors stay at their defaults.
func fromTerminal(bg, fg, selection string) Palette {
	p := DefaultPalette()
	p.BG = normalizeHex(bg)
	p.FG = normalizeHex(fg)
	p.Muted = Dim(p.FG, 0.5)
	if selection != "" {
		p.AccentBg = normalizeHex(selection)
	} else {
		p.AccentBg = Mix(p.BG, p.FG, 0.15)
	}
	return p
}

type alacrittyColors struct {
	Colors struct {
		Primary struct {
			Background string `toml:"background"`
			Foreground string `toml:"foreground"`
		} `toml:"primary"`
		Selection struct {
			Background string `toml:"background"`
		} `toml:"selection"`
	} `toml:"colors"`
}

func parseAlacritty(path string) (Palette, bool) {
	var cfg alacrittyColors
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Palette{}, false
	}
	c := cfg.Colors
	if c.Primary.Background == "" || c.Primary.Foreground == "" {
		return Palette{}, false
	}
	return fromTerminal(c.Primary.Background, c.Primary.Foreground, c.Selection.Background), true
}

// parseKitty reads the "key value" lines of kitty.conf.
func parseKitty(path string) (Palette, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Palette{}, false
	}

	kv := make(map[string]string)
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		kv[fields[0]] = fields[1]
	}

	bg, fg := kv["background"], kv["foreground"]
	if bg == "" && fg == "" {
		return Palette{}, false
	}
	def := DefaultPalette()
	if bg == "" {
		bg = def.BG
	}
	if fg == "" {
		fg = def.FG
	}
	return fromTerminal(bg, fg, kv["selection_background"]), true
}

func parseFoot(path string) (Palette, bool) {
	cfg, err := ini.Load(path)
	if err != nil {
		return Palette{}, false
	}
	colors := cfg.Section("colors")
	bg := colors.Key("background").String()
	fg := colors.Key("foreground").String()
	if bg == "" || fg == "" {
		return Palette{}, false
	}
	return fromTerminal(bg, fg, colors.Key("selection-background").String()), true
}

func applyEnv(p Palette) Palette {
	for _, o := range []struct {
		env string
		dst *string
	}{
		{"SNOWFL_TUI_BG", &p.BG},
		{"SNOWFL_TUI_FG", &p.FG},
		{"SNOWFL_TUI_MUTED", &p.Muted},
		{"SNOWFL_TUI_ACCENT", &p.Accent},
	} {
		if v := os.Getenv(o.env); v != "" {
			*o.dst = normalizeHex(v)
		}
	}
	return p
}

var (
	hexLong  = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)
	hexShort = regexp.MustCompile(`^#[0-9a-fA-F]{3}$`)
)

// normalizeHex turns 0xRRGGBB, RRGGBB and #RGB into #rrggbb. Anything else
// (named colors, ANSI indexes) is returned trimmed.
func normalizeHex(color string) string {
	c := strings.TrimSpace(color)
	if strings.HasPrefix(c, "0x") || strings.HasPrefix(c, "0X") {
		c = c[2:]
	}
	if !strings.HasPrefix(c, "#") {
		c = "#" + c
	}

	switch {
	case hexLong.MatchString(c):
		return strings.ToLower(c)
	case hexShort.MatchString(c):
		r, g, b := c[1:2], c[2:3], c[3:4]
		return strings.ToLower("#" + r + r + g + g + b + b)
	}
	return strings.TrimSpace(color)
}

func rgb(hex string) (r, g, b float64, ok bool) {
	hex = normalizeHex(hex)
	if !hexLong.MatchString(hex) {
		return 0, 0, 0, false
	}
	v, err := strconv.ParseUint(hex[1:], 16, 32)
	if err != nil {
		return 0, 0, 0, false
	}
	return float64(v >> 16 & 0xff), float64(v >> 8 & 0xff), float64(v & 0xff), true
}

func toHex(r, g, b float64) string {
	return fmt.Sprintf("#%02x%02x%02x", uint8(r), uint8(g), uint8(b))
}

// Dim scales each channel of hex by factor.
func Dim(hex string, factor float64) string {
	r, g, b, ok := rgb(hex)
	if !ok {
		return hex
	}
	return toHex(r*factor, g*factor, b*factor)
}

// Mix blends a toward b by t (0 keeps a, 1 yields b).
func Mix(a, b string, t float64) string {
	r1, g1, b1, ok1 := rgb(a)
	r2, g2, b2, ok2 := rgb(b)
	if !ok1 || !ok2 {
		return a
	}
	return toHex(r1+(r2-r1)*t, g1+(g2-g1)*t, b1+(b2-b1)*t)
}
