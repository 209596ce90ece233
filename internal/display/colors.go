// Package display renders command output: colorized status text and plain
// ASCII tables with graceful fallback on dumb terminals.
package display

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
)

// Color identifies a semantic output color.
type Color int

const (
	ColorDefault Color = iota
	ColorGreen
	ColorYellow
	ColorRed
	ColorCyan
	ColorBlue
	ColorMagenta
	ColorMuted
)

// Theme maps output roles to colors.
type Theme struct {
	Success   Color
	Warning   Color
	Error     Color
	Info      Color
	Highlight Color
	Muted     Color
}

// DarkTheme suits dark terminal backgrounds.
func DarkTheme() Theme {
	return Theme{
		Success:   ColorGreen,
		Warning:   ColorYellow,
		Error:     ColorRed,
		Info:      ColorCyan,
		Highlight: ColorBlue,
		Muted:     ColorMuted,
	}
}

// ColorSystem applies theme colors with terminal capability detection.
type ColorSystem struct {
	theme     Theme
	supported bool
	profile   termenv.Profile
	colorMap  map[Color]*color.Color
}

// NewColorSystem creates a color system. When enabled is false, or the
// terminal does not support color, output passes through unstyled.
func NewColorSystem(theme Theme, enabled bool) *ColorSystem {
	cs := &ColorSystem{
		theme:     theme,
		supported: enabled && detectColorSupport(),
		profile:   termenv.ColorProfile(),
	}
	cs.colorMap = map[Color]*color.Color{
		ColorGreen:   color.New(color.FgHiGreen),
		ColorYellow:  color.New(color.FgHiYellow),
		ColorRed:     color.New(color.FgHiRed),
		ColorCyan:    color.New(color.FgCyan),
		ColorBlue:    color.New(color.FgHiBlue),
		ColorMagenta: color.New(color.FgMagenta),
		ColorMuted:   color.New(color.FgWhite),
	}
	return cs
}

func detectColorSupport() bool {
	if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		return false
	}
	if os.Getenv("NO_COLOR") != "" || os.Getenv("TERM") == "dumb" {
		return false
	}
	return true
}

// Colorize applies one color to text when supported.
func (cs *ColorSystem) Colorize(text string, clr Color) string {
	if !cs.supported {
		return text
	}
	if fn, ok := cs.colorMap[clr]; ok {
		return fn.Sprint(text)
	}
	return text
}

// Sprintf formats and colorizes in one step.
func (cs *ColorSystem) Sprintf(clr Color, format string, args ...interface{}) string {
	return cs.Colorize(fmt.Sprintf(format, args...), clr)
}

// Success renders text in the theme's success color.
func (cs *ColorSystem) Success(text string) string { return cs.Colorize(text, cs.theme.Success) }

// Warning renders text in the theme's warning color.
func (cs *ColorSystem) Warning(text string) string { return cs.Colorize(text, cs.theme.Warning) }

// Error renders text in the theme's error color.
func (cs *ColorSystem) Error(text string) string { return cs.Colorize(text, cs.theme.Error) }

// Info renders text in the theme's info color.
func (cs *ColorSystem) Info(text string) string { return cs.Colorize(text, cs.theme.Info) }

// Highlight renders text in the theme's highlight color.
func (cs *ColorSystem) Highlight(text string) string { return cs.Colorize(text, cs.theme.Highlight) }

// IsColorSupported reports whether colors will be applied.
func (cs *ColorSystem) IsColorSupported() bool { return cs.supported }
