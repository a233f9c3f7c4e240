package display

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
)

// Color identifies a terminal color role
type Color int

const (
	ColorReset Color = iota
	ColorRed
	ColorGreen
	ColorYellow
	ColorBlue
	ColorMagenta
	ColorCyan
	ColorWhite
	ColorBrightRed
	ColorBrightGreen
	ColorBrightYellow
	ColorBrightBlue
	ColorBrightCyan
)

// ColorTheme maps message roles to colors
type ColorTheme struct {
	Success   Color
	Warning   Color
	Error     Color
	Info      Color
	Header    Color
	Muted     Color
	Highlight Color
}

// DefaultColorTheme returns the standard theme
func DefaultColorTheme() ColorTheme {
	return ColorTheme{
		Success:   ColorBrightGreen,
		Warning:   ColorBrightYellow,
		Error:     ColorBrightRed,
		Info:      ColorCyan,
		Header:    ColorBrightBlue,
		Muted:     ColorWhite,
		Highlight: ColorBrightCyan,
	}
}

// ColorSystem applies colors to text, falling back to plain text when the
// terminal does not support them or color output is disabled.
type ColorSystem interface {
	Colorize(text string, clr Color) string
	Sprintf(clr Color, format string, args ...interface{}) string
	IsColorSupported() bool
}

type colorSystem struct {
	theme          ColorTheme
	colorSupported bool
	profile        termenv.Profile
	colorMap       map[Color]*color.Color
}

// NewColorSystem creates a color system with terminal detection. Passing
// disable forces plain text regardless of what the terminal supports.
func NewColorSystem(theme ColorTheme, disable bool) ColorSystem {
	cs := &colorSystem{
		theme:          theme,
		colorSupported: !disable && detectColorSupport(),
		profile:        termenv.ColorProfile(),
	}
	cs.initColorMap()
	return cs
}

// detectColorSupport checks whether stdout can render colors
func detectColorSupport() bool {
	if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		return false
	}

	if os.Getenv("NO_COLOR") != "" || os.Getenv("TERM") == "dumb" {
		return false
	}
	if os.Getenv("FORCE_COLOR") != "" {
		return true
	}

	// A terminal downgraded to the ASCII profile cannot render ANSI colors
	// even though it is a TTY.
	if termenv.ColorProfile() == termenv.Ascii {
		return false
	}

	return true
}

func (cs *colorSystem) initColorMap() {
	cs.colorMap = map[Color]*color.Color{
		ColorReset:        color.New(color.Reset),
		ColorRed:          color.New(color.FgRed),
		ColorGreen:        color.New(color.FgGreen),
		ColorYellow:       color.New(color.FgYellow),
		ColorBlue:         color.New(color.FgBlue),
		ColorMagenta:      color.New(color.FgMagenta),
		ColorCyan:         color.New(color.FgCyan),
		ColorWhite:        color.New(color.FgWhite),
		ColorBrightRed:    color.New(color.FgHiRed),
		ColorBrightGreen:  color.New(color.FgHiGreen),
		ColorBrightYellow: color.New(color.FgHiYellow),
		ColorBrightBlue:   color.New(color.FgHiBlue),
		ColorBrightCyan:   color.New(color.FgHiCyan),
	}
}

// Colorize applies a color to text when supported
func (cs *colorSystem) Colorize(text string, clr Color) string {
	if !cs.colorSupported {
		return text
	}
	if colorFunc, exists := cs.colorMap[clr]; exists {
		return colorFunc.Sprint(text)
	}
	return text
}

// Sprintf formats text and applies a color
func (cs *colorSystem) Sprintf(clr Color, format string, args ...interface{}) string {
	return cs.Colorize(fmt.Sprintf(format, args...), clr)
}

// IsColorSupported reports whether colored output is active
func (cs *colorSystem) IsColorSupported() bool {
	return cs.colorSupported
}
