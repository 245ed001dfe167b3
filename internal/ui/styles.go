package ui

import "github.com/charmbracelet/lipgloss"

// 256-color palette for the prepare TUI. One lime accent over grays
// keeps the dashboard readable on dark and light terminals.
const (
	ColorLime     = "154" // accent: progress, headers, success
	ColorLimeDim  = "106" // completed-stage markers
	ColorWhite    = "255"
	ColorGray     = "245" // labels, speed readouts
	ColorDarkGray = "238" // borders, separators, hints
	ColorRed      = "196"
	ColorYellow   = "220"
)

// Styles holds the lipgloss styles used by TUI rendering.
type Styles struct {
	Header   lipgloss.Style
	Success  lipgloss.Style
	Warning  lipgloss.Style
	Error    lipgloss.Style
	Dim      lipgloss.Style
	Stage    lipgloss.Style
	Active   lipgloss.Style
	Progress lipgloss.Style

	Border    lipgloss.Style
	Panel     lipgloss.Style
	Sparkline lipgloss.Style
	Speed     lipgloss.Style
	Label     lipgloss.Style
}

// DefaultStyles returns the colored style set for TUI mode.
func DefaultStyles() Styles {
	fg := func(c string) lipgloss.Style {
		return lipgloss.NewStyle().Foreground(lipgloss.Color(c))
	}
	return Styles{
		Header:   fg(ColorLime).Bold(true),
		Success:  fg(ColorLime),
		Warning:  fg(ColorYellow),
		Error:    fg(ColorRed),
		Dim:      fg(ColorDarkGray),
		Stage:    fg(ColorLimeDim),
		Active:   fg(ColorLime).Bold(true),
		Progress: fg(ColorLime),

		Border: fg(ColorDarkGray),
		Panel: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(ColorDarkGray)).
			Padding(0, 1),
		Sparkline: fg(ColorLime),
		Speed:     fg(ColorGray),
		Label:     fg(ColorGray),
	}
}

// NoColorStyles returns an unstyled set for NO_COLOR and non-TTY output.
func NoColorStyles() Styles {
	plain := lipgloss.NewStyle()
	return Styles{
		Header:    plain,
		Success:   plain,
		Warning:   plain,
		Error:     plain,
		Dim:       plain,
		Stage:     plain,
		Active:    plain,
		Progress:  plain,
		Border:    plain,
		Panel:     plain,
		Sparkline: plain,
		Speed:     plain,
		Label:     plain,
	}
}

// GetStyles picks the style set for the color preference.
func GetStyles(noColor bool) Styles {
	if noColor {
		return NoColorStyles()
	}
	return DefaultStyles()
}
