package theme

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

const (
	// Amber is the primary accent for titles and the countdown warning band.
	Amber = "#FFAA66"
	// SignalRed marks the final minute of the countdown.
	SignalRed = "#FF6666"
	// PaleGold marks the paused countdown state.
	PaleGold = "#FFFFCC"
	// Ash is the calm countdown and secondary text color.
	Ash = "#AAAAAA"
	// Slate is the muted hint and border color.
	Slate = "#52526A"
)

const (
	// IconCountdown prefixes the running countdown display.
	IconCountdown = "⏱️"
	// IconPaused prefixes the paused countdown display.
	IconPaused = "⏸️"
)

var (
	// AmberColor is the profile-aware terminal color for Amber.
	AmberColor = paletteColor(Amber, "215", "11")
	// SignalRedColor is the profile-aware terminal color for SignalRed.
	SignalRedColor = paletteColor(SignalRed, "203", "9")
	// PaleGoldColor is the profile-aware terminal color for PaleGold.
	PaleGoldColor = paletteColor(PaleGold, "230", "11")
	// AshColor is the profile-aware terminal color for Ash.
	AshColor = paletteColor(Ash, "248", "7")
	// SlateColor is the profile-aware terminal color for Slate.
	SlateColor = paletteColor(Slate, "60", "8")
)

var (
	// TitleStyle marks the session header line.
	TitleStyle = lipgloss.NewStyle().Foreground(AmberColor).Bold(true)
	// SubtitleStyle marks the project directory and current file line.
	SubtitleStyle = lipgloss.NewStyle().Foreground(SlateColor)
	// CountdownCalmStyle renders the countdown with ample time left.
	CountdownCalmStyle = lipgloss.NewStyle().Foreground(AshColor)
	// CountdownWarnStyle renders the countdown inside the last two minutes.
	CountdownWarnStyle = lipgloss.NewStyle().Foreground(AmberColor)
	// CountdownUrgentStyle renders the countdown inside the last minute.
	CountdownUrgentStyle = lipgloss.NewStyle().Foreground(SignalRedColor).Bold(true)
	// PausedStyle renders the frozen countdown label.
	PausedStyle = lipgloss.NewStyle().Foreground(PaleGoldColor)
	// HintStyle marks the footer key help.
	HintStyle = lipgloss.NewStyle().Foreground(SlateColor)
)

var colorProfileFn = lipgloss.ColorProfile

func paletteColor(hex string, ansi256 string, ansi string) lipgloss.TerminalColor {
	switch colorProfileFn() {
	case termenv.TrueColor:
		// Use AdaptiveColor even in TrueColor mode for light/dark terminal detection.
		return lipgloss.AdaptiveColor{Light: hex, Dark: hex}
	case termenv.ANSI256, termenv.ANSI:
		return lipgloss.CompleteAdaptiveColor{
			Light: lipgloss.CompleteColor{
				TrueColor: hex,
				ANSI256:   ansi256,
				ANSI:      ansi,
			},
			Dark: lipgloss.CompleteColor{
				TrueColor: hex,
				ANSI256:   ansi256,
				ANSI:      ansi,
			},
		}
	default:
		return lipgloss.AdaptiveColor{Light: hex, Dark: hex}
	}
}
