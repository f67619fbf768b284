package session

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"

	"github.com/Lele-bigLe/interactive-feedback-mcp/internal/session/theme"
)

const (
	countdownBarWidth        = 20
	countdownWarnThreshold   = 2 * time.Minute
	countdownUrgentThreshold = time.Minute
)

// countdownVariant selects the countdown's visual urgency.
type countdownVariant string

const (
	countdownCalm   countdownVariant = "calm"
	countdownWarn   countdownVariant = "warn"
	countdownUrgent countdownVariant = "urgent"
)

// countdownConfig carries the rendering inputs for the session header clock.
type countdownConfig struct {
	Remaining time.Duration
	Total     time.Duration
	Paused    bool
	Width     int
}

// renderCountdown renders the header clock as "⏱️ MM:SS [bar]", or the
// paused label while the countdown is suspended.
func renderCountdown(config countdownConfig) string {
	if config.Paused {
		return theme.PausedStyle.Render(theme.IconPaused + " 已暂停")
	}

	remaining := config.Remaining
	if remaining < 0 {
		remaining = 0
	}
	width := config.Width
	if width <= 0 {
		width = countdownBarWidth
	}

	fraction := 0.0
	if config.Total > 0 {
		fraction = float64(remaining) / float64(config.Total)
	}
	if fraction > 1 {
		fraction = 1
	}

	variant := resolveCountdownVariant(remaining)
	label := fmt.Sprintf("%s %02d:%02d", theme.IconCountdown, int(remaining/time.Minute), int(remaining/time.Second)%60)
	bar := newCountdownBar(width, variant).ViewAs(fraction)

	return fmt.Sprintf("%s [%s]", countdownLabelStyle(variant).Render(label), bar)
}

func resolveCountdownVariant(remaining time.Duration) countdownVariant {
	switch {
	case remaining <= countdownUrgentThreshold:
		return countdownUrgent
	case remaining <= countdownWarnThreshold:
		return countdownWarn
	default:
		return countdownCalm
	}
}

func newCountdownBar(width int, variant countdownVariant) progress.Model {
	options := []progress.Option{
		progress.WithWidth(width),
		progress.WithoutPercentage(),
		progress.WithFillCharacters('#', '.'),
	}

	switch variant {
	case countdownUrgent:
		options = append(options, progress.WithSolidFill(theme.SignalRed))
	case countdownWarn:
		options = append(options, progress.WithSolidFill(theme.Amber))
	default:
		options = append(options, progress.WithScaledGradient(theme.Slate, theme.Amber))
	}

	return progress.New(options...)
}

func countdownLabelStyle(variant countdownVariant) lipgloss.Style {
	switch variant {
	case countdownUrgent:
		return theme.CountdownUrgentStyle
	case countdownWarn:
		return theme.CountdownWarnStyle
	default:
		return theme.CountdownCalmStyle
	}
}
