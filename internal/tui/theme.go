package tui

import (
	"os"
	"strings"

	"minder-cli/internal/model"

	"github.com/charmbracelet/lipgloss"
)

// ac keeps colors readable on both light and dark terminal backgrounds.
func ac(light, dark string) lipgloss.AdaptiveColor {
	return lipgloss.AdaptiveColor{Light: light, Dark: dark}
}

var (
	colorMuted      = ac("240", "243")
	colorSelectedBg = ac("#e9e9e9", "#262626")
	colorSelectedFg = ac("235", "255")
	colorActive     = ac("#1d4ed8", "#7aa2f7")
	colorDone       = ac("#15803d", "#9ece6a")
	colorWaiting    = ac("#b45309", "#e0af68")
	colorError      = ac("#b91c1c", "#f7768e")
	colorInputBg    = ac("255", "236")
)

var (
	styleHeader   = lipgloss.NewStyle().Bold(true)
	styleMuted    = lipgloss.NewStyle().Foreground(colorMuted)
	styleSelected = lipgloss.NewStyle().Background(colorSelectedBg).Foreground(colorSelectedFg)
	styleError    = lipgloss.NewStyle().Foreground(colorError)
	styleInput    = lipgloss.NewStyle().Background(colorInputBg)
)

func stateStyle(s model.State) lipgloss.Style {
	switch s {
	case model.StateTop, model.StateCur:
		return lipgloss.NewStyle().Foreground(colorActive).Bold(true)
	case model.StateDone:
		return lipgloss.NewStyle().Foreground(colorDone)
	case model.StateWaiting:
		return lipgloss.NewStyle().Foreground(colorWaiting)
	default:
		return styleMuted
	}
}

type glyphSet struct {
	open, closed, leaf, pin, snooze, ellipsis string
}

var (
	unicodeGlyphs = glyphSet{open: "▾", closed: "▸", leaf: "•", pin: "★", snooze: "⏾", ellipsis: "…"}
	asciiGlyphs   = glyphSet{open: "v", closed: ">", leaf: "-", pin: "*", snooze: "z", ellipsis: "~"}
)

// glyphsFromEnv reads MINDER_TUI_GLYPHS (unicode|ascii); unknown values keep unicode.
func glyphsFromEnv() glyphSet {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("MINDER_TUI_GLYPHS"))) {
	case "ascii":
		return asciiGlyphs
	default:
		return unicodeGlyphs
	}
}
