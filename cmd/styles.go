package cmd

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/wvw-insights/cbtup/internal/session"
)

var (
	colorDim    = lipgloss.AdaptiveColor{Light: "242", Dark: "240"}
	colorGreen  = lipgloss.AdaptiveColor{Light: "28", Dark: "40"}
	colorRed    = lipgloss.AdaptiveColor{Light: "160", Dark: "196"}
	colorYellow = lipgloss.AdaptiveColor{Light: "136", Dark: "220"}
	colorCyan   = lipgloss.AdaptiveColor{Light: "30", Dark: "45"}
)

var (
	styleHeader = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)
	styleOK     = lipgloss.NewStyle().Foreground(colorGreen)
	styleFail   = lipgloss.NewStyle().Foreground(colorRed)
	styleSkip   = lipgloss.NewStyle().Foreground(colorYellow)
	styleDim    = lipgloss.NewStyle().Foreground(colorDim)
)

var (
	markOK   = styleOK.Render("✓")
	markFail = styleFail.Render("✗")
	markSkip = styleSkip.Render("⊘")
)

func statusMark(s session.TaskStatus) string {
	switch s {
	case session.Succeeded:
		return markOK
	case session.Failed:
		return markFail
	case session.InFlight:
		return styleDim.Render("…")
	}
	return markSkip
}
