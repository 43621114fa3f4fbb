package main

import "github.com/charmbracelet/lipgloss"

// Lavender palette
var (
	colorPrimary    = lipgloss.Color("#B794F4")
	colorAccent     = lipgloss.Color("#E9D8FD")
	colorSurface    = lipgloss.Color("#2D2D44")
	colorSurfaceAlt = lipgloss.Color("#3D3D5C")

	colorText      = lipgloss.Color("#FAFAFA")
	colorTextMuted = lipgloss.Color("#A0A0B0")
	colorTextDim   = lipgloss.Color("#6B6B80")

	colorSuccess = lipgloss.Color("#68D391")
	colorWarning = lipgloss.Color("#F6E05E")
	colorError   = lipgloss.Color("#FC8181")
)

// Bar gradient from dim to bright; the last segment is the warm "full" color.
var brightnessColors = [...]lipgloss.Color{
	"#3D3D5C", "#4A4A6A", "#5A5A7A", "#6A6A8A", "#7A7A9A",
	"#8A8AAA", "#9A9ABA", "#AAAACA", "#BABADA", "#FBBF24",
}

var (
	styleHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorText).
			Background(colorPrimary).
			Padding(0, 2)

	stylePanel = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorSurfaceAlt).
			Padding(0, 1).
			MarginTop(1)

	styleLabel = lipgloss.NewStyle().
			Foreground(colorAccent).
			Width(12)

	styleValue = lipgloss.NewStyle().
			Foreground(colorText)

	styleMuted = lipgloss.NewStyle().
			Foreground(colorTextMuted)

	styleControlling = lipgloss.NewStyle().
				Foreground(colorSuccess).
				Bold(true)

	styleYielded = lipgloss.NewStyle().
			Foreground(colorWarning).
			Bold(true)

	styleError = lipgloss.NewStyle().
			Foreground(colorError)

	styleSuccess = lipgloss.NewStyle().
			Foreground(colorSuccess)

	styleBarEmpty = lipgloss.NewStyle().
			Foreground(colorSurfaceAlt)

	styleSpinner = lipgloss.NewStyle().
			Foreground(colorPrimary)

	styleInput = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(colorPrimary).
			Padding(0, 1)

	styleHelp = lipgloss.NewStyle().
			Foreground(colorTextDim).
			MarginTop(1)

	styleHelpKey = lipgloss.NewStyle().
			Foreground(colorPrimary)

	styleBadge = lipgloss.NewStyle().
			Foreground(colorText).
			Background(colorSurface).
			Padding(0, 1)
)

// segmentColor maps segment i (1-based) of total onto the gradient.
func segmentColor(i, total int) lipgloss.Color {
	idx := (i * len(brightnessColors)) / total
	if idx < 1 {
		idx = 1
	}
	if idx > len(brightnessColors) {
		idx = len(brightnessColors)
	}
	return brightnessColors[idx-1]
}
