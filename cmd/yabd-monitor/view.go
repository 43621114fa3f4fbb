package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

const barWidth = 30

// barSegments returns how many of width segments are lit at percent.
// Any non-zero brightness lights at least one segment.
func barSegments(percent float64, width int) int {
	if width <= 0 || percent <= 0 {
		return 0
	}
	n := int(percent * float64(width) / 100)
	if n == 0 {
		n = 1
	}
	return min(n, width)
}

func renderBrightnessBar(percent float64, width int) string {
	lit := barSegments(percent, width)

	var b strings.Builder
	for i := 1; i <= width; i++ {
		if i <= lit {
			b.WriteString(lipgloss.NewStyle().Foreground(segmentColor(i, width)).Render("█"))
		} else {
			b.WriteString(styleBarEmpty.Render("─"))
		}
	}
	return b.String()
}

// barWidth shrinks the bar on narrow terminals.
func (m Model) barWidth() int {
	if m.width == 0 {
		return barWidth
	}
	return max(5, min(barWidth, m.width-40))
}

func row(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, styleLabel.Render(label), value)
}

func (m Model) View() string {
	var sections []string

	header := styleHeader.Render("yabd monitor")
	conn := styleError.Render("● disconnected")
	if m.connected {
		conn = styleSuccess.Render("● connected")
	}
	sections = append(sections, lipgloss.JoinHorizontal(lipgloss.Center, header, " ", conn))

	if !m.haveSnap {
		sections = append(sections, stylePanel.Render(m.spinner.View()+" Waiting for daemon state..."))
	} else {
		sections = append(sections, stylePanel.Render(m.renderState()))
	}

	if m.inputActive {
		sections = append(sections, styleInput.Render("Multiplier %: "+m.input.View()))
	}

	switch {
	case m.pending != "":
		sections = append(sections, m.spinner.View()+" "+styleMuted.Render(m.pending+"..."))
	case m.status != "" && m.statusErr:
		sections = append(sections, styleError.Render(m.status))
	case m.status != "":
		sections = append(sections, styleSuccess.Render(m.status))
	}

	if m.connErr != nil && !m.connected {
		sections = append(sections, styleMuted.Render("state feed: "+m.connErr.Error()))
	}

	sections = append(sections, m.renderHelp())
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) renderState() string {
	s := m.snap

	control := styleControlling.Render("Controlling")
	if !s.HasControl {
		at := "unknown"
		if s.AmbientAtLoss != nil {
			at = fmt.Sprintf("%.0f lux", *s.AmbientAtLoss)
		}
		control = styleYielded.Render("Yielded at " + at)
	}

	lux := styleMuted.Render("unknown")
	if s.LuxKnown {
		lux = styleValue.Render(fmt.Sprintf("%.1f lux", s.LastLux))
	}

	brightness := styleMuted.Render("unknown")
	if s.BrightnessKnown {
		pct := s.brightnessPercent()
		brightness = renderBrightnessBar(pct, m.barWidth()) +
			styleValue.Render(fmt.Sprintf(" %d/%d (%.1f%%)", s.KnownBrightness, s.MaxBrightness, pct))
	}

	multiplier := styleValue.Render(fmt.Sprintf("%.0f%%", s.MultiplierPercent))
	if s.IsDim {
		multiplier += " " + styleBadge.Render("dimmed")
	}

	ramp := styleMuted.Render("idle")
	if s.Ramping && s.Target != nil {
		ramp = styleValue.Render(fmt.Sprintf("ramping to %d", *s.Target))
	}

	rows := []string{
		row("Control", control),
		row("Ambient", lux),
		row("Brightness", brightness),
		row("Multiplier", multiplier),
		row("Ramp", ramp),
	}
	if !s.Controllable {
		rows = append(rows, styleMuted.Render("commands disabled on this daemon"))
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

func (m Model) renderHelp() string {
	keys := []struct{ key, desc string }{
		{"d", "dim"},
		{"u", "undim"},
		{"+/-", "multiplier ±10"},
		{"m", "set multiplier"},
		{"q", "quit"},
	}
	if m.inputActive {
		keys = []struct{ key, desc string }{
			{"enter", "apply"},
			{"esc", "cancel"},
		}
	}

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, styleHelpKey.Render(k.key)+" "+k.desc)
	}
	return styleHelp.Render(strings.Join(parts, "  "))
}
