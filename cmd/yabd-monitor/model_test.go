package main

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
)

type sentCommand struct {
	typ  string
	data any
}

type fakeDaemon struct {
	sent   []sentCommand
	result commandResult
	err    error
}

func (f *fakeDaemon) send(typ string, data any) (commandResult, error) {
	f.sent = append(f.sent, sentCommand{typ: typ, data: data})
	return f.result, f.err
}

func testSnapshot() snapshot {
	target := 600
	return snapshot{
		HasControl:        true,
		KnownBrightness:   250,
		BrightnessKnown:   true,
		MaxBrightness:     1000,
		MultiplierPercent: 100,
		LastLux:           200,
		LuxKnown:          true,
		Controllable:      true,
		Target:            &target,
	}
}

func runeKey(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// press sends key and runs the returned command once, feeding its message back.
func press(t *testing.T, m Model, key tea.KeyMsg) Model {
	t.Helper()
	next, cmd := m.Update(key)
	m = next.(Model)
	if cmd == nil {
		return m
	}
	msg := cmd()
	if done, ok := msg.(commandDoneMsg); ok {
		next, _ = m.Update(done)
		return next.(Model)
	}
	return m
}

func withState(m Model, s snapshot) Model {
	next, _ := m.Update(stateMsg{snap: s})
	return next.(Model)
}

func TestModel_WaitsForState(t *testing.T) {
	m := NewModel((&fakeDaemon{}).send)
	view := m.View()
	if !strings.Contains(view, "Waiting for daemon state") {
		t.Fatalf("expected waiting message, got %q", view)
	}
}

func TestModel_RendersControllingState(t *testing.T) {
	m := withState(NewModel((&fakeDaemon{}).send), testSnapshot())
	view := m.View()

	for _, want := range []string{"Controlling", "200.0 lux", "250/1000", "100%", "idle"} {
		if !strings.Contains(view, want) {
			t.Fatalf("expected view to contain %q, got %q", want, view)
		}
	}
}

func TestModel_RendersYieldedState(t *testing.T) {
	s := testSnapshot()
	s.HasControl = false
	lux := 120.0
	s.AmbientAtLoss = &lux

	view := withState(NewModel((&fakeDaemon{}).send), s).View()
	if !strings.Contains(view, "Yielded at 120 lux") {
		t.Fatalf("expected yielded state, got %q", view)
	}
}

func TestModel_BrightnessUpdateKeepsRestOfState(t *testing.T) {
	m := withState(NewModel((&fakeDaemon{}).send), testSnapshot())

	target := 600
	next, _ := m.Update(brightnessMsg{Brightness: 400, Percent: 40, Ramping: true, Target: &target})
	m = next.(Model)

	if m.snap.KnownBrightness != 400 {
		t.Fatalf("expected brightness 400, got %d", m.snap.KnownBrightness)
	}
	if m.snap.LastLux != 200 {
		t.Fatalf("expected lux to stay 200, got %v", m.snap.LastLux)
	}
	if !strings.Contains(m.View(), "ramping to 600") {
		t.Fatalf("expected ramp status in view, got %q", m.View())
	}
}

func TestModel_DimKeySendsCommand(t *testing.T) {
	s := testSnapshot()
	s.IsDim = true
	d := &fakeDaemon{result: commandResult{OK: true, State: &s}}

	m := press(t, NewModel(d.send), runeKey("d"))

	if len(d.sent) != 1 || d.sent[0].typ != cmdDim {
		t.Fatalf("expected one dim command, got %+v", d.sent)
	}
	if !m.snap.IsDim {
		t.Fatalf("expected snapshot from result to be applied")
	}
	if !strings.Contains(m.View(), "dimmed") {
		t.Fatalf("expected dimmed badge, got %q", m.View())
	}
}

func TestModel_MultiplierKeys(t *testing.T) {
	pct := 110.0
	d := &fakeDaemon{result: commandResult{OK: true, MultiplierPercent: &pct}}
	m := withState(NewModel(d.send), testSnapshot())

	m = press(t, m, runeKey("+"))
	m = press(t, m, runeKey("-"))

	if len(d.sent) != 2 {
		t.Fatalf("expected 2 commands, got %d", len(d.sent))
	}
	for i, want := range []float64{10, -10} {
		if d.sent[i].typ != cmdChangeMultiplier {
			t.Fatalf("expected change_multiplier, got %s", d.sent[i].typ)
		}
		data := d.sent[i].data.(map[string]float64)
		if data["delta"] != want {
			t.Fatalf("expected delta %v, got %v", want, data["delta"])
		}
	}
	if m.status != "multiplier 110%" {
		t.Fatalf("expected status %q, got %q", "multiplier 110%", m.status)
	}
}

func TestModel_SetMultiplierInput(t *testing.T) {
	pct := 150.0
	d := &fakeDaemon{result: commandResult{OK: true, MultiplierPercent: &pct}}
	m := withState(NewModel(d.send), testSnapshot())

	m = press(t, m, runeKey("m"))
	if !m.inputActive {
		t.Fatalf("expected input to be active")
	}

	m.input.SetValue("150")
	m = press(t, m, tea.KeyMsg{Type: tea.KeyEnter})

	if m.inputActive {
		t.Fatalf("expected input to close after enter")
	}
	if len(d.sent) != 1 || d.sent[0].typ != cmdSetMultiplier {
		t.Fatalf("expected set_multiplier, got %+v", d.sent)
	}
	if got := d.sent[0].data.(map[string]float64)["percent"]; got != 150 {
		t.Fatalf("expected percent 150, got %v", got)
	}
}

func TestModel_SetMultiplierRejectsGarbage(t *testing.T) {
	d := &fakeDaemon{}
	m := press(t, NewModel(d.send), runeKey("m"))

	m.input.SetValue("abc")
	m = press(t, m, tea.KeyMsg{Type: tea.KeyEnter})

	if len(d.sent) != 0 {
		t.Fatalf("expected no command, got %+v", d.sent)
	}
	if !m.inputActive || !m.statusErr {
		t.Fatalf("expected input to stay open with an error, got active=%v err=%v", m.inputActive, m.statusErr)
	}
}

func TestModel_EscCancelsInput(t *testing.T) {
	d := &fakeDaemon{}
	m := press(t, NewModel(d.send), runeKey("m"))
	m = press(t, m, tea.KeyMsg{Type: tea.KeyEsc})

	if m.inputActive {
		t.Fatalf("expected input to be closed")
	}
	if len(d.sent) != 0 {
		t.Fatalf("expected no command, got %+v", d.sent)
	}
}

func TestModel_NotControllable(t *testing.T) {
	d := &fakeDaemon{result: commandResult{OK: false}}
	m := press(t, NewModel(d.send), runeKey("u"))

	if !strings.Contains(m.View(), "daemon is not controllable") {
		t.Fatalf("expected not controllable message, got %q", m.View())
	}
}

func TestModel_CommandError(t *testing.T) {
	d := &fakeDaemon{err: errors.New("connection refused")}
	m := press(t, NewModel(d.send), runeKey("d"))

	if !m.statusErr || !strings.Contains(m.status, "connection refused") {
		t.Fatalf("expected error status, got %q", m.status)
	}
}

func TestModel_QuitKey(t *testing.T) {
	_, cmd := NewModel((&fakeDaemon{}).send).Update(runeKey("q"))
	if cmd == nil {
		t.Fatalf("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatalf("expected tea.QuitMsg")
	}
}

func TestModel_ConnectionStatus(t *testing.T) {
	m := NewModel((&fakeDaemon{}).send)

	next, _ := m.Update(connStatusMsg{connected: true})
	if view := next.(Model).View(); strings.Contains(view, "disconnected") || !strings.Contains(view, "connected") {
		t.Fatalf("expected connected indicator, got %q", view)
	}

	next, _ = next.Update(connStatusMsg{err: errFeedClosed})
	view := next.(Model).View()
	if !strings.Contains(view, "disconnected") || !strings.Contains(view, errFeedClosed.Error()) {
		t.Fatalf("expected disconnected indicator with reason, got %q", view)
	}
}

func TestBarSegments(t *testing.T) {
	tests := []struct {
		percent float64
		width   int
		want    int
	}{
		{0, 10, 0},
		{0.7, 10, 1},
		{50, 10, 5},
		{100, 10, 10},
		{120, 10, 10},
		{50, 0, 0},
	}
	for _, tt := range tests {
		if got := barSegments(tt.percent, tt.width); got != tt.want {
			t.Fatalf("barSegments(%v, %d): expected %d, got %d", tt.percent, tt.width, tt.want, got)
		}
	}
}
