package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

const multiplierStep = 10.0

// commandFunc sends one command to the daemon.
type commandFunc func(typ string, data any) (commandResult, error)

// commandDoneMsg is delivered when a command round trip finishes.
type commandDoneMsg struct {
	name   string
	result commandResult
	err    error
}

// Model is the monitor's Bubble Tea model.
type Model struct {
	snap     snapshot
	haveSnap bool

	connected bool
	connErr   error

	pending   string
	status    string
	statusErr bool

	spinner     spinner.Model
	input       textinput.Model
	inputActive bool
	width       int

	send commandFunc
}

// NewModel creates a model that sends commands with send.
func NewModel(send commandFunc) Model {
	ti := textinput.New()
	ti.Placeholder = "100"
	ti.CharLimit = 6
	ti.Width = 8

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = styleSpinner

	return Model{
		spinner: s,
		input:   ti,
		send:    send,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.command(cmdStatus, nil))
}

func (m Model) command(name string, data any) tea.Cmd {
	send := m.send
	return func() tea.Msg {
		res, err := send(name, data)
		return commandDoneMsg{name: name, result: res, err: err}
	}
}

// run marks name as in flight and returns its command.
func (m Model) run(name string, data any) (Model, tea.Cmd) {
	m.pending = name
	m.status, m.statusErr = "", false
	return m, m.command(name, data)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case connStatusMsg:
		m.connected = msg.connected
		m.connErr = msg.err
		return m, nil

	case stateMsg:
		m.snap, m.haveSnap = msg.snap, true
		return m, nil

	case brightnessMsg:
		m.snap.KnownBrightness = msg.Brightness
		m.snap.BrightnessKnown = true
		m.snap.Ramping = msg.Ramping
		m.snap.Target = msg.Target
		return m, nil

	case commandDoneMsg:
		return m.handleCommandDone(msg), nil

	case tea.KeyMsg:
		if m.inputActive {
			return m.handleInputKey(msg)
		}
		return m.handleKey(msg)
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "d":
		return m.run(cmdDim, nil)
	case "u":
		return m.run(cmdUndim, nil)
	case "+", "=":
		return m.run(cmdChangeMultiplier, map[string]float64{"delta": multiplierStep})
	case "-":
		return m.run(cmdChangeMultiplier, map[string]float64{"delta": -multiplierStep})
	case "m":
		m.inputActive = true
		m.input.SetValue(strconv.FormatFloat(m.snap.MultiplierPercent, 'f', -1, 64))
		m.input.Focus()
		return m, textinput.Blink
	}
	return m, nil
}

func (m Model) handleInputKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.closeInput()
		return m, nil

	case tea.KeyCtrlC:
		return m, tea.Quit

	case tea.KeyEnter:
		v, err := strconv.ParseFloat(strings.TrimSpace(m.input.Value()), 64)
		if err != nil {
			m.status, m.statusErr = fmt.Sprintf("invalid multiplier %q", m.input.Value()), true
			return m, nil
		}
		m.closeInput()
		return m.run(cmdSetMultiplier, map[string]float64{"percent": v})
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) closeInput() {
	m.inputActive = false
	m.input.Blur()
	m.input.Reset()
}

func (m Model) handleCommandDone(msg commandDoneMsg) Model {
	m.pending = ""

	switch {
	case msg.err != nil:
		m.status, m.statusErr = fmt.Sprintf("%s failed: %v", msg.name, msg.err), true
		return m
	case !msg.result.OK:
		m.status, m.statusErr = "daemon is not controllable", true
		return m
	}

	if msg.result.State != nil {
		m.snap, m.haveSnap = *msg.result.State, true
	}

	m.statusErr = false
	switch msg.name {
	case cmdStatus:
		m.status = ""
	case cmdSetMultiplier, cmdChangeMultiplier:
		if p := msg.result.MultiplierPercent; p != nil {
			m.status = fmt.Sprintf("multiplier %.0f%%", *p)
		} else {
			m.status = msg.name + " ok"
		}
	default:
		m.status = msg.name + " ok"
	}
	return m
}
