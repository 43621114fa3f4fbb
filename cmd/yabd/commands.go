package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Command is a remote request against the controller. Commands arrive over
// IPC, D-Bus or MQTT and are executed by the daemon loop one at a time.
type Command interface {
	commandMarker()
	String() string
}

// CmdDim forces the dimmed brightness.
type CmdDim struct{}

// CmdUndim restores ambient-driven brightness.
type CmdUndim struct{}

// CmdSetMultiplier sets the multiplier to Percent/100.
type CmdSetMultiplier struct {
	Percent float64 `json:"percent"`
}

// CmdChangeMultiplier adds Delta/100 to the multiplier.
type CmdChangeMultiplier struct {
	Delta float64 `json:"delta"`
}

// CmdStatus returns the current state without changing it.
type CmdStatus struct{}

func (CmdDim) commandMarker()              {}
func (CmdUndim) commandMarker()            {}
func (CmdSetMultiplier) commandMarker()    {}
func (CmdChangeMultiplier) commandMarker() {}
func (CmdStatus) commandMarker()           {}

func (CmdDim) String() string   { return "CmdDim" }
func (CmdUndim) String() string { return "CmdUndim" }
func (c CmdSetMultiplier) String() string {
	return fmt.Sprintf("CmdSetMultiplier(percent=%.1f)", c.Percent)
}
func (c CmdChangeMultiplier) String() string {
	return fmt.Sprintf("CmdChangeMultiplier(delta=%.1f)", c.Delta)
}
func (CmdStatus) String() string { return "CmdStatus" }

// CommandResult is the outcome of a command.
//
// OK is false when the daemon is not controllable. MultiplierPercent is set
// by the multiplier commands. Err reports a failure to reach the backlight;
// the state change itself has already happened when Err is set.
type CommandResult struct {
	OK                bool           `json:"ok"`
	MultiplierPercent *float64       `json:"multiplier_percent,omitempty"`
	State             *StateSnapshot `json:"state,omitempty"`
	Err               error          `json:"-"`
}

// executeCommand runs cmd against ctrl. It is only called from the daemon loop.
func executeCommand(ctx context.Context, ctrl *Controller, cmd Command) CommandResult {
	var res CommandResult

	switch c := cmd.(type) {
	case CmdDim:
		res.OK, res.Err = ctrl.Dim(ctx)
	case CmdUndim:
		res.OK, res.Err = ctrl.Undim(ctx)
	case CmdSetMultiplier:
		var pct float64
		pct, res.OK, res.Err = ctrl.SetMultiplier(ctx, c.Percent)
		if res.OK {
			res.MultiplierPercent = &pct
		}
	case CmdChangeMultiplier:
		var pct float64
		pct, res.OK, res.Err = ctrl.ChangeMultiplier(ctx, c.Delta)
		if res.OK {
			res.MultiplierPercent = &pct
		}
	case CmdStatus:
		res.OK = true
	default:
		res.Err = fmt.Errorf("unsupported command: %T", cmd)
		return res
	}

	if res.OK {
		snap := ctrl.Snapshot()
		res.State = &snap
	}
	return res
}

var errDaemonBusy = errors.New("daemon did not answer in time")

// submitCommand hands cmd to the daemon loop and waits for the result.
func submitCommand(ctx context.Context, events chan<- Event, cmd Command) (CommandResult, error) {
	ctx, cancel := context.WithTimeout(ctx, commandReplyTimeout)
	defer cancel()

	reply := make(chan CommandResult, 1)
	select {
	case events <- CommandRequest{Command: cmd, Reply: reply}:
	case <-ctx.Done():
		return CommandResult{}, errDaemonBusy
	}

	select {
	case res := <-reply:
		return res, nil
	case <-ctx.Done():
		return CommandResult{}, errDaemonBusy
	}
}

// requestSnapshot asks the daemon loop for the current state.
func requestSnapshot(ctx context.Context, events chan<- Event) (StateSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, snapshotTimeout)
	defer cancel()

	reply := make(chan StateSnapshot, 1)
	select {
	case events <- RequestStateSnapshot{Reply: reply}:
	case <-ctx.Done():
		return StateSnapshot{}, errDaemonBusy
	}

	select {
	case snap := <-reply:
		return snap, nil
	case <-ctx.Done():
		return StateSnapshot{}, errDaemonBusy
	}
}

// ============================================================================
// JSON Encoding/Decoding
// ============================================================================

// CommandEnvelope wraps a command with a type discriminator. It is the wire
// format shared by the IPC socket and the MQTT command topic.
type CommandEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Command type names on the wire. They match the original D-Bus method names.
const (
	commandTypeDim              = "dim"
	commandTypeUndim            = "undim"
	commandTypeSetMultiplier    = "set_multiplier"
	commandTypeChangeMultiplier = "change_multiplier"
	commandTypeStatus           = "status"
)

// UnmarshalCommand decodes a JSON command envelope.
func UnmarshalCommand(data []byte) (Command, error) {
	var env CommandEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	switch strings.ToLower(env.Type) {
	case commandTypeDim:
		return CmdDim{}, nil
	case commandTypeUndim:
		return CmdUndim{}, nil
	case commandTypeStatus:
		return CmdStatus{}, nil

	case commandTypeSetMultiplier:
		var c CmdSetMultiplier
		if err := unmarshalCommandData(env.Data, &c); err != nil {
			return nil, fmt.Errorf("unmarshal CmdSetMultiplier: %w", err)
		}
		return c, nil

	case commandTypeChangeMultiplier:
		var c CmdChangeMultiplier
		if err := unmarshalCommandData(env.Data, &c); err != nil {
			return nil, fmt.Errorf("unmarshal CmdChangeMultiplier: %w", err)
		}
		return c, nil

	default:
		return nil, fmt.Errorf("unknown command type: %q", env.Type)
	}
}

func unmarshalCommandData(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return errors.New("missing data")
	}
	return json.Unmarshal(data, v)
}

// MarshalCommand encodes cmd as a JSON command envelope.
func MarshalCommand(cmd Command) ([]byte, error) {
	var env CommandEnvelope

	switch c := cmd.(type) {
	case CmdDim:
		env.Type = commandTypeDim
	case CmdUndim:
		env.Type = commandTypeUndim
	case CmdStatus:
		env.Type = commandTypeStatus

	case CmdSetMultiplier:
		env.Type = commandTypeSetMultiplier
		data, err := json.Marshal(c)
		if err != nil {
			return nil, fmt.Errorf("marshal CmdSetMultiplier: %w", err)
		}
		env.Data = data

	case CmdChangeMultiplier:
		env.Type = commandTypeChangeMultiplier
		data, err := json.Marshal(c)
		if err != nil {
			return nil, fmt.Errorf("marshal CmdChangeMultiplier: %w", err)
		}
		env.Data = data

	default:
		return nil, fmt.Errorf("unsupported command type: %T", cmd)
	}

	return json.Marshal(env)
}
