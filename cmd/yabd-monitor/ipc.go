package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"
)

// snapshot mirrors the daemon's StateSnapshot JSON.
type snapshot struct {
	HasControl    bool     `json:"has_control"`
	AmbientAtLoss *float64 `json:"ambient_at_loss,omitempty"`

	KnownBrightness int  `json:"known_brightness"`
	BrightnessKnown bool `json:"brightness_known"`
	MaxBrightness   int  `json:"max_brightness"`

	IsDim             bool    `json:"is_dim"`
	MultiplierPercent float64 `json:"multiplier_percent"`

	Ramping bool `json:"ramping"`
	Target  *int `json:"target,omitempty"`

	LastLux  float64 `json:"last_lux"`
	LuxKnown bool    `json:"lux_known"`

	Controllable bool      `json:"controllable"`
	At           time.Time `json:"at"`
}

// brightnessPercent returns the known brightness as a share of the device range.
func (s snapshot) brightnessPercent() float64 {
	if s.MaxBrightness <= 0 {
		return 0
	}
	return float64(s.KnownBrightness) * 100 / float64(s.MaxBrightness)
}

type commandResult struct {
	OK                bool      `json:"ok"`
	MultiplierPercent *float64  `json:"multiplier_percent,omitempty"`
	State             *snapshot `json:"state,omitempty"`
}

type commandRequest struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

type ipcResponse struct {
	Status string         `json:"status"`
	Result *commandResult `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// Command names understood by the daemon socket.
const (
	cmdDim              = "dim"
	cmdUndim            = "undim"
	cmdSetMultiplier    = "set_multiplier"
	cmdChangeMultiplier = "change_multiplier"
	cmdStatus           = "status"
)

const ipcTimeout = 5 * time.Second

// sendCommand writes one command line to the daemon socket and reads the reply.
func sendCommand(socketPath, typ string, data any) (commandResult, error) {
	conn, err := net.DialTimeout("unix", socketPath, ipcTimeout)
	if err != nil {
		return commandResult{}, fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(ipcTimeout))

	line, err := json.Marshal(commandRequest{Type: typ, Data: data})
	if err != nil {
		return commandResult{}, fmt.Errorf("marshal command: %w", err)
	}
	if _, err := conn.Write(append(line, '\n')); err != nil {
		return commandResult{}, fmt.Errorf("send command: %w", err)
	}

	var resp ipcResponse
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return commandResult{}, fmt.Errorf("decode response: %w", err)
	}
	if resp.Status != "ok" {
		return commandResult{}, fmt.Errorf("daemon error: %s", resp.Error)
	}
	if resp.Result == nil {
		return commandResult{}, errors.New("daemon error: response without result")
	}
	return *resp.Result, nil
}
