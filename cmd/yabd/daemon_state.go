package main

import "time"

// ControlConfig is the immutable per-run configuration of the controller.
// It is derived once at startup from Config and the device maximum and is
// never mutated afterwards.
type ControlConfig struct {
	Mapping MappingConfig

	// Ambient swing (lux) needed to take control back after yielding.
	// 0 disables automatic reclaim.
	ReclaimThresholdLux   float64
	YieldOnExternalChange bool

	// Controllable gates the remote command surface.
	Controllable bool

	MultiplierMax float64

	RampEnabled  bool
	TickInterval time.Duration

	// MaxBrightness is the device maximum, constant for the process lifetime.
	MaxBrightness int

	// StepUnits is the ramp step in device units, precomputed from the
	// configured step percent and MaxBrightness.
	StepUnits int
}

// ControlState records who owns the backlight.
// It is either Controlling or Yielded; the ambient level at the handoff only
// exists in the Yielded variant.
type ControlState interface {
	controlStateMarker()
}

// Controlling means this daemon is the authority over the backlight.
type Controlling struct{}

// Yielded means another party changed the brightness and the daemon backed off.
type Yielded struct {
	AmbientAtLoss float64 // lux observed when control was given up
}

func (Controlling) controlStateMarker() {}
func (Yielded) controlStateMarker()     {}

// RampState is either RampIdle or Ramping. The target only exists while ramping.
type RampState interface {
	rampStateMarker()
}

type RampIdle struct{}

type Ramping struct {
	Target int // device units
}

func (RampIdle) rampStateMarker() {}
func (Ramping) rampStateMarker()  {}

// ControllerState is the mutable session state.
//
// It is owned by the Controller and only touched while holding its mutex,
// from either the daemon loop (sensor events, commands) or the ramp worker.
type ControllerState struct {
	Control ControlState
	Ramp    RampState

	// Multiplier is the user gain, always within [0, MultiplierMax].
	Multiplier float64

	// IsDim forces the dimmed percent.
	IsDim bool

	// KnownBrightness is the value the controller believes is on screen.
	KnownBrightness int
	BrightnessKnown bool

	// LastLux is the most recent ambient reading, from events or on-demand reads.
	LastLux  float64
	LuxKnown bool
}

func newControllerState() ControllerState {
	return ControllerState{
		Control:    Controlling{},
		Ramp:       RampIdle{},
		Multiplier: defaultMultiplierInit,
	}
}

// HasControl reports whether the daemon currently owns the backlight.
func (s *ControllerState) HasControl() bool {
	_, ok := s.Control.(Controlling)
	return ok
}

// RampTarget returns the ramp target and whether a ramp is in progress.
func (s *ControllerState) RampTarget() (int, bool) {
	r, ok := s.Ramp.(Ramping)
	return r.Target, ok
}

// StateSnapshot is a copy of the controller state that is safe to hand to
// other goroutines (IPC, websocket clients, MQTT, telemetry).
type StateSnapshot struct {
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

// BrightnessPercent returns the known brightness as a percent of the device range.
func (s StateSnapshot) BrightnessPercent() float64 {
	if !s.BrightnessKnown || s.MaxBrightness <= 0 {
		return 0
	}
	return float64(s.KnownBrightness) * 100 / float64(s.MaxBrightness)
}

func (s *ControllerState) snapshot(cfg ControlConfig, now time.Time) StateSnapshot {
	snap := StateSnapshot{
		HasControl:        s.HasControl(),
		KnownBrightness:   s.KnownBrightness,
		BrightnessKnown:   s.BrightnessKnown,
		MaxBrightness:     cfg.MaxBrightness,
		IsDim:             s.IsDim,
		MultiplierPercent: s.Multiplier * 100,
		LastLux:           s.LastLux,
		LuxKnown:          s.LuxKnown,
		Controllable:      cfg.Controllable,
		At:                now,
	}
	if y, ok := s.Control.(Yielded); ok {
		lux := y.AmbientAtLoss
		snap.AmbientAtLoss = &lux
	}
	if target, ok := s.RampTarget(); ok {
		snap.Ramping = true
		snap.Target = &target
	}
	return snap
}
