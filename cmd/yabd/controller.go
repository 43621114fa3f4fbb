package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"
)

// errNoAmbientReading is returned when neither an on-demand sensor read nor a
// previously delivered reading is available.
var errNoAmbientReading = errors.New("no ambient light reading available")

// Controller is the handoff state machine plus the command surface.
//
// All state transitions happen under mu. The daemon loop calls HandleAmbient
// and the command methods; the ramp worker calls rampTick. Nothing else
// touches ControllerState.
type Controller struct {
	cfg      ControlConfig
	actuator BrightnessActuator
	sensor   LightSensor
	logger   *slog.Logger
	ramp     *RampEngine
	now      func() time.Time

	mu        sync.Mutex
	state     ControllerState
	snapshots chan StateSnapshot
}

// NewController creates a controller in the Controlling state with multiplier 1.
// sensor may be nil, in which case commands recompute from the last delivered reading.
func NewController(cfg ControlConfig, actuator BrightnessActuator, sensor LightSensor, logger *slog.Logger) *Controller {
	c := &Controller{
		cfg:      cfg,
		actuator: actuator,
		sensor:   sensor,
		logger:   logger,
		now:      time.Now,
		state:    newControllerState(),
	}
	c.ramp = newRampEngine(cfg.TickInterval, c.rampTick, logger)
	return c
}

// SetSnapshotSink registers a channel that receives a snapshot after every
// state change. Sends never block; when ch is full the oldest queued
// snapshot makes room for the new one.
func (c *Controller) SetSnapshotSink(ch chan StateSnapshot) {
	c.mu.Lock()
	c.snapshots = ch
	c.mu.Unlock()
}

// RunRamp runs the ramp worker until ctx is canceled.
func (c *Controller) RunRamp(ctx context.Context) {
	c.ramp.Run(ctx)
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() StateSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.snapshot(c.cfg, c.now())
}

// HandleAmbient processes an ambient light change of lux.
//
// It decides whether to yield or reclaim control based on the brightness
// currently on the device, and actuates a new target when in control.
// A failing brightness read leaves the state untouched.
func (c *Controller) HandleAmbient(lux float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	current, err := c.actuator.Get()
	if err != nil {
		return fmt.Errorf("read brightness: %w", err)
	}

	s := &c.state
	s.LastLux, s.LuxKnown = lux, true

	switch {
	case !s.HasControl() && shouldReclaim(s.Control, lux, c.cfg.ReclaimThresholdLux):
		c.logger.Info("ambient light changed enough, taking control back",
			"lux", lux, "ambient_at_loss", s.Control.(Yielded).AmbientAtLoss)
		s.Control = Controlling{}
		s.BrightnessKnown = false

	case !s.BrightnessKnown:
		// First observation; nothing to compare against yet.

	case current != s.KnownBrightness && c.cfg.YieldOnExternalChange && s.HasControl():
		c.logger.Info("brightness changed externally, yielding control",
			"brightness", current, "known_brightness", s.KnownBrightness, "lux", lux)
		s.Control = Yielded{AmbientAtLoss: lux}
		if _, ramping := s.RampTarget(); ramping {
			s.Ramp = RampIdle{}
		}
	}
	s.KnownBrightness, s.BrightnessKnown = current, true

	defer c.publishLocked()

	if !s.HasControl() {
		c.logger.Debug("not in control, ignoring ambient change", "lux", lux)
		return nil
	}
	return c.applyLocked(lux)
}

// shouldReclaim reports whether an ambient level has moved far enough from the
// level recorded at handoff. It must only be called in the Yielded state.
func shouldReclaim(cs ControlState, lux, thresholdLux float64) bool {
	y, ok := cs.(Yielded)
	if !ok {
		panic("shouldReclaim: no ambient level recorded at handoff")
	}
	if thresholdLux == 0 {
		return false
	}
	return math.Abs(lux-y.AmbientAtLoss) > thresholdLux
}

// Dim forces the dimmed brightness. It returns false when the daemon is not controllable.
func (c *Controller) Dim(ctx context.Context) (bool, error) {
	return c.setDim(ctx, true)
}

// Undim restores ambient-driven brightness. It returns false when the daemon is not controllable.
func (c *Controller) Undim(ctx context.Context) (bool, error) {
	return c.setDim(ctx, false)
}

func (c *Controller) setDim(ctx context.Context, dim bool) (bool, error) {
	if !c.cfg.Controllable {
		return false, nil
	}

	lux, fresh := c.sampleLux(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.state.IsDim = dim
	defer c.publishLocked()
	return true, c.recomputeLocked(lux, fresh)
}

// SetMultiplier sets the multiplier to percent/100, clamped to [0, MultiplierMax].
// It returns the resulting multiplier in percent, and ok=false when the daemon
// is not controllable.
func (c *Controller) SetMultiplier(ctx context.Context, percent float64) (float64, bool, error) {
	return c.updateMultiplier(ctx, func(float64) float64 { return percent / 100 })
}

// ChangeMultiplier adds deltaPercent/100 to the multiplier, clamped to [0, MultiplierMax].
func (c *Controller) ChangeMultiplier(ctx context.Context, deltaPercent float64) (float64, bool, error) {
	return c.updateMultiplier(ctx, func(m float64) float64 { return m + deltaPercent/100 })
}

func (c *Controller) updateMultiplier(ctx context.Context, next func(float64) float64) (float64, bool, error) {
	if !c.cfg.Controllable {
		return 0, false, nil
	}

	lux, fresh := c.sampleLux(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	m := next(c.state.Multiplier)
	if math.IsNaN(m) {
		m = c.state.Multiplier
	}
	c.state.Multiplier = clampFloat(m, 0, c.cfg.MultiplierMax)
	c.logger.Info("multiplier changed", "multiplier_percent", c.state.Multiplier*100)

	defer c.publishLocked()
	err := c.recomputeLocked(lux, fresh)
	return c.state.Multiplier * 100, true, err
}

// sampleLux takes an on-demand sensor reading. It runs without c.mu held so
// a slow sensor does not stall the ramp worker.
func (c *Controller) sampleLux(ctx context.Context) (float64, bool) {
	if c.sensor == nil {
		return 0, false
	}
	lux, err := c.sensor.ReadCurrent(ctx)
	if err != nil {
		c.logger.Debug("sensor read failed, using last reading", "error", err)
		return 0, false
	}
	return lux, true
}

// recomputeLocked re-runs the mapper and actuates the result. A fresh reading
// wins over the last delivered one. Commands go through here and bypass the
// handoff decision.
func (c *Controller) recomputeLocked(lux float64, fresh bool) error {
	switch {
	case fresh:
		c.state.LastLux, c.state.LuxKnown = lux, true
	case c.state.LuxKnown:
		lux = c.state.LastLux
	default:
		c.logger.Warn("cannot recompute brightness", "error", errNoAmbientReading)
		return nil
	}
	return c.applyLocked(lux)
}

// applyLocked maps lux to a target and either ramps to it or sets it directly.
func (c *Controller) applyLocked(lux float64) error {
	pct := mapLuxToPercent(lux, c.cfg.Mapping, c.state.Multiplier, c.state.IsDim)
	target := percentToUnits(pct, c.cfg.MaxBrightness)

	c.logger.Debug("setting brightness", "lux", lux, "percent", pct, "target", target, "ramp", c.cfg.RampEnabled)

	if c.cfg.RampEnabled {
		c.requestRampLocked(target)
		return nil
	}
	return c.directSetLocked(target)
}

// requestRampLocked starts a ramp toward target, or retargets the running one.
// Retargeting does not restart the pacing and never starts a second worker.
func (c *Controller) requestRampLocked(target int) {
	_, ramping := c.state.RampTarget()
	c.state.Ramp = Ramping{Target: target}
	if !ramping {
		c.logger.Debug("starting ramp", "target", target)
		c.ramp.Wake()
	}
}

// directSetLocked writes v to the device. Every explicit write reasserts
// control, ramped or not.
func (c *Controller) directSetLocked(v int) error {
	c.state.Control = Controlling{}
	c.state.KnownBrightness, c.state.BrightnessKnown = v, true
	if err := c.actuator.Set(v); err != nil {
		return fmt.Errorf("set brightness %d: %w", v, err)
	}
	return nil
}

// rampTick performs one ramp step. It returns false once the ramp is idle.
func (c *Controller) rampTick() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	target, ok := c.state.RampTarget()
	if !ok {
		return false
	}
	defer c.publishLocked()

	current, err := c.actuator.Get()
	if err != nil {
		c.logger.Error("ramp stopped, cannot read brightness", "error", err)
		c.state.Ramp = RampIdle{}
		return false
	}

	step := c.cfg.StepUnits
	next, done := target, false
	switch {
	case absInt(current-target) < step:
		done = true
	case current < target:
		next = current + step
	default:
		next = current - step
	}
	// A step that lands exactly on the target ends the ramp on this tick.
	done = done || next == target

	if err := c.directSetLocked(next); err != nil {
		c.logger.Error("ramp stopped", "error", err)
		c.state.Ramp = RampIdle{}
		return false
	}
	if done {
		c.logger.Debug("ramp finished", "brightness", next)
		c.state.Ramp = RampIdle{}
		return false
	}
	return true
}

// publishLocked queues the current snapshot. When the queue is full the
// oldest queued snapshot is dropped, so the newest state always gets through.
func (c *Controller) publishLocked() {
	if c.snapshots == nil {
		return
	}
	snap := c.state.snapshot(c.cfg, c.now())
	for {
		select {
		case c.snapshots <- snap:
			return
		default:
		}
		select {
		case <-c.snapshots:
			c.logger.Debug("snapshot queue full, dropped oldest snapshot")
		default:
		}
	}
}
