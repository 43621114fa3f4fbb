package main

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// RampEngine is the single background worker that moves the backlight toward
// the ramp target.
//
// While idle it blocks on a wake signal. Once woken it calls step on every
// tick until step reports the ramp is over, then parks again. Retargeting is
// done by the controller under its own lock; the worker only paces.
type RampEngine struct {
	interval time.Duration
	step     func() bool
	logger   *slog.Logger

	// wake has capacity 1 so Wake never blocks and repeated wakes coalesce.
	wake    chan struct{}
	running atomic.Bool

	// newTicker is swapped in tests to drive ticks by hand.
	newTicker func(time.Duration) (<-chan time.Time, func())
}

func newRampEngine(interval time.Duration, step func() bool, logger *slog.Logger) *RampEngine {
	if interval <= 0 {
		interval = defaultRampTickMS * time.Millisecond
	}
	return &RampEngine{
		interval:  interval,
		step:      step,
		logger:    logger,
		wake:      make(chan struct{}, 1),
		newTicker: newTimeTicker,
	}
}

func newTimeTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// Wake signals the worker that a ramp has started.
func (r *RampEngine) Wake() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Run is the worker loop. Only one Run may be active per engine; extra calls
// return immediately.
func (r *RampEngine) Run(ctx context.Context) {
	if !r.running.CompareAndSwap(false, true) {
		r.logger.Warn("ramp worker already running")
		return
	}
	defer r.running.Store(false)

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.wake:
		}

		if !r.rampUntilIdle(ctx) {
			return
		}
	}
}

// rampUntilIdle ticks until the ramp finishes. It returns false if ctx ended first.
func (r *RampEngine) rampUntilIdle(ctx context.Context) bool {
	ticks, stop := r.newTicker(r.interval)
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticks:
			if !r.step() {
				return true
			}
		}
	}
}
