package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// waitUntil polls cond until it returns true or timeout elapses.
func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout: %s", msg)
}

// mockActuator is a test double for BrightnessActuator.
type mockActuator struct {
	mu     sync.Mutex
	value  int
	max    int
	sets   []int
	getErr error
	setErr error
}

func newMockActuator(value, max int) *mockActuator {
	return &mockActuator{value: value, max: max}
}

func (m *mockActuator) Get() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return 0, m.getErr
	}
	return m.value, nil
}

func (m *mockActuator) Set(v int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	m.sets = append(m.sets, v)
	m.value = v
	return nil
}

func (m *mockActuator) Max() int { return m.max }

// setExternal simulates another program writing the backlight.
func (m *mockActuator) setExternal(v int) {
	m.mu.Lock()
	m.value = v
	m.mu.Unlock()
}

func (m *mockActuator) setCalls() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.sets...)
}

var errMockSensor = errors.New("mock sensor unavailable")

// mockSensor is a test double for LightSensor.
type mockSensor struct {
	mu       sync.Mutex
	lux      float64
	err      error
	reads    int
	onChange func(float64)
}

func (m *mockSensor) ClaimLight(ctx context.Context) error { return nil }

func (m *mockSensor) Subscribe(ctx context.Context, onChange func(lux float64)) error {
	m.mu.Lock()
	m.onChange = onChange
	m.mu.Unlock()
	return nil
}

func (m *mockSensor) ReadCurrent(ctx context.Context) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	if m.err != nil {
		return 0, m.err
	}
	return m.lux, nil
}

func (m *mockSensor) Close() error { return nil }

// emit delivers a reading to the subscriber, if any.
func (m *mockSensor) emit(lux float64) {
	m.mu.Lock()
	cb := m.onChange
	m.mu.Unlock()
	if cb != nil {
		cb(lux)
	}
}

func testControlConfig() ControlConfig {
	return ControlConfig{
		Mapping:               defaultTestMapping(),
		ReclaimThresholdLux:   100,
		YieldOnExternalChange: true,
		Controllable:          true,
		MultiplierMax:         2,
		RampEnabled:           false,
		TickInterval:          time.Millisecond,
		MaxBrightness:         1000,
		StepUnits:             5,
	}
}

func newTestController(cfg ControlConfig, act BrightnessActuator, sensor LightSensor) *Controller {
	return NewController(cfg, act, sensor, discardLogger())
}
