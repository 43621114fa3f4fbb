package main

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// BH1750 opcodes.
const (
	bh1750PowerOn        byte = 0x01
	bh1750Reset          byte = 0x07
	bh1750ContinuousHigh byte = 0x10

	// Worst-case conversion time in high resolution mode.
	bh1750MeasureTime = 180 * time.Millisecond

	// Counts per lux at the default measurement time.
	bh1750CountsPerLux = 1.2
)

// bh1750 is a minimal driver for the ROHM BH1750 ambient light sensor.
type bh1750 struct {
	mu          sync.Mutex
	d           *i2c.Dev
	measureWait time.Duration
}

func newBH1750(bus i2c.Bus, addr uint16) *bh1750 {
	return &bh1750{
		d:           &i2c.Dev{Bus: bus, Addr: addr},
		measureWait: bh1750MeasureTime,
	}
}

// start powers the device on and selects continuous high resolution mode.
func (b *bh1750) start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, op := range []byte{bh1750PowerOn, bh1750Reset, bh1750ContinuousHigh} {
		if err := b.d.Tx([]byte{op}, nil); err != nil {
			return fmt.Errorf("bh1750: write 0x%02x: %w", op, err)
		}
	}
	time.Sleep(b.measureWait)
	return nil
}

// lux reads the latest conversion result.
func (b *bh1750) lux() (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	r := make([]byte, 2)
	if err := b.d.Tx(nil, r); err != nil {
		return 0, fmt.Errorf("bh1750: read: %w", err)
	}
	raw := uint16(r[0])<<8 | uint16(r[1])
	return float64(raw) / bh1750CountsPerLux, nil
}

// BH1750Sensor polls a BH1750 and delivers readings that moved by more than
// sensorChangeEpsilon.
type BH1750Sensor struct {
	dev    *bh1750
	bus    i2c.BusCloser
	poll   time.Duration
	logger *slog.Logger
}

func openBH1750Sensor(busName string, addr uint16, poll time.Duration, logger *slog.Logger) (*BH1750Sensor, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("open i2c bus %q: %w", busName, err)
	}
	s := newBH1750Sensor(newBH1750(bus, addr), poll, logger)
	s.bus = bus
	return s, nil
}

func newBH1750Sensor(dev *bh1750, poll time.Duration, logger *slog.Logger) *BH1750Sensor {
	if poll <= 0 {
		poll = defaultSensorPollMS * time.Millisecond
	}
	return &BH1750Sensor{dev: dev, poll: poll, logger: logger}
}

func (s *BH1750Sensor) ClaimLight(ctx context.Context) error {
	return s.dev.start()
}

func (s *BH1750Sensor) Subscribe(ctx context.Context, onChange func(lux float64)) error {
	go func() {
		t := time.NewTicker(s.poll)
		defer t.Stop()

		last := math.NaN()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				lux, err := s.dev.lux()
				if err != nil {
					s.logger.Warn("light sensor read failed", "error", err)
					continue
				}
				if !math.IsNaN(last) && math.Abs(lux-last) <= sensorChangeEpsilon {
					continue
				}
				last = lux
				onChange(lux)
			}
		}
	}()
	return nil
}

func (s *BH1750Sensor) ReadCurrent(ctx context.Context) (float64, error) {
	return s.dev.lux()
}

func (s *BH1750Sensor) Close() error {
	if s.bus == nil {
		return nil
	}
	return s.bus.Close()
}

