package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// BrightnessActuator reads and writes the backlight level in device units.
type BrightnessActuator interface {
	Get() (int, error)
	Set(v int) error
	// Max is constant for the process lifetime.
	Max() int
}

// brightnessWriter applies a brightness value to a backlight device.
// Reading always goes through sysfs; writing may need privileges that only
// logind has, so it is pluggable.
type brightnessWriter interface {
	SetBrightness(subsystem, device string, v int) error
}

// Backlight is a sysfs backlight device, e.g. /sys/class/backlight/intel_backlight.
type Backlight struct {
	subsystem string
	device    string
	dir       string
	max       int
	writer    brightnessWriter
}

// NewBacklight opens the device under root/subsystem/device and reads its
// max_brightness once.
func NewBacklight(root, subsystem, device string, writer brightnessWriter) (*Backlight, error) {
	dir := filepath.Join(root, subsystem, device)
	max, err := readIntFile(filepath.Join(dir, "max_brightness"))
	if err != nil {
		return nil, fmt.Errorf("read max brightness: %w", err)
	}
	if max <= 0 {
		return nil, fmt.Errorf("device %s reports max_brightness %d", dir, max)
	}
	if writer == nil {
		writer = sysfsWriter{root: root}
	}
	return &Backlight{
		subsystem: subsystem,
		device:    device,
		dir:       dir,
		max:       max,
		writer:    writer,
	}, nil
}

func (b *Backlight) Get() (int, error) {
	return readIntFile(filepath.Join(b.dir, "brightness"))
}

func (b *Backlight) Set(v int) error {
	return b.writer.SetBrightness(b.subsystem, b.device, clampInt(v, 0, b.max))
}

func (b *Backlight) Max() int { return b.max }

func (b *Backlight) String() string { return b.dir }

// sysfsWriter writes the brightness attribute directly. Needs write access to
// the file (root, or a udev rule granting the video group).
type sysfsWriter struct {
	root string
}

func (w sysfsWriter) SetBrightness(subsystem, device string, v int) error {
	path := filepath.Join(w.root, subsystem, device, "brightness")
	if err := os.WriteFile(path, []byte(strconv.Itoa(v)+"\n"), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func readIntFile(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", path, err)
	}
	return v, nil
}
