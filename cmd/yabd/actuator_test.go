package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func fakeBacklight(t *testing.T, brightness, max string) string {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "backlight", "test_bl")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "brightness"), []byte(brightness), 0o644); err != nil {
		t.Fatalf("write brightness: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "max_brightness"), []byte(max), 0o644); err != nil {
		t.Fatalf("write max_brightness: %v", err)
	}
	return root
}

type recordingWriter struct {
	subsystem, device string
	values            []int
}

func (w *recordingWriter) SetBrightness(subsystem, device string, v int) error {
	w.subsystem, w.device = subsystem, device
	w.values = append(w.values, v)
	return nil
}

func TestBacklight_SysfsReadWrite(t *testing.T) {
	root := fakeBacklight(t, "120\n", "937\n")

	bl, err := NewBacklight(root, "backlight", "test_bl", nil)
	if err != nil {
		t.Fatalf("NewBacklight: %v", err)
	}
	if bl.Max() != 937 {
		t.Fatalf("expected max 937, got %d", bl.Max())
	}

	v, err := bl.Get()
	if err != nil || v != 120 {
		t.Fatalf("expected 120, got %d (err %v)", v, err)
	}

	if err := bl.Set(400); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if v, _ := bl.Get(); v != 400 {
		t.Fatalf("expected 400 after Set, got %d", v)
	}
}

func TestBacklight_SetClampsToRange(t *testing.T) {
	root := fakeBacklight(t, "10", "255")
	w := &recordingWriter{}

	bl, err := NewBacklight(root, "backlight", "test_bl", w)
	if err != nil {
		t.Fatalf("NewBacklight: %v", err)
	}
	_ = bl.Set(1000)
	_ = bl.Set(-4)

	if len(w.values) != 2 || w.values[0] != 255 || w.values[1] != 0 {
		t.Fatalf("expected clamped writes [255 0], got %v", w.values)
	}
	if w.subsystem != "backlight" || w.device != "test_bl" {
		t.Fatalf("expected writer to get subsystem and device, got %q/%q", w.subsystem, w.device)
	}
}

func TestNewBacklight_Errors(t *testing.T) {
	if _, err := NewBacklight(t.TempDir(), "backlight", "missing", nil); err == nil {
		t.Fatalf("expected error for a missing device")
	}

	root := fakeBacklight(t, "0", "0")
	_, err := NewBacklight(root, "backlight", "test_bl", nil)
	if err == nil || !strings.Contains(err.Error(), "max_brightness 0") {
		t.Fatalf("expected max_brightness error, got %v", err)
	}

	root = fakeBacklight(t, "x", "abc")
	if _, err := NewBacklight(root, "backlight", "test_bl", nil); err == nil {
		t.Fatalf("expected parse error")
	}
}
