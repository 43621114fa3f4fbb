package main

import (
	"math"
	"testing"
)

func defaultTestMapping() MappingConfig {
	return MappingConfig{
		MinPercent:    1,
		MaxPercent:    100,
		DimmedPercent: 0.7,
		MaxAmbientLux: 500,
		Gamma:         2,
	}
}

func TestMapLuxToPercent_Endpoints(t *testing.T) {
	cfg := defaultTestMapping()

	if got := mapLuxToPercent(0, cfg, 1, false); got != cfg.MinPercent {
		t.Fatalf("expected %v at 0 lux, got %v", cfg.MinPercent, got)
	}
	if got := mapLuxToPercent(cfg.MaxAmbientLux, cfg, 1, false); got != cfg.MaxPercent {
		t.Fatalf("expected %v at max ambient, got %v", cfg.MaxPercent, got)
	}
	if got := mapLuxToPercent(10*cfg.MaxAmbientLux, cfg, 1, false); got != cfg.MaxPercent {
		t.Fatalf("expected ambient above max to clip to %v, got %v", cfg.MaxPercent, got)
	}
}

func TestMapLuxToPercent_Gamma2At125Lux(t *testing.T) {
	cfg := defaultTestMapping()

	got := mapLuxToPercent(125, cfg, 1, false)
	if got != 7.1875 {
		t.Fatalf("expected 7.1875, got %v", got)
	}
}

func TestMapLuxToPercent_MonotonicInLux(t *testing.T) {
	for _, gamma := range []float64{0.5, 1, 2, 3.3} {
		cfg := defaultTestMapping()
		cfg.Gamma = gamma

		for _, mult := range []float64{0, 0.5, 1, 2} {
			prev := math.Inf(-1)
			for lux := 0.0; lux <= 700; lux += 2.5 {
				got := mapLuxToPercent(lux, cfg, mult, false)
				if got < prev {
					t.Fatalf("gamma=%v mult=%v: decreased at lux=%v (%v < %v)", gamma, mult, lux, got, prev)
				}
				prev = got
			}
		}
	}
}

func TestMapLuxToPercent_DimOverridesEverything(t *testing.T) {
	cfg := defaultTestMapping()

	for _, lux := range []float64{0, 125, 500, 5000} {
		for _, mult := range []float64{0, 1, 2} {
			if got := mapLuxToPercent(lux, cfg, mult, true); got != cfg.DimmedPercent {
				t.Fatalf("lux=%v mult=%v: expected dimmed %v, got %v", lux, mult, cfg.DimmedPercent, got)
			}
		}
	}
}

func TestMapLuxToPercent_ClampsAfterMultiplier(t *testing.T) {
	cfg := defaultTestMapping()

	if got := mapLuxToPercent(400, cfg, 2, false); got != cfg.MaxPercent {
		t.Fatalf("expected multiplier overshoot to clamp to %v, got %v", cfg.MaxPercent, got)
	}
	if got := mapLuxToPercent(400, cfg, 0, false); got != cfg.MinPercent {
		t.Fatalf("expected zero multiplier to clamp to %v, got %v", cfg.MinPercent, got)
	}
}

func TestMapLuxToPercent_DegenerateConfig(t *testing.T) {
	cfg := defaultTestMapping()
	cfg.MaxAmbientLux = 0

	if got := mapLuxToPercent(0, cfg, 1, false); got != cfg.MinPercent {
		t.Fatalf("expected min with zero max ambient and no light, got %v", got)
	}
	if got := mapLuxToPercent(1, cfg, 1, false); got != cfg.MaxPercent {
		t.Fatalf("expected saturation with zero max ambient, got %v", got)
	}

	cfg = defaultTestMapping()
	if got := mapLuxToPercent(math.NaN(), cfg, 1, false); got != cfg.MinPercent {
		t.Fatalf("expected NaN lux to map to min, got %v", got)
	}
	if got := mapLuxToPercent(-20, cfg, 1, false); got != cfg.MinPercent {
		t.Fatalf("expected negative lux to map to min, got %v", got)
	}
}

func TestPercentToUnits_Truncates(t *testing.T) {
	tests := []struct {
		pct  float64
		max  int
		want int
	}{
		{pct: 7.1875, max: 1000, want: 71},
		{pct: 0.7, max: 1000, want: 7},
		{pct: 100, max: 255, want: 255},
		{pct: 50, max: 255, want: 127},
		{pct: 150, max: 255, want: 255},
		{pct: -5, max: 255, want: 0},
	}
	for _, tt := range tests {
		if got := percentToUnits(tt.pct, tt.max); got != tt.want {
			t.Errorf("percentToUnits(%v, %d): expected %d, got %d", tt.pct, tt.max, tt.want, got)
		}
	}
}

func TestRampStepUnits(t *testing.T) {
	if got := rampStepUnits(0.5, 1000); got != 5 {
		t.Fatalf("expected 5, got %d", got)
	}
	if got := rampStepUnits(0.5, 100); got != 1 {
		t.Fatalf("expected 0.5 to round to 1, got %d", got)
	}
	if got := rampStepUnits(0.1, 100); got != 1 {
		t.Fatalf("expected a tiny step to stay at 1, got %d", got)
	}
	if got := rampStepUnits(10, 937); got != 94 {
		t.Fatalf("expected 94, got %d", got)
	}
}
