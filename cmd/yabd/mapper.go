package main

import "math"

// MappingConfig holds the response-curve parameters used by mapLuxToPercent.
// All percentages are of the device's maximum brightness.
type MappingConfig struct {
	MinPercent    float64
	MaxPercent    float64
	DimmedPercent float64
	MaxAmbientLux float64
	Gamma         float64
}

// mapLuxToPercent maps an ambient light level to a target brightness percent.
//
// The ambient level is clipped to MaxAmbientLux and normalized to [0,1], shaped
// with a power law (frac^Gamma), scaled into [MinPercent,MaxPercent], multiplied
// by the user multiplier and clamped back into [MinPercent,MaxPercent].
// isDim overrides everything with DimmedPercent.
//
// Degenerate configs stay monotonic: a non-positive MaxAmbientLux saturates the
// curve for any positive lux, and a non-positive Gamma yields a flat curve.
func mapLuxToPercent(lux float64, cfg MappingConfig, multiplier float64, isDim bool) float64 {
	if isDim {
		return cfg.DimmedPercent
	}

	pct := cfg.MinPercent + (cfg.MaxPercent-cfg.MinPercent)*responseCurve(lux, cfg)
	pct *= multiplier

	return clampFloat(pct, cfg.MinPercent, cfg.MaxPercent)
}

// responseCurve returns frac^gamma in [0,1].
func responseCurve(lux float64, cfg MappingConfig) float64 {
	if math.IsNaN(lux) || lux <= 0 {
		lux = 0
	}
	if cfg.MaxAmbientLux <= 0 {
		if lux > 0 {
			return 1
		}
		return 0
	}

	frac := math.Min(lux, cfg.MaxAmbientLux) / cfg.MaxAmbientLux
	if cfg.Gamma <= 0 {
		return 1
	}
	return math.Pow(frac, cfg.Gamma)
}

// percentToUnits converts a brightness percent into device units.
// Truncates toward zero and never leaves [0,max].
func percentToUnits(pct float64, max int) int {
	units := int(float64(max) * pct / 100)
	return clampInt(units, 0, max)
}

// rampStepUnits converts the per-tick ramp step from percent to device units.
// A positive step never rounds down to zero, otherwise the ramp could not move.
func rampStepUnits(stepPercent float64, max int) int {
	units := int(math.Round(stepPercent / 100 * float64(max)))
	if units < 1 {
		return 1
	}
	return units
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
