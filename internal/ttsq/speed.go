package ttsq

// SpeedConfig holds the backlog-driven playback-rate curve.
type SpeedConfig struct {
	// Base is the resting rate multiplier applied below RampStart. Default 1.05.
	Base float64

	// Max is the ceiling multiplier applied at and above RampEnd. Default 1.35.
	Max float64

	// RampStart and RampEnd are backlog thresholds in seconds for the linear
	// section of the curve. Defaults 5 and 20.
	RampStart float64
	RampEnd   float64

	// MaxChangePct clamps each rate transition relative to the previous value.
	// Default 15.
	MaxChangePct float64
}

// withDefaults fills zero fields.
func (c SpeedConfig) withDefaults() SpeedConfig {
	if c.Base <= 0 {
		c.Base = 1.05
	}
	if c.Max <= 0 {
		c.Max = 1.35
	}
	if c.RampStart <= 0 {
		c.RampStart = 5
	}
	if c.RampEnd <= c.RampStart {
		c.RampEnd = c.RampStart + 15
	}
	if c.MaxChangePct <= 0 {
		c.MaxChangePct = 15
	}
	return c
}

// rampEpsilon separates "at base" from "ramping" for the transition events.
const rampEpsilon = 0.001

// targetRate maps a backlog (seconds of queued speech) onto the curve.
func (c SpeedConfig) targetRate(backlogSec float64) float64 {
	switch {
	case backlogSec < c.RampStart:
		return c.Base
	case backlogSec >= c.RampEnd:
		return c.Max
	default:
		frac := (backlogSec - c.RampStart) / (c.RampEnd - c.RampStart)
		return c.Base + frac*(c.Max-c.Base)
	}
}

// clampStep limits next to ±MaxChangePct of prev.
func (c SpeedConfig) clampStep(prev, next float64) float64 {
	if prev <= 0 {
		return next
	}
	limit := prev * c.MaxChangePct / 100
	if next > prev+limit {
		return prev + limit
	}
	if next < prev-limit {
		return prev - limit
	}
	return next
}
