package tts

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Config is the tuning bundle applied to every utterance.
type Config struct {
	// Rate is the speaking rate in [0, 1]; 0.5 is the backend's natural speed.
	Rate float64

	// PitchMultiplier scales the voice pitch, in [0.5, 2].
	PitchMultiplier float64

	// Volume is the output gain in [0, 1].
	Volume float64

	// PreDelay is silence inserted before an utterance.
	PreDelay time.Duration

	// PostDelay is silence inserted after an utterance.
	PostDelay time.Duration
}

// Ranges for Config fields.
const (
	MinRate  = 0.0
	MaxRate  = 1.0
	MinPitch = 0.5
	MaxPitch = 2.0
	MinVol   = 0.0
	MaxVol   = 1.0
)

// DefaultConfig returns rate 0.5, pitch 1, volume 1 and no delays.
func DefaultConfig() Config {
	return Config{Rate: 0.5, PitchMultiplier: 1, Volume: 1}
}

// Validate reports every field outside its documented range. NaN and
// infinite values are out of every range.
func (c Config) Validate() error {
	var errs []error
	if !inRange(c.Rate, MinRate, MaxRate) {
		errs = append(errs, fmt.Errorf("rate %.2f outside [%.1f, %.1f]", c.Rate, MinRate, MaxRate))
	}
	if !inRange(c.PitchMultiplier, MinPitch, MaxPitch) {
		errs = append(errs, fmt.Errorf("pitch multiplier %.2f outside [%.1f, %.1f]", c.PitchMultiplier, MinPitch, MaxPitch))
	}
	if !inRange(c.Volume, MinVol, MaxVol) {
		errs = append(errs, fmt.Errorf("volume %.2f outside [%.1f, %.1f]", c.Volume, MinVol, MaxVol))
	}
	if c.PreDelay < 0 {
		errs = append(errs, fmt.Errorf("pre delay %s is negative", c.PreDelay))
	}
	if c.PostDelay < 0 {
		errs = append(errs, fmt.Errorf("post delay %s is negative", c.PostDelay))
	}
	return errors.Join(errs...)
}

// Clamp returns c with every field forced into range.
func (c Config) Clamp() Config {
	c.Rate = clamp(c.Rate, MinRate, MaxRate)
	c.PitchMultiplier = clamp(c.PitchMultiplier, MinPitch, MaxPitch)
	c.Volume = clamp(c.Volume, MinVol, MaxVol)
	c.PreDelay = max(c.PreDelay, 0)
	c.PostDelay = max(c.PostDelay, 0)
	return c
}

// SpeedFactor maps Rate onto a playback speed multiplier: 0 → 0.5x,
// 0.5 → 1x, 1 → 2x.
func (c Config) SpeedFactor() float64 {
	r := clamp(c.Rate, MinRate, MaxRate)
	if r <= 0.5 {
		return 0.5 + r
	}
	return 1 + (r-0.5)*2
}

// inRange reports lo <= v <= hi; it is false for NaN.
func inRange(v, lo, hi float64) bool {
	return v >= lo && v <= hi
}

// clamp forces v into [lo, hi]. NaN becomes lo.
func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return min(max(v, lo), hi)
}
