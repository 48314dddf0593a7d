package tts_test

import (
	"math"
	"testing"
	"time"

	"github.com/MrWong99/parley/pkg/provider/tts"
)

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*tts.Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*tts.Config) {}},
		{name: "bounds", mutate: func(c *tts.Config) { c.Rate, c.PitchMultiplier, c.Volume = 1, 0.5, 0 }},
		{name: "rate above range", mutate: func(c *tts.Config) { c.Rate = 1.1 }, wantErr: true},
		{name: "pitch below range", mutate: func(c *tts.Config) { c.PitchMultiplier = 0.4 }, wantErr: true},
		{name: "negative delay", mutate: func(c *tts.Config) { c.PostDelay = -time.Millisecond }, wantErr: true},
		{name: "NaN rate", mutate: func(c *tts.Config) { c.Rate = math.NaN() }, wantErr: true},
		{name: "NaN pitch", mutate: func(c *tts.Config) { c.PitchMultiplier = math.NaN() }, wantErr: true},
		{name: "NaN volume", mutate: func(c *tts.Config) { c.Volume = math.NaN() }, wantErr: true},
		{name: "infinite pitch", mutate: func(c *tts.Config) { c.PitchMultiplier = math.Inf(1) }, wantErr: true},
		{name: "negative infinite volume", mutate: func(c *tts.Config) { c.Volume = math.Inf(-1) }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := tts.DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, want error %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_ClampNaN(t *testing.T) {
	t.Parallel()

	cfg := tts.Config{Rate: math.NaN(), PitchMultiplier: math.NaN(), Volume: math.Inf(1), PreDelay: -time.Second}
	got := cfg.Clamp()
	want := tts.Config{Rate: tts.MinRate, PitchMultiplier: tts.MinPitch, Volume: tts.MaxVol}
	if got != want {
		t.Errorf("Clamp() = %+v, want %+v", got, want)
	}
	if err := got.Validate(); err != nil {
		t.Errorf("clamped config invalid: %v", err)
	}
}

func TestConfig_SpeedFactor(t *testing.T) {
	t.Parallel()

	for rate, want := range map[float64]float64{0: 0.5, 0.25: 0.75, 0.5: 1, 1: 2, 2: 2} {
		if got := (tts.Config{Rate: rate}).SpeedFactor(); got != want {
			t.Errorf("SpeedFactor(rate %v) = %v, want %v", rate, got, want)
		}
	}
}
