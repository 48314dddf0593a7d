package app

import (
	"log/slog"
	"time"

	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/pkg/provider/tts"
)

// silenceSetter is implemented by recognition providers whose silence
// threshold can change while running.
type silenceSetter interface {
	SetSilenceThreshold(d time.Duration)
}

// ApplyConfig applies the hot-reloadable differences between old and new to
// the running subsystems and makes new the current config. It is meant to be
// passed to [config.NewWatcher].
//
// Backend, provider, listen address and journal changes are logged and only
// take effect after a restart.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.Empty() {
		return
	}

	if d.LogLevelChanged {
		a.level.Set(d.NewLogLevel.Level())
		slog.Info("config reload: log level changed", "level", d.NewLogLevel)
	}

	if d.SynthesisTuningChanged {
		if err := a.synth.SetConfig(new.Synthesis.TTSConfig()); err != nil {
			slog.Warn("config reload: apply synthesis tuning", "err", err)
		} else {
			slog.Info("config reload: synthesis tuning applied",
				"rate", new.Synthesis.Rate,
				"pitch", new.Synthesis.Pitch,
				"volume", new.Synthesis.Volume,
				"voice", new.Synthesis.Voice,
			)
		}
	}

	if d.FallbackChanged {
		a.synth.SetFallback(new.Synthesis.FallbackEnabled)
		a.synth.SetFallbackKind(tts.Kind(new.Synthesis.FallbackBackend))
		slog.Info("config reload: fallback changed",
			"enabled", new.Synthesis.FallbackEnabled,
			"backend", new.Synthesis.FallbackBackend,
		)
	}

	if d.VocabularyChanged {
		a.corrector.SetVocabulary(new.Recognition.Vocabulary)
		slog.Info("config reload: vocabulary replaced", "words", a.corrector.Vocabulary().Len())
	}

	if d.SilenceChanged {
		if s, ok := a.recProv.(silenceSetter); ok {
			s.SetSilenceThreshold(new.Recognition.SilenceThreshold)
			slog.Info("config reload: silence threshold changed", "threshold", new.Recognition.SilenceThreshold)
		} else {
			slog.Warn("config reload: recognition backend cannot change its silence threshold while running",
				"backend", a.rec.Kind())
		}
	}

	if len(d.RestartRequired) > 0 {
		slog.Warn("config reload: changes require a restart", "sections", d.RestartRequired)
	}

	a.cfgMu.Lock()
	a.cfg = new
	a.cfgMu.Unlock()
}
