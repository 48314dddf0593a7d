package config

import (
	"maps"
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs. Hot-reloadable
// changes are reported individually; everything else is summarised in
// RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// SynthesisTuningChanged covers rate, pitch, volume, delays and the
	// default voice.
	SynthesisTuningChanged bool
	FallbackChanged        bool
	VocabularyChanged      bool
	SilenceChanged         bool

	// RestartRequired lists the sections whose changes only take effect
	// after a restart.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.SynthesisTuningChanged && !d.FallbackChanged &&
		!d.VocabularyChanged && !d.SilenceChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	oldSyn, newSyn := old.Synthesis, new.Synthesis
	if oldSyn.TTSConfig() != newSyn.TTSConfig() || oldSyn.Voice != newSyn.Voice {
		d.SynthesisTuningChanged = true
	}
	if oldSyn.FallbackEnabled != newSyn.FallbackEnabled || oldSyn.FallbackBackend != newSyn.FallbackBackend {
		d.FallbackChanged = true
	}
	if !slices.Equal(old.Recognition.Vocabulary, new.Recognition.Vocabulary) {
		d.VocabularyChanged = true
	}
	if old.Recognition.SilenceThreshold != new.Recognition.SilenceThreshold {
		d.SilenceChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if old.Recognition.Backend != new.Recognition.Backend || old.Recognition.Locale != new.Recognition.Locale {
		d.RestartRequired = append(d.RestartRequired, "recognition")
	}
	if oldSyn.Backend != newSyn.Backend {
		d.RestartRequired = append(d.RestartRequired, "synthesis.backend")
	}
	if !providersEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Journal != new.Journal {
		d.RestartRequired = append(d.RestartRequired, "journal")
	}
	return d
}

func providersEqual(a, b ProvidersConfig) bool {
	if !maps.Equal(a.Vosk.Models, b.Vosk.Models) {
		return false
	}
	if a.Whisper != b.Whisper || a.Deepgram != b.Deepgram || a.ElevenLabs != b.ElevenLabs || a.OpenAI != b.OpenAI {
		return false
	}
	return a.System.BaseURL == b.System.BaseURL && reflect.DeepEqual(a.System.Options, b.System.Options)
}
