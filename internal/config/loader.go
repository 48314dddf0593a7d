package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidBackends lists known backend names per engine. Used by [Validate] to
// warn about unrecognised names.
var ValidBackends = map[string][]string{
	"recognition": {"vosk", "whisper", "deepgram", "mock"},
	"synthesis":   {"system", "elevenlabs", "openai", "mock"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Fields the document leaves out keep their [Default] values.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr is required"))
	}

	rec := cfg.Recognition
	warnUnknownBackend("recognition", rec.Backend)
	if rec.Locale == "" {
		errs = append(errs, errors.New("recognition.locale is required"))
	}
	if rec.SilenceThreshold < 0 {
		errs = append(errs, fmt.Errorf("recognition.silence_threshold %s is negative", rec.SilenceThreshold))
	}
	switch rec.Backend {
	case "vosk":
		if len(cfg.Providers.Vosk.Models) == 0 {
			errs = append(errs, errors.New("recognition.backend vosk requires providers.vosk.models"))
		}
	case "whisper":
		if cfg.Providers.Whisper.ModelPath == "" && cfg.Providers.Whisper.ServerURL == "" {
			errs = append(errs, errors.New("recognition.backend whisper requires providers.whisper.model_path or server_url"))
		}
	case "deepgram":
		if cfg.Providers.Deepgram.APIKey == "" {
			errs = append(errs, errors.New("recognition.backend deepgram requires providers.deepgram.api_key"))
		}
	}

	syn := cfg.Synthesis
	warnUnknownBackend("synthesis", syn.Backend)
	if syn.FallbackEnabled {
		warnUnknownBackend("synthesis", syn.FallbackBackend)
		if syn.FallbackBackend == "" {
			errs = append(errs, errors.New("synthesis.fallback_backend is required when fallback_enabled is true"))
		}
	}
	if err := syn.TTSConfig().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("synthesis: %w", err))
	}
	backends := []string{syn.Backend}
	if syn.FallbackEnabled && syn.FallbackBackend != syn.Backend {
		backends = append(backends, syn.FallbackBackend)
	}
	for _, b := range backends {
		switch b {
		case "elevenlabs":
			if cfg.Providers.ElevenLabs.APIKey == "" {
				errs = append(errs, errors.New("synthesis backend elevenlabs requires providers.elevenlabs.api_key"))
			}
		case "openai":
			if cfg.Providers.OpenAI.APIKey == "" {
				errs = append(errs, errors.New("synthesis backend openai requires providers.openai.api_key"))
			}
		case "system":
			if cfg.Providers.System.BaseURL == "" {
				errs = append(errs, errors.New("synthesis backend system requires providers.system.base_url"))
			}
			if mode := cfg.Providers.System.Option("api_mode", "standard"); mode != "standard" && mode != "xtts" {
				errs = append(errs, fmt.Errorf("providers.system.options.api_mode %q is invalid; valid values: standard, xtts", mode))
			}
		}
	}

	if cfg.Journal.Capacity < 0 {
		errs = append(errs, fmt.Errorf("journal.capacity %d is negative", cfg.Journal.Capacity))
	}
	if cfg.Journal.PostgresDSN == "" && cfg.Journal.Capacity == 0 {
		slog.Warn("journal.capacity is 0 and no postgres_dsn is set; the in-memory journal uses its default capacity")
	}

	return errors.Join(errs...)
}

// warnUnknownBackend logs a warning if name is non-empty and not found in
// [ValidBackends] for the given engine.
func warnUnknownBackend(engine, name string) {
	if name == "" || slices.Contains(ValidBackends[engine], name) {
		return
	}
	slog.Warn("unknown backend name; it must be registered programmatically",
		"engine", engine,
		"name", name,
		"known", ValidBackends[engine],
	)
}
