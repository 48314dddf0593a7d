package app

import (
	"errors"
	"sync"

	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/pkg/audio/portaudio"
	"github.com/MrWong99/parley/pkg/provider/stt"
	"github.com/MrWong99/parley/pkg/provider/stt/deepgram"
	sttnative "github.com/MrWong99/parley/pkg/provider/stt/native"
	"github.com/MrWong99/parley/pkg/provider/stt/vosk"
	"github.com/MrWong99/parley/pkg/provider/stt/whisper"
	"github.com/MrWong99/parley/pkg/provider/tts"
	"github.com/MrWong99/parley/pkg/provider/tts/coqui"
	"github.com/MrWong99/parley/pkg/provider/tts/elevenlabs"
	ttsnative "github.com/MrWong99/parley/pkg/provider/tts/native"
	"github.com/MrWong99/parley/pkg/provider/tts/openai"
	"github.com/MrWong99/parley/pkg/provider/tts/playback"
	"github.com/MrWong99/parley/pkg/speech"
)

// Devices are the audio endpoints shared by the built-in backends.
type Devices struct {
	Capture    sttnative.Capture
	Authorizer sttnative.Authorizer

	// NewPlayer returns the output for one synthesis provider.
	NewPlayer func() playback.Player
}

// DefaultDevices uses the host's default PortAudio input and output.
func DefaultDevices() Devices {
	return Devices{
		Capture:    portaudio.NewCapture(),
		Authorizer: portaudio.NewAuthorizer(),
		NewPlayer:  func() playback.Player { return portaudio.NewPlayer() },
	}
}

// backends registers the built-in recognition and synthesis backends. Native
// resources that outlive a single provider (model sets, loaded models) are
// released by close.
type backends struct {
	cfg *config.Config
	dev Devices

	mu      sync.Mutex
	closers []func() error
}

func (b *backends) register(reg *speech.Registry) {
	p := b.cfg.Providers

	reg.RegisterRecognition(stt.KindVosk, speech.RecognitionBackend{
		Available: func() bool { return len(p.Vosk.Models) > 0 },
		New: func() (stt.Provider, error) {
			models, err := vosk.NewModelSet(p.Vosk.Models)
			if err != nil {
				return nil, err
			}
			b.onClose(models.Close)
			return b.recognizer(stt.KindVosk, models.Factory())
		},
	})

	reg.RegisterRecognition(stt.KindWhisper, speech.RecognitionBackend{
		Available: func() bool { return p.Whisper.ModelPath != "" || p.Whisper.ServerURL != "" },
		New: func() (stt.Provider, error) {
			var t whisper.Transcriber
			if p.Whisper.ModelPath != "" {
				m, err := whisper.LoadModel(p.Whisper.ModelPath)
				if err != nil {
					return nil, err
				}
				b.onClose(m.Close)
				t = m
			} else {
				var opts []whisper.ServerOption
				if p.Whisper.Language != "" {
					opts = append(opts, whisper.WithServerLanguages(p.Whisper.Language))
				}
				s, err := whisper.NewServer(p.Whisper.ServerURL, opts...)
				if err != nil {
					return nil, err
				}
				t = s
			}
			var wopts []whisper.Option
			if d := b.cfg.Recognition.SilenceThreshold; d > 0 {
				wopts = append(wopts, whisper.WithSilenceThreshold(d))
			}
			return b.recognizer(stt.KindWhisper, whisper.Factory(t, wopts...))
		},
	})

	reg.RegisterRecognition(stt.KindDeepgram, speech.RecognitionBackend{
		Available: func() bool { return p.Deepgram.APIKey != "" },
		New: func() (stt.Provider, error) {
			opts := []deepgram.Option{deepgram.WithSampleRate(portaudio.CaptureRate)}
			if p.Deepgram.Model != "" {
				opts = append(opts, deepgram.WithModel(p.Deepgram.Model))
			}
			if p.Deepgram.BaseURL != "" {
				opts = append(opts, deepgram.WithEndpoint(p.Deepgram.BaseURL))
			}
			if len(b.cfg.Recognition.Vocabulary) > 0 {
				opts = append(opts, deepgram.WithKeywords(b.cfg.Recognition.Vocabulary...))
			}
			factory, err := deepgram.Factory(p.Deepgram.APIKey, opts...)
			if err != nil {
				return nil, err
			}
			return b.recognizer(stt.KindDeepgram, factory)
		},
	})

	reg.RegisterSynthesis(tts.KindSystem, speech.SynthesisBackend{
		Available: func() bool { return p.System.BaseURL != "" },
		New: func() (tts.Provider, error) {
			r, err := coqui.New(p.System.BaseURL,
				coqui.WithAPIMode(coqui.APIMode(p.System.Option("api_mode", string(coqui.APIModeStandard)))),
				coqui.WithLanguage(p.System.Option("language", whisper.Language(b.cfg.Recognition.Locale))),
				coqui.WithSampleRate(p.System.IntOption("sample_rate", 22050)),
			)
			if err != nil {
				return nil, err
			}
			return b.synthesizer(tts.KindSystem, r, tts.CapPause|tts.CapResume|tts.CapOffline)
		},
	})

	reg.RegisterSynthesis(tts.KindElevenLabs, speech.SynthesisBackend{
		Available: func() bool { return p.ElevenLabs.APIKey != "" },
		New: func() (tts.Provider, error) {
			var opts []elevenlabs.Option
			if p.ElevenLabs.Model != "" {
				opts = append(opts, elevenlabs.WithModel(p.ElevenLabs.Model))
			}
			if p.ElevenLabs.Voice != "" {
				opts = append(opts, elevenlabs.WithDefaultVoice(p.ElevenLabs.Voice))
			}
			if p.ElevenLabs.BaseURL != "" {
				opts = append(opts, elevenlabs.WithBaseURL(p.ElevenLabs.BaseURL))
			}
			r, err := elevenlabs.New(p.ElevenLabs.APIKey, opts...)
			if err != nil {
				return nil, err
			}
			return b.synthesizer(tts.KindElevenLabs, r, tts.CapPause|tts.CapResume|tts.CapStreaming)
		},
	})

	reg.RegisterSynthesis(tts.KindOpenAI, speech.SynthesisBackend{
		Available: func() bool { return p.OpenAI.APIKey != "" },
		New: func() (tts.Provider, error) {
			var opts []openai.Option
			if p.OpenAI.Voice != "" {
				opts = append(opts, openai.WithDefaultVoice(p.OpenAI.Voice))
			}
			if p.OpenAI.BaseURL != "" {
				opts = append(opts, openai.WithBaseURL(p.OpenAI.BaseURL))
			}
			r, err := openai.New(p.OpenAI.APIKey, p.OpenAI.Model, opts...)
			if err != nil {
				return nil, err
			}
			return b.synthesizer(tts.KindOpenAI, r, tts.CapPause|tts.CapResume)
		},
	})
}

func (b *backends) recognizer(kind stt.Kind, factory sttnative.RecognizerFactory) (stt.Provider, error) {
	return sttnative.New(kind, factory, b.dev.Capture,
		sttnative.WithAuthorizer(b.dev.Authorizer),
		sttnative.WithSilenceThreshold(b.cfg.Recognition.SilenceThreshold),
	)
}

func (b *backends) synthesizer(kind tts.Kind, r playback.Renderer, caps tts.Capabilities) (tts.Provider, error) {
	synth, err := playback.New(r, b.dev.NewPlayer())
	if err != nil {
		return nil, err
	}
	return ttsnative.New(kind, synth, caps, ttsnative.WithConfig(b.cfg.Synthesis.TTSConfig()))
}

func (b *backends) onClose(fn func() error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closers = append(b.closers, fn)
}

// close releases shared native resources. Providers must be closed first.
func (b *backends) close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var errs []error
	for _, fn := range b.closers {
		if err := fn(); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}
