// Package playback assembles a native.Synthesizer from two smaller parts: a
// Renderer that turns text into PCM (usually a remote or local TTS engine)
// and a Player that sends PCM to an output device.
//
// The utterance is split into sentences. A producer goroutine renders
// sentences ahead of playback while a consumer plays them in order, reporting
// each sentence's rune range to the delegate before it is heard.
package playback

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/tts"
	"github.com/MrWong99/parley/pkg/provider/tts/native"
)

// defaultLookahead is how many rendered sentences may wait for playback.
const defaultLookahead = 2

// Renderer converts text to mono 16-bit PCM.
type Renderer interface {
	// Render synthesizes text. The zero Voice selects the renderer default.
	// Errors should be *tts.Error values so that callers can classify them.
	Render(ctx context.Context, text string, voice tts.Voice, cfg tts.Config) ([]byte, error)

	// SampleRate is the rate of the PCM returned by Render.
	SampleRate() int

	// Voices lists the voices the renderer accepts.
	Voices(ctx context.Context) ([]tts.Voice, error)
}

// Player plays mono 16-bit PCM.
type Player interface {
	// Play blocks until pcm has been played or ctx is cancelled.
	Play(ctx context.Context, pcm []byte, rate int) error

	// Pause suspends output and reports whether it took effect.
	Pause() bool

	// Resume continues output and reports whether it took effect.
	Resume() bool
}

// Option is a functional option for configuring a Synthesizer.
type Option func(*Synthesizer)

// WithLookahead sets how many sentences may be rendered ahead of playback.
func WithLookahead(n int) Option {
	return func(s *Synthesizer) {
		if n > 0 {
			s.lookahead = n
		}
	}
}

// Synthesizer implements native.Synthesizer.
type Synthesizer struct {
	renderer  Renderer
	player    Player
	lookahead int

	mu     sync.Mutex
	cancel context.CancelFunc
	voices []tts.Voice
	wg     sync.WaitGroup
}

var _ native.Synthesizer = (*Synthesizer)(nil)

// New returns a Synthesizer rendering with r and playing through p.
func New(r Renderer, p Player, opts ...Option) (*Synthesizer, error) {
	if r == nil {
		return nil, errors.New("playback: renderer must not be nil")
	}
	if p == nil {
		return nil, errors.New("playback: player must not be nil")
	}
	s := &Synthesizer{renderer: r, player: p, lookahead: defaultLookahead}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Speak implements native.Synthesizer. It cancels any utterance still in
// flight and starts u in the background.
func (s *Synthesizer) Speak(u native.Utterance, d native.Delegate) error {
	segs := Segments(u.Text)
	if len(segs) == 0 {
		return tts.ErrInvalidText
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		s.run(ctx, u, segs, d)
	}()
	return nil
}

type chunk struct {
	seg Segment
	pcm []byte
}

func (s *Synthesizer) run(ctx context.Context, u native.Utterance, segs []Segment, d native.Delegate) {
	rate := s.renderer.SampleRate()
	if u.Config.PitchMultiplier > 0 {
		// Pitch is shifted by playing faster or slower than rendered.
		rate = int(float64(rate) * u.Config.PitchMultiplier)
	}
	start := time.Now()
	var played time.Duration

	g, gctx := errgroup.WithContext(ctx)
	rendered := make(chan chunk, s.lookahead)

	g.Go(func() error {
		defer close(rendered)
		for _, seg := range segs {
			pcm, err := s.renderer.Render(gctx, seg.Text, u.Voice, u.Config)
			if err != nil {
				return err
			}
			select {
			case rendered <- chunk{seg: seg, pcm: audio.ApplyGain(pcm, u.Config.Volume)}:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	g.Go(func() error {
		if err := sleep(gctx, u.Config.PreDelay); err != nil {
			return err
		}
		started := false
		for c := range rendered {
			if !started {
				d.DidStart()
				started = true
			}
			d.WillSpeakRange(c.seg.Start, c.seg.Length)
			if err := s.player.Play(gctx, c.pcm, rate); err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				var te *tts.Error
				if errors.As(err, &te) {
					return te
				}
				return tts.NewPlaybackFailed(err.Error())
			}
			played += audio.Duration(c.pcm, rate)
		}
		return sleep(gctx, u.Config.PostDelay)
	})

	err := g.Wait()
	switch {
	case ctx.Err() != nil:
		d.DidCancel()
	case err != nil:
		slog.Debug("playback: utterance failed", "err", err, "elapsed", time.Since(start))
		d.DidFail(tts.AsError(err))
	default:
		slog.Debug("playback: utterance finished", "segments", len(segs), "audio", played, "elapsed", time.Since(start))
		d.DidFinish()
	}
}

// Stop implements native.Synthesizer.
func (s *Synthesizer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// Pause implements native.Synthesizer.
func (s *Synthesizer) Pause() bool { return s.player.Pause() }

// Continue implements native.Synthesizer.
func (s *Synthesizer) Continue() bool { return s.player.Resume() }

// ResolveVoice implements native.Synthesizer. The renderer's voice list is
// fetched once and cached.
func (s *Synthesizer) ResolveVoice(ctx context.Context, id string) (tts.Voice, error) {
	s.mu.Lock()
	voices := s.voices
	s.mu.Unlock()

	if voices == nil {
		v, err := s.renderer.Voices(ctx)
		if err != nil {
			return tts.Voice{}, tts.AsError(err)
		}
		s.mu.Lock()
		s.voices = v
		s.mu.Unlock()
		voices = v
	}

	for _, v := range voices {
		if v.ID == id {
			return v, nil
		}
	}
	return tts.Voice{}, tts.NewVoiceNotAvailable(id)
}

// Close implements native.Synthesizer. It stops playback, waits for the
// background goroutine and closes the renderer and player when they
// implement io.Closer.
func (s *Synthesizer) Close() error {
	s.Stop()
	s.wg.Wait()
	var errs []error
	for _, c := range []any{s.renderer, s.player} {
		if cl, ok := c.(io.Closer); ok {
			if err := cl.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
