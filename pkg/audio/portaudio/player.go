package portaudio

import (
	"context"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/tts/playback"
)

// outputFrames is the number of samples written per chunk; pause and
// cancellation take effect at chunk boundaries.
const outputFrames = 1024

// output is a blocking mono 16-bit output stream.
type output interface {
	Write(samples []int16) error
	Close() error
}

// opener opens an output stream at rate.
type opener func(rate int) (output, error)

var _ playback.Player = (*Player)(nil)

// Player plays mono 16-bit PCM on the default output device.
type Player struct {
	open opener

	mu      sync.Mutex
	playing bool
	paused  bool
	resume  chan struct{}
}

// NewPlayer returns a Player for the default output device.
func NewPlayer() *Player {
	return &Player{open: openDefault}
}

// Play implements playback.Player.
func (p *Player) Play(ctx context.Context, pcm []byte, rate int) error {
	samples := audio.BytesToInt16(pcm)
	if len(samples) == 0 {
		return nil
	}
	out, err := p.open(rate)
	if err != nil {
		return err
	}
	defer out.Close()

	p.mu.Lock()
	p.playing = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.playing = false
		p.paused = false
		p.mu.Unlock()
	}()

	for off := 0; off < len(samples); off += outputFrames {
		if err := p.waitWhilePaused(ctx); err != nil {
			return err
		}
		end := min(off+outputFrames, len(samples))
		chunk := samples[off:end]
		if len(chunk) < outputFrames {
			chunk = append(chunk, make([]int16, outputFrames-len(chunk))...)
		}
		if err := out.Write(chunk); err != nil {
			return fmt.Errorf("portaudio: write: %w", err)
		}
	}
	return nil
}

func (p *Player) waitWhilePaused(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.mu.Lock()
		if !p.paused {
			p.mu.Unlock()
			return nil
		}
		ch := p.resume
		p.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Pause implements playback.Player. It reports false when nothing is playing
// or playback is already paused.
func (p *Player) Pause() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.playing || p.paused {
		return false
	}
	p.paused = true
	p.resume = make(chan struct{})
	return true
}

// Resume implements playback.Player.
func (p *Player) Resume() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.paused {
		return false
	}
	p.paused = false
	close(p.resume)
	return true
}

// paStream adapts a blocking PortAudio output stream.
type paStream struct {
	stream *portaudio.Stream
	buf    []int16
}

func openDefault(rate int) (output, error) {
	if err := acquire(); err != nil {
		return nil, err
	}
	s := &paStream{buf: make([]int16, outputFrames)}
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(rate), outputFrames, s.buf)
	if err != nil {
		release()
		return nil, fmt.Errorf("portaudio: open output: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		release()
		return nil, fmt.Errorf("portaudio: start output: %w", err)
	}
	s.stream = stream
	return s, nil
}

func (s *paStream) Write(samples []int16) error {
	copy(s.buf, samples)
	return s.stream.Write()
}

func (s *paStream) Close() error {
	_ = s.stream.Stop()
	err := s.stream.Close()
	release()
	return err
}
