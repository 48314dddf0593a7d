package portaudio

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/parley/pkg/provider/stt/native"
)

const (
	// CaptureRate is the microphone sample rate. Every recognition backend
	// expects 16 kHz mono.
	CaptureRate = 16000

	framesPerBuffer = 1024
)

var _ native.Capture = (*Capture)(nil)

// Capture reads 16-bit mono audio from the default input device.
type Capture struct {
	mu      sync.Mutex
	stream  *portaudio.Stream
	running bool
	done    chan struct{}
}

// NewCapture returns an idle Capture.
func NewCapture() *Capture { return &Capture{} }

// Start implements native.Capture.
func (c *Capture) Start(onBuffer func(samples []int16)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return errors.New("portaudio: capture already running")
	}
	if err := acquire(); err != nil {
		return err
	}

	buf := make([]int16, framesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(1, 0, CaptureRate, framesPerBuffer, buf)
	if err != nil {
		release()
		return fmt.Errorf("portaudio: open input: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		release()
		return fmt.Errorf("portaudio: start input: %w", err)
	}

	c.stream = stream
	c.running = true
	c.done = make(chan struct{})
	go c.readLoop(stream, buf, onBuffer, c.done)
	return nil
}

func (c *Capture) readLoop(stream *portaudio.Stream, buf []int16, onBuffer func([]int16), done chan struct{}) {
	defer close(done)
	for {
		if err := stream.Read(); err != nil {
			c.mu.Lock()
			running := c.running
			c.mu.Unlock()
			if running && !errors.Is(err, portaudio.InputOverflowed) {
				slog.Warn("portaudio: capture read failed", "err", err)
				return
			}
			if !running {
				return
			}
			continue
		}
		c.mu.Lock()
		running := c.running
		c.mu.Unlock()
		if !running {
			return
		}
		onBuffer(append([]int16(nil), buf...))
	}
}

// Stop implements native.Capture.
func (c *Capture) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	stream, done := c.stream, c.done
	c.stream = nil
	c.mu.Unlock()

	// Stopping the stream unblocks a pending Read.
	_ = stream.Stop()
	<-done
	_ = stream.Close()
	release()
}
