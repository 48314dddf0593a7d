package whisper

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/parley/pkg/provider/stt/native"
)

const (
	// sampleRate is the only rate whisper.cpp accepts.
	sampleRate = 16000

	// defaultRMSThreshold is the root-mean-square energy (in 16-bit sample
	// units) below which audio counts as silence.
	defaultRMSThreshold = 300.0

	defaultSilenceThreshold  = 700 * time.Millisecond
	defaultPartialInterval   = time.Second
	defaultMaxUtterance      = 15 * time.Second
	defaultFinalConfidence   = 0.9
	defaultPartialConfidence = 0.5
)

// Option configures the recognizers built by Factory.
type Option func(*options)

type options struct {
	silenceThreshold time.Duration
	partialInterval  time.Duration
	maxUtterance     time.Duration
	rmsThreshold     float64
}

// WithSilenceThreshold sets the trailing silence that commits an utterance.
func WithSilenceThreshold(d time.Duration) Option {
	return func(o *options) { o.silenceThreshold = d }
}

// WithPartialInterval sets how much new speech triggers another partial
// inference pass.
func WithPartialInterval(d time.Duration) Option {
	return func(o *options) { o.partialInterval = d }
}

// WithMaxUtterance bounds the buffered audio; longer speech is committed
// regardless of silence.
func WithMaxUtterance(d time.Duration) Option {
	return func(o *options) { o.maxUtterance = d }
}

// WithRMSThreshold sets the silence energy threshold.
func WithRMSThreshold(v float64) Option {
	return func(o *options) { o.rmsThreshold = v }
}

// Factory returns a native.RecognizerFactory over t. The locale's primary
// language subtag ("de" for "de-DE") selects the whisper language; locales
// the transcriber does not support yield an error.
func Factory(t Transcriber, opts ...Option) native.RecognizerFactory {
	o := options{
		silenceThreshold: defaultSilenceThreshold,
		partialInterval:  defaultPartialInterval,
		maxUtterance:     defaultMaxUtterance,
		rmsThreshold:     defaultRMSThreshold,
	}
	for _, fn := range opts {
		fn(&o)
	}
	return func(locale string) (native.Recognizer, error) {
		lang := Language(locale)
		if !t.Supports(lang) {
			return nil, fmt.Errorf("whisper: language %q not supported", lang)
		}
		return &recognizer{t: t, lang: lang, opts: o}, nil
	}
}

// Language returns the primary language subtag of a BCP-47 locale,
// lower-cased. "en-US" and "en_US" both yield "en".
func Language(locale string) string {
	lang, _, _ := strings.Cut(strings.ReplaceAll(locale, "_", "-"), "-")
	return strings.ToLower(lang)
}

type recognizer struct {
	t    Transcriber
	lang string
	opts options
}

func (r *recognizer) Available() bool { return r.t.Available() }

func (r *recognizer) Close() error { return nil }

func (r *recognizer) Start(ctx context.Context, handler func(native.Callback)) (native.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tctx, cancel := context.WithCancel(context.Background())
	t := &task{
		rec:     r,
		handler: handler,
		audioCh: make(chan []int16, 256),
		endCh:   make(chan struct{}),
		ctx:     tctx,
		cancel:  cancel,
	}
	go t.processLoop()
	return t, nil
}

// task confines buffering and silence detection to processLoop.
type task struct {
	rec     *recognizer
	handler func(native.Callback)
	audioCh chan []int16
	endCh   chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc

	endOnce sync.Once
}

func (t *task) Append(samples []int16) {
	buf := append([]int16(nil), samples...)
	select {
	case t.audioCh <- buf:
	case <-t.ctx.Done():
	case <-t.endCh:
	}
}

func (t *task) EndAudio() {
	t.endOnce.Do(func() { close(t.endCh) })
}

func (t *task) Cancel() { t.cancel() }

func (t *task) processLoop() {
	o := t.rec.opts
	var (
		buffer      []int16
		hadSpeech   bool
		silence     time.Duration
		sinceInfer  time.Duration
		lastPartial string
	)
	reset := func() {
		buffer, hadSpeech, silence, sinceInfer, lastPartial = nil, false, 0, 0, ""
	}

	// infer runs a pass and reports whether the loop should continue.
	infer := func(final bool) bool {
		if !hadSpeech || len(buffer) == 0 {
			reset()
			return true
		}
		text, err := t.rec.t.Transcribe(t.ctx, buffer, t.rec.lang)
		if t.ctx.Err() != nil {
			t.handler(native.Callback{Err: native.ErrCanceled})
			return false
		}
		if err != nil {
			t.handler(native.Callback{Err: err})
			return false
		}
		text = strings.TrimSpace(text)
		sinceInfer = 0
		switch {
		case final:
			if text != "" {
				t.handler(native.Callback{Text: text, IsFinal: true, Confidence: defaultFinalConfidence})
			}
			reset()
		case text != "" && text != lastPartial:
			lastPartial = text
			t.handler(native.Callback{Text: text, Confidence: defaultPartialConfidence})
		}
		return true
	}

	for {
		select {
		case <-t.ctx.Done():
			t.handler(native.Callback{Err: native.ErrCanceled})
			return

		case <-t.endCh:
			if t.drain(&buffer, o.rmsThreshold) {
				hadSpeech = true
			}
			infer(true)
			return

		case chunk := <-t.audioCh:
			d := time.Duration(len(chunk)) * time.Second / sampleRate
			if rms(chunk) < o.rmsThreshold {
				if !hadSpeech {
					continue
				}
				buffer = append(buffer, chunk...)
				silence += d
				if silence >= o.silenceThreshold && !infer(true) {
					return
				}
				continue
			}

			hadSpeech = true
			silence = 0
			buffer = append(buffer, chunk...)
			sinceInfer += d

			full := time.Duration(len(buffer))*time.Second/sampleRate >= o.maxUtterance
			switch {
			case full:
				if !infer(true) {
					return
				}
			case sinceInfer >= o.partialInterval:
				if !infer(false) {
					return
				}
			}
		}
	}
}

// drain moves already queued audio into buffer and reports whether any of it
// was speech.
func (t *task) drain(buffer *[]int16, threshold float64) bool {
	speech := false
	for {
		select {
		case chunk := <-t.audioCh:
			*buffer = append(*buffer, chunk...)
			speech = speech || rms(chunk) >= threshold
		default:
			return speech
		}
	}
}

// rms returns the root-mean-square energy of samples.
func rms(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}
