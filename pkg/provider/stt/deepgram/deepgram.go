// Package deepgram provides a recognition backend for the native speech
// adapter backed by the Deepgram streaming WebSocket API.
//
// Deepgram reports an utterance as a series of finalised segments followed
// by an end-of-speech marker. The task stitches segments together, reports
// the running text as partial hypotheses, and commits it as the final result
// once Deepgram signals speech_final or UtteranceEnd.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/coder/websocket"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/stt/native"
)

const (
	deepgramEndpoint   = "wss://api.deepgram.com/v1/listen"
	defaultModel       = "nova-3"
	defaultSampleRate  = 16000
	defaultEndpointing = 300
	defaultUtteranceMs = 1000
)

// Option is a functional option for configuring the Deepgram factory.
type Option func(*config)

type config struct {
	apiKey      string
	endpoint    string
	model       string
	sampleRate  int
	endpointing int
	keywords    []string
}

// WithModel sets the Deepgram model to use (e.g., "nova-3", "nova-2").
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithSampleRate sets the rate of the audio fed to tasks. Defaults to 16 kHz.
func WithSampleRate(rate int) Option {
	return func(c *config) { c.sampleRate = rate }
}

// WithEndpointing sets how many milliseconds of silence Deepgram waits before
// marking speech final.
func WithEndpointing(ms int) Option {
	return func(c *config) { c.endpointing = ms }
}

// WithKeywords biases recognition towards the given terms (proper nouns,
// jargon). nova-3 models receive them as key terms, older models as keywords.
func WithKeywords(words ...string) Option {
	return func(c *config) { c.keywords = append(c.keywords, words...) }
}

// WithEndpoint overrides the streaming endpoint URL.
func WithEndpoint(u string) Option {
	return func(c *config) { c.endpoint = u }
}

// Factory returns a native.RecognizerFactory that opens one Deepgram stream
// per task. The locale is passed through as Deepgram's language parameter.
func Factory(apiKey string, opts ...Option) (native.RecognizerFactory, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	c := config{
		apiKey:      apiKey,
		endpoint:    deepgramEndpoint,
		model:       defaultModel,
		sampleRate:  defaultSampleRate,
		endpointing: defaultEndpointing,
	}
	for _, o := range opts {
		o(&c)
	}
	return func(locale string) (native.Recognizer, error) {
		if locale == "" {
			return nil, errors.New("deepgram: locale must not be empty")
		}
		return &recognizer{cfg: c, locale: locale}, nil
	}, nil
}

type recognizer struct {
	cfg    config
	locale string
}

func (r *recognizer) Available() bool { return r.cfg.apiKey != "" }

func (r *recognizer) Close() error { return nil }

// buildURL constructs the streaming endpoint URL.
func (r *recognizer) buildURL() (string, error) {
	u, err := url.Parse(r.cfg.endpoint)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("model", r.cfg.model)
	q.Set("language", r.locale)
	q.Set("encoding", "linear16")
	q.Set("channels", "1")
	q.Set("sample_rate", strconv.Itoa(r.cfg.sampleRate))
	q.Set("punctuate", "true")
	q.Set("interim_results", "true")
	q.Set("endpointing", strconv.Itoa(r.cfg.endpointing))
	q.Set("utterance_end_ms", strconv.Itoa(defaultUtteranceMs))

	param := "keywords"
	if strings.HasPrefix(r.cfg.model, "nova-3") {
		param = "keyterm"
	}
	for _, kw := range r.cfg.keywords {
		q.Add(param, kw)
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (r *recognizer) Start(ctx context.Context, handler func(native.Callback)) (native.Task, error) {
	wsURL, err := r.buildURL()
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+r.cfg.apiKey)
	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("deepgram: dial: HTTP %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}

	tctx, cancel := context.WithCancel(context.Background())
	t := &task{
		conn:    conn,
		handler: handler,
		audio:   make(chan []int16, 256),
		end:     make(chan struct{}),
		ctx:     tctx,
		cancel:  cancel,
	}
	t.wg.Add(2)
	go t.writeLoop()
	go t.readLoop()
	return t, nil
}

// task is a live Deepgram stream. Only readLoop calls the handler.
type task struct {
	conn    *websocket.Conn
	handler func(native.Callback)
	audio   chan []int16
	end     chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc

	endOnce sync.Once
	wg      sync.WaitGroup
}

func (t *task) Append(samples []int16) {
	select {
	case <-t.end:
		return
	default:
	}
	select {
	case t.audio <- append([]int16(nil), samples...):
	case <-t.ctx.Done():
	case <-t.end:
	}
}

// EndAudio asks Deepgram to flush and close the stream.
func (t *task) EndAudio() {
	t.endOnce.Do(func() { close(t.end) })
}

func (t *task) Cancel() {
	t.cancel()
	go func() {
		t.wg.Wait()
		t.conn.CloseNow()
	}()
}

func (t *task) writeLoop() {
	defer t.wg.Done()
	for {
		select {
		case <-t.ctx.Done():
			return
		case samples := <-t.audio:
			if err := t.conn.Write(t.ctx, websocket.MessageBinary, audio.Int16ToBytes(samples)); err != nil {
				return
			}
		case <-t.end:
			for {
				select {
				case samples := <-t.audio:
					_ = t.conn.Write(t.ctx, websocket.MessageBinary, audio.Int16ToBytes(samples))
				default:
					_ = t.conn.Write(t.ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`))
					return
				}
			}
		}
	}
}

func (t *task) readLoop() {
	defer t.wg.Done()
	var u utterance
	for {
		_, msg, err := t.conn.Read(t.ctx)
		if err != nil {
			switch {
			case t.ctx.Err() != nil:
				t.handler(native.Callback{Err: native.ErrCanceled})
			case websocket.CloseStatus(err) == websocket.StatusNormalClosure:
				if cb, ok := u.commit(); ok {
					t.handler(cb)
				}
			default:
				t.handler(native.Callback{Err: fmt.Errorf("deepgram: read: %w", err)})
			}
			return
		}
		if cb, ok := u.apply(msg); ok {
			t.handler(cb)
		}
	}
}

// ---- response handling ----

// deepgramResponse covers the message types the stream delivers.
type deepgramResponse struct {
	Type        string `json:"type"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`
	Channel     struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
	Description string `json:"description"`
}

// utterance accumulates finalised segments until end of speech.
type utterance struct {
	segments    []string
	confidence  float64
	lastPartial string
}

func (u *utterance) text(pending string) string {
	parts := append([]string(nil), u.segments...)
	if pending != "" {
		parts = append(parts, pending)
	}
	return strings.Join(parts, " ")
}

// commit returns the accumulated utterance as a final callback and resets.
func (u *utterance) commit() (native.Callback, bool) {
	text := u.text("")
	n := len(u.segments)
	conf := 0.0
	if n > 0 {
		conf = u.confidence / float64(n)
	}
	*u = utterance{}
	if text == "" {
		return native.Callback{}, false
	}
	return native.Callback{Text: text, IsFinal: true, Confidence: conf}, true
}

// apply folds one server message into u and returns the callback it causes,
// if any.
func (u *utterance) apply(data []byte) (native.Callback, bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return native.Callback{}, false
	}

	switch resp.Type {
	case "UtteranceEnd":
		return u.commit()
	case "Error":
		return native.Callback{Err: fmt.Errorf("deepgram: %s", resp.Description)}, true
	case "Results":
	default:
		return native.Callback{}, false
	}
	if len(resp.Channel.Alternatives) == 0 {
		return native.Callback{}, false
	}

	alt := resp.Channel.Alternatives[0]
	text := strings.TrimSpace(alt.Transcript)
	if resp.IsFinal && text != "" {
		u.segments = append(u.segments, text)
		u.confidence += alt.Confidence
		text = ""
	}
	if resp.SpeechFinal {
		return u.commit()
	}

	partial := u.text(text)
	if partial == "" || partial == u.lastPartial {
		return native.Callback{}, false
	}
	u.lastPartial = partial
	return native.Callback{Text: partial, Confidence: alt.Confidence}, true
}
