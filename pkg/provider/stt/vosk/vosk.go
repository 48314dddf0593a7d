// Package vosk provides the default on-device recognition backend for the
// native speech adapter, backed by the Vosk offline recognizer (CGO).
//
// Vosk models are per language. ModelSet maps locales to model directories,
// loads each model once on first use and shares it between sessions.
package vosk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	vosk "github.com/alphacep/vosk-api/go"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/stt/native"
)

// SampleRate is the rate recognizers are created with. Capture must deliver
// audio at this rate.
const SampleRate = 16000

// partialConfidence is reported for partial hypotheses, which carry no
// per-word scores.
const partialConfidence = 0.5

func init() {
	// Vosk logs every model load to stderr at level 0.
	vosk.SetLogLevel(-1)
}

// ModelSet resolves locales to Vosk models.
type ModelSet struct {
	paths map[string]string

	mu     sync.Mutex
	loaded map[string]*vosk.VoskModel
}

// NewModelSet returns a ModelSet over paths, a map from locale ("en-US") or
// bare language ("de") to a model directory. Directories are checked now;
// models are loaded lazily.
func NewModelSet(paths map[string]string) (*ModelSet, error) {
	if len(paths) == 0 {
		return nil, errors.New("vosk: no models configured")
	}
	norm := make(map[string]string, len(paths))
	for locale, dir := range paths {
		if _, err := os.Stat(dir); err != nil {
			return nil, fmt.Errorf("vosk: model for %q: %w", locale, err)
		}
		norm[normalizeLocale(locale)] = dir
	}
	return &ModelSet{paths: norm, loaded: make(map[string]*vosk.VoskModel)}, nil
}

// Locales lists the configured locale keys.
func (m *ModelSet) Locales() []string {
	out := make([]string, 0, len(m.paths))
	for l := range m.paths {
		out = append(out, l)
	}
	return out
}

// Resolve returns the model directory for locale: an exact match first, then
// the bare language, then any locale of the same language.
func (m *ModelSet) Resolve(locale string) (string, bool) {
	return resolve(m.paths, locale)
}

func resolve(paths map[string]string, locale string) (string, bool) {
	loc := normalizeLocale(locale)
	if dir, ok := paths[loc]; ok {
		return dir, true
	}
	lang, _, _ := strings.Cut(loc, "-")
	if dir, ok := paths[lang]; ok {
		return dir, true
	}
	for key, dir := range paths {
		if l, _, _ := strings.Cut(key, "-"); l == lang {
			return dir, true
		}
	}
	return "", false
}

// normalizeLocale lower-cases locale and uses "-" as separator.
func normalizeLocale(locale string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(locale), "_", "-"))
}

func (m *ModelSet) model(dir string) (*vosk.VoskModel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mdl, ok := m.loaded[dir]; ok {
		return mdl, nil
	}
	mdl, err := vosk.NewModel(dir)
	if err != nil {
		return nil, fmt.Errorf("vosk: load model %s: %w", dir, err)
	}
	m.loaded[dir] = mdl
	return mdl, nil
}

// Close frees every loaded model. Recognizers must be closed first.
func (m *ModelSet) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for dir, mdl := range m.loaded {
		mdl.Free()
		delete(m.loaded, dir)
	}
	return nil
}

// Factory returns a native.RecognizerFactory backed by m.
func (m *ModelSet) Factory() native.RecognizerFactory {
	return func(locale string) (native.Recognizer, error) {
		dir, ok := m.Resolve(locale)
		if !ok {
			return nil, fmt.Errorf("vosk: no model for locale %q", locale)
		}
		mdl, err := m.model(dir)
		if err != nil {
			return nil, err
		}
		rec, err := vosk.NewRecognizer(mdl, SampleRate)
		if err != nil {
			return nil, fmt.Errorf("vosk: create recognizer: %w", err)
		}
		rec.SetWords(1)
		return &recognizer{rec: rec}, nil
	}
}

// recognizer owns one VoskRecognizer. Only the task loop touches rec while a
// task runs.
type recognizer struct {
	mu   sync.Mutex
	rec  *vosk.VoskRecognizer
	task *task
}

func (r *recognizer) Available() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rec != nil
}

func (r *recognizer) Start(ctx context.Context, handler func(native.Callback)) (native.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rec == nil {
		return nil, errors.New("vosk: recognizer closed")
	}
	if r.task != nil {
		return nil, errors.New("vosk: recognizer busy")
	}
	r.rec.Reset()

	tctx, cancel := context.WithCancel(context.Background())
	t := &task{
		engine:  r.rec,
		handler: handler,
		audio:   make(chan []int16, 256),
		end:     make(chan struct{}),
		done:    make(chan struct{}),
		ctx:     tctx,
		cancel:  cancel,
	}
	r.task = t
	go t.loop()
	return t, nil
}

// Close cancels a running task, waits for it and frees the recognizer.
func (r *recognizer) Close() error {
	r.mu.Lock()
	t := r.task
	r.task = nil
	rec := r.rec
	r.rec = nil
	r.mu.Unlock()

	if t != nil {
		t.Cancel()
		<-t.done
	}
	if rec != nil {
		rec.Free()
	}
	return nil
}

// engine is the subset of VoskRecognizer a task drives.
type engine interface {
	AcceptWaveform(buffer []byte) int
	Result() string
	PartialResult() string
	FinalResult() string
}

type task struct {
	engine  engine
	handler func(native.Callback)
	audio   chan []int16
	end     chan struct{}
	done    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc

	endOnce sync.Once
}

func (t *task) Append(samples []int16) {
	select {
	case t.audio <- append([]int16(nil), samples...):
	case <-t.ctx.Done():
	case <-t.end:
	}
}

func (t *task) EndAudio() { t.endOnce.Do(func() { close(t.end) }) }

func (t *task) Cancel() { t.cancel() }

func (t *task) loop() {
	defer close(t.done)
	var lastPartial string

	feed := func(samples []int16) {
		if t.engine.AcceptWaveform(audio.Int16ToBytes(samples)) != 0 {
			lastPartial = ""
			if cb, ok := parseResult(t.engine.Result()); ok {
				t.handler(cb)
			}
			return
		}
		text := parsePartial(t.engine.PartialResult())
		if text != "" && text != lastPartial {
			lastPartial = text
			t.handler(native.Callback{Text: text, Confidence: partialConfidence})
		}
	}

	for {
		select {
		case <-t.ctx.Done():
			t.handler(native.Callback{Err: native.ErrCanceled})
			return
		case samples := <-t.audio:
			feed(samples)
		case <-t.end:
			t.drain(feed)
			if cb, ok := parseResult(t.engine.FinalResult()); ok {
				t.handler(cb)
			}
			return
		}
	}
}

// drain feeds audio that was queued before EndAudio.
func (t *task) drain(feed func([]int16)) {
	for {
		select {
		case samples := <-t.audio:
			feed(samples)
		default:
			return
		}
	}
}

// voskResult is the JSON of Result and FinalResult with words enabled.
type voskResult struct {
	Text   string `json:"text"`
	Result []struct {
		Word string  `json:"word"`
		Conf float64 `json:"conf"`
	} `json:"result"`
}

// parseResult turns a Result/FinalResult document into a final callback.
// Empty utterances yield false. Confidence is the mean word confidence, or 1
// when the model reports no words.
func parseResult(doc string) (native.Callback, bool) {
	var r voskResult
	if err := json.Unmarshal([]byte(doc), &r); err != nil {
		return native.Callback{}, false
	}
	text := strings.TrimSpace(r.Text)
	if text == "" {
		return native.Callback{}, false
	}
	conf := 1.0
	if len(r.Result) > 0 {
		var sum float64
		for _, w := range r.Result {
			sum += w.Conf
		}
		conf = sum / float64(len(r.Result))
	}
	return native.Callback{Text: text, IsFinal: true, Confidence: conf}, true
}

// parsePartial extracts the hypothesis from a PartialResult document.
func parsePartial(doc string) string {
	var p struct {
		Partial string `json:"partial"`
	}
	if err := json.Unmarshal([]byte(doc), &p); err != nil {
		return ""
	}
	return strings.TrimSpace(p.Partial)
}
