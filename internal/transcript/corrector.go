package transcript

import (
	"cmp"
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"
	"unicode"
	"unicode/utf8"

	"github.com/MrWong99/parley/pkg/provider/stt"
)

// minWordRunes is the shortest single word considered for correction. Short
// function words ("of", "in") otherwise score well against almost anything.
const minWordRunes = 3

// Correction records one substitution made by [Corrector.Correct].
type Correction struct {
	// Original is the phrase as the recognizer produced it, without
	// surrounding punctuation.
	Original string

	// Corrected is the vocabulary spelling that replaced it.
	Corrected string

	// Confidence is the Jaro-Winkler similarity of the match in [0, 1].
	Confidence float64
}

// Option configures a [Corrector].
type Option func(*Corrector)

// WithPhoneticThreshold sets the minimum similarity for entries that sound
// like the phrase. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(c *Corrector) { c.phoneticMin = threshold }
}

// WithFuzzyThreshold sets the minimum similarity for entries that do not
// sound like the phrase. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(c *Corrector) { c.fuzzyMin = threshold }
}

// Corrector rewrites transcripts so that mis-recognised vocabulary words take
// their canonical spelling. It is safe for concurrent use; the vocabulary can
// be replaced at any time with [Corrector.SetVocabulary].
type Corrector struct {
	vocab       atomic.Pointer[Vocabulary]
	phoneticMin float64
	fuzzyMin    float64
}

// NewCorrector returns a Corrector for words.
func NewCorrector(words []string, opts ...Option) *Corrector {
	c := &Corrector{
		phoneticMin: defaultPhoneticThreshold,
		fuzzyMin:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(c)
	}
	c.SetVocabulary(words)
	return c
}

// SetVocabulary atomically replaces the vocabulary. Calls to Correct already
// in progress finish with the previous one.
func (c *Corrector) SetVocabulary(words []string) {
	c.vocab.Store(NewVocabulary(words))
}

// Vocabulary returns the vocabulary currently in use.
func (c *Corrector) Vocabulary() *Vocabulary {
	return c.vocab.Load()
}

type token struct {
	prefix, core, suffix string
}

type candidate struct {
	start, n int
	word     string
	score    float64
}

// Correct returns text with vocabulary matches substituted, together with
// the substitutions that changed the text. When nothing changes text is
// returned as is; otherwise words are re-joined with single spaces.
//
// Every window of consecutive words is scored, and non-overlapping windows
// are accepted best score first, so "tower of wispers" claims its words
// before the weaker "the tower of wispers" can.
func (c *Corrector) Correct(text string) (string, []Correction) {
	v := c.vocab.Load()
	if v.Len() == 0 {
		return text, nil
	}
	fields := strings.Fields(text)
	toks := make([]token, len(fields))
	for i, f := range fields {
		toks[i] = split(f)
	}

	var cands []candidate
	for i := range toks {
		for n := 1; n <= v.maxWords+1 && i+n <= len(toks); n++ {
			// Punctuation inside a window ends it: "Grimjaw, Tiamat" is two names.
			if toks[i+n-1].core == "" || (n > 1 && (toks[i+n-2].suffix != "" || toks[i+n-1].prefix != "")) {
				break
			}
			if n == 1 && utf8.RuneCountInString(toks[i].core) < minWordRunes {
				continue
			}
			if word, score, ok := v.Match(joinCores(toks[i:i+n]), c.phoneticMin, c.fuzzyMin); ok {
				cands = append(cands, candidate{start: i, n: n, word: word, score: score})
			}
		}
	}
	if len(cands) == 0 {
		return text, nil
	}
	slices.SortStableFunc(cands, func(a, b candidate) int {
		if a.score != b.score {
			return cmp.Compare(b.score, a.score)
		}
		return cmp.Compare(a.n, b.n)
	})

	taken := make([]bool, len(toks))
	accepted := make(map[int]candidate)
	for _, cd := range cands {
		if slices.Contains(taken[cd.start:cd.start+cd.n], true) {
			continue
		}
		for j := cd.start; j < cd.start+cd.n; j++ {
			taken[j] = true
		}
		accepted[cd.start] = cd
	}

	var (
		out         []string
		corrections []Correction
	)
	for i := 0; i < len(toks); {
		cd, ok := accepted[i]
		if !ok {
			out = append(out, fields[i])
			i++
			continue
		}
		last := toks[i+cd.n-1]
		out = append(out, toks[i].prefix+cd.word+last.suffix)
		if original := joinCores(toks[i : i+cd.n]); original != cd.word {
			corrections = append(corrections, Correction{Original: original, Corrected: cd.word, Confidence: cd.score})
		}
		i += cd.n
	}
	if len(corrections) == 0 {
		return text, nil
	}
	return strings.Join(out, " "), corrections
}

// Filter corrects the text of r. Its signature matches the result filter
// hook of the recognition engine.
func (c *Corrector) Filter(r stt.Result) stt.Result {
	text, corrections := c.Correct(r.Text)
	for _, cr := range corrections {
		slog.Debug("transcript: corrected",
			"original", cr.Original,
			"corrected", cr.Corrected,
			"confidence", cr.Confidence,
		)
	}
	r.Text = text
	return r
}

func split(f string) token {
	isWord := func(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }
	start := strings.IndexFunc(f, isWord)
	if start < 0 {
		return token{prefix: f}
	}
	end := strings.LastIndexFunc(f, isWord)
	_, size := utf8.DecodeRuneInString(f[end:])
	end += size
	return token{prefix: f[:start], core: f[start:end], suffix: f[end:]}
}

func joinCores(toks []token) string {
	parts := make([]string, len(toks))
	for i, t := range toks {
		parts[i] = t.core
	}
	return strings.Join(parts, " ")
}
