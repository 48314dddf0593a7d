// Package transcript corrects recognizer output against a vocabulary of
// known proper nouns: character names, places, jargon the recognizer has
// never seen and reliably mishears.
//
// Matching happens in two stages. Double Metaphone codes of the candidate
// phrase (with spaces removed) are compared to the codes of each vocabulary
// entry; entries that sound alike are accepted when their Jaro-Winkler
// similarity reaches the phonetic threshold. Entries that do not sound alike
// must clear the stricter fuzzy threshold instead.
package transcript

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

type entry struct {
	canonical string
	lower     string
	flat      string
	words     int
	codes     []string
}

// Vocabulary is an immutable, prepared set of words. The zero value is an
// empty vocabulary.
type Vocabulary struct {
	entries  []entry
	maxWords int
}

// NewVocabulary prepares words for matching. Blank and duplicate
// (case-insensitive) words are ignored; the first spelling wins.
func NewVocabulary(words []string) *Vocabulary {
	v := &Vocabulary{}
	seen := make(map[string]struct{}, len(words))
	for _, w := range words {
		fields := strings.Fields(w)
		if len(fields) == 0 {
			continue
		}
		canonical := strings.Join(fields, " ")
		lower := strings.ToLower(canonical)
		if _, dup := seen[lower]; dup {
			continue
		}
		seen[lower] = struct{}{}
		flat := strings.ReplaceAll(lower, " ", "")
		v.entries = append(v.entries, entry{
			canonical: canonical,
			lower:     lower,
			flat:      flat,
			words:     len(fields),
			codes:     metaphone(flat),
		})
		v.maxWords = max(v.maxWords, len(fields))
	}
	return v
}

// Len returns the number of distinct words in v.
func (v *Vocabulary) Len() int {
	if v == nil {
		return 0
	}
	return len(v.entries)
}

// Words returns the canonical spellings in insertion order.
func (v *Vocabulary) Words() []string {
	if v == nil {
		return nil
	}
	out := make([]string, len(v.entries))
	for i, e := range v.entries {
		out[i] = e.canonical
	}
	return out
}

// Match finds the entry most similar to phrase. An entry of n words is only
// considered for phrases of n or n+1 words, because recognizers split
// unfamiliar names far more often than they merge them.
func (v *Vocabulary) Match(phrase string, phoneticMin, fuzzyMin float64) (word string, score float64, ok bool) {
	fields := strings.Fields(strings.ToLower(phrase))
	if v == nil || len(fields) == 0 {
		return "", 0, false
	}
	lower := strings.Join(fields, " ")
	flat := strings.Join(fields, "")
	codes := metaphone(flat)

	bestPhonetic := false
	for _, e := range v.entries {
		if len(fields) != e.words && len(fields) != e.words+1 {
			continue
		}
		s := similarity(lower, flat, e)
		if sharesCode(codes, e.codes) {
			if s >= phoneticMin && (!bestPhonetic || s > score) {
				word, score, ok, bestPhonetic = e.canonical, s, true, true
			}
			continue
		}
		if !bestPhonetic && s >= fuzzyMin && s > score {
			word, score, ok = e.canonical, s, true
		}
	}
	return word, score, ok
}

// similarity is the better of the spaced and the space-stripped Jaro-Winkler
// scores, so "never winter" and "Neverwinter" compare as equal.
func similarity(lower, flat string, e entry) float64 {
	s := matchr.JaroWinkler(lower, e.lower, false)
	if flat != lower || e.flat != e.lower {
		s = max(s, matchr.JaroWinkler(flat, e.flat, false))
	}
	return s
}

func metaphone(s string) []string {
	p, a := matchr.DoubleMetaphone(s)
	codes := make([]string, 0, 2)
	if p != "" {
		codes = append(codes, p)
	}
	if a != "" && a != p {
		codes = append(codes, a)
	}
	return codes
}

func sharesCode(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}
