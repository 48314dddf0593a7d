package playback

import (
	"strings"
	"unicode"
)

// Segment is a sentence-sized slice of an utterance. Start and Length count
// runes in the original text, which is what progress reporting needs.
type Segment struct {
	Text   string
	Start  int
	Length int
}

// Segments splits text at sentence boundaries: '.', '!', '?' or ';' followed
// by whitespace or the end of text, and at line breaks. Abbreviations like
// "Dr.Smith" and numbers like "3.14" are not split. Leading and trailing
// whitespace is trimmed from each segment; empty segments are dropped.
func Segments(text string) []Segment {
	runes := []rune(text)
	var out []Segment

	emit := func(from, to int) {
		for from < to && unicode.IsSpace(runes[from]) {
			from++
		}
		for to > from && unicode.IsSpace(runes[to-1]) {
			to--
		}
		if from < to {
			out = append(out, Segment{Text: string(runes[from:to]), Start: from, Length: to - from})
		}
	}

	start := 0
	for i, r := range runes {
		boundary := r == '\n'
		if strings.ContainsRune(".!?;", r) {
			boundary = i+1 == len(runes) || unicode.IsSpace(runes[i+1])
		}
		if boundary {
			emit(start, i+1)
			start = i + 1
		}
	}
	emit(start, len(runes))
	return out
}
