package intent

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const defaultWakeSimilarity = 0.80

// WakeOption configures a [WakeMatcher].
type WakeOption func(*WakeMatcher)

// WithSimilarity sets the minimum Jaro-Winkler score a phonetically matching
// word needs to count as the wake word. Default: 0.80.
func WithSimilarity(score float64) WakeOption {
	return func(m *WakeMatcher) { m.similarity = score }
}

// WakeMatcher finds the wake word in transcripts, tolerating the spellings
// speech recognizers tend to produce ("Luma", "Loomo"). A word counts as the
// wake word when it is spelled the same, or when its Double Metaphone codes
// overlap the wake word's and the Jaro-Winkler similarity clears the
// threshold.
//
// WakeMatcher is read-only after construction and safe for concurrent use.
type WakeMatcher struct {
	word       string
	codes      map[string]struct{}
	similarity float64
}

// NewWakeMatcher returns a matcher for a single-word wake word.
func NewWakeMatcher(word string, opts ...WakeOption) *WakeMatcher {
	word = strings.ToLower(strings.TrimSpace(word))
	m := &WakeMatcher{
		word:       word,
		codes:      metaphone(word),
		similarity: defaultWakeSimilarity,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Word returns the normalized wake word.
func (m *WakeMatcher) Word() string { return m.word }

// Matches reports whether a single word is the wake word.
func (m *WakeMatcher) Matches(word string) bool {
	w := strings.ToLower(strings.TrimSpace(word))
	if w == "" || m.word == "" {
		return false
	}
	if w == m.word {
		return true
	}
	if !overlaps(metaphone(w), m.codes) {
		return false
	}
	return matchr.JaroWinkler(w, m.word, false) >= m.similarity
}

// Contains reports whether text mentions the wake word.
func (m *WakeMatcher) Contains(text string) bool {
	for _, w := range Words(text) {
		if m.Matches(w) {
			return true
		}
	}
	return false
}

// Strip removes every occurrence of the wake word from text and returns the
// remaining words, lower-cased and space-joined, and whether the wake word
// was present.
func (m *WakeMatcher) Strip(text string) (query string, found bool) {
	words := Words(text)
	kept := words[:0]
	for _, w := range words {
		if m.Matches(w) {
			found = true
			continue
		}
		kept = append(kept, w)
	}
	return strings.Join(kept, " "), found
}

func metaphone(word string) map[string]struct{} {
	codes := make(map[string]struct{}, 2)
	p, s := matchr.DoubleMetaphone(word)
	if p != "" {
		codes[p] = struct{}{}
	}
	if s != "" {
		codes[s] = struct{}{}
	}
	return codes
}

func overlaps(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for c := range a {
		if _, ok := b[c]; ok {
			return true
		}
	}
	return false
}
