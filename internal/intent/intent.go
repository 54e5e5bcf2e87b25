// Package intent classifies transcripts with declarative keyword rules.
//
// A [Table] is an ordered list of [Rule]s; the first rule with a phrase that
// occurs in the text decides the intent. Phrases match on word boundaries, so
// "no" does not fire on "know". A rule marked Prefix also matches inflected
// words ("delete" fires on "deleting").
//
// Two tables drive a turn: [CommandRules] flags commands that must be
// confirmed before anything runs, and [ReplyRules] reads the user's answer to
// a confirmation question. Affirmative phrases are listed before negative
// ones, so "yes, don't wait" confirms.
package intent

import (
	"strings"
	"unicode"
)

// Intent is the label a rule assigns.
type Intent string

// Known intents.
const (
	None        Intent = ""
	Affirmative Intent = "affirmative"
	Negative    Intent = "negative"
	Destructive Intent = "destructive_action"
)

// Default keyword sets.
var (
	DestructiveKeywords = []string{"delete", "remove", "clear", "erase", "wipe"}
	AffirmativeWords    = []string{"yes", "confirm", "okay", "ok", "go ahead", "do it"}
	NegativeWords       = []string{"no", "cancel", "stop", "abort", "don't"}
)

// Rule maps phrases to an intent.
type Rule struct {
	Intent  Intent
	Phrases []string

	// Prefix lets the last word of a phrase match any word it starts.
	Prefix bool
}

// Table is an ordered rule set. It is read-only after construction and safe
// for concurrent use.
type Table struct {
	rules []compiledRule
}

type compiledRule struct {
	intent  Intent
	phrases [][]string
	prefix  bool
}

// NewTable compiles rules in order. Empty phrases are ignored.
func NewTable(rules ...Rule) *Table {
	t := &Table{}
	for _, r := range rules {
		cr := compiledRule{intent: r.Intent, prefix: r.Prefix}
		for _, p := range r.Phrases {
			if words := Words(p); len(words) > 0 {
				cr.phrases = append(cr.phrases, words)
			}
		}
		t.rules = append(t.rules, cr)
	}
	return t
}

// Classify returns the intent of the first matching rule, or [None].
func (t *Table) Classify(text string) Intent {
	words := Words(text)
	if len(words) == 0 {
		return None
	}
	for _, r := range t.rules {
		for _, p := range r.phrases {
			if containsPhrase(words, p, r.prefix) {
				return r.intent
			}
		}
	}
	return None
}

// CommandRules returns the rule set flagging destructive commands. A nil
// keyword list selects [DestructiveKeywords].
func CommandRules(destructive []string) []Rule {
	if destructive == nil {
		destructive = DestructiveKeywords
	}
	return []Rule{{Intent: Destructive, Phrases: destructive, Prefix: true}}
}

// ReplyRules returns the confirmation-reply rule set, affirmative first.
func ReplyRules() []Rule {
	return []Rule{
		{Intent: Affirmative, Phrases: AffirmativeWords},
		{Intent: Negative, Phrases: NegativeWords},
	}
}

var replies = NewTable(ReplyRules()...)

// ClassifyReply reads a confirmation answer with the default reply rules.
// Anything that is neither affirmative nor negative yields [None].
func ClassifyReply(text string) Intent {
	return replies.Classify(text)
}

// Words lower-cases text and splits it into words. Letters, digits and
// in-word apostrophes are kept; everything else separates words.
func Words(text string) []string {
	text = strings.ReplaceAll(strings.ToLower(text), "’", "'")
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	out := words[:0]
	for _, w := range words {
		if w = strings.Trim(w, "'"); w != "" {
			out = append(out, w)
		}
	}
	return out
}

func containsPhrase(words, phrase []string, prefix bool) bool {
	n := len(phrase)
	for i := 0; i+n <= len(words); i++ {
		if matchAt(words[i:i+n], phrase, prefix) {
			return true
		}
	}
	return false
}

func matchAt(window, phrase []string, prefix bool) bool {
	last := len(phrase) - 1
	for j, w := range phrase {
		if j == last && prefix {
			if !strings.HasPrefix(window[j], w) {
				return false
			}
			continue
		}
		if window[j] != w {
			return false
		}
	}
	return true
}
