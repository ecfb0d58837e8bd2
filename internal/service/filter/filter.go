// Package filter decides whether an upstream transcript is worth forwarding.
package filter

import (
	"regexp"
	"strings"
	"unicode"
)

// Drop reasons reported by Check.
const (
	ReasonLowConfidence = "low_confidence"
	ReasonTooShort      = "too_short"
	ReasonNoiseWord     = "noise_word"
	ReasonRepeatedChar  = "repeated_char"
	ReasonGibberish     = "gibberish"
)

// DefaultNoiseWords are fillers and articles providers emit during silence.
var DefaultNoiseWords = []string{
	"uh", "um", "ah", "er", "eh", "hm", "hmm", "mm", "mhm", "uh-huh", "oh",
	"a", "an", "the", "and", "so", "like",
}

var consonantsOnly = regexp.MustCompile(`^[bcdfghjklmnpqrstvwxz]+$`)

// Policy is the confidence and noise filter applied to every transcript.
type Policy struct {
	MinConfidence float64
	// MinLength is the shortest normalized text that passes.
	MinLength  int
	noiseWords map[string]struct{}
}

// New builds a policy. An empty noiseWords uses DefaultNoiseWords.
func New(minConfidence float64, noiseWords []string) *Policy {
	if len(noiseWords) == 0 {
		noiseWords = DefaultNoiseWords
	}
	set := make(map[string]struct{}, len(noiseWords))
	for _, w := range noiseWords {
		set[strings.ToLower(strings.TrimSpace(w))] = struct{}{}
	}
	return &Policy{
		MinConfidence: minConfidence,
		MinLength:     3,
		noiseWords:    set,
	}
}

// Check reports whether text should be forwarded. When it should not, the
// reason names the rule that rejected it. A nil confidence always passes the
// confidence rule.
func (p *Policy) Check(text string, confidence *float64) (bool, string) {
	if confidence != nil && *confidence < p.MinConfidence {
		return false, ReasonLowConfidence
	}

	norm := Normalize(text)
	if len([]rune(norm)) < p.MinLength {
		return false, ReasonTooShort
	}
	if _, ok := p.noiseWords[norm]; ok {
		return false, ReasonNoiseWord
	}

	compact := strings.ReplaceAll(norm, " ", "")
	if singleRepeatedRune(compact, 3) {
		return false, ReasonRepeatedChar
	}
	if consonantsOnly.MatchString(compact) {
		return false, ReasonGibberish
	}
	return true, ""
}

// Normalize lowercases text, strips punctuation and collapses whitespace.
func Normalize(text string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '\'', r == '-':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// singleRepeatedRune reports whether s is one rune repeated at least min times.
func singleRepeatedRune(s string, min int) bool {
	runes := []rune(s)
	if len(runes) < min {
		return false
	}
	for _, r := range runes[1:] {
		if r != runes[0] {
			return false
		}
	}
	return true
}
