package moderation

import (
	"fmt"
	"unicode"

	goahocorasick "github.com/anknown/ahocorasick"
)

// Censor masks blocked words in message text. Matching is case-insensitive
// and only whole words are masked, so "class" survives a list containing "ass".
type Censor struct {
	matcher *goahocorasick.Machine
	mask    rune
}

// NewCensor builds the Aho-Corasick automaton for words. It returns nil when
// words is empty; a nil *Censor leaves text untouched.
func NewCensor(words []string, mask rune) (*Censor, error) {
	patterns := make([][]rune, 0, len(words))
	for _, word := range words {
		if word == "" {
			continue
		}
		patterns = append(patterns, lower([]rune(word)))
	}
	if len(patterns) == 0 {
		return nil, nil
	}

	m := new(goahocorasick.Machine)
	if err := m.Build(patterns); err != nil {
		return nil, fmt.Errorf("build censor automaton: %w", err)
	}
	return &Censor{matcher: m, mask: mask}, nil
}

// Apply returns text with every blocked word replaced by the mask rune.
func (c *Censor) Apply(text string) string {
	if c == nil || text == "" {
		return text
	}

	runes := []rune(text)
	hits := c.matcher.MultiPatternSearch(lower(runes), false)
	if len(hits) == 0 {
		return text
	}

	for _, hit := range hits {
		start, end := hit.Pos, hit.Pos+len(hit.Word)
		if start < 0 || end > len(runes) || !isWordBoundary(runes, start, end) {
			continue
		}
		for i := start; i < end; i++ {
			runes[i] = c.mask
		}
	}
	return string(runes)
}

func lower(in []rune) []rune {
	out := make([]rune, len(in))
	for i, r := range in {
		out[i] = unicode.ToLower(r)
	}
	return out
}

func isWordBoundary(runes []rune, start, end int) bool {
	if start > 0 && isWordRune(runes[start-1]) {
		return false
	}
	if end < len(runes) && isWordRune(runes[end]) {
		return false
	}
	return true
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
