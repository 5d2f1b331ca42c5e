package segment

import (
	"regexp"
	"strings"
)

// DefaultFillerEN is the default English filler-phrase list.
var DefaultFillerEN = []string{
	"um", "uh", "uhm", "er", "you know", "i mean", "sort of", "kind of",
}

// DefaultFillerFR is the default French filler-phrase list.
var DefaultFillerFR = []string{
	"euh", "heu", "ben", "bah", "hein", "en fait", "du coup", "tu vois",
}

// maxLeadingPasses bounds the repeated leading-position strip so a run of
// stacked fillers ("um, uh, you know, …") is removed without risking an
// unbounded loop on pathological input.
const maxLeadingPasses = 5

// Stripper removes recogniser filler phrases from patch text. A disabled
// stripper returns text unchanged. Stripping is idempotent: applying it twice
// yields the same result.
type Stripper struct {
	enabled bool

	leading  *regexp.Regexp // filler at the start of the text
	boundary *regexp.Regexp // filler right after a sentence boundary
	comma    *regexp.Regexp // filler surrounded by commas
	inline   *regexp.Regexp // single-word filler between spaces
	spaces   *regexp.Regexp
}

// NewStripper builds a [Stripper] over the union of the given phrase lists.
// Nil or empty lists fall back to the package defaults. Matching is
// case-insensitive.
func NewStripper(enabled bool, english, french []string) *Stripper {
	if len(english) == 0 {
		english = DefaultFillerEN
	}
	if len(french) == 0 {
		french = DefaultFillerFR
	}

	var all, words []string
	for _, p := range append(append([]string{}, english...), french...) {
		p = strings.TrimSpace(strings.ToLower(p))
		if p == "" {
			continue
		}
		all = append(all, regexp.QuoteMeta(p))
		if !strings.ContainsRune(p, ' ') {
			words = append(words, regexp.QuoteMeta(p))
		}
	}
	if len(all) == 0 {
		return &Stripper{enabled: false}
	}

	alt := strings.Join(all, "|")
	s := &Stripper{
		enabled:  enabled,
		leading:  regexp.MustCompile(`(?i)^\s*(?:` + alt + `)\b[\s,]*`),
		boundary: regexp.MustCompile(`(?i)([.!?…]\s+)(?:` + alt + `)\b[\s,]*`),
		comma:    regexp.MustCompile(`(?i),\s*(?:` + alt + `)\s*,`),
		spaces:   regexp.MustCompile(`\s{2,}`),
	}
	if len(words) > 0 {
		s.inline = regexp.MustCompile(`(?i)\s(?:` + strings.Join(words, "|") + `)\s`)
	}
	return s
}

// Strip applies the four positional passes and returns the cleaned text.
// The result may be empty when the input consisted only of fillers.
func (s *Stripper) Strip(text string) string {
	if !s.enabled || text == "" {
		return text
	}

	for i := 0; i < maxLeadingPasses; i++ {
		next := s.leading.ReplaceAllString(text, "")
		if next == text {
			break
		}
		text = next
	}

	text = s.boundary.ReplaceAllString(text, "$1")
	text = s.comma.ReplaceAllString(text, ",")
	if s.inline != nil {
		// Run twice so adjacent single-word fillers sharing a space are both
		// caught ("so um uh well" style runs).
		text = s.inline.ReplaceAllString(text, " ")
		text = s.inline.ReplaceAllString(text, " ")
	}

	text = s.spaces.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
