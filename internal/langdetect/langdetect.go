// Package langdetect provides a small heuristic text-language classifier.
//
// The classifier exists for two defensive checks in the broadcast path: it
// flags source text whose likely language differs from its declared tag
// (recogniser mislabels), and it gates TTS enqueueing so untranslated text is
// never spoken in the wrong voice. It is deliberately not a general-purpose
// detector — classification works from a closed set of strong lexical markers
// and contractions per language, which is cheap and has near-zero false
// positives on the short utterances the relay handles.
package langdetect

import (
	"strings"
	"unicode"

	"golang.org/x/text/language"
)

// langProfile is the marker set for one language base.
type langProfile struct {
	base string

	// strong are high-frequency function words that rarely appear in other
	// languages of the set.
	strong map[string]struct{}

	// contractions are apostrophe forms counted as strong evidence.
	contractions []string

	// accents are characters that suggest the language but are shared across
	// the Romance family, so they count as weak evidence only.
	accents string
}

var profiles = []langProfile{
	{
		base: "en",
		strong: wordSet("the", "and", "is", "are", "was", "were", "have", "has",
			"this", "that", "with", "from", "will", "would", "you", "your",
			"they", "not", "but", "what", "how", "why"),
		contractions: []string{"'s", "'re", "'ve", "'ll", "n't", "'d"},
	},
	{
		base: "fr",
		strong: wordSet("le", "la", "les", "un", "une", "des", "est", "sont",
			"je", "tu", "il", "elle", "nous", "vous", "ils", "elles", "et",
			"mais", "dans", "pour", "avec", "que", "qui", "pas", "ne", "ce",
			"cette", "être", "avoir"),
		contractions: []string{"c'", "j'", "l'", "d'", "qu'", "n'", "s'", "m'", "t'"},
		accents:      "àâçéèêëîïôùûüœ",
	},
	{
		base: "es",
		strong: wordSet("el", "los", "las", "es", "son", "está", "están", "yo",
			"usted", "ellos", "pero", "para", "con", "porque", "cómo", "qué",
			"muy", "más", "hay", "este", "esta"),
		accents: "áéíóúñ¿¡",
	},
	{
		base: "de",
		strong: wordSet("der", "die", "das", "und", "ist", "sind", "ich", "du",
			"wir", "ihr", "sie", "nicht", "aber", "mit", "für", "auf", "ein",
			"eine", "haben", "werden", "wie", "was"),
		accents: "äöüß",
	},
}

func wordSet(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

// Detect classifies text and returns a language base code ("en", "fr", …) or
// the empty string when the evidence is insufficient or ambiguous.
//
// Strong lexical markers dominate: accented-character evidence for one
// language is discarded when another language has strong markers, so a French
// name inside an English sentence does not flip the result.
func Detect(text string) string {
	lower := strings.ToLower(text)
	words := tokenize(lower)
	if len(words) == 0 {
		return ""
	}

	type score struct {
		strong int
		weak   int
	}
	scores := make([]score, len(profiles))

	for i, p := range profiles {
		for _, w := range words {
			if _, ok := p.strong[w]; ok {
				scores[i].strong++
			}
		}
		for _, c := range p.contractions {
			scores[i].strong += strings.Count(lower, c)
		}
		if p.accents != "" && strings.ContainsAny(lower, p.accents) {
			scores[i].weak++
		}
	}

	anyStrong := false
	for _, s := range scores {
		if s.strong > 0 {
			anyStrong = true
			break
		}
	}

	best, bestTotal, secondTotal := -1, 0, 0
	for i, s := range scores {
		total := s.strong * 2
		// Accent evidence only counts when no language in the set has strong
		// markers; otherwise it is noise from loanwords and proper names.
		if !anyStrong {
			total += s.weak
		}
		if total > bestTotal {
			second := bestTotal
			bestTotal, best = total, i
			secondTotal = second
		} else if total > secondTotal {
			secondTotal = total
		}
	}

	if best < 0 || bestTotal < 2 || bestTotal == secondTotal {
		return ""
	}
	return profiles[best].base
}

// tokenize splits lowered text into letter runs.
func tokenize(lower string) []string {
	return strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})
}

// Base returns the primary language subtag of a BCP-47 tag ("fr-CA" → "fr").
// Unparseable tags fall back to the text before the first separator, lowered.
func Base(tag string) string {
	if tag == "" {
		return ""
	}
	if t, err := language.Parse(tag); err == nil {
		if b, conf := t.Base(); conf != language.No {
			return b.String()
		}
	}
	tag = strings.ToLower(tag)
	if i := strings.IndexAny(tag, "-_"); i >= 0 {
		return tag[:i]
	}
	return tag
}

// SameBase reports whether two language tags share a primary subtag
// ("fr-FR" vs "fr-CA" → true). Empty tags never match.
func SameBase(a, b string) bool {
	ba, bb := Base(a), Base(b)
	return ba != "" && ba == bb
}
