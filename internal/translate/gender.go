package translate

import (
	"strings"
	"unicode"
)

// Gender is a detected grammatical-gender signal.
type Gender string

const (
	GenderFemale Gender = "female"
	GenderMale   Gender = "male"
)

// genderMarkers is the lexical marker set for one language base: titles,
// gendered pronouns, and gendered nouns, plus the pronouns whose referent
// gender is ambiguous and may need backward revision.
type genderMarkers struct {
	female    map[string]struct{}
	male      map[string]struct{}
	ambiguous map[string]struct{}
}

var markersByBase = map[string]genderMarkers{
	"en": {
		female: markerSet("she", "her", "hers", "herself", "mrs", "ms", "miss",
			"madam", "woman", "girl", "lady", "mother", "mom", "sister", "wife",
			"daughter", "aunt", "grandmother", "queen", "actress", "waitress"),
		male: markerSet("he", "him", "his", "himself", "mr", "sir", "man", "boy",
			"gentleman", "father", "dad", "brother", "husband", "son", "uncle",
			"grandfather", "king", "actor", "waiter"),
		ambiguous: markerSet("they", "them", "their", "theirs", "themselves"),
	},
	"fr": {
		female: markerSet("elle", "elles", "madame", "mademoiselle", "mme",
			"femme", "fille", "dame", "mère", "maman", "sœur", "soeur", "épouse",
			"tante", "grand-mère", "reine", "actrice", "serveuse"),
		male: markerSet("il", "monsieur", "m", "homme", "garçon", "père", "papa",
			"frère", "mari", "époux", "fils", "oncle", "grand-père", "roi",
			"acteur", "serveur"),
		ambiguous: markerSet("on", "ils", "leur", "leurs", "quelqu'un"),
	},
}

func markerSet(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

// DetectGender scans text for the language's gender markers and returns the
// dominant gender with confidence = dominant count / (female + male counts).
// An unknown language base, no markers, or a tie yields ("", 0).
func DetectGender(text, langBase string) (Gender, float64) {
	markers, ok := markersByBase[langBase]
	if !ok {
		return "", 0
	}

	var female, male int
	for _, w := range genderTokens(text) {
		if _, ok := markers.female[w]; ok {
			female++
		}
		if _, ok := markers.male[w]; ok {
			male++
		}
	}

	total := female + male
	if total == 0 || female == male {
		return "", 0
	}
	if female > male {
		return GenderFemale, float64(female) / float64(total)
	}
	return GenderMale, float64(male) / float64(total)
}

// HasAmbiguousPronoun reports whether text contains a pronoun whose referent
// gender cannot be determined from the text alone.
func HasAmbiguousPronoun(text, langBase string) bool {
	markers, ok := markersByBase[langBase]
	if !ok {
		return false
	}
	for _, w := range genderTokens(text) {
		if _, ok := markers.ambiguous[w]; ok {
			return true
		}
	}
	return false
}

func genderTokens(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\'' && r != '-'
	})
}
