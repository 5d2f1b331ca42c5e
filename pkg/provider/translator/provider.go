// Package translator defines the Provider interface for text translation
// backends.
//
// A translator takes one committed source-language segment, optional preceding
// segments for context, and a set of target language tags, and returns one
// translation per target. Implementations wrap a remote API (a relay service,
// the OpenAI chat API) or run locally (the noop identity translator used in
// tests and degraded mode).
//
// Implementors must be safe for concurrent use and must honour context
// cancellation: the room pipeline bounds every call with a deadline and
// treats a late answer the same as a failed one.
package translator

import (
	"context"
	"strings"
	"unicode/utf8"
)

// Request carries one segment to translate.
type Request struct {
	// Text is the committed source-language text. Never empty.
	Text string

	// FromLang is the BCP-47 tag of Text, or empty when the recogniser did not
	// provide one. Providers may auto-detect in that case.
	FromLang string

	// Targets lists the BCP-47 tags to translate into. Never empty, and never
	// contains FromLang's base.
	Targets []string

	// Context holds up to a handful of preceding committed source segments,
	// oldest first. Providers that support contextual translation include them
	// as history; others may ignore them. Only Text is translated.
	Context []string
}

// Result is one translation of a Request into a single target language.
type Result struct {
	// Lang is the target tag this result answers, copied from Request.Targets.
	Lang string

	// Text is the translated text.
	Text string

	// SrcSentLen and TransSentLen are parallel arrays of per-sentence character
	// counts for the source and translated text. The TTS queue uses them to
	// split speech on the boundaries the translator actually produced. Either
	// may be empty when the provider cannot align sentences.
	SrcSentLen   []int
	TransSentLen []int

	// Provider names the backend that produced this result, for the egress
	// record and metrics.
	Provider string
}

// Provider is the abstraction over any translation backend.
type Provider interface {
	// Translate returns one Result per entry in req.Targets, in request order.
	// A provider either translates all targets or fails the whole call; the
	// pipeline's fallback chain handles partial availability.
	Translate(ctx context.Context, req Request) ([]Result, error)

	// Name identifies the backend ("relay", "openai", "noop") for logs and the
	// provider field on egress records.
	Name() string
}

// SplitSentences splits text on terminal punctuation, keeping the delimiter
// with its sentence. Text without terminal punctuation comes back as a single
// sentence. Leading and trailing space around each sentence is trimmed.
func SplitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var out []string
	start := 0
	runes := []rune(text)
	for i, r := range runes {
		if isTerminal(r) {
			// Swallow a run of terminal punctuation ("?!", "...").
			if i+1 < len(runes) && isTerminal(runes[i+1]) {
				continue
			}
			s := strings.TrimSpace(string(runes[start : i+1]))
			if s != "" {
				out = append(out, s)
			}
			start = i + 1
		}
	}
	if rest := strings.TrimSpace(string(runes[start:])); rest != "" {
		out = append(out, rest)
	}
	return out
}

// isTerminal recognises Latin terminals plus the CJK full-width forms, so
// Japanese and Chinese targets split on their own punctuation.
func isTerminal(r rune) bool {
	switch r {
	case '.', '!', '?', '…', '。', '！', '？':
		return true
	}
	return false
}

// SentenceLengths returns the character count of each sentence.
func SentenceLengths(sentences []string) []int {
	out := make([]int, len(sentences))
	for i, s := range sentences {
		out[i] = utf8.RuneCountInString(s)
	}
	return out
}
