// Package ttsq implements the per-(room, language) speech queue: ordered
// synthesis with one-ahead prefetch, root-level deduplication and
// cancellation, sentence segmentation guided by translator-reported lengths,
// and a backlog-driven speed ramp.
package ttsq

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/babelroom/babelroom/pkg/provider/translator"
)

// sentLenTolerance returns how far the reported sentence lengths may deviate
// from the actual text before they are considered unreliable.
func sentLenTolerance(textLen int) int {
	t := textLen * 5 / 100
	if t < 12 {
		t = 12
	}
	return t
}

// splitText segments text for synthesis. When sentLen sums close enough to
// the text's length, the reported counts drive the split, snapped to word
// boundaries; otherwise the pragmatic sentence splitter takes over.
func splitText(text string, sentLen []int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(sentLen) < 2 {
		return translator.SplitSentences(text)
	}

	textLen := utf8.RuneCountInString(text)
	sum := 0
	for _, l := range sentLen {
		sum += l
	}
	diff := textLen - sum
	if diff < 0 {
		diff = -diff
	}
	if diff > sentLenTolerance(textLen) {
		return translator.SplitSentences(text)
	}
	return splitByLengths(text, sentLen)
}

// splitByLengths cuts text at the cumulative character counts, snapping each
// cut forward to the next word boundary so no word is split mid-way.
func splitByLengths(text string, sentLen []int) []string {
	runes := []rune(text)
	var out []string
	start := 0

	for _, l := range sentLen[:len(sentLen)-1] {
		cut := start + l
		if cut >= len(runes) {
			break
		}
		// Snap forward to whitespace.
		for cut < len(runes) && !unicode.IsSpace(runes[cut]) {
			cut++
		}
		if s := strings.TrimSpace(string(runes[start:cut])); s != "" {
			out = append(out, s)
		}
		start = cut
	}
	if rest := strings.TrimSpace(string(runes[start:])); rest != "" {
		out = append(out, rest)
	}
	if len(out) == 0 {
		return []string{strings.TrimSpace(text)}
	}
	return out
}

// wordCount counts whitespace-separated words.
func wordCount(text string) int {
	return len(strings.Fields(text))
}

// endsWithTerminal reports whether text ends with terminal punctuation.
func endsWithTerminal(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	r, _ := utf8.DecodeLastRuneInString(text)
	switch r {
	case '.', '!', '?', '…', '。', '！', '？':
		return true
	}
	return false
}
