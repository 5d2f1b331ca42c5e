package translate

// ContextBuffer keeps the last N committed source texts so the translator can
// see the running topic. N is clamped to [1, 5] at configuration time.
// Not safe for concurrent use.
type ContextBuffer struct {
	max   int
	texts []string
}

// NewContextBuffer creates a buffer holding up to max texts.
func NewContextBuffer(max int) *ContextBuffer {
	if max < 1 {
		max = 1
	}
	if max > 5 {
		max = 5
	}
	return &ContextBuffer{max: max}
}

// Add appends text, dropping the oldest entry when full. Empty text is
// ignored.
func (b *ContextBuffer) Add(text string) {
	if text == "" {
		return
	}
	b.texts = append(b.texts, text)
	if len(b.texts) > b.max {
		b.texts = b.texts[len(b.texts)-b.max:]
	}
}

// Snapshot returns the buffered texts, oldest first. The result is a copy.
func (b *ContextBuffer) Snapshot() []string {
	if len(b.texts) == 0 {
		return nil
	}
	out := make([]string, len(b.texts))
	copy(out, b.texts)
	return out
}

// Clear drops all buffered texts.
func (b *ContextBuffer) Clear() { b.texts = nil }
