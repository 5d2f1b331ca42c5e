package translate

import (
	"time"

	"github.com/babelroom/babelroom/internal/langdetect"
	"github.com/babelroom/babelroom/internal/segment"
)

// PeekConfig holds the backward-revision window parameters.
type PeekConfig struct {
	Enabled       bool
	Window        time.Duration
	MaxSegments   int
	MinConfidence float64
}

type peekEntry struct {
	unit    segment.Unit
	targets []string
	addedAt time.Time
}

// Revision asks for a previous unit to be re-translated with a gender hint,
// because a later unit revealed the referent's gender unambiguously.
type Revision struct {
	Unit    segment.Unit
	Targets []string
	Gender  Gender
}

// PeekWindow is a bounded FIFO of recent hard units. When a new unit carries
// strong gender markers and the most recent windowed unit contains an
// ambiguous pronoun, the window emits a [Revision] so gendered target
// languages can correct pronoun agreement retroactively.
//
// Not safe for concurrent use; the room worker serialises access.
type PeekWindow struct {
	cfg     PeekConfig
	entries []peekEntry
	now     func() time.Time
}

// NewPeekWindow creates a window with the given parameters.
func NewPeekWindow(cfg PeekConfig) *PeekWindow {
	if cfg.MaxSegments < 1 {
		cfg.MaxSegments = 1
	}
	return &PeekWindow{cfg: cfg, now: time.Now}
}

// Observe evaluates the revision trigger for u against the most recent
// windowed unit, then records u for future lookback. It returns a non-nil
// Revision when the trigger fires. Expired and overflow entries are pruned on
// every call.
func (w *PeekWindow) Observe(u segment.Unit, targets []string) *Revision {
	if !w.cfg.Enabled {
		return nil
	}

	now := w.now()
	w.prune(now)

	rev := w.evaluate(u)
	w.entries = append(w.entries, peekEntry{unit: u, targets: targets, addedAt: now})
	if len(w.entries) > w.cfg.MaxSegments {
		w.entries = w.entries[len(w.entries)-w.cfg.MaxSegments:]
	}
	return rev
}

func (w *PeekWindow) evaluate(u segment.Unit) *Revision {
	if len(w.entries) == 0 {
		return nil
	}
	prev := w.entries[len(w.entries)-1]

	if !langdetect.SameBase(prev.unit.SrcLang, u.SrcLang) {
		return nil
	}

	base := langdetect.Base(u.SrcLang)
	gender, confidence := DetectGender(u.Text, base)
	if gender == "" || confidence < w.cfg.MinConfidence {
		return nil
	}
	if !HasAmbiguousPronoun(prev.unit.Text, base) {
		return nil
	}

	// One revision per windowed unit; drop it so later segments cannot
	// re-trigger on the same text.
	w.entries = w.entries[:len(w.entries)-1]
	return &Revision{Unit: prev.unit, Targets: prev.targets, Gender: gender}
}

func (w *PeekWindow) prune(now time.Time) {
	cutoff := now.Add(-w.cfg.Window)
	keep := w.entries[:0]
	for _, e := range w.entries {
		if e.addedAt.After(cutoff) {
			keep = append(keep, e)
		}
	}
	w.entries = keep
}

// Len returns the number of windowed units.
func (w *PeekWindow) Len() int { return len(w.entries) }

// Clear empties the window.
func (w *PeekWindow) Clear() { w.entries = nil }
