// Package segment implements the per-room transcript state machine: it
// validates incoming patches, dedupes soft continuations, strips filler
// phrases, stamps versions, and maintains the LRU-bounded unit store.
//
// The processor is single-threaded by design — the owning room worker is the
// only caller — so no internal locking is needed. Translation is handed off
// through the [TranslationSink] so the processor never blocks on a backend.
package segment

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/babelroom/babelroom/internal/langdetect"
	"github.com/babelroom/babelroom/internal/observe"
	"github.com/babelroom/babelroom/pkg/types"
)

// ErrMissingUnitID is returned for patches without a unit ID. Fatal to the
// call; no state changes.
var ErrMissingUnitID = errors.New("segment: patch is missing unitId")

// ErrUnknownStage is returned for patches whose stage is neither soft nor hard.
var ErrUnknownStage = errors.New("segment: unknown patch stage")

// continuationThreshold is the minimum normalised-prefix overlap ratio for a
// soft patch to be treated as a continuation of the current soft unit.
const continuationThreshold = 0.8

// Outcome classifies the result of processing one patch.
type Outcome int

const (
	// OutcomeAccepted means the unit was created or advanced.
	OutcomeAccepted Outcome = iota

	// OutcomeStale means the patch did not advance the unit's version.
	OutcomeStale

	// OutcomeStaleEmpty means the patch text was empty after filler stripping.
	OutcomeStaleEmpty
)

// Result is the outcome of [Processor.Process]. TranslatedPatches is always
// empty on the buffered path — translations arrive later through the async
// emit callback owned by the translation pipeline.
type Result struct {
	Outcome Outcome

	// Reason is the metric label for non-accepted outcomes
	// ("stale_version" or "only_filler").
	Reason string

	// SourcePatch is the source-language egress record for accepted patches.
	SourcePatch *types.EgressPatch

	// TranslatedPatches holds synchronously produced translations. Present
	// only when the pipeline answered from cache without buffering.
	TranslatedPatches []types.EgressPatch
}

// TranslationSink receives accepted hard units for asynchronous translation.
// Implementations run the peek step, append to the context buffer, and hand
// the unit to the merge buffer.
type TranslationSink interface {
	HardUnitAccepted(u Unit, targets []string)
}

// Processor is the core state machine for one room.
type Processor struct {
	units   *UnitStore
	strip   *Stripper
	sink    TranslationSink
	metrics *observe.Metrics
	now     func() time.Time
}

// NewProcessor creates a Processor over the given store and stripper.
// sink may be nil when translation is disabled; metrics may be nil in tests.
func NewProcessor(units *UnitStore, strip *Stripper, sink TranslationSink, m *observe.Metrics) *Processor {
	return &Processor{
		units:   units,
		strip:   strip,
		sink:    sink,
		metrics: m,
		now:     time.Now,
	}
}

// Units exposes the underlying store to the room supervisor (reset, replay,
// checkpointing). Callers must hold the room's single-writer discipline.
func (p *Processor) Units() *UnitStore { return p.units }

// Process validates and applies one ingress patch, returning the acceptance
// result. Translation errors never surface here: an accepted patch always
// yields its source record, and translated records follow asynchronously.
func (p *Processor) Process(patch types.Patch, targetLangs []string) (*Result, error) {
	if patch.UnitID == "" {
		p.countRejected("invalid")
		return nil, ErrMissingUnitID
	}
	if !patch.Stage.IsValid() {
		p.countRejected("invalid")
		return nil, fmt.Errorf("%w: %q", ErrUnknownStage, patch.Stage)
	}

	text := p.strip.Strip(patch.Text)
	if text == "" {
		p.countRejected("only_filler")
		return &Result{Outcome: OutcomeStaleEmpty, Reason: "only_filler"}, nil
	}

	root := types.Root(patch.UnitID)
	cur := p.units.Get(root)
	if cur != nil && patch.Version <= cur.Version {
		p.countRejected("stale_version")
		return &Result{Outcome: OutcomeStale, Reason: "stale_version"}, nil
	}

	// Soft-over-soft continuation dedupe: a refinement that repeats the
	// current text as its prefix splices only the new tail on.
	if cur != nil && cur.Stage == types.StageSoft && patch.Stage == types.StageSoft {
		if tail, ok := continuationTail(cur.Text, text); ok {
			text = cur.Text + tail
		}
	}

	ttsFinal := patch.Stage == types.StageHard
	if patch.TTSFinal != nil {
		ttsFinal = *patch.TTSFinal
	}

	srcLang := patch.SrcLang
	if srcLang == "" && cur != nil {
		srcLang = cur.SrcLang
	}

	unit := &Unit{
		UnitID:    patch.UnitID,
		Root:      root,
		Stage:     patch.Stage,
		Version:   patch.Version,
		Text:      text,
		SrcLang:   srcLang,
		TS:        patch.TS,
		UpdatedAt: p.now(),
		TTSFinal:  ttsFinal,
	}
	p.units.Put(unit)
	p.countAccepted(patch.Stage)

	src := &types.EgressPatch{
		UnitID:    unit.UnitID,
		Stage:     unit.Stage,
		Op:        types.OpReplace,
		Version:   unit.Version,
		Text:      unit.Text,
		SrcLang:   unit.SrcLang,
		TTSFinal:  unit.TTSFinal,
		TS:        unit.TS,
		EmittedAt: p.now().UnixMilli(),
	}

	res := &Result{Outcome: OutcomeAccepted, SourcePatch: src}

	if unit.Stage == types.StageHard && p.sink != nil {
		if targets := foreignTargets(targetLangs, unit.SrcLang); len(targets) > 0 {
			p.sink.HardUnitAccepted(*unit, targets)
		}
	}
	return res, nil
}

// foreignTargets filters out targets sharing the source's language base;
// those are served by mirror patches in the fan-out, not by translation.
func foreignTargets(targets []string, srcLang string) []string {
	out := make([]string, 0, len(targets))
	for _, t := range targets {
		if t == "" || t == types.LangSource {
			continue
		}
		if srcLang != "" && langdetect.SameBase(t, srcLang) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// continuationTail reports whether incoming continues prev with at least the
// threshold overlap, and if so returns the raw tail of incoming past the
// matched prefix.
func continuationTail(prev, incoming string) (string, bool) {
	normPrev := normalizeRunes(prev)
	normIn, ends := normalizeWithOffsets(incoming)

	match := 0
	for match < len(normPrev) && match < len(normIn) && normPrev[match] == normIn[match] {
		match++
	}

	denom := len(normPrev)
	if denom < 1 {
		denom = 1
	}
	if float64(match)/float64(denom) < continuationThreshold {
		return "", false
	}
	if match == 0 {
		return "", false
	}
	return incoming[ends[match-1]:], true
}

// normalizeRunes lowercases and collapses punctuation runs to single spaces.
func normalizeRunes(s string) []rune {
	norm, _ := normalize(s, nil)
	return norm
}

// normalizeWithOffsets is normalizeRunes plus, for each normalised rune, the
// byte offset in s just past the raw runes it consumed. The offsets let the
// caller splice raw text at a normalised position.
func normalizeWithOffsets(s string) ([]rune, []int) {
	ends := make([]int, 0, len(s))
	norm, ends := normalize(s, ends)
	return norm, ends
}

func normalize(s string, ends []int) ([]rune, []int) {
	norm := make([]rune, 0, len(s))
	lastSpace := true // swallow leading separators
	for i, r := range s {
		next := i + len(string(r))
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			norm = append(norm, unicode.ToLower(r))
			lastSpace = false
			if ends != nil {
				ends = append(ends, next)
			}
			continue
		}
		// Any punctuation or whitespace collapses to one space.
		if !lastSpace {
			norm = append(norm, ' ')
			lastSpace = true
			if ends != nil {
				ends = append(ends, next)
			}
		} else if ends != nil && len(ends) > 0 {
			// Extend the previous separator to cover this raw rune too.
			ends[len(ends)-1] = next
		}
	}
	// Trailing separator is not significant for prefix comparison.
	if len(norm) > 0 && norm[len(norm)-1] == ' ' {
		norm = norm[:len(norm)-1]
		if ends != nil {
			ends = ends[:len(ends)-1]
		}
	}
	return norm, ends
}

func (p *Processor) countRejected(reason string) {
	if p.metrics == nil {
		return
	}
	p.metrics.PatchRejected.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("reason", reason)))
}

func (p *Processor) countAccepted(stage types.Stage) {
	if p.metrics == nil {
		return
	}
	p.metrics.PatchAccepted.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("stage", string(stage))))
}
