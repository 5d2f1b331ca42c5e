package room

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/babelroom/babelroom/internal/langdetect"
	"github.com/babelroom/babelroom/internal/observe"
	"github.com/babelroom/babelroom/internal/translate"
	"github.com/babelroom/babelroom/internal/ttsq"
	"github.com/babelroom/babelroom/pkg/provider/translator"
	"github.com/babelroom/babelroom/pkg/types"
)

// ttsTriggeredTTL is how long a (lang, root) stays in the anti-duplication set.
const ttsTriggeredTTL = 10 * time.Minute

// ttsSweepStep triggers TTL eviction each time the set grows past another
// multiple of this size.
const ttsSweepStep = 100

// ttsCandidate is one pending speech trigger in the per-broadcast working map.
type ttsCandidate struct {
	patch types.EgressPatch
	voice string
}

// Broadcaster routes one acceptance or translation result to every
// subscriber, installs mirror and on-demand patches for languages the
// pipeline did not cover, and collects speech triggers. It runs on the room
// worker and keeps only the TTS anti-duplication set between calls.
type Broadcaster struct {
	client   *translate.Client
	voiceFor func(lang string) string
	enqueue  func(lang string, req ttsq.EnqueueRequest)
	metrics  *observe.Metrics
	log      *slog.Logger

	ttsTriggered map[string]time.Time
	nextSweep    int
	now          func() time.Time
}

// NewBroadcaster creates a Broadcaster. client may be nil to disable
// on-demand translation; enqueue hands speech triggers to the per-language
// queue owned by the room.
func NewBroadcaster(client *translate.Client, voiceFor func(string) string, enqueue func(string, ttsq.EnqueueRequest), m *observe.Metrics, log *slog.Logger) *Broadcaster {
	if log == nil {
		log = slog.Default()
	}
	return &Broadcaster{
		client:       client,
		voiceFor:     voiceFor,
		enqueue:      enqueue,
		metrics:      m,
		log:          log,
		ttsTriggered: make(map[string]time.Time),
		nextSweep:    ttsSweepStep,
		now:          time.Now,
	}
}

// Reset clears the TTS anti-duplication set for a new speaker.
func (b *Broadcaster) Reset() {
	b.ttsTriggered = make(map[string]time.Time)
	b.nextSweep = ttsSweepStep
}

// Broadcast fans one result out to subs. src is the source-language record of
// an acceptance (nil for asynchronous translation batches); translated holds
// the per-target records. pipelineLangs names the languages the translation
// pipeline has already been handed for this unit, so the on-demand safety net
// does not race it. It returns the IDs of subscribers whose connection write
// failed, for the room to drop.
func (b *Broadcaster) Broadcast(src *types.EgressPatch, translated []types.EgressPatch, subs []*Subscriber, pipelineLangs []string) []string {
	byLang := make(map[string]types.EgressPatch, len(translated)+2)

	var srcLang string
	var stage types.Stage
	if src != nil && src.Text != "" {
		srcLang = src.SrcLang
		stage = src.Stage
		if srcLang != "" {
			byLang[srcLang] = *src
		}
		byLang[types.LangSource] = *src
	}
	for _, p := range translated {
		byLang[p.TargetLang] = p
		if srcLang == "" {
			srcLang = p.SrcLang
		}
		stage = p.Stage
	}

	// Mislabel defense: when the text plainly reads as a different language
	// than its declared tag, mirrors are unsafe and every non-source language
	// goes through translation with no source hint.
	mislabeled := false
	if src != nil && srcLang != "" {
		if det := langdetect.Detect(src.Text); det != "" && det != langdetect.Base(srcLang) {
			mislabeled = true
		}
	}

	b.installMissing(byLang, src, srcLang, stage, mislabeled, pipelineLangs, subs)

	var failed []string
	working := make(map[string]map[string]ttsCandidate)

	for _, sub := range subs {
		patch, ok := b.patchForSubscriber(byLang, sub)
		if !ok {
			continue
		}

		// Revision records re-issue a version the subscriber already holds, so
		// the watermark neither gates them nor moves for them; replace records
		// keep the at-most-once-per-version contract.
		revision := patch.Op == types.OpRevision
		if revision || sub.lastSeen[patch.UnitID] < patch.Version {
			if err := sub.conn.SendPatch(patch); err != nil {
				b.log.Warn("subscriber write failed", "subscriber", sub.ID, "error", err)
				failed = append(failed, sub.ID)
				continue
			}
			if !revision {
				sub.lastSeen[patch.UnitID] = patch.Version
			}
		}

		// Dedup suppresses the send but never the speech evaluation; a replayed
		// version may still owe its audio.
		if sub.WantsTTS && patch.Stage == types.StageHard && patch.TTSFinal && patch.Text != "" {
			lang := sub.Lang
			units := working[lang]
			if units == nil {
				units = make(map[string]ttsCandidate)
				working[lang] = units
			}
			if cur, ok := units[patch.UnitID]; !ok || patch.Version > cur.patch.Version {
				units[patch.UnitID] = ttsCandidate{patch: patch, voice: b.voiceFor(lang)}
			}
		}
	}

	b.triggerTTS(working)
	return failed
}

// installMissing fills byLang for subscriber languages nothing else will
// produce: a mirror of the source for same-base languages, an on-demand
// translation call for languages outside the pipeline's target set. Languages
// the pipeline is already translating are left for its asynchronous emit —
// except under a mislabel override, which must not trust the pipeline's
// source hint. On-demand translation only applies to hard revisions; soft
// previews reach matching-language subscribers only.
func (b *Broadcaster) installMissing(byLang map[string]types.EgressPatch, src *types.EgressPatch, srcLang string, stage types.Stage, mislabeled bool, pipelineLangs []string, subs []*Subscriber) {
	if src == nil || src.Text == "" {
		return
	}

	covered := make(map[string]struct{}, len(pipelineLangs))
	for _, lang := range pipelineLangs {
		covered[lang] = struct{}{}
	}

	var need []string
	for _, sub := range subs {
		lang := sub.Lang
		if lang == "" || lang == types.LangSource || sub.Role == types.RoleSpeaker {
			continue
		}
		if _, ok := byLang[lang]; ok {
			continue
		}
		if !mislabeled && langdetect.SameBase(lang, srcLang) {
			mirror := *src
			mirror.TargetLang = lang
			mirror.Provider = "mirror"
			byLang[lang] = mirror
			continue
		}
		if stage != types.StageHard {
			continue
		}
		if _, ok := covered[lang]; ok && !mislabeled {
			continue
		}
		need = append(need, lang)
	}

	if len(need) == 0 || b.client == nil {
		return
	}

	from := srcLang
	if mislabeled {
		from = ""
	}
	results := b.client.Translate(context.Background(), translator.Request{
		Text:     src.Text,
		FromLang: from,
		Targets:  need,
	})
	for _, r := range results {
		p := *src
		p.Text = r.Text
		p.TargetLang = r.Lang
		p.Provider = r.Provider
		if len(r.SrcSentLen) > 0 || len(r.TransSentLen) > 0 {
			p.SentLen = &types.SentLens{Src: r.SrcSentLen, Trans: r.TransSentLen}
		} else {
			p.SentLen = nil
		}
		byLang[r.Lang] = p
	}
}

// patchForSubscriber selects the record a subscriber should receive. Speakers
// and source-alias subscribers always get the source record.
func (b *Broadcaster) patchForSubscriber(byLang map[string]types.EgressPatch, sub *Subscriber) (types.EgressPatch, bool) {
	if sub.Role == types.RoleSpeaker || sub.Lang == types.LangSource {
		p, ok := byLang[types.LangSource]
		return p, ok
	}
	p, ok := byLang[sub.Lang]
	return p, ok
}

// triggerTTS drains the working map into the per-language queues, applying the
// root-level anti-duplication set and the language-mismatch gate.
func (b *Broadcaster) triggerTTS(working map[string]map[string]ttsCandidate) {
	for lang, units := range working {
		for unitID, cand := range units {
			root := types.Root(unitID)
			key := lang + ":" + root
			if _, ok := b.ttsTriggered[key]; ok {
				b.skipTTS(lang, "already_triggered")
				continue
			}
			// Untranslated fallthrough defense: never speak text that reads as
			// a different language than the queue's voice.
			if det := langdetect.Detect(cand.patch.Text); det != "" && det != langdetect.Base(lang) {
				b.skipTTS(lang, "lang_mismatch")
				continue
			}

			var sentLen []int
			if cand.patch.SentLen != nil {
				sentLen = cand.patch.SentLen.Trans
			}
			b.enqueue(lang, ttsq.EnqueueRequest{
				UnitID:  unitID,
				Text:    cand.patch.Text,
				Voice:   cand.voice,
				SentLen: sentLen,
				Version: cand.patch.Version,
			})
			b.ttsTriggered[key] = b.now()
			b.maybeSweep()
		}
	}
}

// maybeSweep evicts stale anti-duplication entries each time the set crosses
// another multiple of ttsSweepStep.
func (b *Broadcaster) maybeSweep() {
	if len(b.ttsTriggered) < b.nextSweep {
		return
	}
	cutoff := b.now().Add(-ttsTriggeredTTL)
	for key, at := range b.ttsTriggered {
		if at.Before(cutoff) {
			delete(b.ttsTriggered, key)
		}
	}
	b.nextSweep = (len(b.ttsTriggered)/ttsSweepStep + 1) * ttsSweepStep
}

func (b *Broadcaster) skipTTS(lang, reason string) {
	if b.metrics == nil {
		return
	}
	b.metrics.TTSSkipped.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String("reason", reason),
			attribute.String("lang", lang),
		))
}
