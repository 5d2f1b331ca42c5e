package translate

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/babelroom/babelroom/internal/segment"
	"github.com/babelroom/babelroom/pkg/provider/translator"
	"github.com/babelroom/babelroom/pkg/types"
)

// PipelineConfig holds the per-room translation pipeline parameters.
type PipelineConfig struct {
	Buffer          BufferConfig
	Peek            PeekConfig
	ContextSegments int
}

// Pipeline owns one room's translation state. It implements
// [segment.TranslationSink]: accepted hard units flow through the peek
// window, the context buffer, and the merge buffer, and the resulting egress
// patches leave through the emit callback on the buffer's worker goroutine.
type Pipeline struct {
	mu     sync.Mutex
	cache  *Cache
	ctxBuf *ContextBuffer
	peek   *PeekWindow

	buffer *Buffer
	client *Client
	emit   func(patches []types.EgressPatch)
	log    *slog.Logger
	now    func() time.Time
}

var _ segment.TranslationSink = (*Pipeline)(nil)

// NewPipeline creates a Pipeline. emit is invoked from a single worker
// goroutine, one call per translated segment or revision, patches in target
// order.
func NewPipeline(cfg PipelineConfig, client *Client, emit func([]types.EgressPatch), log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	p := &Pipeline{
		cache:  NewCache(),
		ctxBuf: NewContextBuffer(cfg.ContextSegments),
		peek:   NewPeekWindow(cfg.Peek),
		client: client,
		emit:   emit,
		log:    log,
		now:    time.Now,
	}
	p.buffer = NewBuffer(cfg.Buffer, p.process, p.processRevision)
	return p
}

// HardUnitAccepted implements segment.TranslationSink. It runs on the room
// worker and never blocks on a backend.
func (p *Pipeline) HardUnitAccepted(u segment.Unit, targets []string) {
	p.mu.Lock()
	rev := p.peek.Observe(u, targets)
	snapshot := p.ctxBuf.Snapshot()
	p.ctxBuf.Add(u.Text)
	p.mu.Unlock()

	p.buffer.Add(u, targets, snapshot, rev)
}

// Lookup consults the translation cache without side effects. Used by the
// room supervisor when replaying patch history to a late subscriber.
func (p *Pipeline) Lookup(unitID string, version int64, lang string) (translator.Result, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cache.Get(unitID, version, lang)
}

// DropRoot discards cached translations for an evicted unit root.
func (p *Pipeline) DropRoot(root string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache.DropRoot(root)
}

// Reset clears all pipeline state for a new speaker.
func (p *Pipeline) Reset() {
	p.buffer.Clear()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache.Clear()
	p.ctxBuf.Clear()
	p.peek.Clear()
}

// Close flushes and stops the buffer worker.
func (p *Pipeline) Close() { p.buffer.Close() }

// process translates one segment (possibly merged), cache first, and emits
// its egress patches. Runs on the buffer worker.
func (p *Pipeline) process(u segment.Unit, targets, contextTexts []string) {
	cached := make(map[string]translator.Result, len(targets))
	var misses []string

	p.mu.Lock()
	for _, lang := range targets {
		if r, ok := p.cache.Get(u.UnitID, u.Version, lang); ok {
			cached[lang] = r
		} else {
			misses = append(misses, lang)
		}
	}
	p.mu.Unlock()

	if len(misses) > 0 {
		results := p.client.Translate(context.Background(), translator.Request{
			Text:     u.Text,
			FromLang: u.SrcLang,
			Targets:  misses,
			Context:  contextTexts,
		})
		p.mu.Lock()
		for _, r := range results {
			cached[r.Lang] = r
			// Identity answers from total backend failure are not cached, so
			// the next revision gets another chance at a real translation.
			if r.Provider != "none" {
				p.cache.Put(u.UnitID, u.Version, r.Lang, r)
			}
		}
		p.mu.Unlock()
	}

	patches := make([]types.EgressPatch, 0, len(targets))
	for _, lang := range targets {
		r, ok := cached[lang]
		if !ok {
			continue
		}
		patches = append(patches, p.patchFor(u, r, types.OpReplace, u.UnitID, u.Version))
	}
	if len(patches) > 0 {
		p.emit(patches)
	}
}

// processRevision re-translates a previous unit with the detected gender as
// context and emits translation-revision patches. Runs on the buffer worker.
func (p *Pipeline) processRevision(rev *Revision) {
	u := rev.Unit
	results := p.client.Translate(context.Background(), translator.Request{
		Text:     u.Text,
		FromLang: u.SrcLang,
		Targets:  rev.Targets,
		Context:  []string{"Gender: " + string(rev.Gender)},
	})

	patches := make([]types.EgressPatch, 0, len(results))
	p.mu.Lock()
	for _, r := range results {
		if r.Provider == "none" {
			continue
		}
		p.cache.Put(u.UnitID, u.Version, r.Lang, r)
		patches = append(patches, p.patchFor(u, r, types.OpRevision, u.UnitID, u.Version))
	}
	p.mu.Unlock()

	if len(patches) == 0 {
		p.log.Debug("revision dropped, no backend available", "unit", u.UnitID)
		return
	}
	p.emit(patches)
}

func (p *Pipeline) patchFor(u segment.Unit, r translator.Result, op, unitID string, version int64) types.EgressPatch {
	patch := types.EgressPatch{
		UnitID:     unitID,
		Stage:      types.StageHard,
		Op:         op,
		Version:    version,
		Text:       r.Text,
		SrcLang:    u.SrcLang,
		TargetLang: r.Lang,
		TTSFinal:   u.TTSFinal,
		TS:         u.TS,
		EmittedAt:  p.now().UnixMilli(),
		Provider:   r.Provider,
	}
	if len(r.SrcSentLen) > 0 || len(r.TransSentLen) > 0 {
		patch.SentLen = &types.SentLens{Src: r.SrcSentLen, Trans: r.TransSentLen}
	}
	return patch
}
