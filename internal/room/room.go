package room

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/babelroom/babelroom/internal/config"
	"github.com/babelroom/babelroom/internal/langdetect"
	"github.com/babelroom/babelroom/internal/observe"
	"github.com/babelroom/babelroom/internal/segment"
	"github.com/babelroom/babelroom/internal/translate"
	"github.com/babelroom/babelroom/internal/ttsq"
	"github.com/babelroom/babelroom/pkg/provider/synth"
	"github.com/babelroom/babelroom/pkg/store"
	"github.com/babelroom/babelroom/pkg/types"
)

// opsBuffer bounds the supervisor's inbox. Posting drops (with a log line)
// rather than blocking once the room is this far behind.
const opsBuffer = 256

// storeTimeout bounds every best-effort persistence call.
const storeTimeout = 3 * time.Second

// Deps carries the shared services a room is built from.
type Deps struct {
	Cfg        *config.Config
	Translator *translate.Client
	Synth      synth.Provider
	Store      store.Store // nil keeps all state in memory
	Metrics    *observe.Metrics
	Log        *slog.Logger
}

// Room supervises one live session: the transcript state machine, the
// translation pipeline, the fan-out, the per-language speech queues, and the
// subscriber set. All state is owned by the worker goroutine started in
// [New]; exported methods post work to it and return immediately.
type Room struct {
	slug string
	meta types.RoomMeta
	cfg  *config.Config

	proc     *segment.Processor
	pipeline *translate.Pipeline
	caster   *Broadcaster
	watchdog *Watchdog

	synth   synth.Provider
	store   store.Store
	metrics *observe.Metrics
	log     *slog.Logger

	// Worker-owned state.
	subs        map[string]*Subscriber
	queues      map[string]*ttsq.Queue
	seenSpeaker bool

	ops  chan func()
	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
	now  func() time.Time
}

// New creates a room for meta and starts its worker. Previously persisted
// transcript units are rehydrated before the first patch is accepted.
func New(meta types.RoomMeta, deps Deps) *Room {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("room", meta.Slug)

	r := &Room{
		slug:    meta.Slug,
		meta:    meta,
		cfg:     deps.Cfg,
		synth:   deps.Synth,
		store:   deps.Store,
		metrics: deps.Metrics,
		log:     log,
		subs:    make(map[string]*Subscriber),
		queues:  make(map[string]*ttsq.Queue),
		ops:     make(chan func(), opsBuffer),
		done:    make(chan struct{}),
		now:     time.Now,
	}

	units := segment.NewUnitStore(deps.Cfg.Rooms.PatchLRU, func(root string) {
		if r.pipeline != nil {
			r.pipeline.DropRoot(root)
		}
	})
	strip := segment.NewStripper(deps.Cfg.Filler.Enabled, deps.Cfg.Filler.English, deps.Cfg.Filler.French)

	tc := deps.Cfg.Translation
	r.pipeline = translate.NewPipeline(translate.PipelineConfig{
		Buffer: translate.BufferConfig{
			Enabled:  tc.MergeEnabled,
			Window:   time.Duration(tc.MergeWindowMS) * time.Millisecond,
			MinChars: tc.MergeMinChars,
			MaxCount: tc.MergeMaxCount,
		},
		Peek: translate.PeekConfig{
			Enabled:       tc.PeekEnabled,
			Window:        time.Duration(tc.PeekWindowMS) * time.Millisecond,
			MaxSegments:   tc.PeekMaxSegments,
			MinConfidence: tc.PeekMinConfidence,
		},
		ContextSegments: tc.ContextSegments,
	}, deps.Translator, r.emitTranslated, log)

	r.proc = segment.NewProcessor(units, strip, r.pipeline, deps.Metrics)
	r.caster = NewBroadcaster(deps.Translator, r.voiceFor, r.enqueueTTS, deps.Metrics, log)
	r.watchdog = NewWatchdog(deps.Cfg.Watchdog, r.onWatchdogStale, deps.Metrics)

	r.rehydrate()

	r.wg.Add(1)
	go r.run()
	return r
}

// Slug returns the room's identifier.
func (r *Room) Slug() string { return r.slug }

// Meta returns the room's metadata record.
func (r *Room) Meta() types.RoomMeta { return r.meta }

func (r *Room) run() {
	defer r.wg.Done()
	for {
		select {
		case op := <-r.ops:
			op()
		case <-r.done:
			return
		}
	}
}

// post hands op to the worker. Ops are dropped once the room has shut down or
// the inbox is saturated.
func (r *Room) post(op func()) {
	select {
	case <-r.done:
	case r.ops <- op:
	default:
		r.log.Warn("room inbox full, dropping operation")
	}
}

// ─── ingress ────────────────────────────────────────────────────────────────

// HandlePatch accepts one speaker revision. Processing happens on the room
// worker; the call never blocks.
func (r *Room) HandlePatch(patch types.Patch) {
	r.watchdog.TouchEvent()
	r.post(func() {
		if patch.SrcLang == "" {
			patch.SrcLang = r.meta.SourceLang
		}
		targets := r.targetLangs()
		res, err := r.proc.Process(patch, targets)
		if err != nil {
			r.log.Debug("patch rejected", "unit", patch.UnitID, "error", err)
			return
		}
		if res.Outcome != segment.OutcomeAccepted {
			return
		}
		r.deliver(res.SourcePatch, res.TranslatedPatches, targets)
		r.persistUnits()
	})
}

// TouchAudio records a raw-audio heartbeat from the speaker. Binary frames
// bypass the worker entirely.
func (r *Room) TouchAudio() { r.watchdog.TouchAudio() }

// TouchEvent records speaker control-channel activity.
func (r *Room) TouchEvent() { r.watchdog.TouchEvent() }

// ─── subscribers ────────────────────────────────────────────────────────────

// Subscribe registers sub and replays recent history to it. A speaker joining
// a room that already had one resets the room first.
func (r *Room) Subscribe(sub *Subscriber) {
	r.post(func() {
		if sub.Role == types.RoleSpeaker {
			if r.seenSpeaker {
				r.reset()
			}
			r.seenSpeaker = true
			r.watchdog.Rearm()
		}
		r.subs[sub.ID] = sub
		if r.metrics != nil {
			r.metrics.ActiveSubscribers.Add(context.Background(), 1)
		}
		r.replayTo(sub)
	})
}

// Unsubscribe removes the subscriber with the given ID. The caller closes the
// connection.
func (r *Room) Unsubscribe(id string) {
	r.post(func() {
		r.dropSubscriber(id)
	})
}

// Resume raises a subscriber's delivery watermarks from a resume control
// message, so a reconnecting client is not resent revisions it already has.
func (r *Room) Resume(id string, versions map[string]int64) {
	r.post(func() {
		sub, ok := r.subs[id]
		if !ok {
			return
		}
		for unitID, v := range versions {
			sub.MarkSeen(unitID, v)
		}
	})
}

// SubscriberCount reports the current subscriber count to the worker's best
// knowledge. Intended for tests and diagnostics.
func (r *Room) SubscriberCount() int {
	out := make(chan int, 1)
	r.post(func() { out <- len(r.subs) })
	select {
	case n := <-out:
		return n
	case <-r.done:
		return 0
	}
}

func (r *Room) dropSubscriber(id string) {
	if _, ok := r.subs[id]; !ok {
		return
	}
	delete(r.subs, id)
	if r.metrics != nil {
		r.metrics.ActiveSubscribers.Add(context.Background(), -1)
	}
}

// ─── lifecycle ──────────────────────────────────────────────────────────────

// Reset clears all room state for a new speaker and tells every subscriber.
func (r *Room) Reset() {
	r.post(r.reset)
}

func (r *Room) reset() {
	r.proc.Units().Clear()
	r.pipeline.Reset()
	for _, q := range r.queues {
		q.Reset()
	}
	r.caster.Reset()
	r.persistUnits()

	for id, sub := range r.subs {
		sub.lastSeen = make(map[string]int64)
		if err := sub.conn.SendControl(ControlReset, nil); err != nil {
			r.dropSubscriber(id)
			sub.conn.Close(CloseInternalError, "write failed")
		}
	}
	r.watchdog.Rearm()
	r.log.Info("room reset")
}

// Shutdown stops the room: the watchdog, the translation pipeline, every
// speech queue, and all subscriber connections (close code 1001).
func (r *Room) Shutdown() {
	r.once.Do(func() {
		r.watchdog.Stop()

		// Flush the translation buffer first so in-flight results still reach
		// subscribers through the worker.
		r.pipeline.Close()

		done := make(chan struct{})
		r.post(func() {
			for _, q := range r.queues {
				q.Shutdown()
			}
			for id, sub := range r.subs {
				sub.conn.Close(CloseGoingAway, "room closed")
				r.dropSubscriber(id)
			}
			close(done)
		})
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			r.log.Warn("room shutdown timed out")
		}

		close(r.done)
		r.wg.Wait()
	})
}

// ─── delivery ───────────────────────────────────────────────────────────────

// emitTranslated is the pipeline's emit callback. It runs on the buffer
// worker and re-enters the room.
func (r *Room) emitTranslated(patches []types.EgressPatch) {
	r.post(func() {
		r.deliver(nil, patches, nil)
	})
}

// deliver broadcasts one acceptance or translation batch. pipelineLangs is
// the target set handed to the translation sink for this unit, nil for
// asynchronous batches.
func (r *Room) deliver(src *types.EgressPatch, translated []types.EgressPatch, pipelineLangs []string) {
	subs := make([]*Subscriber, 0, len(r.subs))
	for _, sub := range r.subs {
		subs = append(subs, sub)
	}
	for _, id := range r.caster.Broadcast(src, translated, subs, pipelineLangs) {
		if sub, ok := r.subs[id]; ok {
			r.dropSubscriber(id)
			sub.conn.Close(CloseInternalError, "write failed")
		}
	}
}

// targetLangs is the union of the room's default targets and the connected
// subscriber languages.
func (r *Room) targetLangs() []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(lang string) {
		if lang == "" || lang == types.LangSource {
			return
		}
		if _, ok := seen[lang]; ok {
			return
		}
		seen[lang] = struct{}{}
		out = append(out, lang)
	}
	for _, lang := range r.meta.DefaultTargetLangs {
		add(lang)
	}
	for _, sub := range r.subs {
		if sub.Role != types.RoleSpeaker {
			add(sub.Lang)
		}
	}
	return out
}

// replayTo resends recent canonical units to a late subscriber. Speech is
// never replayed; only text catches up.
func (r *Room) replayTo(sub *Subscriber) {
	maxAge := time.Duration(r.cfg.Rooms.HistoryMaxMS) * time.Millisecond
	if maxAge <= 0 {
		return
	}
	cutoff := r.now().Add(-maxAge)

	units := r.proc.Units().Units()
	// The store lists most-recent first; replay oldest first.
	for i := len(units) - 1; i >= 0; i-- {
		u := units[i]
		if u.UpdatedAt.Before(cutoff) {
			continue
		}
		patch, ok := r.historyPatchFor(u, sub)
		if !ok {
			continue
		}
		if sub.lastSeen[patch.UnitID] >= patch.Version {
			continue
		}
		if err := sub.conn.SendPatch(patch); err != nil {
			r.dropSubscriber(sub.ID)
			sub.conn.Close(CloseInternalError, "write failed")
			return
		}
		sub.lastSeen[patch.UnitID] = patch.Version
	}
}

// historyPatchFor renders one stored unit for a subscriber: the source text
// for source-alias and same-base languages, a cached translation otherwise.
// Units with no cached translation are skipped rather than re-translated.
func (r *Room) historyPatchFor(u *segment.Unit, sub *Subscriber) (types.EgressPatch, bool) {
	src := types.EgressPatch{
		UnitID:    u.UnitID,
		Stage:     u.Stage,
		Op:        types.OpReplace,
		Version:   u.Version,
		Text:      u.Text,
		SrcLang:   u.SrcLang,
		TTSFinal:  false,
		TS:        u.TS,
		EmittedAt: r.now().UnixMilli(),
	}
	if sub.Role == types.RoleSpeaker || sub.Lang == types.LangSource {
		return src, true
	}
	if langdetect.SameBase(sub.Lang, u.SrcLang) {
		src.TargetLang = sub.Lang
		src.Provider = "mirror"
		return src, true
	}
	res, ok := r.pipeline.Lookup(u.UnitID, u.Version, sub.Lang)
	if !ok {
		return types.EgressPatch{}, false
	}
	src.Text = res.Text
	src.TargetLang = res.Lang
	src.Provider = res.Provider
	if len(res.SrcSentLen) > 0 || len(res.TransSentLen) > 0 {
		src.SentLen = &types.SentLens{Src: res.SrcSentLen, Trans: res.TransSentLen}
	}
	return src, true
}

// ─── speech queues ──────────────────────────────────────────────────────────

// enqueueTTS routes one trigger to the (lazily created) queue for lang.
func (r *Room) enqueueTTS(lang string, req ttsq.EnqueueRequest) {
	r.queueFor(lang).Enqueue(req)
}

func (r *Room) queueFor(lang string) *ttsq.Queue {
	if q, ok := r.queues[lang]; ok {
		return q
	}

	cfg := ttsq.Config{
		Lang:  lang,
		Voice: r.voiceFor(lang),
		Speed: ttsq.SpeedConfig{
			Base:         r.cfg.TTS.BaseSpeed,
			Max:          r.cfg.TTS.MaxSpeed,
			RampStart:    r.cfg.TTS.RampStartSec,
			RampEnd:      r.cfg.TTS.RampEndSec,
			MaxChangePct: r.cfg.TTS.MaxChangePct,
		},
	}
	if r.store != nil {
		cfg.Persist = func(items []ttsq.Item) { r.persistQueue(lang, items) }
	}

	cb := ttsq.Callbacks{
		AudioReady: func(item ttsq.Item, clip *synth.Clip, rate float64) {
			r.post(func() { r.fanAudio(item, clip) })
		},
		Error: func(item ttsq.Item, err error) {
			r.log.Warn("synthesis failed", "lang", lang, "unit", item.UnitID, "error", err)
		},
		Skipped: func(root, reason string) {
			r.log.Debug("tts skipped", "lang", lang, "root", root, "reason", reason)
		},
		SpeedRamp: func(start bool, rate float64) {
			r.log.Info("speed ramp", "lang", lang, "start", start, "rate", rate)
		},
	}

	q := ttsq.NewQueue(cfg, r.synth, cb, r.metrics, r.loadQueue(lang))
	r.queues[lang] = q
	return q
}

// fanAudio delivers one synthesised sentence to the subscribers listening in
// its language. Runs on the room worker.
func (r *Room) fanAudio(item ttsq.Item, clip *synth.Clip) {
	rec := types.AudioRecord{
		UnitID:     item.UnitID,
		RootUnitID: item.RootUnitID,
		Lang:       item.Lang,
		Text:       item.Text,
		Audio:      clip.Audio,
		Format:     clip.MIME,
		Voice:      item.Voice,
		SentLen:    item.SentLen,
		Version:    item.Version,
	}
	for id, sub := range r.subs {
		if !sub.WantsTTS || sub.Lang != item.Lang {
			continue
		}
		if err := sub.conn.SendAudio(rec); err != nil {
			r.dropSubscriber(id)
			sub.conn.Close(CloseInternalError, "write failed")
		}
	}
}

func (r *Room) voiceFor(lang string) string {
	if v, ok := r.cfg.TTS.Voices[langdetect.Base(lang)]; ok && v != "" {
		return v
	}
	return r.cfg.TTS.DefaultVoice
}

// ─── watchdog ───────────────────────────────────────────────────────────────

// onWatchdogStale runs on the watchdog goroutine and notifies the speaker.
func (r *Room) onWatchdogStale(state IdleState) {
	r.post(func() {
		r.log.Warn("speaker stale",
			"event_idle", state.EventIdle, "audio_idle", state.AudioIdle)
		for id, sub := range r.subs {
			if sub.Role != types.RoleSpeaker {
				continue
			}
			if err := sub.conn.SendControl(ControlWatchdog, state); err != nil {
				r.dropSubscriber(id)
				sub.conn.Close(CloseInternalError, "write failed")
			}
		}
	})
}

// ─── persistence ────────────────────────────────────────────────────────────

// rehydrate seeds the unit store from the persistence backend. Failures are
// logged; the room starts empty.
func (r *Room) rehydrate() {
	if r.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	records, err := r.store.LoadUnits(ctx, r.slug)
	if err != nil {
		r.log.Warn("unit rehydration failed", "error", err)
		return
	}
	for _, rec := range records {
		r.proc.Units().Put(&segment.Unit{
			UnitID:    rec.UnitID,
			Root:      rec.Root,
			Stage:     types.Stage(rec.Stage),
			Version:   rec.Version,
			Text:      rec.Text,
			SrcLang:   rec.SrcLang,
			TTSFinal:  rec.TTSFinal,
			UpdatedAt: rec.UpdatedAt,
		})
	}
	if len(records) > 0 {
		r.log.Info("rehydrated units", "count", len(records))
	}
}

// persistUnits snapshots the unit store. Best-effort and asynchronous.
func (r *Room) persistUnits() {
	if r.store == nil {
		return
	}
	units := r.proc.Units().Units()
	records := make([]store.UnitRecord, 0, len(units))
	for i := len(units) - 1; i >= 0; i-- {
		u := units[i]
		records = append(records, store.UnitRecord{
			UnitID:    u.UnitID,
			Root:      u.Root,
			Stage:     string(u.Stage),
			Version:   u.Version,
			Text:      u.Text,
			SrcLang:   u.SrcLang,
			TTSFinal:  u.TTSFinal,
			UpdatedAt: u.UpdatedAt,
		})
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if err := r.store.SaveUnits(ctx, r.slug, records); err != nil {
			r.log.Warn("unit persistence failed", "error", err)
		}
	}()
}

// persistQueue snapshots one language's remaining speech items.
func (r *Room) persistQueue(lang string, items []ttsq.Item) {
	records := make([]store.TTSItem, 0, len(items))
	for _, it := range items {
		records = append(records, store.TTSItem{
			UnitID:     it.UnitID,
			RootUnitID: it.RootUnitID,
			Lang:       it.Lang,
			Text:       it.Text,
			Voice:      it.Voice,
			DurationMS: it.Duration.Milliseconds(),
			CreatedAt:  it.CreatedAt,
			SentLen:    it.SentLen,
			Version:    it.Version,
		})
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if err := r.store.SaveTTSQueue(ctx, r.slug, lang, records); err != nil {
			r.log.Warn("queue persistence failed", "lang", lang, "error", err)
		}
	}()
}

// loadQueue rehydrates one language's speech items, if any were persisted.
func (r *Room) loadQueue(lang string) []ttsq.Item {
	if r.store == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	records, err := r.store.LoadTTSQueue(ctx, r.slug, lang)
	if err != nil {
		r.log.Warn("queue rehydration failed", "lang", lang, "error", err)
		return nil
	}
	items := make([]ttsq.Item, 0, len(records))
	for _, rec := range records {
		items = append(items, ttsq.Item{
			UnitID:     rec.UnitID,
			RootUnitID: rec.RootUnitID,
			Lang:       rec.Lang,
			Text:       rec.Text,
			Voice:      rec.Voice,
			Duration:   time.Duration(rec.DurationMS) * time.Millisecond,
			CreatedAt:  rec.CreatedAt,
			SentLen:    rec.SentLen,
			Version:    rec.Version,
		})
	}
	return items
}
