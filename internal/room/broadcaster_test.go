package room

import (
	"errors"
	"sync"
	"testing"

	"github.com/babelroom/babelroom/internal/translate"
	"github.com/babelroom/babelroom/internal/ttsq"
	tmock "github.com/babelroom/babelroom/pkg/provider/translator/mock"
	"github.com/babelroom/babelroom/pkg/types"
)

type fakeConn struct {
	mu       sync.Mutex
	patches  []types.EgressPatch
	audio    []types.AudioRecord
	controls []string
	failSend bool
	closed   bool
	code     int

	// notify, if non-nil, receives one token per delivered message.
	notify chan struct{}
}

func (c *fakeConn) signal() {
	if c.notify != nil {
		c.notify <- struct{}{}
	}
}

func (c *fakeConn) SendPatch(p types.EgressPatch) error {
	c.mu.Lock()
	if c.failSend {
		c.mu.Unlock()
		return errors.New("send failed")
	}
	c.patches = append(c.patches, p)
	c.mu.Unlock()
	c.signal()
	return nil
}

func (c *fakeConn) SendAudio(rec types.AudioRecord) error {
	c.mu.Lock()
	if c.failSend {
		c.mu.Unlock()
		return errors.New("send failed")
	}
	c.audio = append(c.audio, rec)
	c.mu.Unlock()
	c.signal()
	return nil
}

func (c *fakeConn) SendControl(typ string, _ any) error {
	c.mu.Lock()
	if c.failSend {
		c.mu.Unlock()
		return errors.New("send failed")
	}
	c.controls = append(c.controls, typ)
	c.mu.Unlock()
	c.signal()
	return nil
}

func (c *fakeConn) Close(code int, _ string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.code = code
}

func (c *fakeConn) patchTexts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.patches))
	for i, p := range c.patches {
		out[i] = p.Text
	}
	return out
}

type enqueueRecorder struct {
	mu   sync.Mutex
	reqs map[string][]ttsq.EnqueueRequest
}

func newEnqueueRecorder() *enqueueRecorder {
	return &enqueueRecorder{reqs: make(map[string][]ttsq.EnqueueRequest)}
}

func (e *enqueueRecorder) enqueue(lang string, req ttsq.EnqueueRequest) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reqs[lang] = append(e.reqs[lang], req)
}

func (e *enqueueRecorder) count(lang string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.reqs[lang])
}

func newTestBroadcaster(backend *tmock.Provider, rec *enqueueRecorder) *Broadcaster {
	var client *translate.Client
	if backend != nil {
		client = translate.NewClient(backend, nil, nil, nil)
	}
	return NewBroadcaster(client, func(string) string { return "alloy" }, rec.enqueue, nil, nil)
}

func srcPatch(unitID, text string, version int64) *types.EgressPatch {
	return &types.EgressPatch{
		UnitID:   unitID,
		Stage:    types.StageHard,
		Op:       types.OpReplace,
		Version:  version,
		Text:     text,
		SrcLang:  "en-US",
		TTSFinal: true,
	}
}

func transPatch(unitID, lang, text string, version int64) types.EgressPatch {
	return types.EgressPatch{
		UnitID:     unitID,
		Stage:      types.StageHard,
		Op:         types.OpReplace,
		Version:    version,
		Text:       text,
		SrcLang:    "en-US",
		TargetLang: lang,
		TTSFinal:   true,
		Provider:   "mock",
	}
}

func TestBroadcastRoutesByLanguage(t *testing.T) {
	rec := newEnqueueRecorder()
	b := newTestBroadcaster(nil, rec)

	srcConn := &fakeConn{}
	frConn := &fakeConn{}
	subs := []*Subscriber{
		NewSubscriber("s1", types.RoleListener, types.LangSource, false, srcConn),
		NewSubscriber("s2", types.RoleListener, "fr-CA", true, frConn),
	}

	src := srcPatch("u1", "The meeting starts now and we should begin.", 1)
	translated := []types.EgressPatch{transPatch("u1", "fr-CA", "La réunion commence maintenant et nous devons débuter.", 1)}

	failed := b.Broadcast(src, translated, subs, nil)
	if len(failed) != 0 {
		t.Fatalf("failed = %v", failed)
	}

	if got := srcConn.patchTexts(); len(got) != 1 || got[0] != src.Text {
		t.Errorf("source subscriber got %v", got)
	}
	if got := frConn.patchTexts(); len(got) != 1 || got[0] != translated[0].Text {
		t.Errorf("french subscriber got %v", got)
	}
	if rec.count("fr-CA") != 1 {
		t.Errorf("tts enqueues = %d, want 1", rec.count("fr-CA"))
	}
	rec.mu.Lock()
	req := rec.reqs["fr-CA"][0]
	rec.mu.Unlock()
	if req.Voice != "alloy" || req.Version != 1 {
		t.Errorf("enqueue request = %+v", req)
	}
}

func TestBroadcastMirrorForSameBase(t *testing.T) {
	rec := newEnqueueRecorder()
	backend := &tmock.Provider{}
	b := newTestBroadcaster(backend, rec)

	conn := &fakeConn{}
	subs := []*Subscriber{NewSubscriber("s1", types.RoleListener, "en-GB", false, conn)}

	b.Broadcast(srcPatch("u1", "The deal is done and we have what we need.", 1), nil, subs, nil)

	conn.mu.Lock()
	defer conn.mu.Unlock()
	if len(conn.patches) != 1 {
		t.Fatalf("patches = %d, want 1", len(conn.patches))
	}
	if conn.patches[0].Provider != "mirror" || conn.patches[0].TargetLang != "en-GB" {
		t.Errorf("patch = %+v, want a mirror", conn.patches[0])
	}
	if backend.CallCount() != 0 {
		t.Error("mirror path must not call the translator")
	}
}

func TestBroadcastOnDemandTranslation(t *testing.T) {
	rec := newEnqueueRecorder()
	backend := &tmock.Provider{}
	b := newTestBroadcaster(backend, rec)

	conn := &fakeConn{}
	subs := []*Subscriber{NewSubscriber("s1", types.RoleListener, "de", false, conn)}

	b.Broadcast(srcPatch("u1", "The schedule has changed and we will adapt.", 1), nil, subs, nil)

	if backend.CallCount() != 1 {
		t.Fatalf("translator calls = %d, want 1", backend.CallCount())
	}
	if got := backend.Calls[0].Req.Targets; len(got) != 1 || got[0] != "de" {
		t.Errorf("on-demand targets = %v", got)
	}
	conn.mu.Lock()
	defer conn.mu.Unlock()
	if len(conn.patches) != 1 || conn.patches[0].Provider != "mock" {
		t.Errorf("patches = %+v, want the on-demand translation", conn.patches)
	}
}

func TestBroadcastSoftSkipsOnDemand(t *testing.T) {
	rec := newEnqueueRecorder()
	backend := &tmock.Provider{}
	b := newTestBroadcaster(backend, rec)

	conn := &fakeConn{}
	subs := []*Subscriber{NewSubscriber("s1", types.RoleListener, "de", false, conn)}

	soft := srcPatch("u1", "The schedule has", 1)
	soft.Stage = types.StageSoft
	soft.TTSFinal = false
	b.Broadcast(soft, nil, subs, nil)

	if backend.CallCount() != 0 {
		t.Error("soft previews must not trigger on-demand translation")
	}
	conn.mu.Lock()
	defer conn.mu.Unlock()
	if len(conn.patches) != 0 {
		t.Errorf("patches = %+v, want none", conn.patches)
	}
}

func TestBroadcastDedupStillEvaluatesTTS(t *testing.T) {
	rec := newEnqueueRecorder()
	b := newTestBroadcaster(nil, rec)

	conn := &fakeConn{}
	sub := NewSubscriber("s1", types.RoleListener, "fr-CA", true, conn)
	sub.MarkSeen("u1", 5)

	translated := []types.EgressPatch{transPatch("u1", "fr-CA", "Une phrase complète à dire.", 5)}
	b.Broadcast(nil, translated, []*Subscriber{sub}, nil)

	conn.mu.Lock()
	sent := len(conn.patches)
	conn.mu.Unlock()
	if sent != 0 {
		t.Errorf("patches = %d, want dedup to suppress the send", sent)
	}
	if rec.count("fr-CA") != 1 {
		t.Errorf("tts enqueues = %d, want 1 despite dedup", rec.count("fr-CA"))
	}
}

func TestBroadcastTTSTriggersOncePerRoot(t *testing.T) {
	rec := newEnqueueRecorder()
	b := newTestBroadcaster(nil, rec)

	conn := &fakeConn{}
	subs := []*Subscriber{NewSubscriber("s1", types.RoleListener, "fr-CA", true, conn)}

	b.Broadcast(nil, []types.EgressPatch{transPatch("u1", "fr-CA", "Première version complète ici.", 1)}, subs, nil)
	b.Broadcast(nil, []types.EgressPatch{transPatch("u1", "fr-CA", "Première version complète ici.", 2)}, subs, nil)

	if rec.count("fr-CA") != 1 {
		t.Errorf("tts enqueues = %d, want the root triggered once", rec.count("fr-CA"))
	}
}

func TestBroadcastTTSLangMismatchGate(t *testing.T) {
	rec := newEnqueueRecorder()
	b := newTestBroadcaster(nil, rec)

	conn := &fakeConn{}
	subs := []*Subscriber{NewSubscriber("s1", types.RoleListener, "fr-CA", true, conn)}

	// Untranslated fallthrough: the text is plainly English but keyed fr-CA.
	p := transPatch("u1", "fr-CA", "The numbers are good and they will arrive.", 1)
	p.Provider = "none"
	b.Broadcast(nil, []types.EgressPatch{p}, subs, nil)

	if rec.count("fr-CA") != 0 {
		t.Errorf("tts enqueues = %d, want the mismatch gated out", rec.count("fr-CA"))
	}
	conn.mu.Lock()
	defer conn.mu.Unlock()
	if len(conn.patches) != 1 {
		t.Error("the text patch itself must still be delivered")
	}
}

func TestBroadcastMislabelOverridesMirror(t *testing.T) {
	rec := newEnqueueRecorder()
	backend := &tmock.Provider{}
	b := newTestBroadcaster(backend, rec)

	conn := &fakeConn{}
	subs := []*Subscriber{NewSubscriber("s1", types.RoleListener, "en-GB", false, conn)}

	// Declared en-US but the text is plainly French: the mirror shortcut is
	// unsafe and the subscriber's language goes through translation with no
	// source hint.
	src := srcPatch("u1", "C'est la vie et c'est très bien pour nous.", 1)
	b.Broadcast(src, nil, subs, nil)

	if backend.CallCount() != 1 {
		t.Fatalf("translator calls = %d, want 1", backend.CallCount())
	}
	if from := backend.Calls[0].Req.FromLang; from != "" {
		t.Errorf("from hint = %q, want empty on mislabel", from)
	}
	conn.mu.Lock()
	defer conn.mu.Unlock()
	if len(conn.patches) != 1 || conn.patches[0].Provider == "mirror" {
		t.Errorf("patches = %+v, want a translation, not a mirror", conn.patches)
	}
}

func TestBroadcastReportsFailedWrites(t *testing.T) {
	rec := newEnqueueRecorder()
	b := newTestBroadcaster(nil, rec)

	good := &fakeConn{}
	bad := &fakeConn{failSend: true}
	subs := []*Subscriber{
		NewSubscriber("ok", types.RoleListener, types.LangSource, false, good),
		NewSubscriber("broken", types.RoleListener, types.LangSource, false, bad),
	}

	failed := b.Broadcast(srcPatch("u1", "The update is ready for everyone now.", 1), nil, subs, nil)
	if len(failed) != 1 || failed[0] != "broken" {
		t.Errorf("failed = %v, want [broken]", failed)
	}
	if got := good.patchTexts(); len(got) != 1 {
		t.Errorf("healthy subscriber got %v", got)
	}
}

func TestBroadcastRevisionBypassesDedup(t *testing.T) {
	rec := newEnqueueRecorder()
	b := newTestBroadcaster(nil, rec)

	conn := &fakeConn{}
	sub := NewSubscriber("s1", types.RoleListener, "fr-CA", false, conn)
	subs := []*Subscriber{sub}

	// The original translation already raised the watermark to this version.
	b.Broadcast(nil, []types.EgressPatch{transPatch("u1", "fr-CA", "Le client est arrivé hier soir.", 4)}, subs, nil)

	// A backward gender correction re-issues the same unit and version.
	rev := transPatch("u1", "fr-CA", "La cliente est arrivée hier soir.", 4)
	rev.Op = types.OpRevision
	b.Broadcast(nil, []types.EgressPatch{rev}, subs, nil)

	if got := conn.patchTexts(); len(got) != 2 || got[1] != rev.Text {
		t.Fatalf("patches = %v, want the revision delivered", got)
	}
	if sub.lastSeen["u1"] != 4 {
		t.Errorf("watermark = %d, want revisions to leave it at 4", sub.lastSeen["u1"])
	}

	// Replace records at the delivered version stay suppressed.
	b.Broadcast(nil, []types.EgressPatch{transPatch("u1", "fr-CA", "Le client est arrivé hier soir.", 4)}, subs, nil)
	if got := conn.patchTexts(); len(got) != 2 {
		t.Errorf("patches = %v, want the replayed replace suppressed", got)
	}
}

func TestBroadcastDefersPipelineLangs(t *testing.T) {
	rec := newEnqueueRecorder()
	backend := &tmock.Provider{}
	b := newTestBroadcaster(backend, rec)

	conn := &fakeConn{}
	subs := []*Subscriber{NewSubscriber("s1", types.RoleListener, "fr-CA", false, conn)}

	src := srcPatch("u1", "The schedule has changed and we will adapt.", 1)
	b.Broadcast(src, nil, subs, []string{"fr-CA"})

	if backend.CallCount() != 0 {
		t.Fatalf("translator calls = %d, want the pipeline left to serve fr-CA", backend.CallCount())
	}
	if got := conn.patchTexts(); len(got) != 0 {
		t.Fatalf("patches = %v, want none until the pipeline emits", got)
	}

	// The pipeline's context-aware result arrives and must not be dropped.
	b.Broadcast(nil, []types.EgressPatch{transPatch("u1", "fr-CA", "L'horaire a changé et nous allons nous adapter.", 1)}, subs, nil)
	if got := conn.patchTexts(); len(got) != 1 {
		t.Errorf("patches = %v, want the pipeline translation delivered", got)
	}
}

func TestBroadcastMislabelOverridesPipelineCoverage(t *testing.T) {
	rec := newEnqueueRecorder()
	backend := &tmock.Provider{}
	b := newTestBroadcaster(backend, rec)

	conn := &fakeConn{}
	subs := []*Subscriber{NewSubscriber("s1", types.RoleListener, "de", false, conn)}

	// Declared en-US but plainly French: the pipeline was handed the wrong
	// source hint, so the subscriber's language is retranslated immediately.
	src := srcPatch("u1", "C'est la vie et c'est très bien pour nous.", 1)
	b.Broadcast(src, nil, subs, []string{"de"})

	if backend.CallCount() != 1 {
		t.Fatalf("translator calls = %d, want the mislabel override to translate", backend.CallCount())
	}
	if from := backend.Calls[0].Req.FromLang; from != "" {
		t.Errorf("from hint = %q, want empty on mislabel", from)
	}
}
