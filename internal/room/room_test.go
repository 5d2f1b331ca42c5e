package room

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/babelroom/babelroom/internal/config"
	"github.com/babelroom/babelroom/internal/translate"
	smock "github.com/babelroom/babelroom/pkg/provider/synth/mock"
	"github.com/babelroom/babelroom/pkg/provider/translator"
	tmock "github.com/babelroom/babelroom/pkg/provider/translator/mock"
	"github.com/babelroom/babelroom/pkg/store"
	memstore "github.com/babelroom/babelroom/pkg/store/memory"
	"github.com/babelroom/babelroom/pkg/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// frenchResult makes the mock backend answer fr-CA requests with real French,
// so the language gate in front of the speech queue lets the text through.
var frenchResult = []translator.Result{{
	Lang:     "fr-CA",
	Text:     "Bonjour, comment allez-vous aujourd'hui?",
	Provider: "mock",
}}

func newTestRoom(t *testing.T, backend *tmock.Provider, st store.Store) *Room {
	t.Helper()
	cfg := config.Default()
	cfg.Translation.MergeEnabled = false

	r := New(types.RoomMeta{
		Slug:               "demo",
		SourceLang:         "en-US",
		DefaultTargetLangs: []string{"fr-CA"},
	}, Deps{
		Cfg:        cfg,
		Translator: translate.NewClient(backend, nil, nil, nil),
		Synth:      &smock.Provider{},
		Store:      st,
		Log:        discardLogger(),
	})
	t.Cleanup(r.Shutdown)
	return r
}

func waitSignal(t *testing.T, ch chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for a subscriber event")
	}
}

func hardPatch(version int64) types.Patch {
	return types.Patch{
		UnitID:  "u1",
		Stage:   types.StageHard,
		Version: version,
		Text:    "Hello, how are you today?",
		SrcLang: "en-US",
	}
}

func TestRoomHardPatchReachesListenerWithAudio(t *testing.T) {
	backend := &tmock.Provider{Results: frenchResult}
	r := newTestRoom(t, backend, nil)

	fr := &fakeConn{notify: make(chan struct{}, 64)}
	r.Subscribe(NewSubscriber("l1", types.RoleListener, "fr-CA", true, fr))

	r.HandlePatch(hardPatch(1))

	waitSignal(t, fr.notify) // translated patch
	waitSignal(t, fr.notify) // audio

	fr.mu.Lock()
	defer fr.mu.Unlock()
	if len(fr.patches) != 1 {
		t.Fatalf("patches = %d, want 1", len(fr.patches))
	}
	p := fr.patches[0]
	if p.Text != frenchResult[0].Text || p.Stage != types.StageHard || !p.TTSFinal {
		t.Errorf("patch = %+v", p)
	}
	if len(fr.audio) != 1 {
		t.Fatalf("audio records = %d, want 1", len(fr.audio))
	}
	if fr.audio[0].Lang != "fr-CA" || fr.audio[0].RootUnitID != "u1" {
		t.Errorf("audio = %+v", fr.audio[0])
	}
}

func TestRoomResendDeliversPatchButNoSecondAudio(t *testing.T) {
	backend := &tmock.Provider{Results: frenchResult}
	r := newTestRoom(t, backend, nil)

	fr := &fakeConn{notify: make(chan struct{}, 64)}
	r.Subscribe(NewSubscriber("l1", types.RoleListener, "fr-CA", true, fr))

	r.HandlePatch(hardPatch(1))
	waitSignal(t, fr.notify) // patch v1
	waitSignal(t, fr.notify) // audio v1

	r.HandlePatch(hardPatch(2))
	waitSignal(t, fr.notify) // patch v2

	fr.mu.Lock()
	defer fr.mu.Unlock()
	if len(fr.patches) != 2 || fr.patches[1].Version != 2 {
		t.Errorf("patches = %+v, want v1 then v2", fr.patches)
	}
	if len(fr.audio) != 1 {
		t.Errorf("audio records = %d, want the root spoken once", len(fr.audio))
	}
}

func TestRoomHardUnitTranslatedOnce(t *testing.T) {
	backend := &tmock.Provider{Results: frenchResult}
	r := newTestRoom(t, backend, nil)

	fr := &fakeConn{notify: make(chan struct{}, 64)}
	r.Subscribe(NewSubscriber("l1", types.RoleListener, "fr-CA", false, fr))

	r.HandlePatch(hardPatch(1))
	waitSignal(t, fr.notify)

	// The pipeline serves its own target languages; the delivery path must not
	// issue a second translation for them.
	if got := backend.CallCount(); got != 1 {
		t.Errorf("translator calls = %d, want 1", got)
	}
	fr.mu.Lock()
	defer fr.mu.Unlock()
	if len(fr.patches) != 1 || fr.patches[0].Text != frenchResult[0].Text {
		t.Errorf("patches = %+v", fr.patches)
	}
}

func TestRoomSourceListenerGetsSourceText(t *testing.T) {
	backend := &tmock.Provider{Results: frenchResult}
	r := newTestRoom(t, backend, nil)

	src := &fakeConn{notify: make(chan struct{}, 64)}
	r.Subscribe(NewSubscriber("l1", types.RoleListener, types.LangSource, false, src))

	r.HandlePatch(hardPatch(1))
	waitSignal(t, src.notify)

	src.mu.Lock()
	defer src.mu.Unlock()
	if len(src.patches) != 1 || src.patches[0].Text != "Hello, how are you today?" {
		t.Errorf("patches = %+v", src.patches)
	}
}

func TestRoomHistoryReplay(t *testing.T) {
	backend := &tmock.Provider{Results: frenchResult}
	r := newTestRoom(t, backend, nil)

	first := &fakeConn{notify: make(chan struct{}, 64)}
	r.Subscribe(NewSubscriber("l1", types.RoleListener, "fr-CA", true, first))

	r.HandlePatch(hardPatch(1))
	waitSignal(t, first.notify) // patch
	waitSignal(t, first.notify) // audio

	// The pipeline caches its translation asynchronously; replay serves from
	// that cache, so wait for it.
	deadline := time.Now().Add(3 * time.Second)
	for {
		if _, ok := r.pipeline.Lookup("u1", 1, "fr-CA"); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("translation never reached the cache")
		}
		time.Sleep(5 * time.Millisecond)
	}

	late := &fakeConn{notify: make(chan struct{}, 64)}
	r.Subscribe(NewSubscriber("l2", types.RoleListener, "fr-CA", true, late))
	waitSignal(t, late.notify)

	late.mu.Lock()
	defer late.mu.Unlock()
	if len(late.patches) != 1 || late.patches[0].Text != frenchResult[0].Text {
		t.Errorf("replayed patches = %+v", late.patches)
	}
	if len(late.audio) != 0 {
		t.Error("history replay must not speak")
	}
}

func TestRoomNewSpeakerResets(t *testing.T) {
	backend := &tmock.Provider{Results: frenchResult}
	r := newTestRoom(t, backend, nil)

	listener := &fakeConn{notify: make(chan struct{}, 64)}
	r.Subscribe(NewSubscriber("l1", types.RoleListener, types.LangSource, false, listener))

	speaker1 := &fakeConn{}
	r.Subscribe(NewSubscriber("sp1", types.RoleSpeaker, types.LangSource, false, speaker1))

	r.HandlePatch(hardPatch(1))
	waitSignal(t, listener.notify)

	speaker2 := &fakeConn{}
	r.Subscribe(NewSubscriber("sp2", types.RoleSpeaker, types.LangSource, false, speaker2))
	waitSignal(t, listener.notify) // reset control

	listener.mu.Lock()
	gotReset := false
	for _, c := range listener.controls {
		if c == ControlReset {
			gotReset = true
		}
	}
	listener.mu.Unlock()
	if !gotReset {
		t.Fatal("listener never received the reset control")
	}

	// The transcript restarted: version 1 is acceptable again.
	r.HandlePatch(hardPatch(1))
	waitSignal(t, listener.notify)

	listener.mu.Lock()
	defer listener.mu.Unlock()
	if len(listener.patches) != 2 {
		t.Errorf("patches = %d, want the unit re-accepted after reset", len(listener.patches))
	}
}

func TestRoomShutdownClosesSubscribers(t *testing.T) {
	backend := &tmock.Provider{}
	r := newTestRoom(t, backend, nil)

	conn := &fakeConn{}
	r.Subscribe(NewSubscriber("l1", types.RoleListener, types.LangSource, false, conn))
	if r.SubscriberCount() != 1 {
		t.Fatal("subscriber not registered")
	}

	r.Shutdown()

	conn.mu.Lock()
	defer conn.mu.Unlock()
	if !conn.closed || conn.code != CloseGoingAway {
		t.Errorf("closed=%v code=%d, want going-away close", conn.closed, conn.code)
	}
}

func TestRoomPersistsAndRehydratesUnits(t *testing.T) {
	st := memstore.New()
	backend := &tmock.Provider{Results: frenchResult}

	r := newTestRoom(t, backend, st)
	src := &fakeConn{notify: make(chan struct{}, 64)}
	r.Subscribe(NewSubscriber("l1", types.RoleListener, types.LangSource, false, src))
	r.HandlePatch(hardPatch(1))
	waitSignal(t, src.notify)

	deadline := time.Now().Add(3 * time.Second)
	for {
		units, err := st.LoadUnits(context.Background(), "demo")
		if err != nil {
			t.Fatalf("LoadUnits: %v", err)
		}
		if len(units) == 1 && units[0].UnitID == "u1" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("snapshot never appeared, got %+v", units)
		}
		time.Sleep(10 * time.Millisecond)
	}
	r.Shutdown()

	// A new room over the same store starts from the snapshot: version 1 is
	// stale on arrival.
	r2 := newTestRoom(t, backend, st)
	src2 := &fakeConn{notify: make(chan struct{}, 64)}
	r2.Subscribe(NewSubscriber("l1", types.RoleListener, types.LangSource, false, src2))
	waitSignal(t, src2.notify) // history replay from the rehydrated store

	src2.mu.Lock()
	defer src2.mu.Unlock()
	if len(src2.patches) != 1 || src2.patches[0].Text != "Hello, how are you today?" {
		t.Errorf("replayed patches = %+v", src2.patches)
	}
}

func TestHubLifecycle(t *testing.T) {
	cfg := config.Default()
	hub := NewHub(Deps{
		Cfg:        cfg,
		Translator: translate.NewClient(&tmock.Provider{}, nil, nil, nil),
		Synth:      &smock.Provider{},
		Log:        discardLogger(),
	})
	defer hub.Shutdown()

	meta := types.RoomMeta{Slug: "demo", SourceLang: "en-US"}
	r1 := hub.GetOrCreate(meta)
	r2 := hub.GetOrCreate(meta)
	if r1 != r2 {
		t.Error("GetOrCreate created a second room for the same slug")
	}
	if hub.Get("demo") != r1 || hub.Get("other") != nil {
		t.Error("Get lookup mismatch")
	}
	if hub.Len() != 1 {
		t.Errorf("Len = %d, want 1", hub.Len())
	}

	hub.Remove("demo")
	if hub.Get("demo") != nil || hub.Len() != 0 {
		t.Error("room survived Remove")
	}
}
