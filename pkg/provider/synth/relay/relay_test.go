package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/babelroom/babelroom/pkg/provider/synth"
)

func TestSynthesize(t *testing.T) {
	var gotReq wireRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write([]byte("mp3-bytes"))
	}))
	defer srv.Close()

	p, err := New(srv.URL)
	if err != nil {
		t.Fatal(err)
	}

	clip, err := p.Synthesize(context.Background(), synth.Request{
		Text:  "Bonjour tout le monde.",
		Lang:  "fr-CA",
		Voice: "chantal",
		Rate:  1.2,
	})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	if gotReq.Text != "Bonjour tout le monde." || gotReq.Lang != "fr-CA" || gotReq.Rate != 1.2 {
		t.Errorf("wire request = %+v", gotReq)
	}
	if string(clip.Audio) != "mp3-bytes" || clip.MIME != "audio/mpeg" {
		t.Errorf("clip = %q %q", clip.Audio, clip.MIME)
	}
}

func TestSynthesizeServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "voice not found", http.StatusNotFound)
	}))
	defer srv.Close()

	p, _ := New(srv.URL)
	if _, err := p.Synthesize(context.Background(), synth.Request{Text: "x"}); err == nil {
		t.Fatal("expected error for non-200 status")
	}
}

func TestSynthesizeEmptyText(t *testing.T) {
	p, _ := New("http://unused.invalid")
	if _, err := p.Synthesize(context.Background(), synth.Request{}); err == nil {
		t.Fatal("empty text must be rejected")
	}
}
