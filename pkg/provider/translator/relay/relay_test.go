package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/babelroom/babelroom/pkg/provider/translator"
)

func TestTranslate(t *testing.T) {
	var gotReq wireRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sekrit" {
			t.Errorf("auth header = %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(wireResponse{Translations: []wireTranslation{
			{Lang: "fr-CA", Text: "Bonjour.", SentLen: &wireSentLen{Src: []int{6}, Trans: []int{8}}},
			{Lang: "de", Text: "Hallo."},
		}})
	}))
	defer srv.Close()

	p, err := New(srv.URL, WithToken("sekrit"))
	if err != nil {
		t.Fatal(err)
	}

	results, err := p.Translate(context.Background(), translator.Request{
		Text:     "Hello.",
		FromLang: "en-US",
		Targets:  []string{"fr-CA", "de"},
		Context:  []string{"Earlier line."},
	})
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}

	if gotReq.Text != "Hello." || gotReq.From != "en-US" || len(gotReq.Context) != 1 {
		t.Errorf("wire request = %+v", gotReq)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Lang != "fr-CA" || results[0].Text != "Bonjour." || results[0].Provider != "relay" {
		t.Errorf("first result = %+v", results[0])
	}
	if len(results[0].TransSentLen) != 1 || results[0].TransSentLen[0] != 8 {
		t.Errorf("sentLen = %v", results[0].TransSentLen)
	}
	if results[1].Lang != "de" || results[1].SrcSentLen != nil {
		t.Errorf("second result = %+v", results[1])
	}
}

func TestTranslateMissingTarget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(wireResponse{Translations: []wireTranslation{
			{Lang: "fr-CA", Text: "Bonjour."},
		}})
	}))
	defer srv.Close()

	p, _ := New(srv.URL)
	_, err := p.Translate(context.Background(), translator.Request{
		Text:    "Hello.",
		Targets: []string{"fr-CA", "de"},
	})
	if err == nil {
		t.Fatal("expected error for missing target")
	}
}

func TestTranslateServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "backend down", http.StatusBadGateway)
	}))
	defer srv.Close()

	p, _ := New(srv.URL)
	_, err := p.Translate(context.Background(), translator.Request{Text: "x", Targets: []string{"de"}})
	if err == nil {
		t.Fatal("expected error for non-200 status")
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("empty endpoint must be rejected")
	}
}
