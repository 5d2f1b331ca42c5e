package config

import (
	"strings"
	"testing"
	"time"
)

func noEnv(string) (string, bool) { return "", false }

func mapEnv(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestLoadFromReader_Defaults(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Translation.MergeWindowMS != 1200 {
		t.Errorf("merge window = %d, want 1200", cfg.Translation.MergeWindowMS)
	}
	if cfg.TTS.BaseSpeed != 1.05 || cfg.TTS.MaxSpeed != 1.35 {
		t.Errorf("speed defaults = %.2f/%.2f", cfg.TTS.BaseSpeed, cfg.TTS.MaxSpeed)
	}
	if !cfg.Filler.Enabled {
		t.Error("filler stripping should default to enabled")
	}
}

func TestLoadFromReader_YAMLOverride(t *testing.T) {
	src := `
translation:
  merge_enabled: false
  context_segments: 3
tts:
  default_voice: nova
  voices:
    fr: claire
`
	cfg, err := LoadFromReader(strings.NewReader(src))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Translation.MergeEnabled {
		t.Error("merge_enabled should be false")
	}
	if cfg.Translation.ContextSegments != 3 {
		t.Errorf("context_segments = %d, want 3", cfg.Translation.ContextSegments)
	}
	if cfg.TTS.Voices["fr"] != "claire" {
		t.Errorf("fr voice = %q, want claire", cfg.TTS.Voices["fr"])
	}
}

func TestLoadFromReader_Schedule(t *testing.T) {
	src := `
rooms:
  source_lang: fr-FR
  target_langs: [en-US, es-ES]
  schedule:
    - slug: keynote
      starts_at: 2026-09-01T14:00:00Z
      ends_at: 2026-09-01T16:00:00Z
`
	cfg, err := LoadFromReader(strings.NewReader(src))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Rooms.SourceLang != "fr-FR" {
		t.Errorf("source lang = %q, want fr-FR", cfg.Rooms.SourceLang)
	}
	if len(cfg.Rooms.Schedule) != 1 || cfg.Rooms.Schedule[0].Slug != "keynote" {
		t.Fatalf("schedule = %+v", cfg.Rooms.Schedule)
	}
	e := cfg.Rooms.Schedule[0]
	if e.StartsAt.IsZero() || !e.EndsAt.After(e.StartsAt) {
		t.Errorf("window = %v..%v", e.StartsAt, e.EndsAt)
	}
}

func TestValidate_ScheduleErrors(t *testing.T) {
	cfg := Default()
	cfg.Rooms.Schedule = []RoomScheduleEntry{{
		Slug:     "",
		StartsAt: time.Date(2026, 9, 1, 16, 0, 0, 0, time.UTC),
		EndsAt:   time.Date(2026, 9, 1, 14, 0, 0, 0, time.UTC),
	}}
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"slug", "ends_at"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader("bogus: 1\n"))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	ApplyEnv(cfg, mapEnv(map[string]string{
		"PATCH_LRU_PER_ROOM":           "50",
		"TRANSLATION_MERGE_ENABLED":    "false",
		"TRANSLATION_PEEK_WINDOW_MS":   "800",
		"TTS_MAX_SPEED":                "1.5",
		"WATCHDOG_EVENT_IDLE_MS":       "9000",
		"FILLER_WORDS_EN":              "you know, i mean",
		"TTS_MAX_SPEED_CHANGE_PERCENT": "20",
		"ROOM_SOURCE_LANG":             "es-MX",
		"ROOM_TARGET_LANGS":            "en-US, fr-CA",
	}))

	if cfg.Rooms.PatchLRU != 50 {
		t.Errorf("patch lru = %d, want 50", cfg.Rooms.PatchLRU)
	}
	if cfg.Translation.MergeEnabled {
		t.Error("merge should be disabled via env")
	}
	if cfg.Translation.PeekWindowMS != 800 {
		t.Errorf("peek window = %d, want 800", cfg.Translation.PeekWindowMS)
	}
	if cfg.TTS.MaxSpeed != 1.5 {
		t.Errorf("max speed = %.2f, want 1.5", cfg.TTS.MaxSpeed)
	}
	if cfg.Watchdog.EventIdleMS != 9000 {
		t.Errorf("event idle = %d, want 9000", cfg.Watchdog.EventIdleMS)
	}
	want := []string{"you know", "i mean"}
	if len(cfg.Filler.English) != len(want) || cfg.Filler.English[0] != want[0] || cfg.Filler.English[1] != want[1] {
		t.Errorf("filler list = %v, want %v", cfg.Filler.English, want)
	}
	if cfg.Rooms.SourceLang != "es-MX" {
		t.Errorf("source lang = %q, want es-MX", cfg.Rooms.SourceLang)
	}
	if len(cfg.Rooms.TargetLangs) != 2 || cfg.Rooms.TargetLangs[1] != "fr-CA" {
		t.Errorf("target langs = %v", cfg.Rooms.TargetLangs)
	}
}

func TestApplyVoiceEnv(t *testing.T) {
	cfg := Default()
	ApplyVoiceEnv(cfg, []string{
		"DEFAULT_TTS_VOICE_FR=claire",
		"DEFAULT_TTS_VOICE_DE=hans",
		"PATH=/usr/bin",
		"DEFAULT_TTS_VOICE_=ignored",
	})
	if cfg.TTS.Voices["fr"] != "claire" || cfg.TTS.Voices["de"] != "hans" {
		t.Errorf("voices = %v", cfg.TTS.Voices)
	}
	if _, ok := cfg.TTS.Voices[""]; ok {
		t.Error("empty language key should be ignored")
	}
}

func TestValidate_ClampsContextSegments(t *testing.T) {
	for _, tc := range []struct{ in, want int }{{0, 1}, {-3, 1}, {9, 5}, {3, 3}} {
		cfg := Default()
		cfg.Translation.ContextSegments = tc.in
		if err := Validate(cfg); err != nil {
			t.Fatalf("Validate(%d): %v", tc.in, err)
		}
		if cfg.Translation.ContextSegments != tc.want {
			t.Errorf("context segments %d clamped to %d, want %d", tc.in, cfg.Translation.ContextSegments, tc.want)
		}
	}
}

func TestValidate_Errors(t *testing.T) {
	cfg := Default()
	cfg.Rooms.PatchLRU = 0
	cfg.TTS.MaxSpeed = 0.5 // below base
	cfg.Watchdog.PCMIdleMS = 0
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected joined validation error")
	}
	for _, want := range []string{"patch_lru", "speeds", "watchdog"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}
