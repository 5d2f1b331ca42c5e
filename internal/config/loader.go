package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path, applies environment
// overrides, and returns a validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Default], applies
// environment overrides, and validates the result. Useful in tests where
// configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyEnv(cfg, os.LookupEnv)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg fields from the flat environment variable names used
// by deployments. lookup is injectable so tests can supply a map instead of
// the process environment.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	setInt := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setFloat := func(key string, dst *float64) {
		if v, ok := lookup(key); ok {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = f
			}
		}
	}
	setBool := func(key string, dst *bool) {
		if v, ok := lookup(key); ok {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}
	setList := func(key string, dst *[]string) {
		if v, ok := lookup(key); ok {
			parts := strings.Split(v, ",")
			out := make([]string, 0, len(parts))
			for _, p := range parts {
				if p = strings.TrimSpace(p); p != "" {
					out = append(out, p)
				}
			}
			*dst = out
		}
	}

	setInt("PATCH_LRU_PER_ROOM", &cfg.Rooms.PatchLRU)
	setInt("PATCH_HISTORY_MAX_MS", &cfg.Rooms.HistoryMaxMS)
	if v, ok := lookup("ROOM_SOURCE_LANG"); ok {
		cfg.Rooms.SourceLang = v
	}
	setList("ROOM_TARGET_LANGS", &cfg.Rooms.TargetLangs)

	setBool("TRANSLATION_MERGE_ENABLED", &cfg.Translation.MergeEnabled)
	setInt("TRANSLATION_MERGE_WINDOW_MS", &cfg.Translation.MergeWindowMS)
	setInt("TRANSLATION_MERGE_MIN_CHARS", &cfg.Translation.MergeMinChars)
	setInt("TRANSLATION_MERGE_MAX_COUNT", &cfg.Translation.MergeMaxCount)
	setInt("TRANSLATION_CONTEXT_SEGMENTS", &cfg.Translation.ContextSegments)

	setBool("TRANSLATION_PEEK_ENABLED", &cfg.Translation.PeekEnabled)
	setInt("TRANSLATION_PEEK_WINDOW_MS", &cfg.Translation.PeekWindowMS)
	setInt("TRANSLATION_PEEK_MAX_SEGMENTS", &cfg.Translation.PeekMaxSegments)
	setFloat("TRANSLATION_PEEK_MIN_CONFIDENCE", &cfg.Translation.PeekMinConfidence)

	setFloat("TTS_BASE_SPEED", &cfg.TTS.BaseSpeed)
	setFloat("TTS_MAX_SPEED", &cfg.TTS.MaxSpeed)
	setFloat("TTS_BACKLOG_RAMP_START_SEC", &cfg.TTS.RampStartSec)
	setFloat("TTS_BACKLOG_RAMP_END_SEC", &cfg.TTS.RampEndSec)
	setFloat("TTS_MAX_SPEED_CHANGE_PERCENT", &cfg.TTS.MaxChangePct)

	if v, ok := lookup("DEFAULT_TTS_VOICE"); ok {
		cfg.TTS.DefaultVoice = v
	}
	// Per-language voices: DEFAULT_TTS_VOICE_FR=... etc. The environ walk is
	// done by the caller in main via [ApplyVoiceEnv]; here only the fixed keys
	// are handled so lookup can stay a plain map in tests.

	setInt("WATCHDOG_EVENT_IDLE_MS", &cfg.Watchdog.EventIdleMS)
	setInt("WATCHDOG_PCM_IDLE_MS", &cfg.Watchdog.PCMIdleMS)

	setBool("FILTER_FILLER_WORDS", &cfg.Filler.Enabled)
	setList("FILLER_WORDS_EN", &cfg.Filler.English)
	setList("FILLER_WORDS_FR", &cfg.Filler.French)
}

// ApplyVoiceEnv scans environ entries (as returned by os.Environ) for
// DEFAULT_TTS_VOICE_<LANG> keys and records them as per-language voices.
// The <LANG> suffix is lowered, so DEFAULT_TTS_VOICE_FR selects the voice
// for any "fr"-based target.
func ApplyVoiceEnv(cfg *Config, environ []string) {
	const prefix = "DEFAULT_TTS_VOICE_"
	for _, kv := range environ {
		if !strings.HasPrefix(kv, prefix) {
			continue
		}
		eq := strings.IndexByte(kv, '=')
		if eq < 0 {
			continue
		}
		lang := strings.ToLower(kv[len(prefix):eq])
		if lang == "" || kv[eq+1:] == "" {
			continue
		}
		if cfg.TTS.Voices == nil {
			cfg.TTS.Voices = map[string]string{}
		}
		cfg.TTS.Voices[lang] = kv[eq+1:]
	}
}

// Validate checks that cfg contains a coherent set of values and clamps the
// ranges the runtime relies on. It returns a joined error listing all
// validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Rooms.PatchLRU <= 0 {
		errs = append(errs, fmt.Errorf("rooms.patch_lru must be positive, got %d", cfg.Rooms.PatchLRU))
	}
	if cfg.Rooms.HistoryMaxMS < 0 {
		errs = append(errs, fmt.Errorf("rooms.history_max_ms must not be negative, got %d", cfg.Rooms.HistoryMaxMS))
	}
	for i, entry := range cfg.Rooms.Schedule {
		if entry.Slug == "" {
			errs = append(errs, fmt.Errorf("rooms.schedule[%d]: slug is required", i))
		}
		if !entry.StartsAt.IsZero() && !entry.EndsAt.IsZero() && !entry.EndsAt.After(entry.StartsAt) {
			errs = append(errs, fmt.Errorf("rooms.schedule[%d] %q: ends_at must be after starts_at", i, entry.Slug))
		}
	}

	// Context window is clamped rather than rejected: out-of-range values are
	// common in hand-edited deployments and a hard failure buys nothing.
	if cfg.Translation.ContextSegments < 1 {
		cfg.Translation.ContextSegments = 1
	}
	if cfg.Translation.ContextSegments > 5 {
		cfg.Translation.ContextSegments = 5
	}

	if cfg.Translation.MergeWindowMS <= 0 {
		errs = append(errs, fmt.Errorf("translation.merge_window_ms must be positive, got %d", cfg.Translation.MergeWindowMS))
	}
	if cfg.Translation.MergeMaxCount < 2 {
		errs = append(errs, fmt.Errorf("translation.merge_max_count must be at least 2, got %d", cfg.Translation.MergeMaxCount))
	}
	if cfg.Translation.PeekMinConfidence < 0 || cfg.Translation.PeekMinConfidence > 1 {
		errs = append(errs, fmt.Errorf("translation.peek_min_confidence %.2f is out of range [0, 1]", cfg.Translation.PeekMinConfidence))
	}

	if cfg.TTS.BaseSpeed <= 0 || cfg.TTS.MaxSpeed < cfg.TTS.BaseSpeed {
		errs = append(errs, fmt.Errorf("tts speeds invalid: base %.2f, max %.2f", cfg.TTS.BaseSpeed, cfg.TTS.MaxSpeed))
	}
	if cfg.TTS.RampEndSec <= cfg.TTS.RampStartSec {
		errs = append(errs, fmt.Errorf("tts.ramp_end_sec %.1f must exceed ramp_start_sec %.1f", cfg.TTS.RampEndSec, cfg.TTS.RampStartSec))
	}
	if cfg.TTS.MaxChangePct <= 0 || cfg.TTS.MaxChangePct > 100 {
		errs = append(errs, fmt.Errorf("tts.max_change_pct %.1f is out of range (0, 100]", cfg.TTS.MaxChangePct))
	}

	if cfg.Watchdog.EventIdleMS <= 0 || cfg.Watchdog.PCMIdleMS <= 0 {
		errs = append(errs, fmt.Errorf("watchdog idle thresholds must be positive, got event %d / pcm %d", cfg.Watchdog.EventIdleMS, cfg.Watchdog.PCMIdleMS))
	}

	return errors.Join(errs...)
}
