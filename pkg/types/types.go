// Package types defines the shared types used across all Babelroom packages.
//
// These types form the lingua franca between the segment processor, the
// translation pipeline, the broadcast fan-out, and the TTS queues. They are
// intentionally minimal — each package defines its own domain types, but
// cross-cutting data structures live here to avoid circular imports.
package types

import (
	"encoding/json"
	"strings"
	"time"
)

// Stage classifies a revision of an utterance.
type Stage string

const (
	// StageSoft is a preview revision. Soft patches update subscriber text but
	// never trigger translation or speech synthesis.
	StageSoft Stage = "soft"

	// StageHard is a commit revision. Hard patches are translated and, when
	// marked final for TTS, synthesised.
	StageHard Stage = "hard"
)

// IsValid reports whether s is a recognised stage.
func (s Stage) IsValid() bool {
	return s == StageSoft || s == StageHard
}

// Root strips any "#<suffix>" from a unit ID, yielding the key that identifies
// the utterance across revisions and TTS sub-segments.
func Root(unitID string) string {
	if i := strings.Index(unitID, "#"); i >= 0 {
		return unitID[:i]
	}
	return unitID
}

// Timestamps carries the optional start/end millisecond offsets of a unit
// relative to the recogniser's session clock.
type Timestamps struct {
	T0 int64 `json:"t0"`
	T1 int64 `json:"t1"`
}

// Patch is a single ingress revision from the speaker. The wire format admits
// two field-name families ("stage"/"version" and "isFinal"/"rev"); UnmarshalJSON
// folds both into the canonical form.
type Patch struct {
	// UnitID identifies the utterance revision. Required.
	UnitID string `json:"unitId"`

	// Stage is the canonical revision stage.
	Stage Stage `json:"stage"`

	// Version is the monotonic revision counter within the unit's root.
	Version int64 `json:"version"`

	// Text is the recognised text for this revision.
	Text string `json:"text"`

	// SrcLang is the BCP-47 source language tag, when the recogniser knows it.
	SrcLang string `json:"srcLang,omitempty"`

	// TS holds optional utterance timestamps.
	TS *Timestamps `json:"ts,omitempty"`

	// TTSFinal marks the revision as safe to speak. When absent on the wire it
	// defaults to (Stage == StageHard) at acceptance time.
	TTSFinal *bool `json:"ttsFinal,omitempty"`
}

// patchWire is the superset of accepted ingress field names.
type patchWire struct {
	UnitID   string      `json:"unitId"`
	Stage    string      `json:"stage"`
	IsFinal  *bool       `json:"isFinal"`
	Version  *int64      `json:"version"`
	Rev      *int64      `json:"rev"`
	Text     string      `json:"text"`
	SrcLang  string      `json:"srcLang"`
	TS       *Timestamps `json:"ts"`
	TTSFinal *bool       `json:"ttsFinal"`
}

// UnmarshalJSON accepts both ingress field-name families. "stage" wins over
// "isFinal" and "version" wins over "rev" when both are present.
func (p *Patch) UnmarshalJSON(data []byte) error {
	var w patchWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	p.UnitID = w.UnitID
	p.Text = w.Text
	p.SrcLang = w.SrcLang
	p.TS = w.TS
	p.TTSFinal = w.TTSFinal

	switch {
	case w.Stage != "":
		p.Stage = Stage(w.Stage)
	case w.IsFinal != nil && *w.IsFinal:
		p.Stage = StageHard
	case w.IsFinal != nil:
		p.Stage = StageSoft
	}

	switch {
	case w.Version != nil:
		p.Version = *w.Version
	case w.Rev != nil:
		p.Version = *w.Rev
	}
	return nil
}

// EgressPatch is one wire record delivered to subscribers for an accepted
// revision in one language.
type EgressPatch struct {
	UnitID     string      `json:"unitId"`
	Stage      Stage       `json:"stage"`
	Op         string      `json:"op"`
	Version    int64       `json:"version"`
	Text       string      `json:"text"`
	SrcLang    string      `json:"srcLang,omitempty"`
	TargetLang string      `json:"targetLang,omitempty"`
	TTSFinal   bool        `json:"ttsFinal,omitempty"`
	SentLen    *SentLens   `json:"sentLen,omitempty"`
	TS         *Timestamps `json:"ts,omitempty"`
	EmittedAt  int64       `json:"emittedAt"`
	Provider   string      `json:"provider,omitempty"`
}

// Egress operations. OpReplace records replace the full text of their unit at
// the carried version; OpRevision records re-issue a previous unit's
// translation after a backward peek corrected its pronouns.
const (
	OpReplace  = "replace"
	OpRevision = "translation-revision"
)

// SentLens carries parallel arrays of source and target sentence character
// lengths, used by the TTS queue to split translated text on the same
// boundaries the translator reported.
type SentLens struct {
	Src   []int `json:"src,omitempty"`
	Trans []int `json:"trans,omitempty"`
}

// AudioRecord is one synthesised sentence of audio for a subscriber.
type AudioRecord struct {
	UnitID     string `json:"unitId"`
	RootUnitID string `json:"rootUnitId"`
	Lang       string `json:"lang"`
	Text       string `json:"text"`
	Audio      []byte `json:"audio"`
	Format     string `json:"format"`
	Voice      string `json:"voice"`
	SentLen    int    `json:"sentLen,omitempty"`
	Version    int64  `json:"version"`
}

// Role distinguishes the two kinds of room connections.
type Role string

const (
	RoleSpeaker  Role = "speaker"
	RoleListener Role = "listener"
)

// LangSource is the subscriber language alias that selects the untranslated
// source patch regardless of the source language tag.
const LangSource = "source"

// RoomMeta is the read-only room record consumed from the metadata source.
type RoomMeta struct {
	Slug               string    `json:"slug"`
	SourceLang         string    `json:"sourceLang"`
	AutoDetectLangs    []string  `json:"autoDetectLangs,omitempty"`
	DefaultTargetLangs []string  `json:"defaultTargetLangs,omitempty"`
	StartsAt           time.Time `json:"startsAt"`
	EndsAt             time.Time `json:"endsAt"`
}
