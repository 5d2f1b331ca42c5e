// Package store defines optional persistence for room state.
//
// Persistence is best-effort: the relay is fully functional in-memory, and a
// failing store must never take a room down. Callers log store errors and
// continue. Two snapshots are kept per room: the canonical transcript units,
// and the remaining speech-queue items per language so a restarted process
// can resume speaking where it stopped.
package store

import (
	"context"
	"time"
)

// UnitRecord is the persisted form of one canonical transcript unit.
type UnitRecord struct {
	UnitID    string    `json:"unitId"`
	Root      string    `json:"root"`
	Stage     string    `json:"stage"`
	Version   int64     `json:"version"`
	Text      string    `json:"text"`
	SrcLang   string    `json:"srcLang,omitempty"`
	TTSFinal  bool      `json:"ttsFinal"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TTSItem is the persisted form of one queued speech sentence.
type TTSItem struct {
	UnitID     string    `json:"unitId"`
	RootUnitID string    `json:"rootUnitId"`
	Lang       string    `json:"lang"`
	Text       string    `json:"text"`
	Voice      string    `json:"voice,omitempty"`
	DurationMS int64     `json:"durationMs"`
	CreatedAt  time.Time `json:"createdAt"`
	SentLen    int       `json:"sentLen"`
	Version    int64     `json:"version"`
}

// Store persists room snapshots. Implementations must be safe for concurrent
// use.
type Store interface {
	// SaveUnits replaces the stored unit snapshot for a room.
	SaveUnits(ctx context.Context, room string, units []UnitRecord) error

	// LoadUnits returns the stored unit snapshot for a room, oldest first.
	// A room with no snapshot yields an empty slice and no error.
	LoadUnits(ctx context.Context, room string) ([]UnitRecord, error)

	// SaveTTSQueue replaces the stored queue snapshot for a room and language.
	SaveTTSQueue(ctx context.Context, room, lang string, items []TTSItem) error

	// LoadTTSQueue returns the stored queue snapshot for a room and language.
	LoadTTSQueue(ctx context.Context, room, lang string) ([]TTSItem, error)

	// DeleteRoom drops all snapshots for a room.
	DeleteRoom(ctx context.Context, room string) error

	// Close releases the store's resources.
	Close()
}
