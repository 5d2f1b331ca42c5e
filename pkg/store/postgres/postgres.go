// Package postgres provides a Store backed by PostgreSQL.
//
// Snapshots are stored as one JSONB row per room (units) and one per
// (room, language) pair (speech queue). Writes replace the previous snapshot
// wholesale, so a crashed process always rehydrates a consistent view.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/babelroom/babelroom/pkg/store"
)

// Schema is the SQL DDL for the snapshot tables. Execute it via
// [Store.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS room_units (
    room       TEXT PRIMARY KEY,
    units      JSONB NOT NULL DEFAULT '[]',
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS room_tts_queues (
    room       TEXT NOT NULL,
    lang       TEXT NOT NULL,
    items      JSONB NOT NULL DEFAULT '[]',
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (room, lang)
);
`

// DB is the database interface used by [Store]. Both *pgxpool.Pool and
// *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store is a [store.Store] backed by a PostgreSQL database.
type Store struct {
	db    DB
	close func()
}

var _ store.Store = (*Store)(nil)

// New connects to the database at dsn and ensures the schema exists.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	s := &Store{db: pool, close: pool.Close}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewWithDB wraps an existing connection or pool. The caller is responsible
// for calling [Store.Migrate] and for closing the connection.
func NewWithDB(db DB) *Store {
	return &Store{db: db, close: func() {}}
}

// Migrate executes the [Schema] DDL against the database.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("postgres store: migrate: %w", err)
	}
	return nil
}

// SaveUnits implements store.Store.
func (s *Store) SaveUnits(ctx context.Context, room string, units []store.UnitRecord) error {
	blob, err := json.Marshal(emptySlice(units))
	if err != nil {
		return fmt.Errorf("postgres store: marshal units: %w", err)
	}
	const query = `
		INSERT INTO room_units (room, units, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (room) DO UPDATE SET
			units = EXCLUDED.units,
			updated_at = now()`
	if _, err := s.db.Exec(ctx, query, room, blob); err != nil {
		return fmt.Errorf("postgres store: save units for %q: %w", room, err)
	}
	return nil
}

// LoadUnits implements store.Store.
func (s *Store) LoadUnits(ctx context.Context, room string) ([]store.UnitRecord, error) {
	const query = `SELECT units FROM room_units WHERE room = $1`

	var blob []byte
	err := s.db.QueryRow(ctx, query, room).Scan(&blob)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return []store.UnitRecord{}, nil
		}
		return nil, fmt.Errorf("postgres store: load units for %q: %w", room, err)
	}

	var units []store.UnitRecord
	if err := json.Unmarshal(blob, &units); err != nil {
		return nil, fmt.Errorf("postgres store: unmarshal units for %q: %w", room, err)
	}
	return units, nil
}

// SaveTTSQueue implements store.Store.
func (s *Store) SaveTTSQueue(ctx context.Context, room, lang string, items []store.TTSItem) error {
	blob, err := json.Marshal(emptySlice(items))
	if err != nil {
		return fmt.Errorf("postgres store: marshal queue: %w", err)
	}
	const query = `
		INSERT INTO room_tts_queues (room, lang, items, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (room, lang) DO UPDATE SET
			items = EXCLUDED.items,
			updated_at = now()`
	if _, err := s.db.Exec(ctx, query, room, lang, blob); err != nil {
		return fmt.Errorf("postgres store: save queue for %q/%q: %w", room, lang, err)
	}
	return nil
}

// LoadTTSQueue implements store.Store.
func (s *Store) LoadTTSQueue(ctx context.Context, room, lang string) ([]store.TTSItem, error) {
	const query = `SELECT items FROM room_tts_queues WHERE room = $1 AND lang = $2`

	var blob []byte
	err := s.db.QueryRow(ctx, query, room, lang).Scan(&blob)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return []store.TTSItem{}, nil
		}
		return nil, fmt.Errorf("postgres store: load queue for %q/%q: %w", room, lang, err)
	}

	var items []store.TTSItem
	if err := json.Unmarshal(blob, &items); err != nil {
		return nil, fmt.Errorf("postgres store: unmarshal queue for %q/%q: %w", room, lang, err)
	}
	return items, nil
}

// DeleteRoom implements store.Store.
func (s *Store) DeleteRoom(ctx context.Context, room string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM room_units WHERE room = $1`, room); err != nil {
		return fmt.Errorf("postgres store: delete units for %q: %w", room, err)
	}
	if _, err := s.db.Exec(ctx, `DELETE FROM room_tts_queues WHERE room = $1`, room); err != nil {
		return fmt.Errorf("postgres store: delete queues for %q: %w", room, err)
	}
	return nil
}

// Close implements store.Store.
func (s *Store) Close() {
	s.close()
}

// emptySlice ensures JSON marshalling produces "[]" instead of "null".
func emptySlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
