// Package memory provides an in-process Store, used by default and in tests.
package memory

import (
	"context"
	"sync"

	"github.com/babelroom/babelroom/pkg/store"
)

type queueKey struct {
	room string
	lang string
}

// Store keeps snapshots in maps.
type Store struct {
	mu     sync.RWMutex
	units  map[string][]store.UnitRecord
	queues map[queueKey][]store.TTSItem
}

var _ store.Store = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		units:  make(map[string][]store.UnitRecord),
		queues: make(map[queueKey][]store.TTSItem),
	}
}

// SaveUnits implements store.Store.
func (s *Store) SaveUnits(_ context.Context, room string, units []store.UnitRecord) error {
	snapshot := make([]store.UnitRecord, len(units))
	copy(snapshot, units)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.units[room] = snapshot
	return nil
}

// LoadUnits implements store.Store.
func (s *Store) LoadUnits(_ context.Context, room string) ([]store.UnitRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.UnitRecord, len(s.units[room]))
	copy(out, s.units[room])
	return out, nil
}

// SaveTTSQueue implements store.Store.
func (s *Store) SaveTTSQueue(_ context.Context, room, lang string, items []store.TTSItem) error {
	snapshot := make([]store.TTSItem, len(items))
	copy(snapshot, items)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.queues[queueKey{room, lang}] = snapshot
	return nil
}

// LoadTTSQueue implements store.Store.
func (s *Store) LoadTTSQueue(_ context.Context, room, lang string) ([]store.TTSItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := s.queues[queueKey{room, lang}]
	out := make([]store.TTSItem, len(items))
	copy(out, items)
	return out, nil
}

// DeleteRoom implements store.Store.
func (s *Store) DeleteRoom(_ context.Context, room string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.units, room)
	for key := range s.queues {
		if key.room == room {
			delete(s.queues, key)
		}
	}
	return nil
}

// Close implements store.Store.
func (s *Store) Close() {}
