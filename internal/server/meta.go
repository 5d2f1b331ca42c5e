package server

import (
	"context"
	"sync"
	"time"

	"github.com/babelroom/babelroom/pkg/types"
)

// WindowState classifies a room's schedule relative to now.
type WindowState string

const (
	// WindowEarly means the room has not opened yet; the client may retry.
	WindowEarly WindowState = "early"

	// WindowOpen admits connections.
	WindowOpen WindowState = "open"

	// WindowExpired means the room is past its end plus grace; terminal.
	WindowExpired WindowState = "expired"
)

// MetaSource resolves a room slug to its metadata record. Get returns
// (nil, nil) for unknown rooms.
type MetaSource interface {
	Get(ctx context.Context, slug string) (*types.RoomMeta, error)
}

// windowState computes the admission state from the room's schedule. Rooms
// with no schedule are always open.
func windowState(meta *types.RoomMeta, now time.Time, earlyJoin, grace time.Duration) WindowState {
	if meta.StartsAt.IsZero() && meta.EndsAt.IsZero() {
		return WindowOpen
	}
	if !meta.StartsAt.IsZero() && now.Before(meta.StartsAt.Add(-earlyJoin)) {
		return WindowEarly
	}
	if !meta.EndsAt.IsZero() && now.After(meta.EndsAt.Add(grace)) {
		return WindowExpired
	}
	return WindowOpen
}

// StaticSource is a MetaSource over a fixed set of rooms, for deployments
// whose schedule comes from configuration and for tests.
type StaticSource struct {
	mu    sync.RWMutex
	rooms map[string]types.RoomMeta
}

var _ MetaSource = (*StaticSource)(nil)

// NewStaticSource creates a source holding the given rooms.
func NewStaticSource(rooms ...types.RoomMeta) *StaticSource {
	s := &StaticSource{rooms: make(map[string]types.RoomMeta, len(rooms))}
	for _, m := range rooms {
		s.rooms[m.Slug] = m
	}
	return s
}

// Add inserts or replaces one room record.
func (s *StaticSource) Add(meta types.RoomMeta) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[meta.Slug] = meta
}

// Get implements MetaSource.
func (s *StaticSource) Get(_ context.Context, slug string) (*types.RoomMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.rooms[slug]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

// OpenSource admits every slug with a fabricated, always-open room record.
// Useful for credential-less and single-tenant deployments.
type OpenSource struct {
	// SourceLang is the declared speaker language of every room.
	SourceLang string

	// DefaultTargetLangs seeds each room's translation targets.
	DefaultTargetLangs []string
}

var _ MetaSource = (*OpenSource)(nil)

// Get implements MetaSource.
func (s *OpenSource) Get(_ context.Context, slug string) (*types.RoomMeta, error) {
	return &types.RoomMeta{
		Slug:               slug,
		SourceLang:         s.SourceLang,
		DefaultTargetLangs: s.DefaultTargetLangs,
	}, nil
}
