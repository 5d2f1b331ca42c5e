package room

import (
	"context"
	"sync"

	"github.com/babelroom/babelroom/pkg/types"
)

// Hub owns every live room, keyed by slug. Rooms are created lazily on first
// use and shut down together with the server.
type Hub struct {
	deps Deps

	mu    sync.Mutex
	rooms map[string]*Room
}

// NewHub creates an empty hub.
func NewHub(deps Deps) *Hub {
	return &Hub{
		deps:  deps,
		rooms: make(map[string]*Room),
	}
}

// Get returns the live room for slug, or nil.
func (h *Hub) Get(slug string) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rooms[slug]
}

// GetOrCreate returns the live room for meta.Slug, creating it on first use.
func (h *Hub) GetOrCreate(meta types.RoomMeta) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.rooms[meta.Slug]; ok {
		return r
	}
	r := New(meta, h.deps)
	h.rooms[meta.Slug] = r
	if h.deps.Metrics != nil {
		h.deps.Metrics.ActiveRooms.Add(context.Background(), 1)
	}
	return r
}

// Remove shuts down and forgets the room for slug, if it exists.
func (h *Hub) Remove(slug string) {
	h.mu.Lock()
	r, ok := h.rooms[slug]
	delete(h.rooms, slug)
	h.mu.Unlock()
	if !ok {
		return
	}
	r.Shutdown()
	if h.deps.Metrics != nil {
		h.deps.Metrics.ActiveRooms.Add(context.Background(), -1)
	}
}

// Len reports the number of live rooms.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}

// Shutdown stops every room.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	rooms := make([]*Room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.rooms = make(map[string]*Room)
	h.mu.Unlock()

	for _, r := range rooms {
		r.Shutdown()
		if h.deps.Metrics != nil {
			h.deps.Metrics.ActiveRooms.Add(context.Background(), -1)
		}
	}
}
