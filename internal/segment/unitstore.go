package segment

import (
	"container/list"
	"time"

	"github.com/babelroom/babelroom/pkg/types"
)

// Unit is the canonical state of one utterance-in-progress, keyed by its root.
// Only the [Processor] mutates Units.
type Unit struct {
	UnitID    string
	Root      string
	Stage     types.Stage
	Version   int64
	Text      string
	SrcLang   string
	TS        *types.Timestamps
	UpdatedAt time.Time
	TTSFinal  bool
}

// UnitStore is an LRU-bounded collection of canonical transcript units for one
// room. It is not safe for concurrent use; the owning room worker serialises
// access.
type UnitStore struct {
	max     int
	order   *list.List // front = most recently written
	byRoot  map[string]*list.Element
	onEvict func(root string)
}

// NewUnitStore creates a store bounded to max units. onEvict, if non-nil, is
// called with the root of every evicted unit so dependent caches can drop
// their entries.
func NewUnitStore(max int, onEvict func(root string)) *UnitStore {
	if max <= 0 {
		max = 1
	}
	return &UnitStore{
		max:     max,
		order:   list.New(),
		byRoot:  make(map[string]*list.Element),
		onEvict: onEvict,
	}
}

// Get returns the unit for root, or nil when absent. Reads do not refresh
// recency; only writes do.
func (s *UnitStore) Get(root string) *Unit {
	if el, ok := s.byRoot[root]; ok {
		return el.Value.(*Unit)
	}
	return nil
}

// Put replaces the unit for u.Root, refreshing its recency, then enforces the
// LRU bound by evicting the oldest roots.
func (s *UnitStore) Put(u *Unit) {
	if el, ok := s.byRoot[u.Root]; ok {
		s.order.Remove(el)
		delete(s.byRoot, u.Root)
	}
	s.byRoot[u.Root] = s.order.PushFront(u)

	for s.order.Len() > s.max {
		oldest := s.order.Back()
		evicted := oldest.Value.(*Unit)
		s.order.Remove(oldest)
		delete(s.byRoot, evicted.Root)
		if s.onEvict != nil {
			s.onEvict(evicted.Root)
		}
	}
}

// Len returns the number of stored units.
func (s *UnitStore) Len() int { return s.order.Len() }

// Units returns all stored units, most recently written first.
func (s *UnitStore) Units() []*Unit {
	out := make([]*Unit, 0, s.order.Len())
	for el := s.order.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*Unit))
	}
	return out
}

// Clear drops all units without invoking the eviction callback.
func (s *UnitStore) Clear() {
	s.order.Init()
	s.byRoot = make(map[string]*list.Element)
}
