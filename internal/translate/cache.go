// Package translate implements the room's translation pipeline: a cache keyed
// by unit revision, a rolling context buffer, a backward peek window for
// gender-driven revision, a merge buffer that coalesces short hard units, and
// the client that drives the configured backends.
package translate

import (
	"github.com/babelroom/babelroom/pkg/provider/translator"
	"github.com/babelroom/babelroom/pkg/types"
)

type cacheKey struct {
	unitID  string
	version int64
	lang    string
}

// Cache memoises translation results per (unitId, version, targetLang).
//
// Entries live exactly as long as their unit: the unit store's eviction
// callback and the room reset both call DropRoot. Not safe for concurrent
// use; the room worker serialises access.
type Cache struct {
	entries map[cacheKey]translator.Result
	byRoot  map[string]map[cacheKey]struct{}
}

// NewCache creates an empty Cache.
func NewCache() *Cache {
	return &Cache{
		entries: make(map[cacheKey]translator.Result),
		byRoot:  make(map[string]map[cacheKey]struct{}),
	}
}

// Get returns the cached result for the triple, if any.
func (c *Cache) Get(unitID string, version int64, lang string) (translator.Result, bool) {
	r, ok := c.entries[cacheKey{unitID, version, lang}]
	return r, ok
}

// Put stores a result under the triple.
func (c *Cache) Put(unitID string, version int64, lang string, r translator.Result) {
	key := cacheKey{unitID, version, lang}
	c.entries[key] = r

	root := types.Root(unitID)
	keys, ok := c.byRoot[root]
	if !ok {
		keys = make(map[cacheKey]struct{})
		c.byRoot[root] = keys
	}
	keys[key] = struct{}{}
}

// DropRoot removes every entry belonging to root, including entries stored
// under suffixed unit IDs ("u1#merged").
func (c *Cache) DropRoot(root string) {
	for key := range c.byRoot[root] {
		delete(c.entries, key)
	}
	delete(c.byRoot, root)
}

// Len returns the number of cached results.
func (c *Cache) Len() int { return len(c.entries) }

// Clear drops everything.
func (c *Cache) Clear() {
	c.entries = make(map[cacheKey]translator.Result)
	c.byRoot = make(map[string]map[cacheKey]struct{})
}
