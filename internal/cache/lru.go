package cache

import (
	"container/list"
	"sort"
	"sync"
	"time"
)

// index tracks the entries this process has written or read, in LRU order,
// so the manager can bound the cache and report per-key analytics. It is
// advisory: the store stays the source of truth for values and expiry.
type index struct {
	mu         sync.Mutex
	maxEntries int
	maxBytes   int64
	bytes      int64
	items      map[string]*list.Element
	list       *list.List
}

type indexEntry struct {
	key        string
	size       int64
	hits       int64
	tags       []string
	compressed bool
	expiresAt  time.Time
	lastAccess time.Time
}

func newIndex(maxEntries int, maxBytes int64) *index {
	if maxEntries < 0 {
		maxEntries = 0
	}
	if maxBytes < 0 {
		maxBytes = 0
	}
	return &index{
		maxEntries: maxEntries,
		maxBytes:   maxBytes,
		items:      make(map[string]*list.Element),
		list:       list.New(),
	}
}

// add inserts or replaces key as most recently used and returns the keys
// evicted to get back under the bounds. The key just added is never evicted.
func (ix *index) add(e indexEntry) []string {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if element, ok := ix.items[e.key]; ok {
		old := element.Value.(*indexEntry)
		ix.bytes -= old.size
		e.hits = old.hits
		element.Value = &e
		ix.list.MoveToFront(element)
	} else {
		ix.items[e.key] = ix.list.PushFront(&e)
	}
	ix.bytes += e.size

	return ix.evictIfNeeded()
}

// touch records a hit. Entries read but not written by this process are
// added with what the envelope says about them.
func (ix *index) touch(e indexEntry) []string {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if element, ok := ix.items[e.key]; ok {
		entry := element.Value.(*indexEntry)
		entry.hits++
		entry.lastAccess = e.lastAccess
		ix.list.MoveToFront(element)
		return nil
	}

	e.hits = 1
	ix.items[e.key] = ix.list.PushFront(&e)
	ix.bytes += e.size
	return ix.evictIfNeeded()
}

func (ix *index) remove(key string) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	element, ok := ix.items[key]
	if !ok {
		return false
	}
	ix.bytes -= element.Value.(*indexEntry).size
	ix.list.Remove(element)
	delete(ix.items, key)
	return true
}

func (ix *index) overBounds() bool {
	if ix.maxEntries > 0 && len(ix.items) > ix.maxEntries {
		return true
	}
	return ix.maxBytes > 0 && ix.bytes > ix.maxBytes
}

// evictIfNeeded drops least recently used keys until the index is within
// bounds. Callers hold mu.
func (ix *index) evictIfNeeded() []string {
	var evicted []string
	for ix.overBounds() && ix.list.Len() > 1 {
		element := ix.list.Back()
		entry := element.Value.(*indexEntry)
		evicted = append(evicted, entry.key)
		ix.bytes -= entry.size
		ix.list.Remove(element)
		delete(ix.items, entry.key)
	}
	return evicted
}

// expired removes and returns the keys whose expiry has passed.
func (ix *index) expired(now time.Time) []string {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	var keys []string
	for key, element := range ix.items {
		entry := element.Value.(*indexEntry)
		if entry.expiresAt.IsZero() || now.Before(entry.expiresAt) {
			continue
		}
		keys = append(keys, key)
		ix.bytes -= entry.size
		ix.list.Remove(element)
		delete(ix.items, key)
	}
	sort.Strings(keys)
	return keys
}

func (ix *index) reset() {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.items = make(map[string]*list.Element)
	ix.list.Init()
	ix.bytes = 0
}

func (ix *index) len() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return len(ix.items)
}

func (ix *index) size() int64 {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.bytes
}

// snapshot copies every entry, most recently used first.
func (ix *index) snapshot() []indexEntry {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	out := make([]indexEntry, 0, len(ix.items))
	for element := ix.list.Front(); element != nil; element = element.Next() {
		out = append(out, *element.Value.(*indexEntry))
	}
	return out
}
