package cache

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/larkspur-labs/proxycache/internal/httpmsg"
)

// Cache is a fixed-capacity table of entries keyed by host+path, with TTL
// tracking and stale-first LRU eviction. Per spec §5's mutex-guarded
// fallback (this repo's chosen concurrency model — see DESIGN.md), Cache
// is reached from one goroutine per client connection and is guarded by a
// single mutex so every operation below remains atomic; the documented
// invariants hold at every lock release point.
type Cache struct {
	mu            sync.Mutex
	capacity      int
	slots         []*Entry
	hashes        []uint64
	lru           *lruList
	keys          []string
	size          int
	defaultMaxAge time.Duration
	now           func() time.Time

	Hits, Misses, Evictions int64
}

// New constructs a Cache with room for capacity entries. defaultMaxAge is
// used by callers that need it (the HTTP codec derives max-age from
// Cache-Control independently); it is stored here only so admin tooling can
// report the configured default.
func New(capacity int, defaultMaxAge time.Duration) *Cache {
	return &Cache{
		capacity:      capacity,
		slots:         make([]*Entry, capacity),
		hashes:        make([]uint64, capacity),
		lru:           newLRUList(capacity),
		keys:          make([]string, 0, capacity),
		defaultMaxAge: defaultMaxAge,
		now:           time.Now,
	}
}

func keyHash(key string) uint64 {
	return xxhash.Sum64String(key)
}

// findSlot returns the slot index holding a live (non-deleted) entry for
// key, or sentinel if none. The xxhash comparison only prunes candidates;
// a match always requires exact key equality (Open Question 2, spec §9).
func (c *Cache) findSlot(key string) int {
	h := keyHash(key)
	for i, e := range c.slots {
		if e == nil || e.Deleted {
			continue
		}
		if c.hashes[i] != h {
			continue
		}
		if e.Key == key {
			return i
		}
	}
	return sentinel
}

func (c *Cache) freeSlot() int {
	for i, e := range c.slots {
		if e == nil || e.Deleted {
			return i
		}
	}
	return sentinel
}

// Put inserts value under key with the given max-age. If key already holds
// a live entry, it is updated in place (preserving the at-most-one-per-key
// invariant) and moved to the LRU tail. Otherwise, if the cache is full,
// evict() runs first.
func (c *Cache) Put(key string, value *httpmsg.Response, maxAge time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if i := c.findSlot(key); i != sentinel {
		c.slots[i].update(value, maxAge, now)
		c.lru.moveToBack(i)
		return
	}

	if c.size >= c.capacity {
		c.evict()
	}

	i := c.freeSlot()
	if i == sentinel {
		// Defensive: evict() above should always free a slot when
		// size >= capacity. If callers construct a zero-capacity cache
		// this is a no-op insert.
		return
	}
	c.slots[i] = newEntry(key, value, maxAge, now)
	c.hashes[i] = keyHash(key)
	c.lru.pushBack(i)
	c.keys = append(c.keys, key)
	c.size++
}

// Get returns the cached value for key if present and fresh, moving the
// entry to the LRU tail and marking it retrieved. A stale entry is always
// removed and reported as a miss (Open Question 1, spec §9) — there is no
// code path that returns a stale value.
func (c *Cache) Get(key string) (*httpmsg.Response, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.findSlot(key)
	if i == sentinel {
		c.Misses++
		return nil, false
	}
	e := c.slots[i]
	e.touch(c.now())
	if e.isStale() {
		c.removeSlot(i)
		c.Misses++
		return nil, false
	}
	c.lru.moveToBack(i)
	e.Retrieved = true
	c.Hits++
	return e.Value, true
}

// GetWithAge behaves exactly like Get but also reports the age (wall-clock
// seconds since creation) at the moment of the hit, atomically under the
// same lock acquisition — letting the "Age:" header a caller attaches
// reflect precisely the state Get observed, rather than a second,
// separately-locked read that could race a concurrent Refresh/evict.
func (c *Cache) GetWithAge(key string) (*httpmsg.Response, float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.findSlot(key)
	if i == sentinel {
		c.Misses++
		return nil, 0, false
	}
	e := c.slots[i]
	now := c.now()
	e.touch(now)
	if e.isStale() {
		c.removeSlot(i)
		c.Misses++
		return nil, 0, false
	}
	c.lru.moveToBack(i)
	e.Retrieved = true
	c.Hits++
	return e.Value, e.age(now).Seconds(), true
}

// Find returns the Entry for key without mutating recency or staleness.
func (c *Cache) Find(key string) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.findSlot(key)
	if i == sentinel {
		return nil, false
	}
	return c.slots[i], true
}

// Remove deletes key's entry from the table and LRU list, releasing its
// value.
func (c *Cache) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := c.findSlot(key); i != sentinel {
		c.removeSlot(i)
	}
}

func (c *Cache) removeSlot(i int) {
	key := c.slots[i].Key
	c.lru.remove(i)
	c.slots[i].delete()
	c.removeKey(key)
	c.size--
}

// removeKey finds key in the contiguous live-key array and left-shifts the
// remainder, keeping the array dense. Equality here is exact Go string
// comparison: identical bytes and identical length, never a truthy
// strncmp-style prefix match (Open Question 2).
func (c *Cache) removeKey(key string) {
	for i, k := range c.keys {
		if k == key {
			copy(c.keys[i:], c.keys[i+1:])
			c.keys = c.keys[:len(c.keys)-1]
			return
		}
	}
}

// evict runs the stale-first eviction policy: touch every live entry,
// then remove the oldest stale entry if any exist, otherwise remove the
// LRU head. A cold-but-fresh entry can outlive a newly touched stale one.
func (c *Cache) evict() {
	c.refreshLocked()

	oldestStale := sentinel
	for i, e := range c.slots {
		if e == nil || e.Deleted || !e.isStale() {
			continue
		}
		if oldestStale == sentinel || e.isOlderThan(c.slots[oldestStale]) {
			oldestStale = i
		}
	}
	if oldestStale != sentinel {
		c.removeSlot(oldestStale)
		c.Evictions++
		return
	}

	head := c.lru.head
	if head == sentinel {
		return
	}
	c.removeSlot(head)
	c.Evictions++
}

// Refresh invokes touch on every live entry, keeping ttl/stale flags
// current. evict runs the same refresh under the lock before choosing a
// victim; nothing else in this module calls Refresh.
func (c *Cache) Refresh() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshLocked()
}

func (c *Cache) refreshLocked() {
	now := c.now()
	for _, e := range c.slots {
		if e != nil && !e.Deleted {
			e.touch(now)
		}
	}
}

// GetAge returns wall-clock seconds since creation, or -1 if key is
// absent. It does not affect recency (uses Find semantics).
func (c *Cache) GetAge(key string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.findSlot(key)
	if i == sentinel {
		return -1
	}
	return c.slots[i].age(c.now()).Seconds()
}

// KeyList returns a read-only snapshot of the contiguous live-key array.
func (c *Cache) KeyList() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.keys))
	copy(out, c.keys)
	return out
}

// Size returns the number of live entries currently held.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Capacity returns the fixed number of slots the cache was constructed
// with. Constant after New, so it is safe to read unlocked.
func (c *Cache) Capacity() int {
	return c.capacity
}

// DefaultMaxAge returns the configured default max-age (for admin
// reporting only; parsing derives its own default independently).
// Constant after New.
func (c *Cache) DefaultMaxAge() time.Duration {
	return c.defaultMaxAge
}

// SnapshotEntry is a read-only view of one live entry, used by the admin
// surface.
type SnapshotEntry struct {
	Key        string
	AgeSeconds float64
	Stale      bool
	Retrieved  bool
}

// Snapshot returns a point-in-time view of every live entry, without
// mutating recency.
func (c *Cache) Snapshot() []SnapshotEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	out := make([]SnapshotEntry, 0, c.size)
	for _, e := range c.slots {
		if e == nil || e.Deleted {
			continue
		}
		out = append(out, SnapshotEntry{
			Key:        e.Key,
			AgeSeconds: e.age(now).Seconds(),
			Stale:      e.Stale,
			Retrieved:  e.Retrieved,
		})
	}
	return out
}

// HitCount, MissCount, and EvictionCount report the running totals used by
// the admin metrics surface.
func (c *Cache) HitCount() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Hits
}

func (c *Cache) MissCount() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Misses
}

func (c *Cache) EvictionCount() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Evictions
}

// invariant (test-only helper): size == live slots == lru length == key
// array length. Unexported; cache_test.go (same package) asserts it after
// every operation.
func (c *Cache) checkInvariant() (liveSlots, lruLen, keyLen, size int) {
	for _, e := range c.slots {
		if e != nil && !e.Deleted {
			liveSlots++
		}
	}
	return liveSlots, c.lru.Len(), len(c.keys), c.size
}
