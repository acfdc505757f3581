// Package cache implements the fixed-capacity, TTL-aware LRU response
// cache: one non-owning doubly linked recency list over a fixed array of
// entry slots, with stale-first eviction.
package cache

import (
	"time"

	"github.com/larkspur-labs/proxycache/internal/httpmsg"
)

// Entry is one cache record: a deep-owned response plus the bookkeeping
// spec §3 requires. ttl = max_age - (now - created_at); stale = ttl <= 0.
type Entry struct {
	Key       string
	Value     *httpmsg.Response
	CreatedAt time.Time
	MaxAge    time.Duration
	TTL       time.Duration
	Stale     bool
	Retrieved bool
	Deleted   bool
}

func newEntry(key string, value *httpmsg.Response, maxAge time.Duration, now time.Time) *Entry {
	e := &Entry{
		Key:       key,
		Value:     value,
		CreatedAt: now,
		MaxAge:    maxAge,
	}
	e.touch(now)
	return e
}

// touch recomputes ttl and stale from the given clock reading.
func (e *Entry) touch(now time.Time) {
	e.TTL = e.MaxAge - now.Sub(e.CreatedAt)
	e.Stale = e.TTL <= 0
}

// age returns wall-clock time elapsed since creation.
func (e *Entry) age(now time.Time) time.Duration {
	return now.Sub(e.CreatedAt)
}

func (e *Entry) isStale() bool {
	return e.Stale
}

// isOlderThan is strict creation-time ordering, used to break ties among
// stale entries during eviction (oldest stale entry goes first).
func (e *Entry) isOlderThan(other *Entry) bool {
	return e.CreatedAt.Before(other.CreatedAt)
}

// update replaces the entry's value and max-age, releasing the prior value
// first: an Entry never owns more than one value at a time.
func (e *Entry) update(value *httpmsg.Response, maxAge time.Duration, now time.Time) {
	e.Value = nil
	e.Value = value
	e.MaxAge = maxAge
	e.CreatedAt = now
	e.Retrieved = false
	e.touch(now)
}

// delete releases the value and marks the slot reusable.
func (e *Entry) delete() {
	e.Value = nil
	e.Deleted = true
}
