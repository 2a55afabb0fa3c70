// Package cache implements the TTL-indexed resource-record set consulted
// and populated by the resolver (spec.md §4.3). Entries are kept in a flat
// slice and scanned linearly on every access — there is no hash index, no
// LRU, and no size bound, by design: the set is small and bounded by recent
// traffic, so sharding or indexing (as the teacher's cache does) would add
// complexity without a measurable win here.
package cache

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dnsscience/cachedns/internal/wire"
)

// Entry is one cached resource record plus its insertion time, mirroring
// spec.md §3's CacheEntry = (inserted_at_monotonic, RR).
type Entry struct {
	RR         wire.ResourceRecord
	InsertedAt time.Time
}

// remainingTTL returns the entry's remaining lifetime at instant now.
// Negative means expired.
func (e Entry) remainingTTL(now time.Time) time.Duration {
	elapsed := now.Sub(e.InsertedAt)
	return time.Duration(e.RR.TTL)*time.Second - elapsed
}

// Stats holds cumulative counters, returned by Cache.Stats. Named after
// the teacher's ShardedCache atomic counters in internal/cache/sharded.go.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Inserts   uint64
	Evictions uint64
}

// Cache is the single process-wide mutable resource-record set described
// by spec.md §3/§4.3/§5. The zero value is not usable; use New.
type Cache struct {
	mu      sync.Mutex
	entries []Entry

	hits      atomic.Uint64
	misses    atomic.Uint64
	inserts   atomic.Uint64
	evictions atomic.Uint64

	now func() time.Time
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{now: time.Now}
}

// sweep removes every entry whose remaining TTL has gone negative. Callers
// must hold c.mu.
func (c *Cache) sweep() {
	now := c.now()
	live := c.entries[:0]
	for _, e := range c.entries {
		if e.remainingTTL(now) >= 0 {
			live = append(live, e)
		} else {
			c.evictions.Add(1)
		}
	}
	c.entries = live
}

// Lookup performs an expiry sweep, then returns every live entry whose
// (rname, rtype, rclass) matches q, in insertion order.
func (c *Cache) Lookup(q wire.Question) []wire.ResourceRecord {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sweep()

	var out []wire.ResourceRecord
	for _, e := range c.entries {
		if e.RR.MatchesQuestion(q) {
			out = append(out, e.RR)
		}
	}
	if len(out) == 0 {
		c.misses.Add(1)
	} else {
		c.hits.Add(1)
	}
	return out
}

// Insert performs an expiry sweep, then appends rr unless an equal entry
// (by the four-field key rname/rtype/rclass/rdata) already exists.
func (c *Cache) Insert(rr wire.ResourceRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sweep()

	for _, e := range c.entries {
		if e.RR.SameRecord(rr) {
			return
		}
	}
	c.entries = append(c.entries, Entry{RR: rr, InsertedAt: c.now()})
	c.inserts.Add(1)
}

// Status performs an expiry sweep, then returns one line per live entry
// with remaining TTL in seconds and a human-readable RR summary.
func (c *Cache) Status() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sweep()

	if len(c.entries) == 0 {
		return "cache empty\n"
	}

	now := c.now()
	var b strings.Builder
	for _, e := range c.entries {
		remaining := e.remainingTTL(now).Round(time.Second).Seconds()
		fmt.Fprintf(&b, "%s type=%d class=%d ttl=%ds rdata=%d bytes\n",
			e.RR.Name, e.RR.Type, e.RR.Class, int(remaining), len(e.RR.RData))
	}
	return b.String()
}

// Snapshot returns a copy of all live entries, for persistence.
func (c *Cache) Snapshot() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sweep()

	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Load replaces the cache contents with the given entries, skipping any
// already expired at load time. Used at startup to restore a persisted
// snapshot.
func (c *Cache) Load(entries []Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	live := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.remainingTTL(now) >= 0 {
			live = append(live, e)
		}
	}
	c.entries = live
}

// Stats returns a snapshot of the cumulative counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Inserts:   c.inserts.Load(),
		Evictions: c.evictions.Load(),
	}
}
