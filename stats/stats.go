// Package stats provides atomic operation counters for the cache.
//
// A Collector is safe for concurrent use and all methods are nil-safe, so
// components can share one collector or run without any.
package stats

import "sync/atomic"

// Collector accumulates cache operation counts.
type Collector struct {
	hits      atomic.Uint64
	misses    atomic.Uint64
	downloads atomic.Uint64
	evictions atomic.Uint64
}

// Stats is a point-in-time snapshot of cache activity. CurrentSizeBytes and
// EntryCount are filled in by the owner of the backing store.
type Stats struct {
	Hits             uint64 `json:"hits"`
	Misses           uint64 `json:"misses"`
	Downloads        uint64 `json:"downloads"`
	Evictions        uint64 `json:"evictions"`
	CurrentSizeBytes int64  `json:"current_size_bytes"`
	EntryCount       int    `json:"entry_count"`
}

// Hit records a cache hit.
func (c *Collector) Hit() {
	if c == nil {
		return
	}
	c.hits.Add(1)
}

// Miss records a cache miss.
func (c *Collector) Miss() {
	if c == nil {
		return
	}
	c.misses.Add(1)
}

// Download records a completed remote transfer.
func (c *Collector) Download() {
	if c == nil {
		return
	}
	c.downloads.Add(1)
}

// Eviction records one removed entry, whether evicted for space or swept
// after expiry.
func (c *Collector) Eviction() {
	if c == nil {
		return
	}
	c.evictions.Add(1)
}

// Snapshot returns the current counter values. Size and entry count are left
// zero; callers merge live store figures.
func (c *Collector) Snapshot() Stats {
	if c == nil {
		return Stats{}
	}
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Downloads: c.downloads.Load(),
		Evictions: c.evictions.Load(),
	}
}
