// Package policy keeps the cache within its configured bounds: expired
// entries are swept lazily, and least-recently-accessed entries are evicted
// when admitting new bytes would exceed the size budget.
package policy

import (
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/voxelbase/filecache/internal/cachetype"
	"github.com/voxelbase/filecache/stats"
	"github.com/voxelbase/filecache/store"
)

// LRU evicts entries in ascending last-access order until the store fits its
// byte budget. Evictions serialize on an internal mutex; the store stays
// readable throughout.
type LRU struct {
	store     *store.Store
	maxBytes  int64
	collector *stats.Collector
	logger    *slog.Logger

	evictMu sync.Mutex
}

// Option configures an LRU policy.
type Option func(*LRU)

// WithStats sets the collector that records evictions.
func WithStats(c *stats.Collector) Option {
	return func(p *LRU) {
		p.collector = c
	}
}

// WithLogger sets the logger. Defaults to discarding logs.
func WithLogger(logger *slog.Logger) Option {
	return func(p *LRU) {
		p.logger = logger
	}
}

// NewLRU creates an LRU policy enforcing maxBytes over st.
func NewLRU(st *store.Store, maxBytes int64, opts ...Option) (*LRU, error) {
	if st == nil {
		return nil, errors.New("store is nil")
	}
	if maxBytes <= 0 {
		return nil, errors.New("max bytes must be > 0")
	}
	p := &LRU{store: st, maxBytes: maxBytes}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// log returns the logger, falling back to a discard logger if nil.
func (p *LRU) log() *slog.Logger {
	if p.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return p.logger
}

// MaxBytes returns the configured size budget.
func (p *LRU) MaxBytes() int64 {
	return p.maxBytes
}

// SweepExpired returns a lazy sequence of expired keys. Each key has already
// been removed from the store when it is yielded; abandoning the iteration
// leaves later expired entries in place for the next sweep.
func (p *LRU) SweepExpired() iter.Seq[string] {
	return func(yield func(string) bool) {
		now := time.Now()
		for e := range p.store.List() {
			if !e.Expired(now) {
				continue
			}
			if err := p.store.Remove(e.Key); err != nil {
				p.log().Warn("sweep remove failed", "key", e.Key, "error", err)
				continue
			}
			p.collector.Eviction()
			p.log().Debug("swept expired entry", "key", e.Key, "size", e.Size)
			if !yield(e.Key) {
				return
			}
		}
	}
}

// EvictToFit removes least-recently-accessed entries until required more
// bytes fit within the budget, ties broken by insertion order. If required
// alone exceeds the budget it returns an error matching
// cachetype.ErrCapacity and removes nothing; the caller must not start the
// transfer.
func (p *LRU) EvictToFit(required int64) error {
	if required < 0 {
		required = 0
	}
	if required > p.maxBytes {
		return fmt.Errorf("%w: need %d bytes, budget is %d", cachetype.ErrCapacity, required, p.maxBytes)
	}

	p.evictMu.Lock()
	defer p.evictMu.Unlock()

	if p.store.SizeBytes()+required <= p.maxBytes {
		return nil
	}
	for e := range p.store.List() {
		if p.store.SizeBytes()+required <= p.maxBytes {
			break
		}
		if err := p.store.Remove(e.Key); err != nil {
			p.log().Warn("evict remove failed", "key", e.Key, "error", err)
			continue
		}
		p.collector.Eviction()
		p.log().Debug("evicted entry", "key", e.Key, "size", e.Size, "last_accessed", e.LastAccessed)
	}
	return nil
}
