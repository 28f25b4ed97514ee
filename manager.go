package filecache

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/voxelbase/filecache/fetch"
	"github.com/voxelbase/filecache/policy"
	"github.com/voxelbase/filecache/stats"
	"github.com/voxelbase/filecache/store"
)

// Entry describes one cached file.
type Entry = store.Entry

// Stats is a snapshot of cache activity and occupancy.
type Stats = stats.Stats

// EvictionPolicy decides which entries leave the cache. The default is an
// LRU policy bound to the manager's byte budget; see the policy package.
type EvictionPolicy interface {
	// SweepExpired removes expired entries lazily, yielding each removed key.
	SweepExpired() iter.Seq[string]

	// EvictToFit makes room for required additional bytes. It fails with an
	// error matching ErrCacheCapacity when required alone exceeds the
	// budget, in which case the caller must not start the transfer.
	EvictToFit(required int64) error
}

// Manager is the cache's public facade. It composes the disk store, the
// deduplicating fetcher, and the eviction policy behind one concurrency-safe
// API. Construct one Manager per cache directory at process start and share
// it by reference.
//
// A Manager spawns no background goroutines; hosts that want periodic expiry
// should call Cleanup on their own schedule.
type Manager struct {
	cacheDir   string
	maxBytes   int64
	defaultTTL time.Duration
	chunkSize  int
	client     *http.Client
	headers    http.Header
	userAgent  string
	logger     *slog.Logger

	store   *store.Store
	fetcher *fetch.Fetcher
	policy  EvictionPolicy
	stats   *stats.Collector
}

// New creates a Manager with the given options, loading any state a previous
// process persisted in the cache directory.
func New(opts ...Option) (*Manager, error) {
	m := &Manager{
		maxBytes:   DefaultMaxBytes,
		defaultTTL: DefaultTTL,
		chunkSize:  DefaultChunkSize,
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	if m.cacheDir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			return nil, fmt.Errorf("resolve user cache dir: %w", err)
		}
		m.cacheDir = filepath.Join(base, "filecache")
	}

	st, err := store.New(m.cacheDir,
		store.WithChunkSize(m.chunkSize),
		store.WithLogger(m.logger),
	)
	if err != nil {
		return nil, err
	}
	m.store = st
	m.stats = &stats.Collector{}

	fetchOpts := []fetch.Option{
		fetch.WithMaxEntrySize(m.maxBytes),
		fetch.WithStats(m.stats),
		fetch.WithLogger(m.logger),
	}
	if m.client != nil {
		fetchOpts = append(fetchOpts, fetch.WithClient(m.client))
	}
	if m.headers != nil {
		fetchOpts = append(fetchOpts, fetch.WithHeaders(m.headers))
	}
	if m.userAgent != "" {
		fetchOpts = append(fetchOpts, fetch.WithUserAgent(m.userAgent))
	}
	m.fetcher = fetch.New(st, fetchOpts...)

	if m.policy == nil {
		lru, err := policy.NewLRU(st, m.maxBytes,
			policy.WithStats(m.stats),
			policy.WithLogger(m.logger),
		)
		if err != nil {
			return nil, err
		}
		m.policy = lru
	}
	return m, nil
}

// log returns the logger, falling back to a discard logger if nil.
func (m *Manager) log() *slog.Logger {
	if m.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return m.logger
}

// GetOption configures a single GetFile call.
type GetOption func(*getConfig)

type getConfig struct {
	ttl time.Duration
}

// GetWithTTL overrides the manager's default TTL for this call. The TTL
// applies only when the call causes a download; a cache hit keeps the
// entry's original expiry.
func GetWithTTL(ttl time.Duration) GetOption {
	return func(cfg *getConfig) {
		cfg.ttl = ttl
	}
}

// GetFile returns a local path for the file at url, downloading and caching
// it on first use. The ctx deadline bounds the transfer; on expiry the
// partial download is discarded and a later call retries. Concurrent calls
// for the same url share one download.
//
// Failures are typed: transport and HTTP errors match ErrFetch, and a file
// larger than the cache budget matches ErrCacheCapacity (detected before the
// transfer when the server advertises a length, during it otherwise). The
// returned path is valid until the entry expires or is evicted; callers that
// hold files open across long gaps should re-request the path.
func (m *Manager) GetFile(ctx context.Context, url string, opts ...GetOption) (string, error) {
	if url == "" {
		return "", errors.New("url is empty")
	}
	cfg := getConfig{ttl: m.defaultTTL}
	for _, opt := range opts {
		opt(&cfg)
	}

	if e, ok := m.store.Get(url); ok {
		m.stats.Hit()
		m.log().Debug("cache hit", "url", url)
		return e.Path, nil
	}
	m.stats.Miss()
	m.log().Debug("cache miss", "url", url)

	// Expired entries should not count against the budget about to be
	// sized, so sweep before estimating.
	for range m.policy.SweepExpired() {
	}

	if estimate, ok := m.fetcher.Probe(ctx, url); ok {
		if err := m.policy.EvictToFit(estimate); err != nil {
			return "", err
		}
	}

	path, err := m.fetcher.EnsureCached(ctx, url, url, cfg.ttl)
	if err != nil {
		return "", err
	}

	// The advertised size may have undershot the bytes actually received.
	if err := m.policy.EvictToFit(0); err != nil {
		m.log().Warn("post-fetch eviction failed", "url", url, "error", err)
	}
	return path, nil
}

// Invalidate removes the cached entry for url, if any. Use it when upstream
// content is known to have changed.
func (m *Manager) Invalidate(url string) error {
	m.log().Debug("invalidating entry", "url", url)
	return m.store.Remove(url)
}

// Clear removes every cached entry.
func (m *Manager) Clear() error {
	m.log().Info("clearing cache", "entries", m.store.Len())
	return m.store.Clear()
}

// Stats returns a snapshot of cache activity and current occupancy.
func (m *Manager) Stats() Stats {
	s := m.stats.Snapshot()
	s.CurrentSizeBytes = m.store.SizeBytes()
	s.EntryCount = m.store.Len()
	return s
}

// Cleanup sweeps expired entries, persists any batched index changes, and
// logs a summary. It returns the number of entries removed. Intended to be
// invoked periodically by the host application.
func (m *Manager) Cleanup() int {
	removed := 0
	for range m.policy.SweepExpired() {
		removed++
	}
	if err := m.store.Flush(); err != nil {
		m.log().Warn("index flush failed", "error", err)
	}
	m.log().Info("cleanup finished",
		"removed", removed,
		"entries", m.store.Len(),
		"size_bytes", m.store.SizeBytes(),
	)
	return removed
}

// Entries returns a snapshot iterator over the cached entries in ascending
// last-access order.
func (m *Manager) Entries() iter.Seq[Entry] {
	return m.store.List()
}

// Verify recomputes the stored digest for url's entry and compares it to the
// digest recorded at download time. A mismatch removes the entry, so the
// next GetFile re-fetches it, and returns an error matching ErrIntegrity.
// An absent entry verifies false with no error.
func (m *Manager) Verify(url string) (bool, error) {
	return m.store.Verify(url)
}

// Close persists any batched index changes. The Manager must not be used
// after Close.
func (m *Manager) Close() error {
	return m.store.Flush()
}
