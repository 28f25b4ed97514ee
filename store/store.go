// Package store provides the durable key-to-file mapping backing the cache.
//
// Each entry is a file under <dir>/data named by the SHA-256 of its key, plus
// a row in <dir>/index.json. Writes stream through a temp file in the same
// directory and are renamed into place, so readers never observe a partially
// written entry and a crash never corrupts committed state.
package store

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	digest "github.com/opencontainers/go-digest"

	"github.com/voxelbase/filecache/internal/cachetype"
)

// Entry describes one cached file.
type Entry = cachetype.Entry

const (
	defaultChunkSize = 64 * 1024
	defaultDirPerm   = 0o700

	dataDirName   = "data"
	indexFileName = "index.json"
)

// Store is a disk-backed cache store. It is safe for concurrent use.
//
// Keys are source URLs. They are hashed with SHA-256 to create safe file
// names, since URLs contain special characters like ':', '/', and '?'.
type Store struct {
	dir       string
	dataDir   string
	indexPath string
	chunkSize int
	logger    *slog.Logger

	mu      sync.Mutex // guards entries and dirty; never held across I/O
	entries map[string]*cachetype.Entry
	dirty   bool

	bytes   atomic.Int64
	flushMu sync.Mutex // serializes index writes
}

// Option configures a Store.
type Option func(*Store)

// WithChunkSize sets the copy buffer size used while streaming entries to
// disk. Defaults to 64 KiB.
func WithChunkSize(n int) Option {
	return func(s *Store) {
		s.chunkSize = n
	}
}

// WithLogger sets the logger. Defaults to discarding logs.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New opens the store rooted at dir, creating it if needed. The persisted
// index is loaded and reconciled against the data directory: entries whose
// backing file is missing or size-mismatched are dropped, and files not
// referenced by any surviving entry are removed.
func New(dir string, opts ...Option) (*Store, error) {
	if dir == "" {
		return nil, errors.New("cache dir is empty")
	}
	s := &Store{
		dir:       dir,
		dataDir:   filepath.Join(dir, dataDirName),
		indexPath: filepath.Join(dir, indexFileName),
		chunkSize: defaultChunkSize,
		entries:   make(map[string]*cachetype.Entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.chunkSize <= 0 {
		return nil, errors.New("chunk size must be > 0")
	}
	if err := os.MkdirAll(s.dataDir, defaultDirPerm); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	if err := s.loadIndex(); err != nil {
		return nil, err
	}
	return s, nil
}

// log returns the logger, falling back to a discard logger if nil.
func (s *Store) log() *slog.Logger {
	if s.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return s.logger
}

// fileName returns the data file name for a key.
func fileName(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:]) + ".bin"
}

func (s *Store) pathFor(key string) string {
	return filepath.Join(s.dataDir, fileName(key))
}

// Put streams r into the store under key and returns the committed entry.
// The bytes are written to a temp file colocated with the final path while a
// SHA-256 digest is computed incrementally; only after the stream completes
// is the file renamed into place and the index updated. On any failure the
// temp file is removed and no entry is recorded.
//
// A ttl of zero or less means the entry never expires. Putting an existing
// key atomically replaces its content.
func (s *Store) Put(key string, r io.Reader, ttl time.Duration) (Entry, error) {
	if key == "" {
		return Entry{}, errors.New("key is empty")
	}
	if r == nil {
		return Entry{}, errors.New("reader is nil")
	}

	tmp, err := os.CreateTemp(s.dataDir, "put-*.tmp")
	if err != nil {
		return Entry{}, fmt.Errorf("create temp cache file: %w", err)
	}
	tmpPath := tmp.Name()

	digester := digest.Canonical.Digester()
	written, err := io.CopyBuffer(io.MultiWriter(tmp, digester.Hash()), r, make([]byte, s.chunkSize))
	if err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return Entry{}, fmt.Errorf("write cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return Entry{}, fmt.Errorf("close cache file: %w", err)
	}

	path := s.pathFor(key)
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return Entry{}, fmt.Errorf("rename cache file: %w", err)
	}

	now := time.Now()
	entry := Entry{
		Key:          key,
		Path:         path,
		Size:         written,
		Digest:       digester.Digest(),
		CreatedAt:    now,
		LastAccessed: now,
	}
	if ttl > 0 {
		entry.ExpiresAt = now.Add(ttl)
	}

	s.mu.Lock()
	if old, ok := s.entries[key]; ok {
		s.bytes.Add(-old.Size)
	}
	e := entry
	s.entries[key] = &e
	s.bytes.Add(written)
	s.dirty = true
	s.mu.Unlock()

	if err := s.Flush(); err != nil {
		// The index cannot record the entry; withdraw it rather than leave
		// a file a restart would treat as an orphan.
		s.mu.Lock()
		if cur, ok := s.entries[key]; ok && cur == &e {
			delete(s.entries, key)
			s.bytes.Add(-written)
		}
		s.mu.Unlock()
		_ = os.Remove(path)
		return Entry{}, err
	}

	s.log().Debug("entry committed", "key", key, "size", written, "digest", entry.Digest.Encoded()[:12])
	return entry, nil
}

// Get returns the entry for key if it is present, unexpired, and its backing
// file exists with the recorded size. Any mismatch is treated as corruption:
// the entry is purged and Get reports a miss. A hit updates the entry's
// access time.
func (s *Store) Get(key string) (Entry, bool) {
	s.mu.Lock()
	e, ok := s.entries[key]
	var snap Entry
	if ok {
		snap = *e
	}
	s.mu.Unlock()
	if !ok {
		return Entry{}, false
	}

	if snap.Expired(time.Now()) {
		s.log().Debug("entry expired", "key", key)
		_ = s.Remove(key)
		return Entry{}, false
	}

	info, err := os.Stat(snap.Path)
	if err != nil || info.Size() != snap.Size {
		s.log().Warn("corrupted cache entry deleted", "key", key, "path", snap.Path)
		_ = s.Remove(key)
		return Entry{}, false
	}

	now := time.Now()
	s.mu.Lock()
	e, ok = s.entries[key]
	if ok {
		e.LastAccessed = now
		snap = *e
		s.dirty = true
	}
	s.mu.Unlock()
	if !ok {
		return Entry{}, false
	}
	return snap, true
}

// Remove deletes the entry for key and its backing file. Removing an absent
// key or an already-deleted file is not an error.
func (s *Store) Remove(key string) error {
	s.mu.Lock()
	e, ok := s.entries[key]
	var path string
	if ok {
		path = e.Path
		s.bytes.Add(-e.Size)
		delete(s.entries, key)
		s.dirty = true
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}

	var rmErr error
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		rmErr = fmt.Errorf("remove cache file: %w", err)
	}
	if err := s.Flush(); err != nil {
		return err
	}
	return rmErr
}

// Clear removes every entry and backing file.
func (s *Store) Clear() error {
	s.mu.Lock()
	paths := make([]string, 0, len(s.entries))
	for _, e := range s.entries {
		paths = append(paths, e.Path)
	}
	s.entries = make(map[string]*cachetype.Entry)
	s.bytes.Store(0)
	s.dirty = true
	s.mu.Unlock()

	var rmErr error
	for _, path := range paths {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) && rmErr == nil {
			rmErr = fmt.Errorf("remove cache file: %w", err)
		}
	}
	if err := s.Flush(); err != nil {
		return err
	}
	return rmErr
}

// Verify recomputes the digest of key's backing file and compares it to the
// digest recorded at write time. A mismatch removes the entry and returns
// false with an error matching cachetype.ErrIntegrity. Absent or
// already-purged entries report false with no error.
func (s *Store) Verify(key string) (bool, error) {
	s.mu.Lock()
	e, ok := s.entries[key]
	var snap Entry
	if ok {
		snap = *e
	}
	s.mu.Unlock()
	if !ok {
		return false, nil
	}

	f, err := os.Open(snap.Path)
	if errors.Is(err, fs.ErrNotExist) {
		_ = s.Remove(key)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("open cache file: %w", err)
	}
	defer f.Close()

	computed, err := snap.Digest.Algorithm().FromReader(f)
	if err != nil {
		return false, fmt.Errorf("hash cache file: %w", err)
	}
	if computed != snap.Digest {
		s.log().Warn("digest mismatch, entry deleted", "key", key, "want", snap.Digest.Encoded()[:12], "got", computed.Encoded()[:12])
		_ = s.Remove(key)
		return false, fmt.Errorf("%w: %s", cachetype.ErrIntegrity, key)
	}
	return true, nil
}

// List returns a lazy iterator over a snapshot of the current entries,
// ordered by ascending last access time. Ties are broken by creation time,
// then key, so eviction order is deterministic. The snapshot is taken under
// a brief lock when List is called; ranging over the result performs no
// locking and may be restarted.
func (s *Store) List() iter.Seq[Entry] {
	s.mu.Lock()
	snapshot := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		snapshot = append(snapshot, *e)
	}
	s.mu.Unlock()

	sort.Slice(snapshot, func(i, j int) bool {
		a, b := snapshot[i], snapshot[j]
		if !a.LastAccessed.Equal(b.LastAccessed) {
			return a.LastAccessed.Before(b.LastAccessed)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.Key < b.Key
	})

	return func(yield func(Entry) bool) {
		for _, e := range snapshot {
			if !yield(e) {
				return
			}
		}
	}
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// SizeBytes returns the total size of all entries in bytes.
func (s *Store) SizeBytes() int64 {
	return s.bytes.Load()
}

// Dir returns the store's root directory.
func (s *Store) Dir() string {
	return s.dir
}
