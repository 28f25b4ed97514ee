package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"time"

	digest "github.com/opencontainers/go-digest"

	"github.com/voxelbase/filecache/internal/cachetype"
)

const indexVersion = 1

// indexFile is the persisted form of the store's metadata. It is rewritten
// as a whole (write temp, rename) on every flush.
type indexFile struct {
	Version int                   `json:"version"`
	Entries map[string]indexEntry `json:"entries"`
}

type indexEntry struct {
	File         string    `json:"file"` // relative to the store dir, slash-separated
	Size         int64     `json:"size_bytes"`
	Digest       string    `json:"content_hash"`
	CreatedAt    time.Time `json:"created_at"`
	LastAccessed time.Time `json:"last_accessed_at"`
	ExpiresAt    time.Time `json:"expires_at,omitzero"`
}

// Flush persists the index if it has unpersisted changes.
func (s *Store) Flush() error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	idx := indexFile{
		Version: indexVersion,
		Entries: make(map[string]indexEntry, len(s.entries)),
	}
	for key, e := range s.entries {
		idx.Entries[key] = indexEntry{
			File:         path.Join(dataDirName, fileName(key)),
			Size:         e.Size,
			Digest:       e.Digest.String(),
			CreatedAt:    e.CreatedAt,
			LastAccessed: e.LastAccessed,
			ExpiresAt:    e.ExpiresAt,
		}
	}
	s.dirty = false
	s.mu.Unlock()

	if err := s.writeIndex(idx); err != nil {
		s.mu.Lock()
		s.dirty = true
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *Store) writeIndex(idx indexFile) error {
	data, err := json.Marshal(idx)
	if err != nil {
		return fmt.Errorf("encode index: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, "index-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp index file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write index file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close index file: %w", err)
	}
	if err := os.Rename(tmpPath, s.indexPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename index file: %w", err)
	}
	return nil
}

// loadIndex reads the persisted index and reconciles it against the data
// directory. Runs once from New, before the store is shared.
func (s *Store) loadIndex() error {
	data, err := os.ReadFile(s.indexPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// First run, nothing persisted yet.
	case err != nil:
		return fmt.Errorf("read index file: %w", err)
	default:
		var idx indexFile
		if uerr := json.Unmarshal(data, &idx); uerr != nil {
			s.log().Warn("index unreadable, starting empty", "path", s.indexPath, "error", uerr)
			s.dirty = true
		} else if idx.Version != indexVersion {
			s.log().Warn("index version unsupported, starting empty", "version", idx.Version)
			s.dirty = true
		} else {
			s.adopt(idx.Entries)
		}
	}

	s.sweepStrayFiles()

	if s.dirty {
		return s.Flush()
	}
	return nil
}

// adopt validates loaded index rows and installs the survivors. Rows with an
// empty key, an unparseable digest, a path that does not match the key's
// derived file name, or a missing or size-mismatched backing file are dropped
// and logged. Expired rows are kept; expiry is enforced lazily on read.
func (s *Store) adopt(raw map[string]indexEntry) {
	for key, ie := range raw {
		if key == "" {
			s.dirty = true
			continue
		}
		if want := path.Join(dataDirName, fileName(key)); ie.File != want {
			s.log().Warn("dropping index entry", "key", key, "reason", "path mismatch", "file", ie.File)
			s.dirty = true
			continue
		}
		dgst, err := digest.Parse(ie.Digest)
		if err != nil {
			s.log().Warn("dropping index entry", "key", key, "reason", "bad digest")
			s.dirty = true
			continue
		}
		full := filepath.Join(s.dir, filepath.FromSlash(ie.File))
		info, err := os.Stat(full)
		if err != nil {
			s.log().Warn("dropping index entry", "key", key, "reason", "missing file")
			s.dirty = true
			continue
		}
		if info.Size() != ie.Size {
			s.log().Warn("dropping index entry", "key", key, "reason", "size mismatch", "want", ie.Size, "got", info.Size())
			s.dirty = true
			continue
		}
		s.entries[key] = &cachetype.Entry{
			Key:          key,
			Path:         full,
			Size:         ie.Size,
			Digest:       dgst,
			CreatedAt:    ie.CreatedAt,
			LastAccessed: ie.LastAccessed,
			ExpiresAt:    ie.ExpiresAt,
		}
		s.bytes.Add(ie.Size)
	}
}

// sweepStrayFiles removes data files no surviving entry references,
// including temp files left by an interrupted put or flush.
func (s *Store) sweepStrayFiles() {
	keep := make(map[string]struct{}, len(s.entries))
	for key := range s.entries {
		keep[fileName(key)] = struct{}{}
	}
	dirents, err := os.ReadDir(s.dataDir)
	if err != nil {
		s.log().Warn("scan data dir failed", "error", err)
	} else {
		for _, d := range dirents {
			if !d.Type().IsRegular() {
				continue
			}
			if _, ok := keep[d.Name()]; ok {
				continue
			}
			p := filepath.Join(s.dataDir, d.Name())
			if err := os.Remove(p); err != nil {
				s.log().Warn("remove orphan file failed", "path", p, "error", err)
				continue
			}
			s.log().Debug("removed orphan file", "path", p)
		}
	}

	if stale, err := filepath.Glob(filepath.Join(s.dir, "index-*.tmp")); err == nil {
		for _, p := range stale {
			_ = os.Remove(p)
		}
	}
}
