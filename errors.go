package filecache

import "github.com/voxelbase/filecache/internal/cachetype"

// Errors re-exported from the cache internals. Match them with errors.Is.
var (
	// ErrFetch indicates the remote transfer failed: a transport error, a
	// non-2xx response, or a body that ended early.
	ErrFetch = cachetype.ErrFetch

	// ErrCacheCapacity indicates a single file is larger than the cache
	// budget. The download is not attempted when the server advertises the
	// size up front.
	ErrCacheCapacity = cachetype.ErrCapacity

	// ErrIntegrity indicates stored content no longer matches the digest
	// recorded at download time.
	ErrIntegrity = cachetype.ErrIntegrity
)
