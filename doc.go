// Package filecache is a disk-backed cache for large immutable files
// fetched over HTTP, such as scan volumes and model weights that are
// expensive to re-download.
//
// Files are streamed to a content-named file under the cache directory and
// committed atomically, so a crash mid-download never leaves a partial
// entry. Every file is digested as it lands and re-verifiable later. The
// cache holds itself under a byte budget by evicting least-recently-used
// entries, expires entries after a TTL, and persists its index so a new
// process reuses everything the previous one downloaded. Concurrent requests
// for the same URL share a single download.
//
// # Quick Start
//
// Create a Manager once at startup and share it:
//
//	cache, err := filecache.New(
//		filecache.WithCacheDir("/var/cache/imaging"),
//		filecache.WithMaxBytes(8<<30),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer cache.Close()
//
//	path, err := cache.GetFile(ctx, "https://files.internal/volumes/ct-0042.bin")
//	if err != nil {
//		log.Fatal(err)
//	}
//	// path points at a local copy; read it like any file.
//
// The ctx deadline bounds the download. Failed transfers match [ErrFetch],
// files too large for the budget match [ErrCacheCapacity]; both leave the
// cache unchanged.
//
// [Manager] is safe for concurrent use. It runs no background goroutines;
// call [Manager.Cleanup] periodically to drop expired entries, or let them
// fall out lazily on access.
//
// The filecached daemon in cmd/filecached exposes the same operations over a
// small HTTP API for processes that cannot link this package directly.
package filecache
