package filecache

import (
	"errors"
	"log/slog"
	"net/http"
	"time"
)

// Option configures a Manager.
type Option func(*Manager) error

// Defaults applied by New when the corresponding option is not given.
const (
	// DefaultMaxBytes is the cache size budget.
	DefaultMaxBytes int64 = 1 << 30 // 1 GiB

	// DefaultTTL is how long a downloaded file stays fresh.
	DefaultTTL = 24 * time.Hour

	// DefaultChunkSize is the copy buffer size for streaming downloads.
	DefaultChunkSize = 64 << 10 // 64 KiB
)

// --- Storage Options ---

// WithCacheDir sets the directory holding cached files and the index.
// It defaults to a "filecache" directory under the platform's user cache
// directory. The directory is created if missing.
func WithCacheDir(dir string) Option {
	return func(m *Manager) error {
		if dir == "" {
			return errors.New("cache dir is empty")
		}
		m.cacheDir = dir
		return nil
	}
}

// WithMaxBytes sets the cache size budget in bytes. Files whose size alone
// exceeds the budget are rejected with ErrCacheCapacity.
func WithMaxBytes(n int64) Option {
	return func(m *Manager) error {
		if n <= 0 {
			return errors.New("max bytes must be positive")
		}
		m.maxBytes = n
		return nil
	}
}

// WithDefaultTTL sets the TTL applied when GetFile is called without
// GetWithTTL.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(m *Manager) error {
		if ttl <= 0 {
			return errors.New("default ttl must be positive")
		}
		m.defaultTTL = ttl
		return nil
	}
}

// WithChunkSize sets the buffer size used when streaming downloads to disk.
func WithChunkSize(n int) Option {
	return func(m *Manager) error {
		if n <= 0 {
			return errors.New("chunk size must be positive")
		}
		m.chunkSize = n
		return nil
	}
}

// --- Transport Options ---

// WithHTTPClient sets the HTTP client used for downloads. The default client
// transparently decompresses gzip response bodies.
func WithHTTPClient(client *http.Client) Option {
	return func(m *Manager) error {
		if client == nil {
			return errors.New("http client is nil")
		}
		m.client = client
		return nil
	}
}

// WithHeader adds a header to every remote request, such as an Authorization
// token for the file server. It may be given multiple times.
func WithHeader(key, value string) Option {
	return func(m *Manager) error {
		if key == "" {
			return errors.New("header key is empty")
		}
		if m.headers == nil {
			m.headers = http.Header{}
		}
		m.headers.Add(key, value)
		return nil
	}
}

// WithUserAgent sets the User-Agent sent on remote requests.
func WithUserAgent(ua string) Option {
	return func(m *Manager) error {
		m.userAgent = ua
		return nil
	}
}

// --- Behavior Options ---

// WithPolicy replaces the default LRU eviction policy.
func WithPolicy(p EvictionPolicy) Option {
	return func(m *Manager) error {
		if p == nil {
			return errors.New("eviction policy is nil")
		}
		m.policy = p
		return nil
	}
}

// WithLogger sets the logger used by the manager and the components it
// builds. Logs are discarded by default.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) error {
		m.logger = logger
		return nil
	}
}
