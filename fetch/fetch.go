// Package fetch retrieves remote files into the store, guaranteeing at most
// one in-flight transfer per key under concurrent demand.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	nethttp "net/http"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"golang.org/x/sync/singleflight"

	"github.com/voxelbase/filecache/internal/cachetype"
	"github.com/voxelbase/filecache/stats"
	"github.com/voxelbase/filecache/store"
)

// Fetcher streams remote URLs into a store. Concurrent callers for the same
// key share a single transfer and receive the same outcome; callers for
// different keys never block each other. A Fetcher makes exactly one attempt
// per transfer; retries belong to the caller.
type Fetcher struct {
	store        *store.Store
	client       *nethttp.Client
	headers      nethttp.Header
	userAgent    string
	maxEntrySize int64
	collector    *stats.Collector
	logger       *slog.Logger

	group singleflight.Group
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithClient sets the HTTP client used for requests. The default client
// transparently decompresses gzip response bodies.
func WithClient(client *nethttp.Client) Option {
	return func(f *Fetcher) {
		f.client = client
	}
}

// WithHeaders sets additional headers on each request.
func WithHeaders(headers nethttp.Header) Option {
	return func(f *Fetcher) {
		if headers == nil {
			return
		}
		f.headers = headers.Clone()
	}
}

// WithHeader sets a single header on each request.
func WithHeader(key, value string) Option {
	return func(f *Fetcher) {
		if f.headers == nil {
			f.headers = make(nethttp.Header)
		}
		f.headers.Set(key, value)
	}
}

// WithUserAgent sets the User-Agent header on each request.
func WithUserAgent(ua string) Option {
	return func(f *Fetcher) {
		f.userAgent = ua
	}
}

// WithMaxEntrySize caps the size of a single fetched entry. A transfer that
// exceeds the cap is aborted with an error matching cachetype.ErrCapacity
// and leaves no cache entry. Zero means no cap.
func WithMaxEntrySize(n int64) Option {
	return func(f *Fetcher) {
		f.maxEntrySize = n
	}
}

// WithStats sets the collector that records completed downloads.
func WithStats(c *stats.Collector) Option {
	return func(f *Fetcher) {
		f.collector = c
	}
}

// WithLogger sets the logger. Defaults to discarding logs.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Fetcher) {
		f.logger = logger
	}
}

// New creates a Fetcher that commits fetched files to st.
func New(st *store.Store, opts ...Option) *Fetcher {
	f := &Fetcher{store: st}
	for _, opt := range opts {
		opt(f)
	}
	if f.client == nil {
		f.client = &nethttp.Client{Transport: gzhttp.Transport(nethttp.DefaultTransport)}
	}
	return f
}

// log returns the logger, falling back to a discard logger if nil.
func (f *Fetcher) log() *slog.Logger {
	if f.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return f.logger
}

// EnsureCached returns the local path for key, fetching url into the store
// first if needed. At most one transfer per key is in flight at any time;
// callers arriving during a transfer wait for its outcome instead of issuing
// a second GET. The transfer runs on the initiating caller's context, so its
// deadline bounds the download; a waiter whose own context expires stops
// waiting without aborting the shared transfer. A failed flight releases the
// in-flight marker, so a later call retries independently.
func (f *Fetcher) EnsureCached(ctx context.Context, key, url string, ttl time.Duration) (string, error) {
	if e, ok := f.store.Get(key); ok {
		return e.Path, nil
	}

	ch := f.group.DoChan(key, func() (any, error) {
		// Double-check: another caller may have committed this key between
		// our store lookup and the flight starting.
		if e, ok := f.store.Get(key); ok {
			return e.Path, nil
		}
		return f.download(ctx, key, url, ttl)
	})

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %v", cachetype.ErrFetch, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// download performs the single GET for a flight and commits the body.
func (f *Fetcher) download(ctx context.Context, key, url string, ttl time.Duration) (string, error) {
	req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", cachetype.ErrFetch, err)
	}
	f.decorate(req)

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", cachetype.ErrFetch, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < nethttp.StatusOK || resp.StatusCode >= nethttp.StatusMultipleChoices {
		return "", fmt.Errorf("%w: unexpected status %s", cachetype.ErrFetch, resp.Status)
	}

	var src io.Reader = &taggedReader{r: resp.Body}
	if f.maxEntrySize > 0 {
		src = &cappedReader{r: src, max: f.maxEntrySize, remaining: f.maxEntrySize}
	}

	entry, err := f.store.Put(key, src, ttl)
	if err != nil {
		return "", err
	}

	// Servers that advertise a length must deliver it. Transparent gzip
	// decompression reports -1 and skips this check.
	if cl := resp.ContentLength; cl >= 0 && cl != entry.Size {
		_ = f.store.Remove(key)
		return "", fmt.Errorf("%w: length mismatch: advertised %d bytes, received %d", cachetype.ErrFetch, cl, entry.Size)
	}

	f.collector.Download()
	f.log().Info("fetched file", "url", url, "size", entry.Size, "elapsed", time.Since(start))
	return entry.Path, nil
}

// Probe asks the server for the size of url via a HEAD request. The result
// is a soft estimate: a transport error, non-2xx status, or missing
// Content-Length reports ok = false. Probe never touches cache state.
func (f *Fetcher) Probe(ctx context.Context, url string) (size int64, ok bool) {
	req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodHead, url, nil)
	if err != nil {
		return 0, false
	}
	f.decorate(req)

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, false
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < nethttp.StatusOK || resp.StatusCode >= nethttp.StatusMultipleChoices {
		return 0, false
	}
	if resp.ContentLength <= 0 {
		return 0, false
	}
	return resp.ContentLength, true
}

func (f *Fetcher) decorate(req *nethttp.Request) {
	for key, values := range f.headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
}

// taggedReader marks read failures as fetch errors so an interrupted body is
// distinguishable from a disk write failure downstream.
type taggedReader struct {
	r io.Reader
}

func (t *taggedReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, fmt.Errorf("%w: read body: %v", cachetype.ErrFetch, err)
	}
	return n, err
}

// cappedReader fails the stream once more than max bytes flow through it.
type cappedReader struct {
	r         io.Reader
	max       int64
	remaining int64
}

func (c *cappedReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.remaining -= int64(n)
	if c.remaining < 0 {
		return n, fmt.Errorf("%w: transfer exceeds %d bytes", cachetype.ErrCapacity, c.max)
	}
	return n, err
}
