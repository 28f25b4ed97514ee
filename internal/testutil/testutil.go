// Package testutil provides helpers shared by filecache tests.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
)

// FileServer is an in-memory HTTP file server that counts GET and HEAD
// requests per path. It is safe for concurrent use.
type FileServer struct {
	srv *httptest.Server

	mu     sync.Mutex
	files  map[string][]byte
	status map[string]int
	gets   map[string]int
	heads  map[string]int
}

// NewFileServer starts a FileServer that shuts down with the test.
func NewFileServer(tb testing.TB) *FileServer {
	fs := &FileServer{
		files:  make(map[string][]byte),
		status: make(map[string]int),
		gets:   make(map[string]int),
		heads:  make(map[string]int),
	}
	fs.srv = httptest.NewServer(http.HandlerFunc(fs.handle))
	tb.Cleanup(fs.srv.Close)
	return fs
}

// SetFile registers content served at path.
func (fs *FileServer) SetFile(path string, content []byte) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.files[path] = content
}

// SetStatus forces every response for path to the given status code.
// A code of zero restores normal serving.
func (fs *FileServer) SetStatus(path string, code int) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if code == 0 {
		delete(fs.status, path)
		return
	}
	fs.status[path] = code
}

// URL returns the absolute URL for path.
func (fs *FileServer) URL(path string) string {
	return fs.srv.URL + path
}

// Gets returns how many GET requests path has received.
func (fs *FileServer) Gets(path string) int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.gets[path]
}

// Heads returns how many HEAD requests path has received.
func (fs *FileServer) Heads(path string) int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.heads[path]
}

func (fs *FileServer) handle(w http.ResponseWriter, r *http.Request) {
	fs.mu.Lock()
	switch r.Method {
	case http.MethodGet:
		fs.gets[r.URL.Path]++
	case http.MethodHead:
		fs.heads[r.URL.Path]++
	}
	code, forced := fs.status[r.URL.Path]
	content, ok := fs.files[r.URL.Path]
	fs.mu.Unlock()

	if forced {
		http.Error(w, http.StatusText(code), code)
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(content)))
	if r.Method == http.MethodHead {
		return
	}
	_, _ = w.Write(content)
}
