package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/voxelbase/filecache"
	"github.com/voxelbase/filecache/internal/testutil"
)

func newTestServer(t *testing.T, cfg Config, opts ...filecache.Option) (*Server, *filecache.Manager) {
	t.Helper()
	opts = append([]filecache.Option{filecache.WithCacheDir(t.TempDir())}, opts...)
	m, err := filecache.New(opts...)
	if err != nil {
		t.Fatalf("filecache.New() error = %v", err)
	}
	t.Cleanup(func() {
		if err := m.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})
	return New(m, cfg), m
}

func do(t *testing.T, s *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func fileTarget(fileURL string, extra string) string {
	target := "/v1/file?url=" + url.QueryEscape(fileURL)
	if extra != "" {
		target += "&" + extra
	}
	return target
}

func TestGetFileFetchesAndServes(t *testing.T) {
	upstream := testutil.NewFileServer(t)
	upstream.SetFile("/scan.bin", []byte("scan payload"))
	s, _ := newTestServer(t, Config{})

	rec := do(t, s, http.MethodGet, fileTarget(upstream.URL("/scan.bin"), ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Body.String(); got != "scan payload" {
		t.Errorf("body = %q", got)
	}

	// Second request is a cache hit; the upstream is not consulted again.
	rec = do(t, s, http.MethodGet, fileTarget(upstream.URL("/scan.bin"), ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if upstream.Gets("/scan.bin") != 1 {
		t.Errorf("upstream GETs = %d, want 1", upstream.Gets("/scan.bin"))
	}
}

func TestGetFileRequiresURL(t *testing.T) {
	s, _ := newTestServer(t, Config{})
	if rec := do(t, s, http.MethodGet, "/v1/file"); rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestGetFileRejectsBadTTL(t *testing.T) {
	upstream := testutil.NewFileServer(t)
	upstream.SetFile("/x.bin", []byte("x"))
	s, _ := newTestServer(t, Config{})

	for _, ttl := range []string{"ttl=banana", "ttl=-5m", "ttl=0s"} {
		if rec := do(t, s, http.MethodGet, fileTarget(upstream.URL("/x.bin"), ttl)); rec.Code != http.StatusBadRequest {
			t.Errorf("ttl %q: status = %d, want 400", ttl, rec.Code)
		}
	}
}

func TestGetFileHonorsAllowedOrigins(t *testing.T) {
	upstream := testutil.NewFileServer(t)
	upstream.SetFile("/guarded.bin", []byte("guarded"))
	s, _ := newTestServer(t, Config{AllowedOrigins: []string{"https://files.internal/"}})

	rec := do(t, s, http.MethodGet, fileTarget(upstream.URL("/guarded.bin"), ""))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	if upstream.Gets("/guarded.bin") != 0 {
		t.Errorf("upstream GETs = %d, want 0", upstream.Gets("/guarded.bin"))
	}

	// A prefix match passes through to the fetch (which then fails, since
	// nothing is listening at files.internal).
	s2, _ := newTestServer(t, Config{AllowedOrigins: []string{upstream.URL("/")}})
	rec = do(t, s2, http.MethodGet, fileTarget(upstream.URL("/guarded.bin"), ""))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestGetFileUpstreamFailure(t *testing.T) {
	upstream := testutil.NewFileServer(t)
	upstream.SetFile("/err.bin", []byte("nope"))
	upstream.SetStatus("/err.bin", http.StatusInternalServerError)
	s, _ := newTestServer(t, Config{})

	rec := do(t, s, http.MethodGet, fileTarget(upstream.URL("/err.bin"), ""))
	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
}

func TestGetFileOverCapacity(t *testing.T) {
	upstream := testutil.NewFileServer(t)
	upstream.SetFile("/big.bin", []byte(strings.Repeat("b", 1000)))
	s, _ := newTestServer(t, Config{}, filecache.WithMaxBytes(10))

	rec := do(t, s, http.MethodGet, fileTarget(upstream.URL("/big.bin"), ""))
	if rec.Code != http.StatusInsufficientStorage {
		t.Errorf("status = %d, want 507", rec.Code)
	}
}

func TestDeleteFileInvalidates(t *testing.T) {
	upstream := testutil.NewFileServer(t)
	upstream.SetFile("/del.bin", []byte("delete me"))
	s, _ := newTestServer(t, Config{})

	if rec := do(t, s, http.MethodGet, fileTarget(upstream.URL("/del.bin"), "")); rec.Code != http.StatusOK {
		t.Fatalf("seed fetch status = %d", rec.Code)
	}
	if rec := do(t, s, http.MethodDelete, fileTarget(upstream.URL("/del.bin"), "")); rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", rec.Code)
	}
	if rec := do(t, s, http.MethodDelete, "/v1/file"); rec.Code != http.StatusBadRequest {
		t.Errorf("delete without url: status = %d, want 400", rec.Code)
	}

	// The next fetch goes back to the upstream.
	if rec := do(t, s, http.MethodGet, fileTarget(upstream.URL("/del.bin"), "")); rec.Code != http.StatusOK {
		t.Fatalf("refetch status = %d", rec.Code)
	}
	if upstream.Gets("/del.bin") != 2 {
		t.Errorf("upstream GETs = %d, want 2", upstream.Gets("/del.bin"))
	}
}

func TestStatsEndpoint(t *testing.T) {
	upstream := testutil.NewFileServer(t)
	upstream.SetFile("/s.bin", []byte("12345"))
	s, _ := newTestServer(t, Config{})

	do(t, s, http.MethodGet, fileTarget(upstream.URL("/s.bin"), ""))
	rec := do(t, s, http.MethodGet, "/v1/stats")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var st filecache.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if st.Downloads != 1 || st.EntryCount != 1 || st.CurrentSizeBytes != 5 {
		t.Errorf("stats = %+v", st)
	}
}

func TestEntriesEndpoint(t *testing.T) {
	upstream := testutil.NewFileServer(t)
	upstream.SetFile("/e.bin", []byte("entry body"))
	s, _ := newTestServer(t, Config{})

	do(t, s, http.MethodGet, fileTarget(upstream.URL("/e.bin"), ""))
	rec := do(t, s, http.MethodGet, "/v1/entries")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var views []entryView
	if err := json.Unmarshal(rec.Body.Bytes(), &views); err != nil {
		t.Fatalf("decode entries: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("entries = %d, want 1", len(views))
	}
	v := views[0]
	if v.URL != upstream.URL("/e.bin") {
		t.Errorf("URL = %q", v.URL)
	}
	if v.SizeBytes != int64(len("entry body")) {
		t.Errorf("SizeBytes = %d", v.SizeBytes)
	}
	if !strings.HasPrefix(v.ContentHash, "sha256:") {
		t.Errorf("ContentHash = %q", v.ContentHash)
	}
}

func TestVerifyEndpoint(t *testing.T) {
	upstream := testutil.NewFileServer(t)
	upstream.SetFile("/v.bin", []byte("verify body"))
	s, m := newTestServer(t, Config{})

	do(t, s, http.MethodGet, fileTarget(upstream.URL("/v.bin"), ""))

	rec := do(t, s, http.MethodGet, "/v1/verify?url="+url.QueryEscape(upstream.URL("/v.bin")))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode verify: %v", err)
	}
	if resp["valid"] != true {
		t.Errorf("valid = %v, want true", resp["valid"])
	}

	// Flip bytes on disk without changing the size.
	var path string
	for e := range m.Entries() {
		path = e.Path
	}
	if err := os.WriteFile(path, []byte("VERIFY body"), 0o600); err != nil {
		t.Fatal(err)
	}
	rec = do(t, s, http.MethodGet, "/v1/verify?url="+url.QueryEscape(upstream.URL("/v.bin")))
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode verify: %v", err)
	}
	if resp["valid"] != false {
		t.Errorf("valid = %v, want false", resp["valid"])
	}
	if _, ok := resp["detail"]; !ok {
		t.Error("mismatch response missing detail")
	}

	// Unknown URLs report invalid without a detail.
	rec = do(t, s, http.MethodGet, "/v1/verify?url="+url.QueryEscape(upstream.URL("/never.bin")))
	resp = nil // Unmarshal keeps existing keys when reusing a map; drop the stale detail.
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode verify: %v", err)
	}
	if resp["valid"] != false {
		t.Errorf("valid = %v, want false", resp["valid"])
	}
	if _, ok := resp["detail"]; ok {
		t.Error("absent entry should not carry a detail")
	}

	if rec := do(t, s, http.MethodGet, "/v1/verify"); rec.Code != http.StatusBadRequest {
		t.Errorf("verify without url: status = %d, want 400", rec.Code)
	}
}

func TestCleanupAndClearEndpoints(t *testing.T) {
	upstream := testutil.NewFileServer(t)
	upstream.SetFile("/short.bin", []byte("short"))
	upstream.SetFile("/long.bin", []byte("long"))
	s, m := newTestServer(t, Config{})

	// Fetch the short-lived entry last so a later cache miss cannot sweep
	// it before the cleanup endpoint runs.
	do(t, s, http.MethodGet, fileTarget(upstream.URL("/long.bin"), ""))
	do(t, s, http.MethodGet, fileTarget(upstream.URL("/short.bin"), "ttl=1ns"))
	time.Sleep(5 * time.Millisecond)

	rec := do(t, s, http.MethodPost, "/v1/cleanup")
	if rec.Code != http.StatusOK {
		t.Fatalf("cleanup status = %d, want 200", rec.Code)
	}
	var resp map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode cleanup: %v", err)
	}
	if resp["removed"] != 1 {
		t.Errorf("removed = %d, want 1", resp["removed"])
	}

	if rec := do(t, s, http.MethodPost, "/v1/clear"); rec.Code != http.StatusNoContent {
		t.Fatalf("clear status = %d, want 204", rec.Code)
	}
	if st := m.Stats(); st.EntryCount != 0 {
		t.Errorf("EntryCount after clear = %d, want 0", st.EntryCount)
	}
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t, Config{})
	rec := do(t, s, http.MethodGet, "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	upstream := testutil.NewFileServer(t)
	upstream.SetFile("/m.bin", []byte("metrics body"))
	s, _ := newTestServer(t, Config{})

	do(t, s, http.MethodGet, fileTarget(upstream.URL("/m.bin"), ""))
	rec := do(t, s, http.MethodGet, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	for _, metric := range []string{
		"filecache_hits_total",
		"filecache_misses_total 1",
		"filecache_downloads_total 1",
		"filecache_size_bytes 12",
		"filecache_entries 1",
	} {
		if !strings.Contains(body, metric) {
			t.Errorf("metrics output missing %q", metric)
		}
	}
}
