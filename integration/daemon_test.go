//go:build integration

package integration

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxelbase/filecache"
	"github.com/voxelbase/filecache/internal/server"
)

// --- Daemon HTTP API ---

func TestDaemon_FetchThrough(t *testing.T) {
	t.Parallel()

	base := getFileServer(t)
	cache := newTestCache(t)
	srv := server.New(cache, server.Config{AllowedOrigins: []string{base + "/"}})
	api := httptest.NewServer(srv)
	t.Cleanup(api.Close)

	target := api.URL + "/v1/file?url=" + url.QueryEscape(fixtureURL(base, "volume-c.bin"))
	resp, err := http.Get(target)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, fixtures["volume-c.bin"], body, "served bytes")

	// The stats endpoint reflects the download.
	resp, err = http.Get(api.URL + "/v1/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var st filecache.Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	assert.EqualValues(t, 1, st.Downloads)
	assert.Equal(t, 1, st.EntryCount)
}

func TestDaemon_OriginAllowlist(t *testing.T) {
	t.Parallel()

	base := getFileServer(t)
	cache := newTestCache(t)
	srv := server.New(cache, server.Config{AllowedOrigins: []string{base + "/"}})
	api := httptest.NewServer(srv)
	t.Cleanup(api.Close)

	target := api.URL + "/v1/file?url=" + url.QueryEscape("https://forbidden.example/volume.bin")
	resp, err := http.Get(target)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, 0, cache.Stats().EntryCount)
}

func TestDaemon_InvalidateAndRefetch(t *testing.T) {
	t.Parallel()

	base := getFileServer(t)
	cache := newTestCache(t)
	srv := server.New(cache, server.Config{})
	api := httptest.NewServer(srv)
	t.Cleanup(api.Close)

	fileTarget := api.URL + "/v1/file?url=" + url.QueryEscape(fixtureURL(base, "tiny.bin"))

	resp, err := http.Get(fileTarget)
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusOK, resp.StatusCode)

	req, err := http.NewRequest(http.MethodDelete, fileTarget, nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = http.Get(fileTarget)
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.EqualValues(t, 2, cache.Stats().Downloads, "invalidate should force a refetch")
}
