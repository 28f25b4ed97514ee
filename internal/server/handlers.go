package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/voxelbase/filecache"
	"github.com/voxelbase/filecache/internal/version"
)

// entryView is the wire shape of a cache entry on /v1/entries.
type entryView struct {
	URL            string    `json:"url"`
	Path           string    `json:"path"`
	SizeBytes      int64     `json:"size_bytes"`
	ContentHash    string    `json:"content_hash"`
	CreatedAt      time.Time `json:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	ExpiresAt      time.Time `json:"expires_at,omitzero"`
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Version,
	})
}

func (s *Server) getFile(c echo.Context) error {
	url := c.QueryParam("url")
	if url == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "url query parameter is required")
	}
	if !s.originAllowed(url) {
		return echo.NewHTTPError(http.StatusForbidden, "url is outside the allowed origins")
	}

	var opts []filecache.GetOption
	if raw := c.QueryParam("ttl"); raw != "" {
		ttl, err := time.ParseDuration(raw)
		if err != nil || ttl <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "ttl must be a positive duration")
		}
		opts = append(opts, filecache.GetWithTTL(ttl))
	}

	path, err := s.cache.GetFile(c.Request().Context(), url, opts...)
	if err != nil {
		return echo.NewHTTPError(statusForCacheError(err), err.Error())
	}
	return c.File(path)
}

func (s *Server) deleteFile(c echo.Context) error {
	url := c.QueryParam("url")
	if url == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "url query parameter is required")
	}
	if err := s.cache.Invalidate(url); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) getStats(c echo.Context) error {
	return c.JSON(http.StatusOK, s.cache.Stats())
}

func (s *Server) listEntries(c echo.Context) error {
	views := []entryView{}
	for e := range s.cache.Entries() {
		views = append(views, entryView{
			URL:            e.Key,
			Path:           e.Path,
			SizeBytes:      e.Size,
			ContentHash:    e.Digest.String(),
			CreatedAt:      e.CreatedAt,
			LastAccessedAt: e.LastAccessed,
			ExpiresAt:      e.ExpiresAt,
		})
	}
	return c.JSON(http.StatusOK, views)
}

func (s *Server) verifyFile(c echo.Context) error {
	url := c.QueryParam("url")
	if url == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "url query parameter is required")
	}
	ok, err := s.cache.Verify(url)
	resp := map[string]any{"url": url, "valid": ok}
	if err != nil {
		resp["detail"] = err.Error()
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) cleanup(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]int{"removed": s.cache.Cleanup()})
}

func (s *Server) clear(c echo.Context) error {
	if err := s.cache.Clear(); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) originAllowed(url string) bool {
	if len(s.allowed) == 0 {
		return true
	}
	for _, prefix := range s.allowed {
		if strings.HasPrefix(url, prefix) {
			return true
		}
	}
	return false
}

// statusForCacheError maps cache failures onto response codes: capacity
// exhaustion is the daemon's storage problem, fetch failures the upstream's.
func statusForCacheError(err error) int {
	switch {
	case errors.Is(err, filecache.ErrCacheCapacity):
		return http.StatusInsufficientStorage
	case errors.Is(err, filecache.ErrFetch):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
