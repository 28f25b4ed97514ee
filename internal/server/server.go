// Package server exposes a Manager over a small HTTP API for processes that
// cannot link the filecache package directly.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxelbase/filecache"
)

// Config holds server construction options.
type Config struct {
	// Logger receives request logs. Logs are discarded when nil.
	Logger *slog.Logger

	// AllowedOrigins restricts fetch-through URLs to the given prefixes.
	// An empty list allows any URL.
	AllowedOrigins []string
}

// Server wraps the Echo server around a cache Manager.
type Server struct {
	echo    *echo.Echo
	cache   *filecache.Manager
	logger  *slog.Logger
	allowed []string
}

// New builds the server with its routes and middleware registered.
func New(cache *filecache.Manager, cfg Config) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:    e,
		cache:   cache,
		logger:  cfg.Logger,
		allowed: cfg.AllowedOrigins,
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		newCacheCollector(cache),
	)

	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogMethod:    true,
		LogURI:       true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			level := slog.LevelInfo
			if v.Status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			attrs := []slog.Attr{
				slog.String("request_id", v.RequestID),
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				attrs = append(attrs, slog.String("error", v.Error.Error()))
			}
			s.log().LogAttrs(c.Request().Context(), level, "request", attrs...)
			return nil
		},
	}))

	e.GET("/healthz", s.health)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	v1 := e.Group("/v1")
	v1.GET("/file", s.getFile)
	v1.DELETE("/file", s.deleteFile)
	v1.GET("/stats", s.getStats)
	v1.GET("/entries", s.listEntries)
	v1.GET("/verify", s.verifyFile)
	v1.POST("/cleanup", s.cleanup)
	v1.POST("/clear", s.clear)

	return s
}

func (s *Server) log() *slog.Logger {
	if s.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return s.logger
}

// Start listens on addr and serves until Shutdown.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// ServeHTTP implements http.Handler so the server can sit behind httptest.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
