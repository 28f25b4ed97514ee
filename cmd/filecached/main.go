// Package main runs filecached, a daemon that fronts a filecache.Manager
// with the HTTP API from internal/server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/robfig/cron/v3"

	"github.com/voxelbase/filecache"
	"github.com/voxelbase/filecache/internal/config"
	"github.com/voxelbase/filecache/internal/server"
	"github.com/voxelbase/filecache/internal/version"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	versionFlag := flag.Bool("version", false, "print version information")
	flag.Parse()

	if *versionFlag {
		fmt.Println(version.Full())
		os.Exit(0)
	}

	// A .env file is optional; real environment variables win either way.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "filecached:", err)
		os.Exit(1)
	}

	logger := buildLogger(cfg)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("daemon failed", "error", err)
		os.Exit(1)
	}
}

func buildLogger(cfg *config.Config) *slog.Logger {
	// Level and format were validated by config.Load.
	level, _ := cfg.SlogLevel()
	var handler slog.Handler
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	}
	return slog.New(handler)
}

func run(cfg *config.Config, logger *slog.Logger) error {
	logger.Info("starting filecached",
		"version", version.Version,
		"commit", version.Commit,
		"built", version.Date,
	)

	// Parsed values were validated by config.Load.
	maxBytes, _ := cfg.MaxBytes()
	chunkSize, _ := cfg.ChunkBytes()
	ttl, _ := cfg.TTL()
	interval, _ := cfg.Interval()

	opts := []filecache.Option{
		filecache.WithMaxBytes(maxBytes),
		filecache.WithChunkSize(chunkSize),
		filecache.WithDefaultTTL(ttl),
		filecache.WithLogger(logger),
	}
	if cfg.CacheDir != "" {
		opts = append(opts, filecache.WithCacheDir(cfg.CacheDir))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, filecache.WithUserAgent(cfg.UserAgent))
	}
	for key, value := range cfg.UpstreamHeaders {
		opts = append(opts, filecache.WithHeader(key, value))
	}

	cache, err := filecache.New(opts...)
	if err != nil {
		return err
	}
	defer func() {
		if err := cache.Close(); err != nil {
			logger.Warn("cache close failed", "error", err)
		}
	}()

	st := cache.Stats()
	logger.Info("cache ready",
		"entries", st.EntryCount,
		"size_bytes", st.CurrentSizeBytes,
		"max_bytes", maxBytes,
		"default_ttl", ttl,
	)

	scheduler := cron.New()
	if _, err := scheduler.AddFunc("@every "+interval.String(), func() {
		cache.Cleanup()
	}); err != nil {
		return fmt.Errorf("schedule cleanup: %w", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	srv := server.New(cache, server.Config{
		Logger:         logger,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		logger.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("server shutdown error", "error", err)
		}
	}()

	logger.Info("listening", "address", cfg.Listen)
	if err := srv.Start(cfg.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info("server stopped")
	return nil
}
