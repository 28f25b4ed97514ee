//go:build integration

// Package integration provides integration tests for the filecache library.
//
// These tests require Docker and spin up a real nginx file server using
// testcontainers. Run with: go test -tags=integration ./integration/...
package integration
