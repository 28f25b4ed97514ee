//go:build integration

package integration

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/voxelbase/filecache"
)

// --- File Server Container Setup ---

var (
	serverOnce sync.Once
	serverURL  string
	serverErr  error
)

// getFileServer returns the shared file server base URL, starting the nginx
// container if needed. The container is shared across all tests.
func getFileServer(tb testing.TB) string {
	tb.Helper()

	if os.Getenv("SKIP_DOCKER_TESTS") == "1" {
		tb.Skip("SKIP_DOCKER_TESTS is set")
	}

	serverOnce.Do(func() {
		ctx := context.Background()
		serverURL, serverErr = startFileServerContainer(ctx)
	})

	if serverErr != nil {
		tb.Fatalf("start file server container: %v", serverErr)
	}

	return serverURL
}

// startFileServerContainer starts an nginx container preloaded with the
// fixture files and returns its base URL.
func startFileServerContainer(ctx context.Context) (string, error) {
	files := make([]testcontainers.ContainerFile, 0, len(fixtures))
	for name, content := range fixtures {
		files = append(files, testcontainers.ContainerFile{
			Reader:            bytes.NewReader(content),
			ContainerFilePath: "/usr/share/nginx/html/" + name,
			FileMode:          0o644,
		})
	}

	req := testcontainers.ContainerRequest{
		Image:        "nginx:alpine",
		ExposedPorts: []string{"80/tcp"},
		Files:        files,
		WaitingFor:   wait.ForHTTP("/tiny.bin").WithPort("80/tcp").WithStatusCodeMatcher(isOKStatus),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return "", fmt.Errorf("start nginx container: %w", err)
	}

	// Container cleanup is handled by the testcontainers Reaper.

	host, err := container.Host(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve server host: %w", err)
	}

	port, err := container.MappedPort(ctx, "80/tcp")
	if err != nil {
		return "", fmt.Errorf("resolve server port: %w", err)
	}

	return fmt.Sprintf("http://%s:%s", host, port.Port()), nil
}

func isOKStatus(status int) bool {
	return status >= 200 && status < 300
}

// --- Test Cache Factory ---

// newTestCache creates a Manager over a fresh temporary directory.
func newTestCache(tb testing.TB, opts ...filecache.Option) *filecache.Manager {
	tb.Helper()

	allOpts := append([]filecache.Option{filecache.WithCacheDir(tb.TempDir())}, opts...)
	m, err := filecache.New(allOpts...)
	require.NoError(tb, err, "create test cache")

	tb.Cleanup(func() {
		require.NoError(tb, m.Close(), "close test cache")
	})
	return m
}

// --- Test Data Helpers ---

// makeCompressibleContent creates content that benefits from compression.
func makeCompressibleContent(size int) []byte {
	pattern := []byte("This is a repeating imaging slice pattern. ")
	result := make([]byte, 0, size)
	for len(result) < size {
		result = append(result, pattern...)
	}
	return result[:size]
}

// makeRandomContent creates random binary content.
func makeRandomContent(size int) []byte {
	data := make([]byte, size)
	_, _ = rand.Read(data)
	return data
}

// --- Standard Test Fixtures ---

// fixtures are the files baked into the nginx container at startup.
var fixtures = map[string][]byte{
	"tiny.bin":     []byte("tiny imaging stub"),
	"volume-a.bin": makeCompressibleContent(256 << 10),
	"volume-b.bin": makeRandomContent(1 << 20),
	"volume-c.bin": makeRandomContent(512 << 10),
}

// fixtureURL returns the container URL for a fixture name.
func fixtureURL(base, name string) string {
	return base + "/" + name
}
