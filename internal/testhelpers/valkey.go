//go:build integration

package testhelpers

import (
	"context"
	"crypto/rand"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/refinemirror/session-proxy/internal/config"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/log"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	valkeyImage          = "valkey/valkey:9-alpine"
	valkeyPort  nat.Port = "6379/tcp"
)

// StartValkeyStore runs a password protected Valkey server for the test and
// returns a store configuration pointing at it. Each call uses its own
// namespace so tests sharing a server cannot see each other's session.
func StartValkeyStore(t *testing.T) config.StoreConfig {
	t.Helper()
	ctx := context.Background()

	password := rand.Text()

	valkeyContainer, err := testcontainers.Run(ctx, valkeyImage,
		testcontainers.WithCmd("valkey-server", "--requirepass", password),
		testcontainers.WithExposedPorts(string(valkeyPort)),
		testcontainers.WithLogger(log.TestLogger(t)),
		testcontainers.WithWaitStrategy(
			wait.ForListeningPort(valkeyPort).WithStartupTimeout(30*time.Second),
		),
	)
	testcontainers.CleanupContainer(t, valkeyContainer)
	require.NoError(t, err)

	host, err := valkeyContainer.Host(ctx)
	require.NoError(t, err)
	if host == "localhost" {
		// the client resolves localhost to ::1 first, which docker may not map
		host = "127.0.0.1"
	}

	mapped, err := valkeyContainer.MappedPort(ctx, valkeyPort)
	require.NoError(t, err)

	return config.StoreConfig{
		Type:      "valkey",
		Namespace: "session-proxy-" + rand.Text()[:8],
		Valkey: config.ValkeyConfig{
			Address:  host + ":" + mapped.Port(),
			Username: "default",
			Password: password,
		},
	}
}
