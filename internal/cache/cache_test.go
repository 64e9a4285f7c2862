package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestMemoryGuard(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	g := NewMemoryGuard()
	g.now = func() time.Time { return now }

	ok, err := g.Claim(ctx, "charge-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = g.Claim(ctx, "charge-1", time.Minute)
	assert.False(t, ok)

	ok, _ = g.Claim(ctx, "charge-2", time.Minute)
	assert.True(t, ok)

	now = now.Add(time.Minute)
	ok, _ = g.Claim(ctx, "charge-1", time.Minute)
	assert.True(t, ok, "claim expires after ttl")

	require.NoError(t, g.Release(ctx, "charge-2"))
	ok, _ = g.Claim(ctx, "charge-2", time.Minute)
	assert.True(t, ok)
}

func TestMemoryGuard_PrunesExpiredClaims(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	g := NewMemoryGuard()
	g.now = func() time.Time { return now }

	for i := range 50 {
		ok, err := g.Claim(ctx, fmt.Sprintf("callback:%d", i), time.Second)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	assert.Len(t, g.entries, 50)

	now = now.Add(memoryPruneInterval)
	ok, err := g.Claim(ctx, "callback:live", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, g.entries, 1)
	assert.Contains(t, g.entries, "callback:live")
}

func TestRedisGuard(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping redis container test in short mode")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	g := NewRedisGuard(redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())}))
	defer g.Close()

	ok, err := g.Claim(ctx, "callback:abc", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = g.Claim(ctx, "callback:abc", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, g.Release(ctx, "callback:abc"))
	ok, err = g.Claim(ctx, "callback:abc", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
