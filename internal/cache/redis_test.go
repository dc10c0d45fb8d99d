package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

type entry struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func startRedis(t *testing.T) *Cache {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

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

	client := redis.NewClient(&redis.Options{Addr: host + ":" + port.Port()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCache(client)
}

func TestCache_HashRoundTrip(t *testing.T) {
	c := startRedis(t)
	ctx := context.Background()

	var got entry
	found, err := c.HGet(ctx, "live:p1", "production", &got)
	require.NoError(t, err)
	assert.False(t, found)

	gen, err := c.Generation(ctx, "live:gen:p1")
	require.NoError(t, err)
	assert.Zero(t, gen)

	ok, err := c.HSetIfGeneration(ctx, "live:gen:p1", gen, "live:p1", "production", entry{Name: "demo", Count: 2}, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	found, err = c.HGet(ctx, "live:p1", "production", &got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, entry{Name: "demo", Count: 2}, got)

	require.NoError(t, c.Invalidate(ctx, "live:gen:p1", "live:p1"))
	found, err = c.HGet(ctx, "live:p1", "production", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCache_FillAfterInvalidateIsDropped(t *testing.T) {
	c := startRedis(t)
	ctx := context.Background()

	// A reader takes the generation and loads old content...
	gen, err := c.Generation(ctx, "live:gen:p2")
	require.NoError(t, err)

	// ...a deploy commits and invalidates before the reader writes.
	require.NoError(t, c.Invalidate(ctx, "live:gen:p2", "live:p2"))

	ok, err := c.HSetIfGeneration(ctx, "live:gen:p2", gen, "live:p2", "production", entry{Name: "old"}, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	var got entry
	found, err := c.HGet(ctx, "live:p2", "production", &got)
	require.NoError(t, err)
	assert.False(t, found)

	fresh, err := c.Generation(ctx, "live:gen:p2")
	require.NoError(t, err)
	assert.Equal(t, gen+1, fresh)
	ok, err = c.HSetIfGeneration(ctx, "live:gen:p2", fresh, "live:p2", "production", entry{Name: "new"}, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCache_NilIsAlwaysMiss(t *testing.T) {
	var c *Cache
	var got entry

	found, err := c.HGet(context.Background(), "k", "f", &got)
	assert.NoError(t, err)
	assert.False(t, found)
	ok, err := c.HSetIfGeneration(context.Background(), "g", 0, "k", "f", got, time.Second)
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, c.Invalidate(context.Background(), "g", "k"))
	assert.Error(t, c.Ping(context.Background()))
}
