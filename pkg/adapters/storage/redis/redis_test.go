package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/aescanero/chcount/pkg/ports"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()

	if os.Getenv("RUN_INTEGRATION_TESTS") != "true" {
		t.Skip("Skipping integration tests (set RUN_INTEGRATION_TESTS=true to run)")
	}

	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(ctx).Err())

	return client
}

func TestResultStore(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()
	store := NewResultStore(client, time.Minute, zap.NewNop())

	_, err := store.GetResult(ctx, "r1")
	assert.ErrorIs(t, err, ports.ErrNotFound)

	require.NoError(t, store.SaveResult(ctx, &ports.JobResult{
		RequestID: "r1",
		SessionID: "s1",
		Status:    ports.JobStatusCompleted,
		Character: "c",
		Count:     5,
	}))

	got, err := store.GetResult(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, uint64(5), got.Count)
	assert.Equal(t, "s1", got.SessionID)

	ttl, err := client.TTL(ctx, getResultKey("r1")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	require.NoError(t, store.DeleteResult(ctx, "r1"))
	_, err = store.GetResult(ctx, "r1")
	assert.ErrorIs(t, err, ports.ErrNotFound)
}
