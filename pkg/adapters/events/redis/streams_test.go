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

func collect(ch chan<- ports.Event) ports.EventHandler {
	return func(_ context.Context, event ports.Event) error {
		ch <- event
		return nil
	}
}

func TestNewStreamsEventBus_RequiresGroup(t *testing.T) {
	_, err := NewStreamsEventBus(nil, "", "c1", zap.NewNop())
	assert.Error(t, err)

	_, err = NewStreamsEventBus(nil, "g1", "", zap.NewNop())
	assert.Error(t, err)
}

func TestStreamsEventBus_SharedGroupDeliversOnce(t *testing.T) {
	client := setupRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first, err := NewStreamsEventBus(client, "workers", "w1", zap.NewNop())
	require.NoError(t, err)
	second, err := NewStreamsEventBus(client, "workers", "w2", zap.NewNop())
	require.NoError(t, err)

	received := make(chan ports.Event, 10)
	require.NoError(t, first.Subscribe(ctx, ports.TopicJobs, collect(received)))
	require.NoError(t, second.Subscribe(ctx, ports.TopicJobs, collect(received)))

	require.NoError(t, first.Publish(ctx, ports.TopicJobs, ports.Event{
		ID:        "e1",
		Type:      ports.EventTypeCountRequested,
		RequestID: "r1",
		Character: "c",
	}))

	select {
	case event := <-received:
		assert.Equal(t, "r1", event.RequestID)
		assert.Equal(t, ports.EventTypeCountRequested, event.Type)
	case <-time.After(5 * time.Second):
		t.Fatal("event not delivered")
	}

	select {
	case event := <-received:
		t.Fatalf("event delivered twice: %+v", event)
	case <-time.After(1500 * time.Millisecond):
	}
}

func TestStreamsEventBus_SeparateGroupsFanOut(t *testing.T) {
	client := setupRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := NewStreamsEventBus(client, "notify-a", "a", zap.NewNop())
	require.NoError(t, err)
	b, err := NewStreamsEventBus(client, "notify-b", "b", zap.NewNop())
	require.NoError(t, err)

	gotA := make(chan ports.Event, 1)
	gotB := make(chan ports.Event, 1)
	require.NoError(t, a.Subscribe(ctx, ports.TopicResults, collect(gotA)))
	require.NoError(t, b.Subscribe(ctx, ports.TopicResults, collect(gotB)))

	require.NoError(t, a.Publish(ctx, ports.TopicResults, ports.Event{
		ID:        "e2",
		Type:      ports.EventTypeCountCompleted,
		RequestID: "r2",
		Result:    4,
	}))

	for _, ch := range []chan ports.Event{gotA, gotB} {
		select {
		case event := <-ch:
			assert.Equal(t, uint64(4), event.Result)
		case <-time.After(5 * time.Second):
			t.Fatal("event not delivered to every group")
		}
	}
}
