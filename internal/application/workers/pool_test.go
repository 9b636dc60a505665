package workers

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aescanero/chcount/internal/counter"
	"github.com/aescanero/chcount/pkg/adapters/events/memory"
	"github.com/aescanero/chcount/pkg/adapters/metrics/noop"
	storage "github.com/aescanero/chcount/pkg/adapters/storage/memory"
	"github.com/aescanero/chcount/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type failingCounter struct{}

func (failingCounter) Count(context.Context, string, byte) (uint64, error) {
	return 0, errors.New("disk on fire")
}

type testEnv struct {
	spoolDir string
	bus      *memory.InMemoryEventBus
	store    *storage.InMemoryResultStore
	pool     *Pool
	results  chan ports.Event
}

func newTestEnv(t *testing.T, c ports.Counter, size int) *testEnv {
	t.Helper()

	env := &testEnv{
		spoolDir: t.TempDir(),
		bus:      memory.NewInMemoryEventBus(),
		store:    storage.NewInMemoryResultStore(0),
		results:  make(chan ports.Event, 10),
	}

	env.pool = NewPool(&Config{
		Size:       size,
		EventBus:   env.bus,
		Results:    env.store,
		Counter:    c,
		Metrics:    noop.NewCollector(),
		Logger:     zap.NewNop(),
		JobTimeout: time.Second,
		SpoolDir:   env.spoolDir,
	})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, env.bus.Subscribe(ctx, ports.TopicResults, func(_ context.Context, e ports.Event) error {
		env.results <- e
		return nil
	}))
	require.NoError(t, env.pool.Start())

	t.Cleanup(func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), time.Second)
		defer done()
		assert.NoError(t, env.pool.Shutdown(shutdownCtx))
		cancel()
		env.bus.Close()
	})

	return env
}

func spool(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tmp_job.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func (env *testEnv) awaitResult(t *testing.T) ports.Event {
	t.Helper()
	select {
	case e := <-env.results:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("no result published")
		return ports.Event{}
	}
}

func TestPool_CompletesJob(t *testing.T) {
	env := newTestEnv(t, counter.New(2), 2)

	path := spool(t, "cacao and coconut")
	require.NoError(t, env.bus.Publish(context.Background(), ports.TopicJobs, ports.Event{
		Type:      ports.EventTypeCountRequested,
		RequestID: "r1",
		SessionID: "s1",
		Character: "c",
		SpoolPath: path,
	}))

	e := env.awaitResult(t)
	assert.Equal(t, ports.EventTypeCountCompleted, e.Type)
	assert.Equal(t, "r1", e.RequestID)
	assert.Equal(t, "s1", e.SessionID)
	assert.Equal(t, uint64(4), e.Result)

	stored, err := env.store.GetResult(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, ports.JobStatusCompleted, stored.Status)
	assert.Equal(t, uint64(4), stored.Count)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "spool file must be removed")
}

func TestPool_FailedJob(t *testing.T) {
	env := newTestEnv(t, failingCounter{}, 1)

	path := spool(t, "abc")
	require.NoError(t, env.bus.Publish(context.Background(), ports.TopicJobs, ports.Event{
		Type:      ports.EventTypeCountRequested,
		RequestID: "r2",
		SessionID: "s1",
		Character: "c",
		SpoolPath: path,
	}))

	e := env.awaitResult(t)
	assert.Equal(t, ports.EventTypeCountFailed, e.Type)
	assert.Contains(t, e.Error, "disk on fire")

	stored, err := env.store.GetResult(context.Background(), "r2")
	require.NoError(t, err)
	assert.Equal(t, ports.JobStatusFailed, stored.Status)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "spool file must be removed on failure too")
}

func TestPool_InlinePayloadFromOtherHost(t *testing.T) {
	env := newTestEnv(t, counter.New(2), 1)

	// the submitter's spool file lives on another host
	remote := filepath.Join(t.TempDir(), "elsewhere", "tmp_r9.txt")

	require.NoError(t, env.bus.Publish(context.Background(), ports.TopicJobs, ports.Event{
		Type:      ports.EventTypeCountRequested,
		RequestID: "r9",
		SessionID: "s1",
		Character: "c",
		SpoolPath: remote,
		Payload:   "cc c",
		Inline:    true,
	}))

	e := env.awaitResult(t)
	require.Equal(t, ports.EventTypeCountCompleted, e.Type, e.Error)
	assert.Equal(t, uint64(3), e.Result)
	assert.Equal(t, remote, e.SpoolPath, "outcome names the submitter's spool file")

	entries, err := os.ReadDir(env.spoolDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "local copy must be removed")
}

func TestPool_InlineEmptyPayload(t *testing.T) {
	env := newTestEnv(t, counter.New(1), 1)

	require.NoError(t, env.bus.Publish(context.Background(), ports.TopicJobs, ports.Event{
		Type:      ports.EventTypeCountRequested,
		RequestID: "r10",
		SessionID: "s1",
		Character: "c",
		SpoolPath: filepath.Join(t.TempDir(), "missing", "tmp_r10.txt"),
		Inline:    true,
	}))

	e := env.awaitResult(t)
	require.Equal(t, ports.EventTypeCountCompleted, e.Type, e.Error)
	assert.Equal(t, uint64(0), e.Result)
}

func TestPool_MissingSpoolWithoutPayload(t *testing.T) {
	env := newTestEnv(t, counter.New(1), 1)

	require.NoError(t, env.bus.Publish(context.Background(), ports.TopicJobs, ports.Event{
		Type:      ports.EventTypeCountRequested,
		RequestID: "r11",
		SessionID: "s1",
		Character: "c",
		SpoolPath: filepath.Join(t.TempDir(), "missing", "tmp_r11.txt"),
	}))

	e := env.awaitResult(t)
	assert.Equal(t, ports.EventTypeCountFailed, e.Type)
	assert.Contains(t, e.Error, "spool file unavailable")
}

func TestPool_EachJobRunsOnce(t *testing.T) {
	env := newTestEnv(t, counter.New(1), 4)

	for i := 0; i < 3; i++ {
		require.NoError(t, env.bus.Publish(context.Background(), ports.TopicJobs, ports.Event{
			Type:      ports.EventTypeCountRequested,
			RequestID: "r",
			SessionID: "s1",
			Character: "x",
			SpoolPath: spool(t, "xx"),
		}))
	}

	for i := 0; i < 3; i++ {
		env.awaitResult(t)
	}

	select {
	case e := <-env.results:
		t.Fatalf("unexpected extra result %+v", e)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPool_HealthStatus(t *testing.T) {
	env := newTestEnv(t, counter.New(1), 3)

	status := env.pool.Health().GetStatus()
	assert.Equal(t, 3, status.TotalWorkers)
	assert.True(t, status.Healthy)
	assert.True(t, env.pool.Health().IsHealthy())
}

func TestPool_StoppedAfterShutdown(t *testing.T) {
	bus := memory.NewInMemoryEventBus()
	defer bus.Close()

	pool := NewPool(&Config{
		Size:     2,
		EventBus: bus,
		Results:  storage.NewInMemoryResultStore(0),
		Counter:  counter.New(1),
		Metrics:  noop.NewCollector(),
		Logger:   zap.NewNop(),
	})
	require.NoError(t, pool.Start())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, pool.Shutdown(ctx))

	status := pool.Health().GetStatus()
	assert.Equal(t, 2, status.StoppedWorkers)
	assert.False(t, status.Healthy)
}
