package jobs_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/aescanero/chcount/internal/application/jobs"
	"github.com/aescanero/chcount/pkg/adapters/events/memory"
	"github.com/aescanero/chcount/pkg/adapters/metrics/noop"
	storage "github.com/aescanero/chcount/pkg/adapters/storage/memory"
	"github.com/aescanero/chcount/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type sessionSet map[string]bool

func (s sessionSet) Contains(id string) bool { return s[id] }

type failingBus struct{ ports.EventBus }

func (failingBus) Publish(context.Context, string, ports.Event) error {
	return errors.New("bus down")
}

func newService(t *testing.T, bus ports.EventBus, store ports.ResultStore) (*jobs.Service, string) {
	t.Helper()
	dir := t.TempDir()
	return jobs.NewService(&jobs.Config{
		Sessions:         sessionSet{"session-1": true},
		EventBus:         bus,
		Results:          store,
		Metrics:          noop.NewCollector(),
		Logger:           zap.NewNop(),
		SpoolDir:         dir,
		DefaultCharacter: 'c',
	}), dir
}

func TestService_SubmitPublishesJob(t *testing.T) {
	bus := memory.NewInMemoryEventBus()
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan ports.Event, 1)
	require.NoError(t, bus.Subscribe(ctx, ports.TopicJobs, func(_ context.Context, e ports.Event) error {
		received <- e
		return nil
	}))

	svc, _ := newService(t, bus, storage.NewInMemoryResultStore(0))

	requestID, err := svc.Submit(ctx, "session-1", "cocoa", "")
	require.NoError(t, err)
	require.NotEmpty(t, requestID)

	select {
	case e := <-received:
		assert.Equal(t, ports.EventTypeCountRequested, e.Type)
		assert.Equal(t, requestID, e.RequestID)
		assert.Equal(t, "session-1", e.SessionID)
		assert.Equal(t, "c", e.Character)

		data, err := os.ReadFile(e.SpoolPath)
		require.NoError(t, err)
		assert.Equal(t, "cocoa", string(data))
		assert.Contains(t, e.SpoolPath, "tmp_"+requestID+".txt")
		assert.False(t, e.Inline)
		assert.Empty(t, e.Payload)
	case <-time.After(time.Second):
		t.Fatal("job event not published")
	}
}

func TestService_SubmitExplicitCharacter(t *testing.T) {
	bus := memory.NewInMemoryEventBus()
	defer bus.Close()

	received := make(chan ports.Event, 1)
	require.NoError(t, bus.Subscribe(context.Background(), ports.TopicJobs, func(_ context.Context, e ports.Event) error {
		received <- e
		return nil
	}))

	svc, _ := newService(t, bus, storage.NewInMemoryResultStore(0))

	_, err := svc.Submit(context.Background(), "session-1", "banana", "a")
	require.NoError(t, err)

	select {
	case e := <-received:
		assert.Equal(t, "a", e.Character)
	case <-time.After(time.Second):
		t.Fatal("job event not published")
	}
}

func TestService_SubmitInlinePayload(t *testing.T) {
	bus := memory.NewInMemoryEventBus()
	defer bus.Close()

	received := make(chan ports.Event, 1)
	require.NoError(t, bus.Subscribe(context.Background(), ports.TopicJobs, func(_ context.Context, e ports.Event) error {
		received <- e
		return nil
	}))

	svc := jobs.NewService(&jobs.Config{
		Sessions:         sessionSet{"session-1": true},
		EventBus:         bus,
		Results:          storage.NewInMemoryResultStore(0),
		Metrics:          noop.NewCollector(),
		Logger:           zap.NewNop(),
		SpoolDir:         t.TempDir(),
		DefaultCharacter: 'c',
		InlinePayload:    true,
	})

	_, err := svc.Submit(context.Background(), "session-1", "cocoa", "")
	require.NoError(t, err)

	select {
	case e := <-received:
		assert.True(t, e.Inline)
		assert.Equal(t, "cocoa", e.Payload)
		assert.FileExists(t, e.SpoolPath)
	case <-time.After(time.Second):
		t.Fatal("job event not published")
	}
}

func TestService_SubmitErrors(t *testing.T) {
	bus := memory.NewInMemoryEventBus()
	defer bus.Close()

	svc, _ := newService(t, bus, storage.NewInMemoryResultStore(0))

	_, err := svc.Submit(context.Background(), "stranger", "abc", "")
	assert.ErrorIs(t, err, jobs.ErrUnknownSession)

	_, err = svc.Submit(context.Background(), "session-1", "abc", "ab")
	assert.ErrorIs(t, err, jobs.ErrInvalidCharacter)
}

func TestService_SubmitSpoolFailure(t *testing.T) {
	bus := memory.NewInMemoryEventBus()
	defer bus.Close()

	svc := jobs.NewService(&jobs.Config{
		Sessions:         sessionSet{"session-1": true},
		EventBus:         bus,
		Results:          storage.NewInMemoryResultStore(0),
		Metrics:          noop.NewCollector(),
		Logger:           zap.NewNop(),
		SpoolDir:         "/nonexistent/spool/dir",
		DefaultCharacter: 'c',
	})

	_, err := svc.Submit(context.Background(), "session-1", "abc", "")
	assert.ErrorIs(t, err, jobs.ErrSpool)
}

func TestService_SubmitPublishFailureRemovesSpool(t *testing.T) {
	svc, dir := newService(t, failingBus{}, storage.NewInMemoryResultStore(0))

	_, err := svc.Submit(context.Background(), "session-1", "abc", "")
	require.Error(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestService_GetResult(t *testing.T) {
	store := storage.NewInMemoryResultStore(0)
	svc, _ := newService(t, memory.NewInMemoryEventBus(), store)

	_, err := svc.GetResult(context.Background(), "missing")
	assert.ErrorIs(t, err, ports.ErrNotFound)

	require.NoError(t, store.SaveResult(context.Background(), &ports.JobResult{RequestID: "r1", Count: 3}))

	result, err := svc.GetResult(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), result.Count)
}
