package jobs_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aescanero/chcount/internal/application/jobs"
	"github.com/aescanero/chcount/pkg/adapters/events/memory"
	"github.com/aescanero/chcount/pkg/adapters/metrics/noop"
	"github.com/aescanero/chcount/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type sent struct {
	id  string
	msg string
}

type recordingSender chan sent

func (r recordingSender) Send(id string, msg []byte) error {
	r <- sent{id: id, msg: string(msg)}
	return nil
}

func TestNotifier_PushesResults(t *testing.T) {
	bus := memory.NewInMemoryEventBus()
	defer bus.Close()

	out := make(recordingSender, 2)
	n := jobs.NewNotifier(bus, out, noop.NewCollector(), zap.NewNop())
	require.NoError(t, n.Start(context.Background()))
	defer n.Stop()

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, ports.TopicResults, ports.Event{
		Type:      ports.EventTypeCountCompleted,
		RequestID: "r1",
		SessionID: "s1",
		Result:    5,
	}))

	select {
	case got := <-out:
		assert.Equal(t, "s1", got.id)
		assert.JSONEq(t, `{"type":"result","data":{"request_id":"r1","result":5}}`, got.msg)
	case <-time.After(time.Second):
		t.Fatal("result not pushed")
	}

	require.NoError(t, bus.Publish(ctx, ports.TopicResults, ports.Event{
		Type:      ports.EventTypeCountFailed,
		RequestID: "r2",
		SessionID: "s1",
		Error:     "boom",
	}))

	select {
	case got := <-out:
		assert.JSONEq(t, `{"type":"error","data":{"request_id":"r2","error":"boom"}}`, got.msg)
	case <-time.After(time.Second):
		t.Fatal("failure not pushed")
	}
}

func TestNotifier_RemovesLeftoverSpool(t *testing.T) {
	bus := memory.NewInMemoryEventBus()
	defer bus.Close()

	out := make(recordingSender, 1)
	n := jobs.NewNotifier(bus, out, noop.NewCollector(), zap.NewNop())
	require.NoError(t, n.Start(context.Background()))
	defer n.Stop()

	// counted from an inline copy elsewhere, the submitter's file remains
	spool := filepath.Join(t.TempDir(), "tmp_r3.txt")
	require.NoError(t, os.WriteFile(spool, []byte("ccc"), 0o600))

	require.NoError(t, bus.Publish(context.Background(), ports.TopicResults, ports.Event{
		Type:      ports.EventTypeCountCompleted,
		RequestID: "r3",
		SessionID: "s1",
		SpoolPath: spool,
		Result:    3,
	}))

	select {
	case <-out:
	case <-time.After(time.Second):
		t.Fatal("result not pushed")
	}

	assert.NoFileExists(t, spool)
}

func TestNotifier_StopUnsubscribes(t *testing.T) {
	bus := memory.NewInMemoryEventBus()
	defer bus.Close()

	n := jobs.NewNotifier(bus, make(recordingSender, 1), noop.NewCollector(), zap.NewNop())
	require.NoError(t, n.Start(context.Background()))
	assert.Equal(t, 1, bus.Subscribers(ports.TopicResults))

	n.Stop()

	assert.Eventually(t, func() bool {
		return bus.Subscribers(ports.TopicResults) == 0
	}, time.Second, 10*time.Millisecond)
}
