package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCorrelator_ResultBeforeResponse(t *testing.T) {
	c := NewCorrelator(0)

	c.Deliver("r1", Outcome{Count: 7})
	assert.Equal(t, 1, c.Len())

	count, err := c.Await(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, uint64(7), count)
	assert.Zero(t, c.Len())
}

func TestCorrelator_ResponseBeforeResult(t *testing.T) {
	c := NewCorrelator(0)

	type result struct {
		count uint64
		err   error
	}
	done := make(chan result, 1)
	go func() {
		count, err := c.Await(context.Background(), "r1")
		done <- result{count, err}
	}()

	require.Eventually(t, func() bool { return c.Len() == 1 }, time.Second, time.Millisecond)

	c.Deliver("r1", Outcome{Count: 3})

	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.Equal(t, uint64(3), r.count)
	case <-time.After(time.Second):
		t.Fatal("waiter not released")
	}
	assert.Zero(t, c.Len())
}

func TestCorrelator_FailedOutcome(t *testing.T) {
	c := NewCorrelator(0)
	jobErr := errors.New("boom")

	c.Deliver("r1", Outcome{Err: jobErr})

	_, err := c.Await(context.Background(), "r1")
	assert.ErrorIs(t, err, jobErr)
}

func TestCorrelator_CancelRemovesPlaceholder(t *testing.T) {
	c := NewCorrelator(0)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Await(ctx, "r1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, c.Len())
}

func TestCorrelator_DuplicateAwait(t *testing.T) {
	c := NewCorrelator(0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _, _ = c.Await(ctx, "r1") }()

	require.Eventually(t, func() bool { return c.Len() == 1 }, time.Second, time.Millisecond)

	_, err := c.Await(context.Background(), "r1")
	assert.ErrorIs(t, err, ErrDuplicateRequest)
}

func TestCorrelator_Close(t *testing.T) {
	c := NewCorrelator(0)

	done := make(chan error, 1)
	go func() {
		_, err := c.Await(context.Background(), "pending")
		done <- err
	}()
	require.Eventually(t, func() bool { return c.Len() == 1 }, time.Second, time.Millisecond)

	c.Deliver("arrived", Outcome{Count: 1})
	c.Close(nil)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrConnectionClosed)
	case <-time.After(time.Second):
		t.Fatal("waiter not released")
	}

	count, err := c.Await(context.Background(), "arrived")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)

	_, err = c.Await(context.Background(), "later")
	assert.ErrorIs(t, err, ErrConnectionClosed)
}

func TestCorrelator_DiscardsUnclaimedOutcomes(t *testing.T) {
	c := NewCorrelator(time.Minute)
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	// outcomes whose submitter gave up before the HTTP response
	for _, id := range []string{"a", "b", "c"} {
		c.Deliver(id, Outcome{Count: 1})
	}
	assert.Equal(t, 3, c.Len())

	now = now.Add(30 * time.Second)
	c.Deliver("d", Outcome{Count: 4})
	assert.Equal(t, 4, c.Len())

	now = now.Add(30 * time.Second)
	c.Deliver("e", Outcome{Count: 5})
	assert.Equal(t, 2, c.Len(), "outcomes past retention are dropped")

	count, err := c.Await(context.Background(), "d")
	require.NoError(t, err)
	assert.Equal(t, uint64(4), count)
}

func TestCorrelator_RetentionSparesWaiters(t *testing.T) {
	c := NewCorrelator(time.Minute)
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	done := make(chan uint64, 1)
	go func() {
		count, _ := c.Await(context.Background(), "slow")
		done <- count
	}()
	require.Eventually(t, func() bool { return c.Len() == 1 }, time.Second, time.Millisecond)

	now = now.Add(time.Hour)
	c.Deliver("other", Outcome{Count: 1})
	c.Deliver("slow", Outcome{Count: 9})

	select {
	case count := <-done:
		assert.Equal(t, uint64(9), count)
	case <-time.After(time.Second):
		t.Fatal("waiter not released")
	}
}
