package client

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrDuplicateRequest is returned when a request id is awaited twice
	ErrDuplicateRequest = errors.New("request id already awaited")

	// ErrConnectionClosed is returned to waiters when the push channel goes away
	ErrConnectionClosed = errors.New("connection closed")
)

// Outcome is a pushed job result
type Outcome struct {
	Count uint64
	Err   error
}

// entry holds either a waiting submitter or an outcome that arrived first
type entry struct {
	waiter  chan Outcome
	outcome Outcome
	arrived time.Time
}

// Correlator reconciles HTTP responses carrying a request id with
// WebSocket pushes carrying that request's outcome. Either may arrive first.
// An entry is removed once both sides have been seen. Outcomes nobody
// claims within the retention period are discarded.
type Correlator struct {
	mu        sync.Mutex
	entries   map[string]*entry
	closed    error
	retention time.Duration
	now       func() time.Time
}

// NewCorrelator creates an empty correlation table. A non-positive
// retention keeps unclaimed outcomes until the table is dropped.
func NewCorrelator(retention time.Duration) *Correlator {
	return &Correlator{
		entries:   make(map[string]*entry),
		retention: retention,
		now:       time.Now,
	}
}

// Deliver records a pushed outcome. A waiting submitter receives it
// immediately, otherwise it is kept until Await is called.
func (c *Correlator) Deliver(requestID string, outcome Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[requestID]; ok && e.waiter != nil {
		delete(c.entries, requestID)
		e.waiter <- outcome
		return
	}

	now := c.now()
	c.expire(now)
	c.entries[requestID] = &entry{outcome: outcome, arrived: now}
}

// expire drops unclaimed outcomes older than the retention period
func (c *Correlator) expire(now time.Time) {
	if c.retention <= 0 {
		return
	}
	for id, e := range c.entries {
		if e.waiter == nil && now.Sub(e.arrived) >= c.retention {
			delete(c.entries, id)
		}
	}
}

// Await returns the outcome for requestID, waiting for the push when it has
// not arrived yet. Cancelling ctx removes the pending placeholder.
func (c *Correlator) Await(ctx context.Context, requestID string) (uint64, error) {
	c.mu.Lock()
	c.expire(c.now())
	if e, ok := c.entries[requestID]; ok {
		if e.waiter != nil {
			c.mu.Unlock()
			return 0, ErrDuplicateRequest
		}
		delete(c.entries, requestID)
		c.mu.Unlock()
		return e.outcome.Count, e.outcome.Err
	}
	if c.closed != nil {
		err := c.closed
		c.mu.Unlock()
		return 0, err
	}

	e := &entry{waiter: make(chan Outcome, 1)}
	c.entries[requestID] = e
	c.mu.Unlock()

	select {
	case outcome := <-e.waiter:
		return outcome.Count, outcome.Err
	case <-ctx.Done():
	}

	c.mu.Lock()
	if c.entries[requestID] == e {
		delete(c.entries, requestID)
		c.mu.Unlock()
		return 0, ctx.Err()
	}
	c.mu.Unlock()

	// delivered while cancelling
	outcome := <-e.waiter
	return outcome.Count, outcome.Err
}

// Close fails every pending waiter with err and rejects later waits.
// Outcomes that already arrived can still be collected.
func (c *Correlator) Close(err error) {
	if err == nil {
		err = ErrConnectionClosed
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed != nil {
		return
	}
	c.closed = err

	for id, e := range c.entries {
		if e.waiter != nil {
			delete(c.entries, id)
			e.waiter <- Outcome{Err: err}
		}
	}
}

// Len returns the number of entries in the table
func (c *Correlator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
