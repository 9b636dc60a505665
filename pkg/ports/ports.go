// Package ports defines the interfaces shared between the application layer
// and its adapters (event bus, result storage, metrics).
package ports

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by storage adapters when a key does not exist.
var ErrNotFound = errors.New("not found")

// Topics used on the event bus
const (
	TopicJobs    = "count.jobs"
	TopicResults = "count.results"
)

// EventType identifies the kind of an event
type EventType string

const (
	EventTypeCountRequested EventType = "count.requested"
	EventTypeCountCompleted EventType = "count.completed"
	EventTypeCountFailed    EventType = "count.failed"
)

// Event is the envelope published on the event bus
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	// RequestID is the count request this event belongs to
	RequestID string `json:"request_id"`
	// SessionID is the WebSocket session that owns the request
	SessionID string `json:"session_id"`

	Character string `json:"character,omitempty"`
	SpoolPath string `json:"spool_path,omitempty"`
	Result    uint64 `json:"result,omitempty"`
	Error     string `json:"error,omitempty"`

	// Payload repeats the spooled text when Inline is set, for consumers
	// that cannot read SpoolPath
	Payload string `json:"payload,omitempty"`
	Inline  bool   `json:"inline,omitempty"`

	// TraceContext carries the W3C trace headers of the publisher
	TraceContext map[string]string `json:"trace_context,omitempty"`
}

// EventHandler processes a single event
type EventHandler func(ctx context.Context, event Event) error

// EventBus publishes events to topics and delivers them to subscribers
type EventBus interface {
	Publish(ctx context.Context, topic string, event Event) error
	// Subscribe registers handler for topic until ctx is cancelled
	Subscribe(ctx context.Context, topic string, handler EventHandler) error
	Close() error
}

// JobStatus is the terminal status of a count job
type JobStatus string

const (
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// JobResult is the stored outcome of a count job
type JobResult struct {
	RequestID   string    `json:"request_id"`
	SessionID   string    `json:"session_id"`
	Status      JobStatus `json:"status"`
	Character   string    `json:"character"`
	Count       uint64    `json:"count"`
	Error       string    `json:"error,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

// ResultStore keeps job results for later lookup
type ResultStore interface {
	SaveResult(ctx context.Context, result *JobResult) error
	// GetResult returns ErrNotFound when no result is stored for requestID
	GetResult(ctx context.Context, requestID string) (*JobResult, error)
	DeleteResult(ctx context.Context, requestID string) error
}

// ResultPruner is implemented by result stores without native expiry
type ResultPruner interface {
	Prune(ctx context.Context) (int64, error)
}

// Counter counts occurrences of a character in a file
type Counter interface {
	Count(ctx context.Context, path string, ch byte) (uint64, error)
}

// MetricsCollector records application metrics
type MetricsCollector interface {
	RecordJobSubmitted(status string)
	RecordJobCompleted(status string, duration time.Duration)
	RecordResultDelivered(status string)
	SetActiveSessions(count int)
	RecordWorkerPoolStatus(idle, busy, stopped int)
}
