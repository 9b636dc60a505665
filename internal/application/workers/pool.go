package workers

import (
	"context"
	"fmt"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aescanero/chcount/pkg/adapters/tracing"
	"github.com/aescanero/chcount/pkg/ports"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Pool manages a pool of worker goroutines
type Pool struct {
	size       int
	eventBus   ports.EventBus
	results    ports.ResultStore
	counter    ports.Counter
	metrics    ports.MetricsCollector
	logger     *zap.Logger
	health     *HealthMonitor
	jobTimeout time.Duration
	spoolDir   string

	jobs    chan ports.Event
	workers []*worker
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// worker represents a single worker goroutine
type worker struct {
	id      string
	pool    *Pool
	status  WorkerStatus
	mu      sync.RWMutex
	lastJob time.Time
}

// WorkerStatus represents worker status
type WorkerStatus string

const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusBusy    WorkerStatus = "busy"
	WorkerStatusStopped WorkerStatus = "stopped"
)

// Config holds worker pool configuration
type Config struct {
	Size                int
	EventBus            ports.EventBus
	Results             ports.ResultStore
	Counter             ports.Counter
	Metrics             ports.MetricsCollector
	Logger              *zap.Logger
	JobTimeout          time.Duration
	HealthCheckInterval time.Duration
	// SpoolDir receives local copies of inline payloads
	SpoolDir            string
}

// NewPool creates a new worker pool
func NewPool(cfg *Config) *Pool {
	ctx, cancel := context.WithCancel(context.Background())

	pool := &Pool{
		size:       cfg.Size,
		eventBus:   cfg.EventBus,
		results:    cfg.Results,
		counter:    cfg.Counter,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
		jobTimeout: cfg.JobTimeout,
		spoolDir:   cfg.SpoolDir,
		jobs:       make(chan ports.Event),
		workers:    make([]*worker, cfg.Size),
		ctx:        ctx,
		cancel:     cancel,
	}

	pool.health = NewHealthMonitor(pool, cfg.HealthCheckInterval, cfg.Logger)

	return pool
}

// Health returns the pool's health monitor
func (p *Pool) Health() *HealthMonitor {
	return p.health
}

// Start starts the workers and subscribes to count jobs
func (p *Pool) Start() error {
	p.logger.Info("starting worker pool", zap.Int("size", p.size))

	for i := 0; i < p.size; i++ {
		w := &worker{
			id:      fmt.Sprintf("worker-%d", i),
			pool:    p,
			status:  WorkerStatusIdle,
			lastJob: time.Now(),
		}
		p.workers[i] = w

		p.wg.Add(1)
		go w.run(p.ctx)
	}

	// One subscription feeds all workers, so each job runs once
	if err := p.eventBus.Subscribe(p.ctx, ports.TopicJobs, p.dispatch); err != nil {
		p.cancel()
		return fmt.Errorf("failed to subscribe to jobs: %w", err)
	}

	p.health.Start()

	p.logger.Info("worker pool started", zap.Int("workers", p.size))
	return nil
}

// Shutdown gracefully shuts down the worker pool
func (p *Pool) Shutdown(ctx context.Context) error {
	p.logger.Info("shutting down worker pool")

	p.health.Stop()
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool shut down complete")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timeout")
	}
}

// GetStatus returns the status of all workers
func (p *Pool) GetStatus() map[string]WorkerStatus {
	status := make(map[string]WorkerStatus)
	for _, w := range p.workers {
		if w == nil {
			continue
		}
		w.mu.RLock()
		status[w.id] = w.status
		w.mu.RUnlock()
	}
	return status
}

// dispatch hands a job event to the next free worker, blocking until one
// is available or the pool stops
func (p *Pool) dispatch(ctx context.Context, event ports.Event) error {
	if event.Type != ports.EventTypeCountRequested {
		return nil
	}

	select {
	case p.jobs <- event:
		return nil
	case <-p.ctx.Done():
		return p.ctx.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the main worker loop
func (w *worker) run(ctx context.Context) {
	defer w.pool.wg.Done()

	w.pool.logger.Debug("worker started", zap.String("worker_id", w.id))

	for {
		select {
		case <-ctx.Done():
			w.setStatus(WorkerStatusStopped)
			w.pool.logger.Debug("worker stopped", zap.String("worker_id", w.id))
			return
		case event := <-w.pool.jobs:
			w.handleJob(ctx, event)
		}
	}
}

func (w *worker) setStatus(status WorkerStatus) {
	w.mu.Lock()
	w.status = status
	if status == WorkerStatusBusy {
		w.lastJob = time.Now()
	}
	w.mu.Unlock()
}

// handleJob counts the spooled payload and publishes the outcome
func (w *worker) handleJob(ctx context.Context, event ports.Event) {
	w.setStatus(WorkerStatusBusy)
	defer w.setStatus(WorkerStatusIdle)

	logger := w.pool.logger.With(
		zap.String("worker_id", w.id),
		zap.String("request_id", event.RequestID),
		zap.String("session_id", event.SessionID))

	logger.Debug("executing count job", zap.String("spool_path", event.SpoolPath))

	ctx, span := tracing.Start(tracing.Extract(ctx, event), "workers.handleJob",
		attribute.String("worker_id", w.id),
		attribute.String("request_id", event.RequestID))
	defer span.End()

	startTime := time.Now()

	jobCtx := ctx
	if w.pool.jobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, w.pool.jobTimeout)
		defer cancel()
	}

	var count uint64
	path, execErr := w.resolveSpool(event)
	if execErr == nil {
		count, execErr = w.count(jobCtx, event, path)
	}

	if path != "" {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logger.Warn("failed to remove spool file", zap.Error(err))
		}
	}

	duration := time.Since(startTime)

	result := &ports.JobResult{
		RequestID:   event.RequestID,
		SessionID:   event.SessionID,
		Character:   event.Character,
		CompletedAt: time.Now(),
	}
	outcome := ports.Event{
		ID:        uuid.New().String(),
		Timestamp: result.CompletedAt,
		RequestID: event.RequestID,
		SessionID: event.SessionID,
		Character: event.Character,
		SpoolPath: event.SpoolPath,
	}

	if execErr != nil {
		result.Status = ports.JobStatusFailed
		result.Error = execErr.Error()
		outcome.Type = ports.EventTypeCountFailed
		outcome.Error = execErr.Error()
		tracing.RecordError(span, execErr)
		logger.Error("count job failed", zap.Error(execErr), zap.Duration("duration", duration))
	} else {
		result.Status = ports.JobStatusCompleted
		result.Count = count
		outcome.Type = ports.EventTypeCountCompleted
		outcome.Result = count
		logger.Info("count job completed",
			zap.Uint64("result", count),
			zap.Duration("duration", duration))
	}

	w.pool.metrics.RecordJobCompleted(string(result.Status), duration)

	// a timed out job still stores and reports its failure
	storeCtx := context.WithoutCancel(ctx)

	if err := w.pool.results.SaveResult(storeCtx, result); err != nil {
		logger.Error("failed to save result", zap.Error(err))
	}

	tracing.Inject(ctx, &outcome)
	if err := w.pool.eventBus.Publish(storeCtx, ports.TopicResults, outcome); err != nil {
		logger.Error("failed to publish result", zap.Error(err))
	}
}

// resolveSpool returns the file to count: the submitter's spool file when
// this host can read it, otherwise a local copy of the inline payload
func (w *worker) resolveSpool(event ports.Event) (string, error) {
	if event.SpoolPath != "" {
		_, err := os.Stat(event.SpoolPath)
		if err == nil {
			return event.SpoolPath, nil
		}
		if !event.Inline {
			return "", fmt.Errorf("spool file unavailable: %w", err)
		}
	}
	if !event.Inline {
		return "", errors.New("missing spool path")
	}

	dir := w.pool.spoolDir
	if dir == "" {
		dir = os.TempDir()
	}
	path := filepath.Join(dir, fmt.Sprintf("tmp_%s.txt", event.RequestID))
	if err := os.WriteFile(path, []byte(event.Payload), 0o600); err != nil {
		return "", fmt.Errorf("failed to spool inline payload: %w", err)
	}

	return path, nil
}

func (w *worker) count(ctx context.Context, event ports.Event, path string) (uint64, error) {
	if len(event.Character) != 1 {
		return 0, fmt.Errorf("invalid character %q", event.Character)
	}

	return w.pool.counter.Count(ctx, path, event.Character[0])
}
