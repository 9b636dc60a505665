package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/aescanero/chcount/pkg/ports"
	"go.uber.org/zap"
)

// Janitor periodically removes expired results from stores that do not
// expire them on their own
type Janitor struct {
	pruner   ports.ResultPruner
	interval time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewJanitor creates a janitor pruning every interval
func NewJanitor(pruner ports.ResultPruner, interval time.Duration, logger *zap.Logger) *Janitor {
	return &Janitor{
		pruner:   pruner,
		interval: interval,
		logger:   logger,
	}
}

// Start launches the prune loop. A non-positive interval disables it.
func (j *Janitor) Start() {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.running || j.interval <= 0 {
		return
	}
	j.running = true
	j.stopCh = make(chan struct{})
	j.doneCh = make(chan struct{})

	go j.run(j.stopCh, j.doneCh)

	j.logger.Info("result janitor started", zap.Duration("interval", j.interval))
}

// Stop ends the prune loop and waits for a running prune to return
func (j *Janitor) Stop() {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	j.running = false
	close(j.stopCh)
	done := j.doneCh
	j.mu.Unlock()

	<-done
}

func (j *Janitor) run(stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			j.prune()
		}
	}
}

func (j *Janitor) prune() {
	ctx, cancel := context.WithTimeout(context.Background(), j.interval)
	defer cancel()

	removed, err := j.pruner.Prune(ctx)
	if err != nil {
		j.logger.Warn("failed to prune results", zap.Error(err))
		return
	}
	if removed > 0 {
		j.logger.Debug("expired results pruned", zap.Int64("removed", removed))
	}
}
