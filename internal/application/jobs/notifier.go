package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/aescanero/chcount/internal/application/sessions"
	"github.com/aescanero/chcount/pkg/adapters/tracing"
	"github.com/aescanero/chcount/pkg/ports"
	"github.com/aescanero/chcount/pkg/protocol"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// SessionSender delivers a message to a connected session
type SessionSender interface {
	Send(id string, msg []byte) error
}

// Notifier pushes job outcomes to the sessions that submitted them
type Notifier struct {
	eventBus ports.EventBus
	sessions SessionSender
	metrics  ports.MetricsCollector
	logger   *zap.Logger

	cancel context.CancelFunc
}

// NewNotifier creates a notifier
func NewNotifier(eventBus ports.EventBus, sessions SessionSender, metrics ports.MetricsCollector, logger *zap.Logger) *Notifier {
	return &Notifier{
		eventBus: eventBus,
		sessions: sessions,
		metrics:  metrics,
		logger:   logger,
	}
}

// Start subscribes to job results
func (n *Notifier) Start(ctx context.Context) error {
	ctx, n.cancel = context.WithCancel(ctx)

	if err := n.eventBus.Subscribe(ctx, ports.TopicResults, n.handleEvent); err != nil {
		n.cancel()
		return fmt.Errorf("failed to subscribe to results: %w", err)
	}

	n.logger.Info("result notifier started")
	return nil
}

// Stop cancels the results subscription
func (n *Notifier) Stop() {
	if n.cancel != nil {
		n.cancel()
	}
}

func (n *Notifier) handleEvent(ctx context.Context, event ports.Event) error {
	_, span := tracing.Start(tracing.Extract(ctx, event), "jobs.notify",
		attribute.String("request_id", event.RequestID),
		attribute.String("session_id", event.SessionID))
	defer span.End()

	var (
		msg []byte
		err error
	)

	switch event.Type {
	case ports.EventTypeCountCompleted:
		msg, err = protocol.NewResultMessage(event.RequestID, event.Result)
	case ports.EventTypeCountFailed:
		msg, err = protocol.NewErrorMessage(event.RequestID, event.Error)
	default:
		n.logger.Debug("ignoring event",
			zap.String("event_id", event.ID),
			zap.String("type", string(event.Type)))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}

	// a worker on another host counted a copy, the original stays here
	if event.SpoolPath != "" {
		if err := os.Remove(event.SpoolPath); err != nil && !os.IsNotExist(err) {
			n.logger.Warn("failed to remove spool file",
				zap.String("request_id", event.RequestID),
				zap.Error(err))
		}
	}

	if err := n.sessions.Send(event.SessionID, msg); err != nil {
		if errors.Is(err, sessions.ErrUnknownSession) {
			// Session belongs to another instance or already disconnected
			n.metrics.RecordResultDelivered("dropped")
			n.logger.Debug("result for unknown session dropped",
				zap.String("request_id", event.RequestID),
				zap.String("session_id", event.SessionID))
			return nil
		}
		n.metrics.RecordResultDelivered("failed")
		tracing.RecordError(span, err)
		n.logger.Warn("failed to deliver result",
			zap.String("request_id", event.RequestID),
			zap.String("session_id", event.SessionID),
			zap.Error(err))
		return nil
	}

	n.metrics.RecordResultDelivered("delivered")
	n.logger.Debug("result delivered",
		zap.String("request_id", event.RequestID),
		zap.String("session_id", event.SessionID))

	return nil
}
