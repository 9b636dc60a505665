package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aescanero/chcount/pkg/adapters/tracing"
	"github.com/aescanero/chcount/pkg/ports"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var (
	// ErrUnknownSession is returned when the submitting session is not connected
	ErrUnknownSession = errors.New("Unknown id")
	// ErrSpool is returned when the payload cannot be written to the spool directory
	ErrSpool = errors.New("Cannot create tmp file")
	// ErrInvalidCharacter is returned when the counted character is not a single byte
	ErrInvalidCharacter = errors.New("character must be a single byte")
)

// SessionChecker reports whether a session id is connected
type SessionChecker interface {
	Contains(id string) bool
}

// Service accepts count jobs
type Service struct {
	sessions    SessionChecker
	eventBus    ports.EventBus
	results     ports.ResultStore
	metrics     ports.MetricsCollector
	logger      *zap.Logger
	spoolDir    string
	defaultChar byte
	inline      bool
}

// Config holds Service dependencies
type Config struct {
	Sessions         SessionChecker
	EventBus         ports.EventBus
	Results          ports.ResultStore
	Metrics          ports.MetricsCollector
	Logger           *zap.Logger
	SpoolDir         string
	DefaultCharacter byte

	// InlinePayload copies the text into the job event, for buses shared
	// with workers on other hosts
	InlinePayload bool
}

// NewService creates a job service
func NewService(cfg *Config) *Service {
	return &Service{
		sessions:    cfg.Sessions,
		eventBus:    cfg.EventBus,
		results:     cfg.Results,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
		spoolDir:    cfg.SpoolDir,
		defaultChar: cfg.DefaultCharacter,
		inline:      cfg.InlinePayload,
	}
}

// Submit queues a count of character in data for sessionID and returns the
// request id. An empty character selects the configured default.
func (s *Service) Submit(ctx context.Context, sessionID, data, character string) (requestID string, err error) {
	ctx, span := tracing.Start(ctx, "jobs.Submit", attribute.String("session_id", sessionID))
	defer func() {
		if err != nil {
			tracing.RecordError(span, err)
		}
		span.End()
	}()

	if !s.sessions.Contains(sessionID) {
		s.metrics.RecordJobSubmitted("rejected")
		return "", ErrUnknownSession
	}

	ch := s.defaultChar
	if character != "" {
		if len(character) != 1 {
			s.metrics.RecordJobSubmitted("rejected")
			return "", ErrInvalidCharacter
		}
		ch = character[0]
	}

	requestID = uuid.New().String()
	span.SetAttributes(attribute.String("request_id", requestID))

	spoolPath, err := s.spool(requestID, data)
	if err != nil {
		s.logger.Error("failed to spool payload",
			zap.String("request_id", requestID),
			zap.String("spool_dir", s.spoolDir),
			zap.Error(err))
		s.metrics.RecordJobSubmitted("failed")
		return "", fmt.Errorf("%w: %v", ErrSpool, err)
	}

	event := ports.Event{
		ID:        uuid.New().String(),
		Type:      ports.EventTypeCountRequested,
		Timestamp: time.Now(),
		RequestID: requestID,
		SessionID: sessionID,
		Character: string([]byte{ch}),
		SpoolPath: spoolPath,
	}
	if s.inline {
		event.Payload = data
		event.Inline = true
	}
	tracing.Inject(ctx, &event)

	if err := s.eventBus.Publish(ctx, ports.TopicJobs, event); err != nil {
		_ = os.Remove(spoolPath)
		s.logger.Error("failed to publish count request",
			zap.String("request_id", requestID),
			zap.Error(err))
		s.metrics.RecordJobSubmitted("failed")
		return "", fmt.Errorf("failed to publish event: %w", err)
	}

	s.metrics.RecordJobSubmitted("submitted")
	s.logger.Info("count job submitted",
		zap.String("request_id", requestID),
		zap.String("session_id", sessionID),
		zap.String("character", event.Character),
		zap.Int("bytes", len(data)))

	return requestID, nil
}

// GetResult returns the stored outcome of a job, ports.ErrNotFound when the
// job is unknown, still running or its result expired
func (s *Service) GetResult(ctx context.Context, requestID string) (*ports.JobResult, error) {
	result, err := s.results.GetResult(ctx, requestID)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// spool writes data to tmp_<request_id>.txt in the spool directory
func (s *Service) spool(requestID, data string) (string, error) {
	path := filepath.Join(s.spoolDir, fmt.Sprintf("tmp_%s.txt", requestID))

	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		return "", err
	}

	return path, nil
}
