package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aescanero/chcount/pkg/ports"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const resultKeyPrefix = "chcount:result:"

// ResultStore implements ResultStore using Redis
type ResultStore struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

// NewResultStore creates a new Redis result store
func NewResultStore(client *redis.Client, ttl time.Duration, logger *zap.Logger) *ResultStore {
	return &ResultStore{
		client: client,
		logger: logger,
		ttl:    ttl,
	}
}

// SaveResult persists a job result with the store TTL
func (s *ResultStore) SaveResult(ctx context.Context, result *ports.JobResult) error {
	key := getResultKey(result.RequestID)

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save result: %w", err)
	}

	s.logger.Debug("result saved",
		zap.String("request_id", result.RequestID),
		zap.String("status", string(result.Status)))

	return nil
}

// GetResult retrieves a job result
func (s *ResultStore) GetResult(ctx context.Context, requestID string) (*ports.JobResult, error) {
	data, err := s.client.Get(ctx, getResultKey(requestID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("result %s: %w", requestID, ports.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get result: %w", err)
	}

	var result ports.JobResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal result: %w", err)
	}

	return &result, nil
}

// DeleteResult removes a job result
func (s *ResultStore) DeleteResult(ctx context.Context, requestID string) error {
	if err := s.client.Del(ctx, getResultKey(requestID)).Err(); err != nil {
		return fmt.Errorf("failed to delete result: %w", err)
	}

	s.logger.Debug("result deleted", zap.String("request_id", requestID))
	return nil
}

func getResultKey(requestID string) string {
	return resultKeyPrefix + requestID
}
