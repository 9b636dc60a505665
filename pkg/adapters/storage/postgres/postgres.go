package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aescanero/chcount/pkg/ports"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const schema = `
	CREATE TABLE IF NOT EXISTS chcount_results (
		request_id   TEXT PRIMARY KEY,
		session_id   TEXT NOT NULL,
		status       TEXT NOT NULL,
		target_char  TEXT NOT NULL,
		count        BIGINT NOT NULL,
		error        TEXT NOT NULL DEFAULT '',
		completed_at TIMESTAMPTZ NOT NULL,
		expires_at   TIMESTAMPTZ
	)
`

// ResultStore implements ResultStore on PostgreSQL
type ResultStore struct {
	pool   *pgxpool.Pool
	ttl    time.Duration
	logger *zap.Logger
}

// Connect opens a connection pool and verifies connectivity
func Connect(ctx context.Context, url string, logger *zap.Logger) (*pgxpool.Pool, error) {
	pgxCfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("connected to database",
		zap.String("host", pgxCfg.ConnConfig.Host),
		zap.String("database", pgxCfg.ConnConfig.Database),
		zap.Int32("max_conns", pgxCfg.MaxConns))

	return pool, nil
}

// NewResultStore creates the results table if needed and returns the store.
// A non-positive ttl keeps results forever.
func NewResultStore(ctx context.Context, pool *pgxpool.Pool, ttl time.Duration, logger *zap.Logger) (*ResultStore, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("failed to create results table: %w", err)
	}

	return &ResultStore{
		pool:   pool,
		ttl:    ttl,
		logger: logger,
	}, nil
}

// SaveResult inserts or replaces a job result
func (s *ResultStore) SaveResult(ctx context.Context, result *ports.JobResult) error {
	query := `
		INSERT INTO chcount_results
			(request_id, session_id, status, target_char, count, error, completed_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (request_id) DO UPDATE SET
			session_id = EXCLUDED.session_id,
			status = EXCLUDED.status,
			target_char = EXCLUDED.target_char,
			count = EXCLUDED.count,
			error = EXCLUDED.error,
			completed_at = EXCLUDED.completed_at,
			expires_at = EXCLUDED.expires_at
	`

	var expiresAt *time.Time
	if s.ttl > 0 {
		t := time.Now().Add(s.ttl)
		expiresAt = &t
	}

	_, err := s.pool.Exec(ctx, query,
		result.RequestID,
		result.SessionID,
		string(result.Status),
		result.Character,
		int64(result.Count),
		result.Error,
		result.CompletedAt,
		expiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save result: %w", err)
	}

	s.logger.Debug("result saved",
		zap.String("request_id", result.RequestID),
		zap.String("status", string(result.Status)))

	return nil
}

// GetResult retrieves a job result that has not expired
func (s *ResultStore) GetResult(ctx context.Context, requestID string) (*ports.JobResult, error) {
	query := `
		SELECT request_id, session_id, status, target_char, count, error, completed_at
		FROM chcount_results
		WHERE request_id = $1 AND (expires_at IS NULL OR expires_at > now())
	`

	var (
		r      ports.JobResult
		status string
		count  int64
	)
	err := s.pool.QueryRow(ctx, query, requestID).Scan(
		&r.RequestID,
		&r.SessionID,
		&status,
		&r.Character,
		&count,
		&r.Error,
		&r.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("result %s: %w", requestID, ports.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get result: %w", err)
	}

	r.Status = ports.JobStatus(status)
	r.Count = uint64(count)

	return &r, nil
}

// DeleteResult removes a job result
func (s *ResultStore) DeleteResult(ctx context.Context, requestID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM chcount_results WHERE request_id = $1`, requestID); err != nil {
		return fmt.Errorf("failed to delete result: %w", err)
	}

	s.logger.Debug("result deleted", zap.String("request_id", requestID))
	return nil
}

// Prune removes expired results and returns how many were deleted
func (s *ResultStore) Prune(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM chcount_results WHERE expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("failed to prune results: %w", err)
	}
	return tag.RowsAffected(), nil
}
