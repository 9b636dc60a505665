package memory

import (
	"context"
	"sync"
	"time"

	"github.com/aescanero/chcount/pkg/ports"
)

type storedResult struct {
	result    ports.JobResult
	expiresAt time.Time
}

// InMemoryResultStore implements ResultStore using an in-memory map.
// Expired entries are dropped on access and by Prune.
type InMemoryResultStore struct {
	results map[string]storedResult
	ttl     time.Duration
	now     func() time.Time
	mu      sync.RWMutex
}

// NewInMemoryResultStore creates a new in-memory result store.
// A zero ttl keeps results forever.
func NewInMemoryResultStore(ttl time.Duration) *InMemoryResultStore {
	return &InMemoryResultStore{
		results: make(map[string]storedResult),
		ttl:     ttl,
		now:     time.Now,
	}
}

// SaveResult stores a copy of result
func (s *InMemoryResultStore) SaveResult(ctx context.Context, result *ports.JobResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := storedResult{result: *result}
	if s.ttl > 0 {
		entry.expiresAt = s.now().Add(s.ttl)
	}
	s.results[result.RequestID] = entry
	return nil
}

// GetResult returns a copy of the stored result
func (s *InMemoryResultStore) GetResult(ctx context.Context, requestID string) (*ports.JobResult, error) {
	s.mu.RLock()
	entry, ok := s.results[requestID]
	s.mu.RUnlock()

	if !ok {
		return nil, ports.ErrNotFound
	}
	if s.expired(entry) {
		s.mu.Lock()
		if current, ok := s.results[requestID]; ok && s.expired(current) {
			delete(s.results, requestID)
		}
		s.mu.Unlock()
		return nil, ports.ErrNotFound
	}

	result := entry.result
	return &result, nil
}

// DeleteResult removes a stored result
func (s *InMemoryResultStore) DeleteResult(ctx context.Context, requestID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.results, requestID)
	return nil
}

// Prune removes expired results and returns how many were removed
func (s *InMemoryResultStore) Prune(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for id, entry := range s.results {
		if s.expired(entry) {
			delete(s.results, id)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of stored results, expired ones included
func (s *InMemoryResultStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.results)
}

func (s *InMemoryResultStore) expired(entry storedResult) bool {
	return !entry.expiresAt.IsZero() && !s.now().Before(entry.expiresAt)
}
