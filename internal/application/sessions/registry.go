// Package sessions tracks the WebSocket sessions connected to this server
// instance, keyed by the id assigned to each of them on connect.
package sessions

import (
	"errors"
	"fmt"
	"sync"

	"github.com/aescanero/chcount/pkg/ports"
	"go.uber.org/zap"
)

// ErrUnknownSession is returned when no session is registered under an id
var ErrUnknownSession = errors.New("unknown session")

// Session is a connected client that accepts outbound messages
type Session interface {
	ID() string
	Send(msg []byte) error
}

// Registry holds the connected sessions
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]Session
	metrics  ports.MetricsCollector
	logger   *zap.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(metrics ports.MetricsCollector, logger *zap.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]Session),
		metrics:  metrics,
		logger:   logger,
	}
}

// Join registers a session
func (r *Registry) Join(s Session) {
	r.mu.Lock()
	r.sessions[s.ID()] = s
	count := len(r.sessions)
	r.mu.Unlock()

	r.metrics.SetActiveSessions(count)
	r.logger.Debug("session joined",
		zap.String("session_id", s.ID()),
		zap.Int("sessions", count))
}

// Leave removes a session, if it is still the one registered under its id
func (r *Registry) Leave(s Session) {
	r.mu.Lock()
	if current, ok := r.sessions[s.ID()]; ok && current == s {
		delete(r.sessions, s.ID())
	}
	count := len(r.sessions)
	r.mu.Unlock()

	r.metrics.SetActiveSessions(count)
	r.logger.Debug("session left",
		zap.String("session_id", s.ID()),
		zap.Int("sessions", count))
}

// Contains reports whether a session is registered under id
func (r *Registry) Contains(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.sessions[id]
	return ok
}

// Send queues msg on the session registered under id
func (r *Registry) Send(id string, msg []byte) error {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%s: %w", id, ErrUnknownSession)
	}

	return s.Send(msg)
}

// Count returns the number of registered sessions
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
