package websocket

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrSessionClosed is returned when sending to a closed session
var ErrSessionClosed = errors.New("session closed")

// ErrSendBufferFull is returned when a session's outbound queue is full
var ErrSendBufferFull = errors.New("send buffer full")

// Session is a single WebSocket client. Outbound messages are queued and
// written in order by one writer goroutine.
type Session struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	logger *zap.Logger

	writeTimeout time.Duration
	pingInterval time.Duration
}

func newSession(id string, conn *websocket.Conn, cfg *Config, logger *zap.Logger) *Session {
	return &Session{
		id:           id,
		conn:         conn,
		send:         make(chan []byte, cfg.SendBuffer),
		done:         make(chan struct{}),
		logger:       logger,
		writeTimeout: cfg.WriteTimeout,
		pingInterval: cfg.PingInterval,
	}
}

// ID returns the session id
func (s *Session) ID() string {
	return s.id
}

// Send queues msg for delivery without blocking
func (s *Session) Send(msg []byte) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}

	select {
	case s.send <- msg:
		return nil
	case <-s.done:
		return ErrSessionClosed
	default:
		return ErrSendBufferFull
	}
}

// Close stops the writer, sends a normal closure frame and closes the
// connection
func (s *Session) Close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(s.writeTimeout))
		_ = s.conn.Close()
	})
}

// readPump discards inbound frames until the connection fails or closes
func (s *Session) readPump(pongWait time.Duration) {
	defer s.Close()

	if pongWait > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
		s.conn.SetPongHandler(func(string) error {
			return s.conn.SetReadDeadline(time.Now().Add(pongWait))
		})
	}

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				s.logger.Warn("WebSocket read failed",
					zap.String("session_id", s.id),
					zap.Error(err))
			}
			return
		}
	}
}

// writePump writes queued messages and keepalive pings
func (s *Session) writePump() {
	defer s.Close()

	var pings <-chan time.Time
	if s.pingInterval > 0 {
		ticker := time.NewTicker(s.pingInterval)
		defer ticker.Stop()
		pings = ticker.C
	}

	for {
		select {
		case <-s.done:
			return
		case msg := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.logger.Warn("failed to write message",
					zap.String("session_id", s.id),
					zap.Error(err))
				return
			}
		case <-pings:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.writeTimeout)); err != nil {
				return
			}
		}
	}
}
