package websocket

import (
	"net/http"
	"time"

	"github.com/aescanero/chcount/internal/application/sessions"
	"github.com/aescanero/chcount/pkg/protocol"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Registry tracks connected sessions
type Registry interface {
	Join(s sessions.Session)
	Leave(s sessions.Session)
}

// Config holds WebSocket session settings
type Config struct {
	SendBuffer   int
	WriteTimeout time.Duration
	PingInterval time.Duration
	// PongWait must exceed PingInterval; zero disables read deadlines
	PongWait time.Duration
}

// DefaultConfig returns the settings used when none are given
func DefaultConfig() *Config {
	return &Config{
		SendBuffer:   64,
		WriteTimeout: 10 * time.Second,
		PingInterval: 30 * time.Second,
		PongWait:     60 * time.Second,
	}
}

// Handler upgrades HTTP requests to WebSocket sessions
type Handler struct {
	registry Registry
	cfg      *Config
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(registry Registry, cfg *Config, logger *zap.Logger) *Handler {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.SendBuffer < 1 {
		cfg.SendBuffer = 1
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultConfig().WriteTimeout
	}

	return &Handler{
		registry: registry,
		cfg:      cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // the page may be served from another origin
			},
		},
		logger: logger,
	}
}

// IsUpgrade reports whether the request asks for a WebSocket session
func IsUpgrade(r *http.Request) bool {
	return websocket.IsWebSocketUpgrade(r)
}

// HandleSession runs a session until the client disconnects
func (h *Handler) HandleSession(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}

	session := newSession(uuid.New().String(), conn, h.cfg, h.logger)

	hello, err := protocol.NewIDMessage(session.ID())
	if err != nil {
		h.logger.Error("failed to encode id message", zap.Error(err))
		session.Close()
		return
	}

	h.registry.Join(session)
	defer h.registry.Leave(session)

	h.logger.Info("WebSocket connection established",
		zap.String("session_id", session.ID()),
		zap.String("client", c.ClientIP()))

	// queue is empty, cannot fail
	_ = session.Send(hello)

	go session.writePump()
	session.readPump(h.cfg.PongWait)

	h.logger.Info("WebSocket connection closed",
		zap.String("session_id", session.ID()))
}
