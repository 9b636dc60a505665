package http

import (
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/aescanero/chcount/internal/application/jobs"
	"github.com/aescanero/chcount/pkg/api/websocket"
	"github.com/aescanero/chcount/pkg/ports"
	"github.com/aescanero/chcount/pkg/protocol"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const contentTypeJSON = "application/json"

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail represents error details
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CountResultResponse is the body of GET /api/count/:request_id
type CountResultResponse struct {
	RequestID   string `json:"request_id"`
	Status      string `json:"status"`
	Character   string `json:"character"`
	Result      uint64 `json:"result"`
	Error       string `json:"error,omitempty"`
	CompletedAt string `json:"completed_at"`
}

func abortWithError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// handleRoot upgrades to a WebSocket session or serves the index page
func (s *Server) handleRoot(c *gin.Context) {
	if s.wsHandler != nil && websocket.IsUpgrade(c.Request) {
		s.wsHandler.HandleSession(c)
		return
	}

	if s.docsDir != "" {
		index := filepath.Join(s.docsDir, "index.html")
		if _, err := os.Stat(index); err == nil {
			c.File(index)
			return
		}
	}

	c.Data(http.StatusOK, "text/plain", nil)
}

// handleHealth reports worker pool health
func (s *Server) handleHealth(c *gin.Context) {
	healthy := s.health == nil || s.health.IsHealthy()

	sessions := 0
	if s.sessions != nil {
		sessions = s.sessions.Count()
	}

	status, code := "healthy", http.StatusOK
	if !healthy {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":   status,
		"sessions": sessions,
	})
}

// handleSubmitCount accepts a count job for a connected session
func (s *Server) handleSubmitCount(c *gin.Context) {
	if c.ContentType() != contentTypeJSON {
		s.handleUnsupported(c)
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			abortWithError(c, http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE", "Request body is too large")
			return
		}
		abortWithError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	req, sessionID, err := protocol.ParseCountRequest(body)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	requestID, err := s.jobs.Submit(c.Request.Context(), sessionID.String(), req.Data, req.Character)
	if err != nil {
		switch {
		case errors.Is(err, jobs.ErrUnknownSession):
			abortWithError(c, http.StatusBadRequest, "UNKNOWN_ID", jobs.ErrUnknownSession.Error())
		case errors.Is(err, jobs.ErrSpool):
			abortWithError(c, http.StatusBadRequest, "SPOOL_FAILED", jobs.ErrSpool.Error())
		case errors.Is(err, jobs.ErrInvalidCharacter):
			abortWithError(c, http.StatusBadRequest, "INVALID_REQUEST", protocol.ErrInvalidCharacter.Error())
		default:
			s.logger.Error("failed to submit count job", zap.Error(err))
			abortWithError(c, http.StatusInternalServerError, "SUBMISSION_FAILED", err.Error())
		}
		return
	}

	c.JSON(http.StatusOK, protocol.CountResponse{RequestID: requestID})
}

// handleGetCount returns a stored job result
func (s *Server) handleGetCount(c *gin.Context) {
	requestID := c.Param("request_id")

	result, err := s.jobs.GetResult(c.Request.Context(), requestID)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			abortWithError(c, http.StatusNotFound, "NOT_FOUND", "Result not found")
			return
		}
		s.logger.Error("failed to get result",
			zap.String("request_id", requestID),
			zap.Error(err))
		abortWithError(c, http.StatusInternalServerError, "STORAGE_ERROR", "Failed to retrieve result")
		return
	}

	c.JSON(http.StatusOK, CountResultResponse{
		RequestID:   result.RequestID,
		Status:      string(result.Status),
		Character:   result.Character,
		Result:      result.Count,
		Error:       result.Error,
		CompletedAt: result.CompletedAt.Format("2006-01-02T15:04:05Z07:00"),
	})
}

func (s *Server) handleUnsupported(c *gin.Context) {
	abortWithError(c, http.StatusBadRequest, "UNSUPPORTED", "Unsupported HTTP-method or Content-Type")
}

// handleStatic serves files from the docs directory
func (s *Server) handleStatic(c *gin.Context) {
	target := c.Request.URL.Path

	if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
		s.handleUnsupported(c)
		return
	}

	if strings.Contains(target, "..") {
		abortWithError(c, http.StatusBadRequest, "ILLEGAL_TARGET", "Illegal request-target")
		return
	}

	if s.docsDir != "" {
		path := filepath.Join(s.docsDir, filepath.FromSlash(target))
		if strings.HasSuffix(target, "/") {
			path = filepath.Join(path, "index.html")
		}
		if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
			c.File(path)
			return
		}
	}

	abortWithError(c, http.StatusNotFound, "NOT_FOUND", "The resource '"+target+"' was not found.")
}
