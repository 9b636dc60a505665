// Package protocol defines the JSON messages exchanged between chcount
// clients and the server, over both HTTP and WebSocket.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// MessageType is the "type" field of a WebSocket message
type MessageType string

const (
	// TypeID carries the session id assigned by the server
	TypeID MessageType = "id"
	// TypeResult carries the result of a count request
	TypeResult MessageType = "result"
	// TypeError carries the failure of a count request
	TypeError MessageType = "error"
)

// Message is a server to client WebSocket message
type Message struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Result is the data of a TypeResult message
type Result struct {
	RequestID string `json:"request_id"`
	Result    uint64 `json:"result"`
}

// JobError is the data of a TypeError message
type JobError struct {
	RequestID string `json:"request_id"`
	Error     string `json:"error"`
}

// CountRequest is the body of POST /api/count
type CountRequest struct {
	ID        string `json:"id"`
	Data      string `json:"data"`
	Character string `json:"character,omitempty"`
}

// CountResponse is the body of a successful POST /api/count
type CountResponse struct {
	RequestID string `json:"request_id"`
}

// Parse errors, their text is returned to HTTP clients as is
var (
	ErrInvalidJSON      = errors.New("Request body is not in valid json format")
	ErrInvalidObject    = errors.New("Request body is not valid json object")
	ErrInvalidID        = errors.New(`Request "id" is not in valid format`)
	ErrInvalidCharacter = errors.New(`Request "character" must be a single character`)
)

// NewIDMessage encodes the session id announcement
func NewIDMessage(id string) ([]byte, error) {
	return encode(TypeID, id)
}

// NewResultMessage encodes a count result
func NewResultMessage(requestID string, result uint64) ([]byte, error) {
	return encode(TypeResult, Result{RequestID: requestID, Result: result})
}

// NewErrorMessage encodes a count failure
func NewErrorMessage(requestID, reason string) ([]byte, error) {
	return encode(TypeError, JobError{RequestID: requestID, Error: reason})
}

func encode(t MessageType, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s data: %w", t, err)
	}
	return json.Marshal(Message{Type: t, Data: raw})
}

// ParseCountRequest validates a POST /api/count body field by field so that
// each kind of malformed input maps to its own error.
func ParseCountRequest(body []byte) (*CountRequest, uuid.UUID, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil || obj == nil {
		return nil, uuid.Nil, ErrInvalidJSON
	}

	var req CountRequest
	if !stringField(obj, "id", &req.ID) || !stringField(obj, "data", &req.Data) {
		return nil, uuid.Nil, ErrInvalidObject
	}

	if raw, ok := obj["character"]; ok && string(raw) != "null" {
		if err := json.Unmarshal(raw, &req.Character); err != nil || len(req.Character) != 1 {
			return nil, uuid.Nil, ErrInvalidCharacter
		}
	}

	id, err := uuid.Parse(req.ID)
	if err != nil {
		return nil, uuid.Nil, ErrInvalidID
	}

	return &req, id, nil
}

func stringField(obj map[string]json.RawMessage, name string, dst *string) bool {
	raw, ok := obj[name]
	if !ok {
		return false
	}
	return json.Unmarshal(raw, dst) == nil && len(raw) > 0 && raw[0] == '"'
}
