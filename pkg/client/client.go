package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aescanero/chcount/pkg/protocol"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const countPath = "/api/count"

// DefaultResultRetention bounds how long a pushed result nobody awaits is kept
const DefaultResultRetention = 10 * time.Minute

var (
	// ErrNotConnected is returned when submitting before the server assigned an id
	ErrNotConnected = errors.New("client id not assigned yet")

	// ErrNoRequestID is returned when the submit response carries no request id
	ErrNoRequestID = errors.New("response has no request_id")

	// ErrJobFailed wraps the reason pushed for a failed job
	ErrJobFailed = errors.New("job failed")
)

// StatusError is returned when the server rejects a submission
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("submission rejected with status %d", e.StatusCode)
	}
	return fmt.Sprintf("submission rejected with status %d: %s", e.StatusCode, e.Message)
}

// Config holds client settings
type Config struct {
	ServerURL      string
	DialTimeout    time.Duration
	RequestTimeout time.Duration

	// ResultRetention is how long unclaimed results are kept, zero selects
	// DefaultResultRetention
	ResultRetention time.Duration
	Logger          *zap.Logger
	HTTPClient      *http.Client
}

// Client holds one WebSocket session and submits count jobs for it
type Client struct {
	baseURL        *url.URL
	conn           *websocket.Conn
	http           *http.Client
	requestTimeout time.Duration
	correlator     *Correlator
	logger         *zap.Logger

	mu      sync.RWMutex
	id      string
	idReady chan struct{}
	idOnce  sync.Once

	inFlight  atomic.Int64
	closing   atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

// SubmitOption customises a single submission
type SubmitOption func(*protocol.CountRequest)

// WithCharacter selects the character to count
func WithCharacter(ch byte) SubmitOption {
	return func(r *protocol.CountRequest) {
		r.Character = string([]byte{ch})
	}
}

// Dial opens the WebSocket session and starts reading pushes
func Dial(ctx context.Context, cfg *Config) (*Client, error) {
	base, err := url.Parse(cfg.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}

	wsURL, err := websocketURL(base)
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	retention := cfg.ResultRetention
	if retention == 0 {
		retention = DefaultResultRetention
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: cfg.DialTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", wsURL, err)
	}

	logger.Info("WebSocket connection opened", zap.String("url", wsURL))

	c := &Client{
		baseURL:        base,
		conn:           conn,
		http:           httpClient,
		requestTimeout: cfg.RequestTimeout,
		correlator:     NewCorrelator(retention),
		logger:         logger,
		idReady:        make(chan struct{}),
		done:           make(chan struct{}),
	}

	go c.readLoop()

	return c, nil
}

func websocketURL(base *url.URL) (string, error) {
	u := *base
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported server URL scheme %q", base.Scheme)
	}
	u.Path = "/"
	u.RawQuery = ""
	return u.String(), nil
}

func (c *Client) readLoop() {
	defer close(c.done)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			switch {
			case c.closing.Load(),
				websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				c.logger.Info("WebSocket connection closed")
			default:
				c.logger.Error("WebSocket connection error", zap.Error(err))
			}
			c.correlator.Close(ErrConnectionClosed)
			return
		}

		if err := c.HandleMessage(data); err != nil {
			c.logger.Warn("ignoring message", zap.Error(err))
		}
	}
}

// HandleMessage applies one pushed message: an id assignment, a result or
// a job failure
func (c *Client) HandleMessage(data []byte) error {
	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("failed to decode message: %w", err)
	}

	switch msg.Type {
	case protocol.TypeID:
		var id string
		if err := json.Unmarshal(msg.Data, &id); err != nil {
			return fmt.Errorf("failed to decode id: %w", err)
		}
		c.mu.Lock()
		c.id = id
		c.mu.Unlock()
		c.idOnce.Do(func() { close(c.idReady) })
		c.logger.Debug("client id assigned", zap.String("client_id", id))

	case protocol.TypeResult:
		var result protocol.Result
		if err := json.Unmarshal(msg.Data, &result); err != nil {
			return fmt.Errorf("failed to decode result: %w", err)
		}
		c.correlator.Deliver(result.RequestID, Outcome{Count: result.Result})

	case protocol.TypeError:
		var jobErr protocol.JobError
		if err := json.Unmarshal(msg.Data, &jobErr); err != nil {
			return fmt.Errorf("failed to decode job error: %w", err)
		}
		c.correlator.Deliver(jobErr.RequestID, Outcome{
			Err: fmt.Errorf("%w: %s", ErrJobFailed, jobErr.Error),
		})

	default:
		return fmt.Errorf("unknown message type %q", msg.Type)
	}

	return nil
}

// ID returns the server-assigned id, empty until it arrives
func (c *Client) ID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.id
}

// WaitID blocks until the server assigned an id
func (c *Client) WaitID(ctx context.Context) (string, error) {
	select {
	case <-c.idReady:
		return c.ID(), nil
	case <-c.done:
		return "", ErrConnectionClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Busy reports whether a submission is in flight
func (c *Client) Busy() bool {
	return c.inFlight.Load() > 0
}

// Done is closed when the WebSocket connection ends
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Submit posts text as a count job and waits for its pushed result
func (c *Client) Submit(ctx context.Context, text string, opts ...SubmitOption) (uint64, error) {
	id := c.ID()
	if id == "" {
		return 0, ErrNotConnected
	}

	c.inFlight.Add(1)
	defer c.inFlight.Add(-1)

	req := protocol.CountRequest{ID: id, Data: text}
	for _, opt := range opts {
		opt(&req)
	}

	requestID, err := c.post(ctx, &req)
	if err != nil {
		return 0, err
	}

	c.logger.Debug("count job accepted", zap.String("request_id", requestID))

	return c.correlator.Await(ctx, requestID)
}

func (c *Client) post(ctx context.Context, req *protocol.CountRequest) (string, error) {
	if c.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	endpoint := c.baseURL.ResolveReference(&url.URL{Path: countPath})

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to submit: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		statusErr := &StatusError{StatusCode: resp.StatusCode}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(payload, &envelope) == nil {
			statusErr.Code = envelope.Error.Code
			statusErr.Message = envelope.Error.Message
		}
		return "", statusErr
	}

	var accepted protocol.CountResponse
	if err := json.Unmarshal(payload, &accepted); err != nil || accepted.RequestID == "" {
		return "", ErrNoRequestID
	}

	return accepted.RequestID, nil
}

// Close ends the session and fails pending submissions
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = c.conn.Close()
		<-c.done
	})
	return err
}
