package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	startPath    = "/api/v1/chat/public/start"
	messagePath  = "/api/v1/chat/public/message"
	endPath      = "/api/v1/chat/public/end"
	statusPath   = "/api/v1/chat/public/status/"
	handoverPath = "/api/v1/chat/public/handover"

	// DefaultTimeout bounds every request when no HTTP client is supplied.
	DefaultTimeout = 15 * time.Second

	maxErrorBody = 4 << 10
)

// Client performs the request/response half of the widget protocol.
// It is independent of the realtime channel and safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// Option is a functional option for configuring the client
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTimeout sets the timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient = &http.Client{Timeout: d}
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a client for the API origin baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("api")
	return c
}

// StartSession creates a conversation.
func (c *Client) StartSession(ctx context.Context, req StartRequest) (*StartResponse, error) {
	var out StartResponse
	if err := c.do(ctx, http.MethodPost, startPath, req, &out); err != nil {
		return nil, err
	}
	if out.SessionKey == "" || out.ConversationID <= 0 {
		return nil, fmt.Errorf("%w: start response lacks session identity", ErrMalformedResponse)
	}
	return &out, nil
}

// SendMessage posts a visitor message and returns the immediate reply.
func (c *Client) SendMessage(ctx context.Context, req SendRequest) (*Reply, error) {
	var out Reply
	if err := c.do(ctx, http.MethodPost, messagePath, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// EndSession asks the backend to close the conversation.
func (c *Client) EndSession(ctx context.Context, conversationID int64) error {
	return c.do(ctx, http.MethodPost, endPath, endRequest{SessionID: conversationID}, nil)
}

// CheckStatus returns the server-side status of a conversation.
func (c *Client) CheckStatus(ctx context.Context, conversationID int64) (*StatusResponse, error) {
	var out StatusResponse
	path := statusPath + strconv.FormatInt(conversationID, 10)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	if out.Status == "" {
		return nil, fmt.Errorf("%w: status missing", ErrMalformedResponse)
	}
	return &out, nil
}

// RequestHandover asks for a human agent to take over the conversation.
func (c *Client) RequestHandover(ctx context.Context, req HandoverRequest) (*HandoverResponse, error) {
	var out HandoverResponse
	if err := c.do(ctx, http.MethodPost, handoverPath, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// do sends body as JSON and decodes the envelope's data into result.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("request failed", zap.String("method", method), zap.String("path", path), zap.Error(err))
		return fmt.Errorf("%w: %s %s: %w", ErrRequestFailed, method, path, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("request completed",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read body: %w", ErrRequestFailed, err)
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &Error{StatusCode: resp.StatusCode}
		if decodeErr == nil && env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		} else {
			apiErr.Message = truncate(strings.TrimSpace(string(raw)), maxErrorBody)
		}
		return apiErr
	}
	if decodeErr != nil {
		return fmt.Errorf("%w: %w", ErrMalformedResponse, decodeErr)
	}
	if !env.Success {
		apiErr := &Error{StatusCode: resp.StatusCode, Message: "request was not successful"}
		if env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if result == nil {
		return nil
	}
	if len(env.Data) == 0 || bytes.Equal(env.Data, []byte("null")) {
		return fmt.Errorf("%w: data missing", ErrMalformedResponse)
	}
	if err := json.Unmarshal(env.Data, result); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// IsTimeout reports whether err came from a deadline rather than the server.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}
