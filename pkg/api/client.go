// Package api is the transport between launchpad and the deployment backend.
//
// Request never fails with a Go error: HTTP failures and network failures
// both come back as a Result carrying an error message. Stream returns the
// raw event-stream body for incremental reading.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/launchpad-dev/launchpad-cli/pkg/httputil"
	"github.com/launchpad-dev/launchpad-cli/pkg/resilience"
	"github.com/launchpad-dev/launchpad-cli/pkg/telemetry"
)

// DefaultBaseURL is used when no API URL is configured
const DefaultBaseURL = "http://localhost:8000"

// Client provides authenticated access to the deployment backend
type Client struct {
	baseURL      string
	token        string
	httpClient   *http.Client
	streamClient *http.Client
	breaker      *resilience.ServiceBreaker
	breakerSet   bool
	logger       *zap.Logger
}

// Option customises client instantiation
type Option func(*Client)

// WithToken sets the bearer credential. An empty token leaves the client unauthenticated.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = strings.TrimSpace(token)
	}
}

// WithHTTPClient overrides the client used for request/response calls
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithStreamClient overrides the client used for event streams
func WithStreamClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.streamClient = h
		}
	}
}

// WithBreaker replaces the default circuit breaker. Nil disables it.
func WithBreaker(b *resilience.ServiceBreaker) Option {
	return func(c *Client) {
		c.breaker = b
		c.breakerSet = true
	}
}

// WithLogger sets the diagnostic logger
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New constructs a Client pointing at the provided API base URL
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = DefaultBaseURL
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}

	c := &Client{
		baseURL:      strings.TrimRight(trimmed, "/"),
		httpClient:   httputil.NewAPIClient(httputil.DefaultOptions()),
		streamClient: httputil.NewStreamClient(httputil.DefaultOptions()),
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if !c.breakerSet {
		c.breaker = resilience.NewServiceBreaker("api",
			resilience.WithSuccessClassifier(isHealthy),
			resilience.WithStateLogger(c.logger),
		)
	}
	return c, nil
}

// BaseURL returns the normalised backend URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Authenticated reports whether a bearer credential is attached to requests
func (c *Client) Authenticated() bool {
	return c != nil && c.token != ""
}

// Result is the outcome of a request/response call: exactly one of Data or Error is set
type Result struct {
	Data   json.RawMessage
	Error  string
	Status int
}

// OK reports whether the call succeeded
func (r Result) OK() bool {
	return r.Error == ""
}

// Decode unmarshals Data into v. A failed Result decodes to its error.
func (r Result) Decode(v any) error {
	if !r.OK() {
		return r.Err()
	}
	if v == nil || len(r.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Err returns the Result's failure as an *Error, or nil
func (r Result) Err() error {
	if r.OK() {
		return nil
	}
	return &Error{Status: r.Status, Message: r.Error}
}

// Request performs an authenticated JSON call. Network failures are
// converted into Result.Error; the returned Result is never both empty.
func (c *Client) Request(ctx context.Context, method, path string, body any) Result {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := telemetry.TraceRequest(ctx, method, path)

	var (
		res Result
		err error
	)
	if c.breaker != nil {
		res, err = resilience.ExecuteWithResult(c.breaker, func() (Result, error) {
			return c.send(ctx, method, path, body)
		})
	} else {
		res, err = c.send(ctx, method, path, body)
	}
	telemetry.EndSpan(span, err)

	if err != nil {
		var apiErr *Error
		if errors.As(err, &apiErr) {
			return res
		}
		c.logger.Debug("api request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err))
		return Result{Error: networkMessage(err)}
	}
	return res
}

// send performs one round trip. HTTP failures are returned both in the
// Result and as *Error so the breaker can classify them.
func (c *Client) send(ctx context.Context, method, path string, body any) (Result, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return Result{}, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return Result{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	c.authorize(req)

	c.logger.Debug("api request", zap.String("method", method), zap.String("path", path))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &Error{Status: resp.StatusCode, Message: extractError(resp, data)}
		return Result{Error: apiErr.Message, Status: resp.StatusCode}, apiErr
	}

	if len(bytes.TrimSpace(data)) == 0 {
		data = []byte("null")
	}
	return Result{Data: data, Status: resp.StatusCode}, nil
}

// Stream opens a server-sent event stream. The caller owns the returned body.
// A non-success handshake fails immediately with *Error.
func (c *Client) Stream(ctx context.Context, path string) (io.ReadCloser, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w (%w)", err, resilience.ErrPermanent)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	c.authorize(req)

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, &Error{Status: resp.StatusCode, Message: extractError(resp, data)}
	}
	return resp.Body, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// extractError prefers the backend's message fields over the status line
func extractError(resp *http.Response, data []byte) string {
	var payload struct {
		Detail  json.RawMessage `json:"detail"`
		Error   string          `json:"error"`
		Message string          `json:"message"`
	}
	if len(data) > 0 && json.Unmarshal(data, &payload) == nil {
		if msg := detailMessage(payload.Detail); msg != "" {
			return msg
		}
		if msg := strings.TrimSpace(payload.Error); msg != "" {
			return msg
		}
		if msg := strings.TrimSpace(payload.Message); msg != "" {
			return msg
		}
	}
	return fmt.Sprintf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
}

// detailMessage handles both a plain string detail and a list of
// validation errors with "msg" fields.
func detailMessage(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return strings.TrimSpace(s)
	}
	var items []struct {
		Msg string `json:"msg"`
	}
	if json.Unmarshal(raw, &items) == nil {
		msgs := make([]string, 0, len(items))
		for _, it := range items {
			if m := strings.TrimSpace(it.Msg); m != "" {
				msgs = append(msgs, m)
			}
		}
		return strings.Join(msgs, "; ")
	}
	return ""
}

func networkMessage(err error) string {
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		return resilience.ErrCircuitOpen.Error()
	case errors.Is(err, context.Canceled):
		return "request cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		return "request timed out"
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return "network error"
}

// isHealthy tells the breaker which outcomes mean the backend is up.
// Only 5xx responses and transport failures count against it.
func isHealthy(err error) bool {
	if err == nil {
		return true
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Status < http.StatusInternalServerError
	}
	return errors.Is(err, context.Canceled)
}
