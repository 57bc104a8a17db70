// Package stream keeps a live connection to a deployment's log stream and
// turns the incoming bytes into ordered StreamEvents, reconnecting with
// backoff when the connection drops before the deployment completes.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/launchpad-dev/launchpad-cli/pkg/deployment"
	"github.com/launchpad-dev/launchpad-cli/pkg/resilience"
	"github.com/launchpad-dev/launchpad-cli/pkg/telemetry"
)

// ConnState is the connection state of a Client
type ConnState int

const (
	Disconnected ConnState = iota
	Connecting
	Connected
	Completed
)

func (s ConnState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Completed:
		return "completed"
	default:
		return "unknown"
	}
}

// ErrStreamEnded is reported when the backend closes the stream before a final event
var ErrStreamEnded = errors.New("log stream ended before deployment completed")

// Opener opens the event stream for a deployment
type Opener interface {
	StreamDeploymentLogs(ctx context.Context, id string) (io.ReadCloser, error)
}

// Handler receives the client's lifecycle and events. All calls come from
// the client's single read goroutine, in order.
type Handler interface {
	OnConnecting(attempt int)
	OnConnected()
	OnEvent(ev deployment.StreamEvent)
	// OnDisconnected reports a failure with a reconnect scheduled after retryIn
	OnDisconnected(err error, attempt int, retryIn time.Duration)
	// OnGiveUp reports that no further reconnect will be attempted
	OnGiveUp(err error)
	OnCompleted()
}

// Option configures a Client
type Option func(*Client)

// WithPolicy sets the reconnect policy
func WithPolicy(p resilience.ReconnectPolicy) Option {
	return func(c *Client) {
		c.policy = p
	}
}

// WithStopCondition is checked before every reconnect; returning true ends
// the subscription without an error, e.g. once the poller saw a terminal status.
func WithStopCondition(fn func() bool) Option {
	return func(c *Client) {
		c.shouldStop = fn
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

// Client is a live subscription to one deployment's log stream.
// It owns the stream body for its whole lifetime.
type Client struct {
	id         string
	opener     Opener
	handler    Handler
	policy     resilience.ReconnectPolicy
	shouldStop func() bool
	logger     *zap.Logger

	mu       sync.Mutex
	state    ConnState
	attempts int
	body     io.ReadCloser
	started  bool

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a client for deployment id. Call Start to connect.
func New(id string, opener Opener, handler Handler, opts ...Option) *Client {
	c := &Client{
		id:      id,
		opener:  opener,
		handler: handler,
		policy:  resilience.DefaultReconnectPolicy(),
		logger:  zap.NewNop(),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("deployment", id))
	return c
}

// Start launches the read loop. It returns immediately; a second call is a no-op.
func (c *Client) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	c.started = true
	ctx, c.cancel = context.WithCancel(ctx)
	go c.run(ctx)
}

// Close ends the subscription: it cancels any pending reconnect, releases
// the stream body and waits for the read loop to exit. Safe to call repeatedly,
// and before Start.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		started := c.started
		c.started = true
		cancel := c.cancel
		body := c.body
		c.body = nil
		c.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if body != nil {
			body.Close()
		}
		if !started {
			close(c.done)
		}
	})
	<-c.done
}

// Done is closed once the read loop has exited
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// State returns the current connection state
func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempts returns the number of consecutive failed connections
func (c *Client) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

func (c *Client) setState(s ConnState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Client) run(ctx context.Context) {
	defer close(c.done)

	bo := c.policy.NewBackOff()
	for {
		if ctx.Err() != nil {
			c.setState(Disconnected)
			return
		}

		attempt := c.Attempts()
		c.setState(Connecting)
		c.handler.OnConnecting(attempt)

		completed, connected, err := c.connectAndRead(ctx, attempt)
		if completed {
			c.setState(Completed)
			c.handler.OnCompleted()
			return
		}
		if connected {
			bo.Reset()
		}

		c.setState(Disconnected)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			err = ErrStreamEnded
		}
		if c.shouldStop != nil && c.shouldStop() {
			c.logger.Debug("stream stopped by caller", zap.Error(err))
			return
		}
		if !resilience.IsRetryable(err) {
			c.handler.OnGiveUp(err)
			return
		}

		delay := bo.NextBackOff()
		if delay == backoff.Stop {
			c.logger.Debug("stream reconnects exhausted", zap.Error(err))
			c.handler.OnGiveUp(fmt.Errorf("gave up after %d reconnect attempts: %w", c.policy.MaxAttempts, err))
			return
		}

		c.mu.Lock()
		c.attempts++
		attempt = c.attempts
		c.mu.Unlock()

		c.logger.Debug("stream disconnected, reconnecting",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
		c.handler.OnDisconnected(err, attempt, delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// connectAndRead opens one connection and reads until the final event,
// an error or end of stream.
func (c *Client) connectAndRead(ctx context.Context, attempt int) (completed, connected bool, err error) {
	spanCtx, span := telemetry.TraceStreamConnect(ctx, c.id, attempt)
	body, err := c.opener.StreamDeploymentLogs(spanCtx, c.id)
	telemetry.EndSpan(span, err)
	if err != nil {
		return false, false, err
	}

	c.mu.Lock()
	if ctx.Err() != nil {
		c.mu.Unlock()
		body.Close()
		return false, false, ctx.Err()
	}
	c.body = body
	c.attempts = 0
	c.state = Connected
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.body == body {
			c.body = nil
		}
		c.mu.Unlock()
		body.Close()
	}()

	c.handler.OnConnected()

	dec := NewDecoder(body)
	dec.OnInvalid = func(line string, err error) {
		c.logger.Debug("skipping malformed stream event", zap.String("line", truncate(line, 200)), zap.Error(err))
	}

	for {
		ev, err := dec.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return false, true, nil
			}
			if ctx.Err() != nil {
				return false, true, ctx.Err()
			}
			return false, true, err
		}
		c.handler.OnEvent(ev)
		if ev.IsFinal() {
			return true, true, nil
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
