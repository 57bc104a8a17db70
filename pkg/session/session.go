// Package session runs a live log view of one deployment: it owns the view
// state, the log stream and the status poller, and handles retry and
// redeploy by swapping them for a fresh set targeting the new attempt.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/launchpad-dev/launchpad-cli/pkg/api"
	"github.com/launchpad-dev/launchpad-cli/pkg/deployment"
	"github.com/launchpad-dev/launchpad-cli/pkg/poller"
	"github.com/launchpad-dev/launchpad-cli/pkg/resilience"
	"github.com/launchpad-dev/launchpad-cli/pkg/stream"
	"github.com/launchpad-dev/launchpad-cli/pkg/viewstate"
)

var (
	// ErrUnauthenticated is returned by Start without a credential
	ErrUnauthenticated = api.ErrUnauthenticated
	// ErrClosed is returned by operations on a closed session
	ErrClosed = errors.New("session closed")
	// ErrNotStarted is returned by Wait before Start
	ErrNotStarted = errors.New("session not started")
)

// Backend is the part of the API client a session drives
type Backend interface {
	poller.Fetcher
	stream.Opener
	RetryDeployment(ctx context.Context, id string) (api.ActionResponse, error)
	Redeploy(ctx context.Context, projectID, deploymentID string) (api.ActionResponse, error)
	DeleteDeployment(ctx context.Context, id string) error
}

// Option configures a Session
type Option func(*Session)

// WithLogger sets the diagnostic logger
func WithLogger(l *zap.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithPollInterval sets the status poll interval
func WithPollInterval(d time.Duration) Option {
	return func(s *Session) {
		s.pollInterval = d
	}
}

// WithRequestTimeout bounds each poll request
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Session) {
		s.requestTimeout = d
	}
}

// WithReconnectPolicy sets the stream reconnect policy
func WithReconnectPolicy(p resilience.ReconnectPolicy) Option {
	return func(s *Session) {
		s.policy = p
	}
}

// WithoutStream follows the deployment by polling only
func WithoutStream() Option {
	return func(s *Session) {
		s.noStream = true
	}
}

// Session is a live view of one deployment
type Session struct {
	backend        Backend
	store          *viewstate.Store
	logger         *zap.Logger
	pollInterval   time.Duration
	requestTimeout time.Duration
	policy         resilience.ReconnectPolicy
	noStream       bool

	mu      sync.Mutex
	ctx     context.Context
	current *subscription
	closed  bool

	closeOnce sync.Once
	closedCh  chan struct{}
}

// New creates a session for deployment id. Nothing runs until Start.
func New(backend Backend, id string, opts ...Option) *Session {
	s := &Session{
		backend:      backend,
		store:        viewstate.NewStore(viewstate.Initial(id)),
		logger:       zap.NewNop(),
		pollInterval: poller.DefaultInterval,
		policy:       resilience.DefaultReconnectPolicy(),
		closedCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start subscribes to the deployment's stream and status
func (s *Session) Start(ctx context.Context) error {
	if !s.backend.Authenticated() {
		return ErrUnauthenticated
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.current != nil {
		return nil
	}
	s.ctx = ctx
	return s.subscribe(s.store.Snapshot().DeploymentID)
}

// ID returns the deployment currently followed
func (s *Session) ID() string {
	return s.store.Snapshot().DeploymentID
}

// State returns the current view
func (s *Session) State() viewstate.State {
	return s.store.Snapshot()
}

// Subscribe registers fn for every view change. fn must not call back into the session.
func (s *Session) Subscribe(fn func(viewstate.State)) func() {
	return s.store.Subscribe(fn)
}

// Retry asks the backend to retry the deployment and follows the new attempt
func (s *Session) Retry(ctx context.Context) error {
	id := s.ID()
	resp, err := s.backend.RetryDeployment(ctx, id)
	if err != nil {
		s.store.Dispatch(viewstate.ActionFailed(fmt.Sprintf("Retry failed: %v", err)))
		return fmt.Errorf("retry deployment %s: %w", id, err)
	}
	return s.restart(resp.TargetID(id))
}

// Redeploy starts a new deployment of projectID and follows it
func (s *Session) Redeploy(ctx context.Context, projectID string) error {
	id := s.ID()
	resp, err := s.backend.Redeploy(ctx, projectID, id)
	if err != nil {
		s.store.Dispatch(viewstate.ActionFailed(fmt.Sprintf("Redeploy failed: %v", err)))
		return fmt.Errorf("redeploy %s: %w", id, err)
	}
	return s.restart(resp.TargetID(id))
}

// Delete removes the deployment on the backend and stops following it
func (s *Session) Delete(ctx context.Context) error {
	id := s.ID()
	if err := s.backend.DeleteDeployment(ctx, id); err != nil {
		s.store.Dispatch(viewstate.ActionFailed(fmt.Sprintf("Delete failed: %v", err)))
		return fmt.Errorf("delete deployment %s: %w", id, err)
	}

	s.mu.Lock()
	sub := s.current
	s.mu.Unlock()
	if sub != nil {
		sub.stop()
	}
	return nil
}

// Download writes the log buffer to w, one line per log line
func (s *Session) Download(w io.Writer) error {
	_, err := io.WriteString(w, deployment.JoinLines(s.store.Snapshot().Logs))
	return err
}

// DownloadFile writes the log buffer to path, or to
// deployment-<id>-logs.txt when path is empty, and returns the path written.
func (s *Session) DownloadFile(path string) (string, error) {
	st := s.store.Snapshot()
	if path == "" {
		path = fmt.Sprintf("deployment-%s-logs.txt", st.DeploymentID)
	}
	if err := os.WriteFile(path, []byte(deployment.JoinLines(st.Logs)), 0644); err != nil {
		return "", fmt.Errorf("failed to write logs: %w", err)
	}
	return path, nil
}

// Pause suspends status polling, e.g. while the view is hidden
func (s *Session) Pause() {
	if p := s.currentPoller(); p != nil {
		p.Pause()
	}
}

// Resume continues status polling
func (s *Session) Resume() {
	if p := s.currentPoller(); p != nil {
		p.Resume()
	}
}

// Close stops the stream and the poller. Safe to call repeatedly.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		sub := s.current
		s.mu.Unlock()

		if sub != nil {
			sub.stop()
		}
		close(s.closedCh)
	})
}

// Wait blocks until the followed deployment finishes, the session is closed
// or ctx is done. A retry or redeploy during Wait extends the wait to the
// new attempt.
func (s *Session) Wait(ctx context.Context) (viewstate.State, error) {
	for {
		s.mu.Lock()
		sub := s.current
		s.mu.Unlock()
		if sub == nil {
			return s.store.Snapshot(), ErrNotStarted
		}

		select {
		case <-sub.complete:
			return s.store.Snapshot(), nil
		case <-s.closedCh:
			return s.store.Snapshot(), ErrClosed
		case <-ctx.Done():
			return s.store.Snapshot(), ctx.Err()
		case <-sub.stopped:
			// replaced by a retry, or deleted
			s.mu.Lock()
			replaced := s.current != sub
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return s.store.Snapshot(), ErrClosed
			}
			if !replaced {
				return s.store.Snapshot(), nil
			}
		}
	}
}

func (s *Session) currentPoller() *poller.Poller {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	return s.current.poller
}

// restart replaces the running producers with a fresh set for id
func (s *Session) restart(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.current != nil {
		s.current.stop()
	}
	s.logger.Debug("following new deployment attempt", zap.String("deployment", id))
	s.store.Dispatch(viewstate.Reset(id))
	if s.ctx == nil {
		s.ctx = context.Background()
	}
	return s.subscribe(id)
}

// subscribe starts producers for id. Callers hold s.mu.
func (s *Session) subscribe(id string) error {
	sub := &subscription{
		id:       id,
		store:    s.store,
		complete: make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	logger := s.logger.With(zap.String("deployment", id))
	ctx := s.ctx

	isComplete := func() bool { return s.store.Snapshot().IsComplete }
	sub.poller = poller.New(id, s.backend, pollHandler{s.store},
		poller.WithInterval(s.pollInterval),
		poller.WithTimeout(s.requestTimeout),
		poller.WithLogs(func() bool { return !s.store.Snapshot().IsConnected }),
		poller.WithLogger(logger),
	)
	if !s.noStream {
		sub.stream = stream.New(id, s.backend, streamHandler{s.store},
			stream.WithPolicy(s.policy),
			stream.WithStopCondition(isComplete),
			stream.WithLogger(logger),
		)
	}

	sub.unsubscribe = s.store.Subscribe(func(st viewstate.State) {
		if st.DeploymentID != id {
			return
		}
		switch {
		case st.IsComplete:
			sub.markComplete()
		case st.IsConnected && st.PolledStatus.IsTerminal():
			// the stream may stay open without a final event
			sub.endStream(func() { s.finishFromPoll(ctx, id, logger) })
		}
	})

	if sub.stream != nil {
		sub.stream.Start(ctx)
	}
	if err := sub.poller.Start(ctx); err != nil && !errors.Is(err, poller.ErrDisabled) {
		sub.stop()
		return err
	}

	go func() {
		select {
		case <-sub.complete:
			sub.stop()
		case <-sub.stopped:
		}
	}()

	s.current = sub
	return nil
}

// finishFromPoll completes the view of id from the poller's terminal status
// once its stream is closed, after one last log fetch.
func (s *Session) finishFromPoll(ctx context.Context, id string, logger *zap.Logger) {
	timeout := s.requestTimeout
	if timeout <= 0 {
		timeout = poller.DefaultTimeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	snapshot, err := s.backend.GetDeploymentLogs(reqCtx, id)
	if err != nil {
		logger.Debug("final log fetch failed", zap.Error(err))
		s.store.Dispatch(viewstate.StreamStoppedByPoll(id, "", false))
		return
	}
	s.store.Dispatch(viewstate.StreamStoppedByPoll(id, snapshot.Logs, true))
}

// subscription is the set of producers feeding the store for one deployment attempt
type subscription struct {
	id          string
	store       *viewstate.Store
	stream      *stream.Client
	poller      *poller.Poller
	unsubscribe func()

	complete     chan struct{}
	completeOnce sync.Once
	stopped      chan struct{}
	stopOnce     sync.Once

	endOnce sync.Once
	ending  sync.WaitGroup
}

func (sub *subscription) markComplete() {
	sub.completeOnce.Do(func() { close(sub.complete) })
}

// endStream closes the stream in the background and then runs finish.
// Only the first call has an effect.
func (sub *subscription) endStream(finish func()) {
	sub.endOnce.Do(func() {
		sub.ending.Add(1)
		go func() {
			defer sub.ending.Done()
			sub.stream.Close()
			finish()
		}()
	})
}

// stop shuts both producers down and waits for them. Safe to call
// concurrently and repeatedly.
func (sub *subscription) stop() {
	sub.stopOnce.Do(func() {
		var g errgroup.Group
		if sub.stream != nil {
			g.Go(func() error {
				sub.stream.Close()
				return nil
			})
		}
		g.Go(func() error {
			sub.poller.Stop()
			return nil
		})
		_ = g.Wait()

		sub.unsubscribe()
		// blocks until a concurrent endStream has registered, and disables later ones
		sub.endOnce.Do(func() {})
		sub.ending.Wait()
		sub.store.Dispatch(viewstate.StreamClosed())
		close(sub.stopped)
	})
}
