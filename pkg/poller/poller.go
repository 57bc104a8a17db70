// Package poller periodically fetches a deployment's status (and optionally
// its full log snapshot) until the deployment reaches a terminal status.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/launchpad-dev/launchpad-cli/pkg/api"
	"github.com/launchpad-dev/launchpad-cli/pkg/telemetry"
)

const (
	// DefaultInterval is the pause between two polls
	DefaultInterval = 2 * time.Second
	// DefaultTimeout bounds a single status or log request
	DefaultTimeout = 30 * time.Second
)

var (
	// ErrDisabled is returned by Start when there is nothing to poll or no credential
	ErrDisabled = errors.New("poller disabled: missing deployment id or credentials")
	// ErrRunning is returned by Start on a poller that was already started
	ErrRunning = errors.New("poller already started")
)

// Fetcher is the part of the API client the poller needs
type Fetcher interface {
	Authenticated() bool
	GetDeploymentStatus(ctx context.Context, id string) (api.StatusSnapshot, error)
	GetDeploymentLogs(ctx context.Context, id string) (api.LogSnapshot, error)
}

// Handler receives poll results. Calls come from a single goroutine.
type Handler interface {
	OnStatus(snapshot api.StatusSnapshot)
	OnLogs(logs string)
	OnError(err error)
}

// Option configures a Poller
type Option func(*Poller)

// WithInterval sets the poll interval
func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithTimeout sets the per-request timeout
func WithTimeout(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithLogs also fetches the full log snapshot on ticks where when returns
// true. A nil when fetches logs on every tick.
func WithLogs(when func() bool) Option {
	return func(p *Poller) {
		p.withLogs = true
		p.logsWhen = when
	}
}

// WithLogger sets the diagnostic logger
func WithLogger(l *zap.Logger) Option {
	return func(p *Poller) {
		if l != nil {
			p.logger = l
		}
	}
}

// Poller polls one deployment. Requests never overlap: the next tick starts
// only after the previous one returned.
type Poller struct {
	id       string
	fetcher  Fetcher
	handler  Handler
	interval time.Duration
	timeout  time.Duration
	withLogs bool
	logsWhen func() bool
	logger   *zap.Logger

	mu      sync.Mutex
	started bool
	paused  bool
	cancel  context.CancelFunc

	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// New creates a poller for deployment id
func New(id string, fetcher Fetcher, handler Handler, opts ...Option) *Poller {
	p := &Poller{
		id:       id,
		fetcher:  fetcher,
		handler:  handler,
		interval: DefaultInterval,
		timeout:  DefaultTimeout,
		logger:   zap.NewNop(),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(zap.String("deployment", id))
	return p
}

// Start begins polling. The first poll happens immediately.
func (p *Poller) Start(ctx context.Context) error {
	if p.id == "" || p.fetcher == nil || !p.fetcher.Authenticated() {
		return ErrDisabled
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return ErrRunning
	}
	p.started = true
	ctx, p.cancel = context.WithCancel(ctx)

	go p.run(ctx)
	return nil
}

// Stop ends polling, aborting any request in flight, and waits for the
// polling goroutine to exit. Safe to call repeatedly and before Start.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		started := p.started
		p.started = true
		cancel := p.cancel
		p.mu.Unlock()

		close(p.stopCh)
		if cancel != nil {
			cancel()
		}
		if !started {
			close(p.done)
		}
	})
	<-p.done
}

// Done is closed when polling has ended, either by Stop or on a terminal status
func (p *Poller) Done() <-chan struct{} {
	return p.done
}

// Pause suspends polling without stopping the poller
func (p *Poller) Pause() {
	p.mu.Lock()
	p.paused = true
	p.mu.Unlock()
}

// Resume continues a paused poller on its next tick
func (p *Poller) Resume() {
	p.mu.Lock()
	p.paused = false
	p.mu.Unlock()
}

// Paused reports whether the poller is suspended
func (p *Poller) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

func (p *Poller) run(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// First poll right away
	if !p.Paused() && p.tick(ctx) {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			if p.Paused() {
				continue
			}
			if p.tick(ctx) {
				return
			}
		}
	}
}

// tick performs one poll and reports whether the deployment reached a terminal status
func (p *Poller) tick(ctx context.Context) bool {
	spanCtx, span := telemetry.TracePoll(ctx, p.id)

	snapshot, err := p.fetchStatus(spanCtx)
	if err != nil {
		telemetry.EndSpan(span, err)
		p.fail(ctx, "status poll failed", err)
		return false
	}

	// Logs are delivered before the status so a terminal status never
	// arrives ahead of the output that led to it.
	if p.withLogs && (p.logsWhen == nil || p.logsWhen()) {
		logs, err := p.fetchLogs(spanCtx)
		if err != nil {
			p.fail(ctx, "log poll failed", err)
		} else {
			p.handler.OnLogs(logs.Logs)
		}
	}

	telemetry.EndSpan(span, nil)
	if ctx.Err() != nil {
		return false
	}

	p.handler.OnStatus(snapshot)
	if snapshot.Phase().IsTerminal() {
		p.logger.Debug("terminal status observed, polling stopped", zap.String("status", string(snapshot.Phase())))
		return true
	}
	return false
}

func (p *Poller) fetchStatus(ctx context.Context) (api.StatusSnapshot, error) {
	reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	snapshot, err := p.fetcher.GetDeploymentStatus(reqCtx, p.id)
	return snapshot, p.timeoutError(reqCtx, err)
}

func (p *Poller) fetchLogs(ctx context.Context) (api.LogSnapshot, error) {
	reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	logs, err := p.fetcher.GetDeploymentLogs(reqCtx, p.id)
	return logs, p.timeoutError(reqCtx, err)
}

func (p *Poller) timeoutError(reqCtx context.Context, err error) error {
	if err != nil && errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("request timed out after %s: %w", p.timeout, err)
	}
	return err
}

// fail reports err unless polling is being shut down
func (p *Poller) fail(ctx context.Context, msg string, err error) {
	if ctx.Err() != nil {
		return
	}
	p.logger.Debug(msg, zap.Error(err))
	p.handler.OnError(err)
}
