// Package resilience provides the reliability primitives used by the API
// transport and the log stream: a circuit breaker around request/response
// calls and the reconnect policy for the streaming channel.
package resilience

import (
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// ErrCircuitOpen is returned when the breaker rejects a call without running it
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ServiceBreaker guards request/response calls to the backend. After a run
// of failures it rejects calls for a while instead of letting every poll
// wait for its timeout against a backend that is down.
type ServiceBreaker struct {
	cb *gobreaker.CircuitBreaker[any]
}

// BreakerOption configures a ServiceBreaker
type BreakerOption func(*gobreaker.Settings)

// WithTimeout sets how long the breaker stays open before letting a probe through
func WithTimeout(d time.Duration) BreakerOption {
	return func(s *gobreaker.Settings) {
		s.Timeout = d
	}
}

// WithFailureThreshold sets the number of consecutive failures before opening
func WithFailureThreshold(n uint32) BreakerOption {
	return func(s *gobreaker.Settings) {
		s.ReadyToTrip = func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= n
		}
	}
}

// WithSuccessClassifier decides which returned errors still count as a
// healthy backend, e.g. a 404 for a deployment that does not exist
func WithSuccessClassifier(fn func(error) bool) BreakerOption {
	return func(s *gobreaker.Settings) {
		s.IsSuccessful = fn
	}
}

// WithStateLogger logs every open/half-open/closed transition at info level
func WithStateLogger(logger *zap.Logger) BreakerOption {
	return func(s *gobreaker.Settings) {
		if logger == nil {
			return
		}
		s.OnStateChange = func(name string, from, to gobreaker.State) {
			logger.Info("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		}
	}
}

// NewServiceBreaker creates a breaker that opens after 5 consecutive
// failures and probes again after 15s.
func NewServiceBreaker(name string, opts ...BreakerOption) *ServiceBreaker {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	for _, opt := range opts {
		opt(&settings)
	}
	return &ServiceBreaker{cb: gobreaker.NewCircuitBreaker[any](settings)}
}

// Execute runs fn through the breaker. Rejections are reported as ErrCircuitOpen.
func (b *ServiceBreaker) Execute(fn func() error) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, fn()
	})
	return rejected(err)
}

// ExecuteWithResult is Execute for calls that produce a value. On rejection
// the zero value is returned.
func ExecuteWithResult[T any](b *ServiceBreaker, fn func() (T, error)) (T, error) {
	var out T
	_, err := b.cb.Execute(func() (any, error) {
		var err error
		out, err = fn()
		return nil, err
	})
	if err := rejected(err); errors.Is(err, ErrCircuitOpen) {
		var zero T
		return zero, err
	}
	return out, err
}

// rejected maps gobreaker's rejection errors onto ErrCircuitOpen
func rejected(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrCircuitOpen
	}
	return err
}

// State returns "closed", "half-open" or "open"
func (b *ServiceBreaker) State() string {
	return b.cb.State().String()
}

// IsOpen reports whether calls are currently rejected
func (b *ServiceBreaker) IsOpen() bool {
	return b.cb.State() == gobreaker.StateOpen
}
