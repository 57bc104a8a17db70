package resilience

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ReconnectPolicy describes how the log stream backs off between connection attempts
type ReconnectPolicy struct {
	// BaseDelay is the wait before the first reconnect
	BaseDelay time.Duration
	// MaxDelay caps a single wait
	MaxDelay time.Duration
	// Multiplier grows the delay after each consecutive failure
	Multiplier float64
	// MaxAttempts is the number of reconnects allowed before giving up.
	// Zero means the first failure is final.
	MaxAttempts int
}

// DefaultReconnectPolicy returns the stream defaults: 1s doubling up to 30s, 5 attempts
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.0,
		MaxAttempts: 5,
	}
}

// NewBackOff builds the backoff sequence for one subscription.
//
// Jitter is disabled so consecutive delays never decrease. Elapsed time is
// not bounded; only MaxAttempts stops the sequence. Reset on the returned
// value restarts both the delay and the attempt count.
func (p ReconnectPolicy) NewBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	if b.InitialInterval <= 0 {
		b.InitialInterval = time.Second
	}
	b.MaxInterval = p.MaxDelay
	if b.MaxInterval < b.InitialInterval {
		b.MaxInterval = b.InitialInterval
	}
	b.Multiplier = p.Multiplier
	if b.Multiplier < 1 {
		b.Multiplier = 1
	}
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	attempts := p.MaxAttempts
	if attempts < 0 {
		attempts = 0
	}
	return backoff.WithMaxRetries(b, uint64(attempts))
}

// IsRetryable reports whether a stream failure is worth reconnecting for.
// Cancellation is never retried; everything else is treated as transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return !errors.Is(err, ErrPermanent)
}

// ErrPermanent marks failures that reconnecting cannot fix
var ErrPermanent = errors.New("permanent failure")
