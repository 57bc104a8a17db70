package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/launchpad-dev/launchpad-cli/pkg/resilience"
)

// ErrUnauthenticated is returned by endpoint helpers when no token is configured
var ErrUnauthenticated = errors.New("not authenticated: run `launchpad auth set-token` first")

// Error represents a failed call to the backend
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Status == 0 {
		return e.Message
	}
	if e.Message == "" {
		return fmt.Sprintf("api request failed with status %d", e.Status)
	}
	return fmt.Sprintf("api request failed (%d): %s", e.Status, e.Message)
}

// Is matches resilience.ErrPermanent for client errors that repeating the
// request cannot fix. 408 and 429 stay retryable.
func (e *Error) Is(target error) bool {
	if target != resilience.ErrPermanent {
		return false
	}
	return e.Status >= 400 && e.Status < 500 &&
		e.Status != http.StatusRequestTimeout && e.Status != http.StatusTooManyRequests
}

// IsNotFound reports whether err is a 404 from the backend
func IsNotFound(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// IsUnauthorized reports whether the backend rejected the credential
func IsUnauthorized(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && (apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden)
}
