package scrobble

import (
	"errors"
	"fmt"
	"time"
)

// upstream error code for exceeded rate limits
const apiCodeRateLimited = 29

// APIError describes a failed upstream call with enough detail for the
// ingestion engine to pick a retry policy.
type APIError struct {
	StatusCode  int
	Code        int
	Message     string
	RateLimited bool
	RetryAfter  time.Duration
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("scrobble api error %d: %s", e.Code, e.Message)
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("scrobble api http %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("scrobble api: %s", e.Message)
}

// Transient reports whether retrying the same request can succeed.
func (e *APIError) Transient() bool {
	return e.RateLimited || e.StatusCode >= 500 || e.StatusCode == 0
}

// IsRateLimited reports whether err is an upstream rate-limit rejection,
// which gets Retry-After-aware backoff rather than the generic policy.
func IsRateLimited(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.RateLimited
}

// IsTransient reports whether err is worth retrying. Network-level
// failures (no APIError in the chain) are treated as transient.
func IsTransient(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Transient()
	}
	return err != nil
}

// RetryAfter returns the upstream-requested wait, if any.
func RetryAfter(err error) time.Duration {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.RetryAfter
	}
	return 0
}
