package fetch

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies fetch failures.
type ErrorKind string

const (
	KindRateLimited ErrorKind = "rate_limited"
	KindTransport   ErrorKind = "transport"
	KindHTTP        ErrorKind = "http_error"
	KindCircuitOpen ErrorKind = "circuit_open"
	KindTimeout     ErrorKind = "timeout"
)

// Error is the only error type Fetch returns.
type Error struct {
	Kind ErrorKind
	Host string
	URL  string
	Code int // HTTP status for KindHTTP
	Err  error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindHTTP:
		return fmt.Sprintf("fetch %s: http %d", e.URL, e.Code)
	case KindCircuitOpen:
		return fmt.Sprintf("fetch %s: circuit open for host %s", e.URL, e.Host)
	case KindRateLimited:
		return fmt.Sprintf("fetch %s: daily quota exhausted for host %s", e.URL, e.Host)
	}
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the retry policy applies: transport failures,
// timeouts, 5xx and 429.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindTransport, KindTimeout:
		return true
	case KindHTTP:
		return e.Code == http.StatusTooManyRequests || e.Code >= 500
	}
	return false
}

// countsAgainstHost reports whether the failure indicates the host itself is
// unhealthy, which is what the circuit breaker tracks.
func (e *Error) countsAgainstHost() bool {
	return e.Retryable()
}

// KindOf extracts the ErrorKind from err, if err wraps an *Error.
func KindOf(err error) (ErrorKind, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return "", false
}

// IsCircuitOpen reports whether err is a fail-fast breaker rejection.
func IsCircuitOpen(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindCircuitOpen
}
