package httpx

import (
	"fmt"
	"time"

	"quotebot/internal/provider"
)

// ErrorKind classifies a failed Fetch.
type ErrorKind int

const (
	// KindTransport: connection error, timeout, 5xx. Retried.
	KindTransport ErrorKind = iota
	// KindRateLimited: 429. Retried, honoring Retry-After.
	KindRateLimited
	// KindRejected: 4xx other than 429, or an unusable request. Not retried.
	KindRejected
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindRateLimited:
		return "rate_limited"
	case KindRejected:
		return "rejected"
	}
	return "unknown"
}

// Error is returned by Fetch. It matches provider.ErrRateLimited for 429
// responses and provider.ErrTransport for everything else.
type Error struct {
	Kind          ErrorKind
	Status        int
	URL           string
	RetryAfter    time.Duration
	HasRetryAfter bool
	Err           error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Status != 0 {
		msg = fmt.Sprintf("%s: http %d", msg, e.Status)
	}
	if e.URL != "" {
		msg += " " + e.URL
	}
	if e.HasRetryAfter {
		msg += fmt.Sprintf(" (retry after %s)", e.RetryAfter)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	switch target {
	case provider.ErrRateLimited:
		return e.Kind == KindRateLimited
	case provider.ErrTransport:
		return e.Kind != KindRateLimited
	}
	return false
}

// RetryHint implements provider.RetryHinter.
func (e *Error) RetryHint() (time.Duration, bool) { return e.RetryAfter, e.HasRetryAfter }

func (e *Error) retryable() bool { return e.Kind != KindRejected }

func (e *Error) reason() string {
	switch {
	case e.Kind == KindRateLimited:
		return "rate_limited"
	case e.Status >= 500:
		return "server_error"
	}
	return "transport"
}
