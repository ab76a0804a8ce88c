package provider

import (
	"errors"
	"fmt"
	"time"
)

// Status tags an Outcome.
type Status int

const (
	StatusSuccess Status = iota
	StatusRateLimited
	StatusUnavailable
	StatusMalformed
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusRateLimited:
		return "rate_limited"
	case StatusUnavailable:
		return "unavailable"
	case StatusMalformed:
		return "malformed"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Outcome is the tagged result of one provider attempt. Quotes is only
// meaningful for StatusSuccess; RetryAfter only for StatusRateLimited when
// HasRetryAfter is set.
type Outcome struct {
	Status        Status
	Provider      string
	Quotes        QuoteSet
	RetryAfter    time.Duration
	HasRetryAfter bool
	Err           error
}

func Success(name string, quotes QuoteSet) Outcome {
	return Outcome{Status: StatusSuccess, Provider: name, Quotes: quotes}
}

func RateLimited(name string, retryAfter time.Duration, hasRetryAfter bool, cause error) Outcome {
	if cause == nil {
		cause = ErrRateLimited
	}
	return Outcome{Status: StatusRateLimited, Provider: name, RetryAfter: retryAfter, HasRetryAfter: hasRetryAfter, Err: cause}
}

func Unavailable(name string, cause error) Outcome {
	if cause == nil {
		cause = ErrTransport
	}
	return Outcome{Status: StatusUnavailable, Provider: name, Err: cause}
}

func Malformed(name string, cause error) Outcome {
	if cause == nil {
		cause = ErrMalformed
	} else if !errors.Is(cause, ErrMalformed) {
		cause = fmt.Errorf("%w: %w", ErrMalformed, cause)
	}
	return Outcome{Status: StatusMalformed, Provider: name, Err: cause}
}

// OK reports a success that resolved at least one symbol.
func (o Outcome) OK() bool { return o.Status == StatusSuccess && o.Quotes.Len() > 0 }

// Error returns nil for a successful outcome and the provider-scoped cause
// otherwise.
func (o Outcome) Error() error {
	if o.Status == StatusSuccess {
		return nil
	}
	if o.Provider == "" {
		return o.Err
	}
	return fmt.Errorf("%s: %w", o.Provider, o.Err)
}

// RetryHinter is implemented by errors that carry an upstream retry hint.
type RetryHinter interface {
	RetryHint() (time.Duration, bool)
}

// FromError classifies a failed fetch into an Outcome.
func FromError(name string, err error) Outcome {
	switch {
	case errors.Is(err, ErrRateLimited):
		var h RetryHinter
		if errors.As(err, &h) {
			d, ok := h.RetryHint()
			return RateLimited(name, d, ok, err)
		}
		return RateLimited(name, 0, false, err)
	case errors.Is(err, ErrMalformed):
		return Malformed(name, err)
	}
	return Unavailable(name, err)
}

// Unsupported reports a request this provider never serves, such as a
// historical date on a latest-only API. Chains move on to the next link.
func Unsupported(name, what string) Outcome {
	return Unavailable(name, fmt.Errorf("%w: %s", ErrUnsupported, what))
}
