package provider

import "errors"

var (
	// ErrTransport covers connection failures, timeouts, 5xx and rejected requests.
	ErrTransport = errors.New("transport error")
	// ErrRateLimited is returned when an upstream answered 429.
	ErrRateLimited = errors.New("rate limited")
	// ErrThrottled marks a call refused by our own rate limiter before it
	// reached the upstream. It is always wrapped together with ErrRateLimited.
	ErrThrottled = errors.New("throttled by local rate limit")
	// ErrMalformed means the upstream answered but the body could not be used.
	ErrMalformed = errors.New("malformed response")
	// ErrUnsupported means the provider cannot serve this kind of request at all.
	ErrUnsupported = errors.New("unsupported request")
	// ErrAllProvidersExhausted is reported when every link of a chain failed.
	ErrAllProvidersExhausted = errors.New("all providers exhausted")
	// ErrNoCacheAvailable is reported when the chain failed and nothing was cached.
	ErrNoCacheAvailable = errors.New("no cache available")
)
