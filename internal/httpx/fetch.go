package httpx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Request is a single logical GET. Params are merged into URL's query.
type Request struct {
	URL     string
	Params  url.Values
	Header  http.Header
	Timeout time.Duration
}

// Response is a fully read 2xx response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
	URL    string
}

// Fetch performs a GET with the client's retry policy. Connection errors,
// attempt timeouts, 5xx and 429 are retried with exponential backoff plus
// jitter; a 429 Retry-After hint replaces the computed wait for that step.
// Other 4xx fail at once. ctx is honored before every attempt and during
// every wait.
func (c *Client) Fetch(ctx context.Context, r Request) (*Response, error) {
	target, err := buildURL(r.URL, r.Params)
	if err != nil {
		return nil, &Error{Kind: KindRejected, Err: err}
	}
	pol := c.Policy.withDefaults()
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = pol.Timeout
	}
	host, redacted := describe(target)
	log := c.logger().With(zap.String("host", host))

	sched := newSchedule(pol)
	attempt := 0
	var resp *Response
	op := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		attempt++
		res, err := c.attempt(ctx, target, r.Header, timeout, pol.MaxBodyBytes)
		if err == nil {
			resp = res
			return nil
		}
		var he *Error
		if errors.As(err, &he) {
			he.URL = redacted
			if !he.retryable() {
				return backoff.Permanent(he)
			}
			if he.Kind == KindRateLimited && he.HasRetryAfter {
				if he.RetryAfter > pol.MaxRetryAfter {
					return backoff.Permanent(he)
				}
				sched.useHint(he.RetryAfter)
			}
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		reason := "transport"
		var he *Error
		if errors.As(err, &he) {
			reason = he.reason()
		}
		log.Debug("retrying upstream request",
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.String("reason", reason),
			zap.Error(err))
		if c.OnRetry != nil {
			c.OnRetry(host, reason)
		}
	}

	b := backoff.WithContext(backoff.WithMaxRetries(sched, uint64(pol.MaxRetries)), ctx)
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		var he *Error
		if errors.As(err, &he) {
			return nil, he
		}
		return nil, &Error{Kind: KindTransport, URL: redacted, Err: err}
	}
	return resp, nil
}

func (c *Client) attempt(ctx context.Context, target string, header http.Header, timeout time.Duration, maxBody int64) (*Response, error) {
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(actx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &Error{Kind: KindRejected, Err: err}
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}

	res, err := c.Do(actx, req)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Err: err}
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBody))
	if err != nil {
		return nil, &Error{Kind: KindTransport, Status: res.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}

	switch {
	case res.StatusCode == http.StatusTooManyRequests:
		ra, ok := ParseRetryAfter(res.Header.Get("Retry-After"), time.Now())
		return nil, &Error{Kind: KindRateLimited, Status: res.StatusCode, RetryAfter: ra, HasRetryAfter: ok}
	case res.StatusCode >= 500:
		return nil, &Error{Kind: KindTransport, Status: res.StatusCode, Err: snippet(body)}
	case res.StatusCode < 200 || res.StatusCode >= 300:
		return nil, &Error{Kind: KindRejected, Status: res.StatusCode, Err: snippet(body)}
	}
	return &Response{Status: res.StatusCode, Header: res.Header, Body: body, URL: target}, nil
}

func buildURL(raw string, params url.Values) (string, error) {
	if raw == "" {
		return "", errors.New("empty url")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q is not absolute", raw)
	}
	if len(params) > 0 {
		q := u.Query()
		for k, vs := range params {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// describe returns the host and the URL without its query, which may hold
// credentials.
func describe(target string) (string, string) {
	u, err := url.Parse(target)
	if err != nil {
		return "", ""
	}
	return u.Host, u.Scheme + "://" + u.Host + u.Path
}

func snippet(body []byte) error {
	const max = 256
	if len(body) == 0 {
		return nil
	}
	if len(body) > max {
		body = body[:max]
	}
	return errors.New(string(body))
}
