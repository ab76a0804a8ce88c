package httpx

import (
	"context"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Doer describes an HTTP client.
//
//go:generate mockgen -package=httpx_test -destination=mock_doer_test.go -source=httpx.go Doer
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is a small wrapper around http.Client with sane defaults and a
// retrying Fetch. It holds no per-request state and is safe for concurrent use.
type Client struct {
	HTTP      Doer
	UserAgent string
	Headers   map[string]string
	Policy    Policy
	Logger    *zap.Logger
	// OnRetry, when set, is called once per scheduled retry with the upstream
	// host and a short reason (rate_limited, server_error, transport).
	OnRetry func(host, reason string)
}

// New returns a Client with a tuned transport and DefaultPolicy.
// timeout bounds a whole exchange on the underlying http.Client; the
// per-attempt timeout lives in Policy.
func New(timeout time.Duration) *Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 3 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          200,
		MaxIdleConnsPerHost:   100,
		MaxConnsPerHost:       100,
		ForceAttemptHTTP2:     true,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   3 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: 5 * time.Second,
	}
	return &Client{
		HTTP:      &http.Client{Timeout: timeout, Transport: transport},
		UserAgent: "quotebot/1.0",
		Policy:    DefaultPolicy(),
	}
}

// Do sends req after filling in the default User-Agent and headers.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if ctx != nil {
		req = req.WithContext(ctx)
	}
	if c.UserAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	for k, v := range c.Headers {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}
	h := c.HTTP
	if h == nil {
		h = http.DefaultClient
	}
	return h.Do(req)
}

func (c *Client) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}
