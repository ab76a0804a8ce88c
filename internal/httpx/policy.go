package httpx

import (
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy controls retries and limits for Fetch.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// Base is the first backoff step; step n waits Base*2^n plus jitter.
	Base time.Duration
	// Jitter is the upper bound (exclusive) of the random delay added to each step.
	Jitter time.Duration
	// Timeout bounds each individual attempt.
	Timeout time.Duration
	// MaxRetryAfter caps how long a Retry-After hint may make us sleep.
	// Longer hints end the call with a rate-limited error instead.
	MaxRetryAfter time.Duration
	// MaxBodyBytes caps how much of a response body is read.
	MaxBodyBytes int64
}

func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:    3,
		Base:          time.Second,
		Jitter:        time.Second,
		Timeout:       10 * time.Second,
		MaxRetryAfter: time.Minute,
		MaxBodyBytes:  4 << 20,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.Base <= 0 {
		p.Base = d.Base
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	if p.Timeout <= 0 {
		p.Timeout = d.Timeout
	}
	if p.MaxRetryAfter <= 0 {
		p.MaxRetryAfter = d.MaxRetryAfter
	}
	if p.MaxBodyBytes <= 0 {
		p.MaxBodyBytes = d.MaxBodyBytes
	}
	return p
}

// Delay is the wait before retry number attempt (0-based): base*2^attempt
// plus r*jitter, with r in [0,1).
func Delay(base time.Duration, attempt int, jitter time.Duration, r float64) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 {
		attempt = 30
	}
	return base<<attempt + time.Duration(r*float64(jitter))
}

// schedule is a backoff.BackOff following Delay. A Retry-After hint replaces
// the next computed step once.
type schedule struct {
	base    time.Duration
	jitter  time.Duration
	rand    func() float64
	attempt int
	hint    time.Duration
	hinted  bool
}

var _ backoff.BackOff = (*schedule)(nil)

func newSchedule(p Policy) *schedule {
	return &schedule{base: p.Base, jitter: p.Jitter, rand: rand.Float64}
}

func (s *schedule) NextBackOff() time.Duration {
	defer func() { s.attempt++ }()
	if s.hinted {
		s.hinted = false
		return s.hint
	}
	return Delay(s.base, s.attempt, s.jitter, s.rand())
}

func (s *schedule) Reset() {
	s.attempt = 0
	s.hinted = false
}

func (s *schedule) useHint(d time.Duration) {
	s.hint = d
	s.hinted = true
}

// ParseRetryAfter reads a Retry-After header given either as delta-seconds or
// as an HTTP-date. A date in the past yields zero.
func ParseRetryAfter(v string, now time.Time) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	t, err := http.ParseTime(v)
	if err != nil {
		return 0, false
	}
	if d := t.Sub(now); d > 0 {
		return d, true
	}
	return 0, true
}
