package provider

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Kind selects the family of quotes a request is about.
type Kind string

const (
	KindFiat   Kind = "fiat"
	KindCrypto Kind = "crypto"
)

// ParseKind accepts the lowercase kind names used in config and query strings.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindFiat:
		return KindFiat, nil
	case KindCrypto:
		return KindCrypto, nil
	}
	return "", fmt.Errorf("unknown kind %q", s)
}

// Window is the period a request covers.
type Window string

const (
	WindowCurrent Window = "current"
	WindowDay     Window = "day"
	WindowWeek    Window = "week"
)

func ParseWindow(s string) (Window, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "current", "now":
		return WindowCurrent, nil
	case "day", "24h", "daily":
		return WindowDay, nil
	case "week", "7d", "weekly":
		return WindowWeek, nil
	}
	return "", fmt.Errorf("unknown window %q", s)
}

// Basis is the label attached to a Change computed over this window.
func (w Window) Basis() string {
	switch w {
	case WindowDay:
		return "24h"
	case WindowWeek:
		return "7d"
	}
	return ""
}

// Span is how far back the reference snapshot lies.
func (w Window) Span() time.Duration {
	switch w {
	case WindowDay:
		return 24 * time.Hour
	case WindowWeek:
		return 7 * 24 * time.Hour
	}
	return 0
}

// Request is built once per call and never mutated afterwards.
// A zero At asks for the latest quotes; a non-zero At asks for the
// snapshot published on that date.
type Request struct {
	Kind    Kind
	Symbols []string
	Window  Window
	Unit    string
	At      time.Time
}

// NewRequest normalizes symbols (trimmed, upper-cased, first occurrence wins)
// and returns a latest-quote request.
func NewRequest(kind Kind, symbols []string, unit string) Request {
	return Request{
		Kind:    kind,
		Symbols: NormalizeSymbols(symbols),
		Window:  WindowCurrent,
		Unit:    strings.ToUpper(strings.TrimSpace(unit)),
	}
}

// Historical reports whether the request targets a past snapshot.
func (r Request) Historical() bool { return !r.At.IsZero() }

// AsOf returns a copy of r targeting the snapshot at t.
func (r Request) AsOf(t time.Time) Request {
	out := r
	out.Symbols = append([]string(nil), r.Symbols...)
	out.At = t
	return out
}

// NormalizeSymbols trims, upper-cases and de-duplicates while keeping order.
func NormalizeSymbols(symbols []string) []string {
	out := make([]string, 0, len(symbols))
	seen := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// Provider is implemented by every upstream adapter and by the decorators
// that wrap them. Fetch never returns a Go error: every result, including
// transport failures, is expressed as an Outcome.
//
//go:generate mockgen -package=providertest -destination=providertest/mock_provider.go -source=provider.go Provider
type Provider interface {
	Name() string
	Fetch(ctx context.Context, req Request) Outcome
}
