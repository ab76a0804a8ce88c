package provider

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Quote is the normalized shape returned by all providers.
// A Quote always carries a strictly positive value; use NewQuote or
// ParseQuote to build one.
type Quote struct {
	Symbol string          `json:"symbol"`
	Value  decimal.Decimal `json:"value"`
	AsOf   time.Time       `json:"as_of"`
	Unit   string          `json:"unit"`
}

var errNotPositive = errors.New("value must be positive")

// NewQuote validates value and returns a Quote.
func NewQuote(symbol string, value decimal.Decimal, asOf time.Time, unit string) (Quote, error) {
	if !value.IsPositive() {
		return Quote{}, fmt.Errorf("%s: %w: %s", symbol, errNotPositive, value)
	}
	return Quote{Symbol: symbol, Value: value, AsOf: asOf.UTC(), Unit: unit}, nil
}

// ParseValue decodes a raw JSON number or numeric string. null, empty,
// non-numeric, non-finite and non-positive inputs are rejected with an error
// wrapping ErrMalformed.
func ParseValue(raw json.RawMessage) (decimal.Decimal, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return decimal.Zero, fmt.Errorf("%w: missing value", ErrMalformed)
	}
	s := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return decimal.Zero, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q is not a number", ErrMalformed, s)
	}
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrMalformed, errNotPositive)
	}
	return d, nil
}

// ParseQuote combines ParseValue and NewQuote.
func ParseQuote(symbol string, raw json.RawMessage, asOf time.Time, unit string) (Quote, error) {
	v, err := ParseValue(raw)
	if err != nil {
		return Quote{}, fmt.Errorf("%s: %w", symbol, err)
	}
	return NewQuote(symbol, v, asOf, unit)
}

// Invert turns a "units of X per 1 base" rate into "base per 1 X".
func Invert(v decimal.Decimal) (decimal.Decimal, error) {
	if !v.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: cannot invert %s", ErrMalformed, v)
	}
	return decimal.NewFromInt(1).Div(v), nil
}

// QuoteSet is an ordered collection of quotes, one per symbol, in the order
// the symbols were requested. Symbols that could not be resolved are absent.
type QuoteSet struct {
	quotes []Quote
}

// Collect builds a QuoteSet from found, keeping only requested symbols and
// ordering them as requested.
func Collect(requested []string, found map[string]Quote) QuoteSet {
	out := make([]Quote, 0, len(found))
	for _, s := range requested {
		if q, ok := found[s]; ok {
			out = append(out, q)
		}
	}
	return QuoteSet{quotes: out}
}

func (s QuoteSet) Len() int { return len(s.quotes) }

// Quotes returns a copy of the ordered quotes.
func (s QuoteSet) Quotes() []Quote { return append([]Quote(nil), s.quotes...) }

func (s QuoteSet) Symbols() []string {
	out := make([]string, len(s.quotes))
	for i, q := range s.quotes {
		out[i] = q.Symbol
	}
	return out
}

func (s QuoteSet) Get(symbol string) (Quote, bool) {
	for _, q := range s.quotes {
		if q.Symbol == symbol {
			return q, true
		}
	}
	return Quote{}, false
}

// Latest returns the newest AsOf in the set.
func (s QuoteSet) Latest() time.Time {
	var t time.Time
	for _, q := range s.quotes {
		if q.AsOf.After(t) {
			t = q.AsOf
		}
	}
	return t
}

func (s QuoteSet) MarshalJSON() ([]byte, error) {
	if s.quotes == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.quotes)
}

// UnmarshalJSON re-validates every quote, dropping any that break the
// positive-value invariant and any duplicate symbol.
func (s *QuoteSet) UnmarshalJSON(b []byte) error {
	var raw []Quote
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := make([]Quote, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, q := range raw {
		if _, dup := seen[q.Symbol]; dup || !q.Value.IsPositive() {
			continue
		}
		seen[q.Symbol] = struct{}{}
		out = append(out, q)
	}
	s.quotes = out
	return nil
}

// Change is the relative move of one symbol between two snapshots.
type Change struct {
	Symbol        string          `json:"symbol"`
	PercentChange decimal.Decimal `json:"percent_change"`
	Basis         string          `json:"basis"`
}
