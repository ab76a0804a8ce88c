package aggregator

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"quotebot/internal/provider"
)

// State is where a request ended up. Fresh means the cache answered without
// network; Refreshing is only observed while the chain runs.
type State int

const (
	StateFresh State = iota
	StateRefreshing
	StateUpdated
	StateDegraded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateFresh:
		return "fresh"
	case StateRefreshing:
		return "refreshing"
	case StateUpdated:
		return "updated"
	case StateDegraded:
		return "degraded"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// worse returns the less healthy of two terminal states.
func worse(a, b State) State {
	rank := func(s State) int {
		switch s {
		case StateFailed:
			return 3
		case StateDegraded:
			return 2
		case StateUpdated:
			return 1
		}
		return 0
	}
	if rank(b) > rank(a) {
		return b
	}
	return a
}

// Result is what every query returns. Quotes keeps the requested symbol
// order; Changes is only set by analysis queries.
type Result struct {
	Kind              provider.Kind     `json:"kind"`
	Window            provider.Window   `json:"window"`
	Unit              string            `json:"unit"`
	Quotes            provider.QuoteSet `json:"quotes"`
	Changes           []provider.Change `json:"changes,omitempty"`
	State             State             `json:"state"`
	Stale             bool              `json:"stale"`
	ChangeUnavailable bool              `json:"change_unavailable,omitempty"`
	StoredAt          time.Time         `json:"stored_at"`
	Provider          string            `json:"provider,omitempty"`
}

// Row is one symbol as plain data, ready for formatting.
type Row struct {
	Symbol    string           `json:"symbol"`
	Value     decimal.Decimal  `json:"value"`
	AsOf      time.Time        `json:"as_of"`
	Unit      string           `json:"unit"`
	ChangePct *decimal.Decimal `json:"change_pct,omitempty"`
	Stale     bool             `json:"stale,omitempty"`
}

// Rows flattens the result in symbol order. ChangePct is nil for symbols
// without a reference value.
func (r Result) Rows() []Row {
	changes := make(map[string]decimal.Decimal, len(r.Changes))
	for _, c := range r.Changes {
		changes[c.Symbol] = c.PercentChange
	}
	quotes := r.Quotes.Quotes()
	out := make([]Row, 0, len(quotes))
	for _, q := range quotes {
		row := Row{Symbol: q.Symbol, Value: q.Value, AsOf: q.AsOf, Unit: q.Unit, Stale: r.Stale}
		if pct, ok := changes[q.Symbol]; ok {
			row.ChangePct = &pct
		}
		out = append(out, row)
	}
	return out
}
