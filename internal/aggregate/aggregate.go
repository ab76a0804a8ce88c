package aggregate

import (
	"strings"

	"github.com/shopspring/decimal"

	"quotebot/internal/provider"
)

var hundred = decimal.NewFromInt(100)

// aliasMap normalizes alternative spellings of codes users type.
var aliasMap = map[string]string{
	"RUR":     "RUB",
	"RMB":     "CNY",
	"YUAN":    "CNY",
	"XBT":     "BTC",
	"BITCOIN": "BTC",
	"ETHER":   "ETH",
	"TONCOIN": "TON",
	"EURO":    "EUR",
	"DOLLAR":  "USD",
}

// CanonicalSymbol trims, upper-cases and resolves aliases.
func CanonicalSymbol(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if norm, ok := aliasMap[s]; ok {
		return norm
	}
	return s
}

// ParseSymbols splits a comma separated list and canonicalizes each entry.
// Empty entries and duplicates are dropped; order is kept.
func ParseSymbols(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	for i, p := range parts {
		parts[i] = CanonicalSymbol(p)
	}
	return provider.NormalizeSymbols(parts)
}

// Changes computes (now-ref)/ref*100 for every symbol in now. Symbols with
// no reference quote are omitted; QuoteSet never holds a zero value, so the
// division is always defined.
func Changes(now, ref provider.QuoteSet, basis string) []provider.Change {
	out := make([]provider.Change, 0, now.Len())
	for _, q := range now.Quotes() {
		r, ok := ref.Get(q.Symbol)
		if !ok || r.Value.IsZero() {
			continue
		}
		pct := q.Value.Sub(r.Value).Div(r.Value).Mul(hundred)
		out = append(out, provider.Change{Symbol: q.Symbol, PercentChange: pct, Basis: basis})
	}
	return out
}

// Convert multiplies every quote in base by rate. rate is the price of one
// unit of base's quote currency expressed in the target unit (for example
// USD in RUB). The result carries the older of the two timestamps.
func Convert(base provider.QuoteSet, rate provider.Quote) provider.QuoteSet {
	found := make(map[string]provider.Quote, base.Len())
	for _, q := range base.Quotes() {
		asOf := q.AsOf
		if rate.AsOf.Before(asOf) {
			asOf = rate.AsOf
		}
		c, err := provider.NewQuote(q.Symbol, q.Value.Mul(rate.Value), asOf, rate.Unit)
		if err != nil {
			continue
		}
		found[q.Symbol] = c
	}
	return provider.Collect(base.Symbols(), found)
}
