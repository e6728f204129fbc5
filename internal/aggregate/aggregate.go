// Package aggregate merges quotes gathered from several vendors.
package aggregate

import (
	"sort"
	"time"

	"vendorhub/internal/vendor"
)

// Sourced is a quote tagged with the registry id that produced it.
type Sourced struct {
	Vendor string
	Quote  vendor.Quote
}

// Latest is the newest quote for a symbol across vendors.
type Latest struct {
	vendor.Quote
	Vendor string `json:"vendor"`
}

// LatestBySymbol collapses quotes by normalized symbol keeping the newest.
// For equal timestamps, later input wins. Zero timestamps are replaced with
// time.Now().UTC(). Output is sorted by symbol.
func LatestBySymbol(quotes []Sourced) []Latest {
	now := time.Now().UTC()
	latest := make(map[string]Latest, len(quotes))

	for _, s := range quotes {
		q := s.Quote
		q.Symbol = vendor.NormalizeSymbol(q.Symbol)
		if q.Symbol == "" {
			continue
		}
		if q.Timestamp.IsZero() {
			q.Timestamp = now
		}
		if cur, ok := latest[q.Symbol]; ok && q.Timestamp.Before(cur.Timestamp) {
			continue
		}
		latest[q.Symbol] = Latest{Quote: q, Vendor: s.Vendor}
	}

	out := make([]Latest, 0, len(latest))
	for _, v := range latest {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
