package product

import (
	"context"

	"github.com/shopspring/decimal"
)

// Snapshot is the catalog view of a product at the moment an order is priced.
type Snapshot struct {
	ID    string
	Name  string
	Price decimal.Decimal
	Image string
}

// Resolver looks up live catalog products. Products that do not exist, are
// inactive or are archived are omitted from the result rather than reported
// as errors; callers decide what a missing id means.
type Resolver interface {
	Resolve(ctx context.Context, ids []string) (map[string]Snapshot, error)
}

// UniqueIDs returns ids with duplicates removed, preserving first occurrence.
func UniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
