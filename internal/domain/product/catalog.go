package product

import (
	"encoding/json"
	"io"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/money"
)

type catalogEntry struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
	Image string          `json:"image"`
}

// LoadCatalog reads a JSON array of {id, name, price, image} objects.
func LoadCatalog(r io.Reader) ([]Snapshot, error) {
	var entries []catalogEntry
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return nil, errors.Wrap(err, "decode catalog")
	}
	out := make([]Snapshot, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for i, e := range entries {
		id := strings.TrimSpace(e.ID)
		switch {
		case id == "":
			return nil, errors.Errorf("catalog entry %d: id is required", i)
		case e.Price.IsNegative():
			return nil, errors.Errorf("catalog entry %q: negative price", id)
		case !money.Fits(e.Price):
			return nil, errors.Errorf("catalog entry %q: price %s out of range", id, e.Price)
		}
		if _, dup := seen[id]; dup {
			return nil, errors.Errorf("catalog entry %q: duplicate id", id)
		}
		seen[id] = struct{}{}
		out = append(out, Snapshot{ID: id, Name: strings.TrimSpace(e.Name), Price: e.Price, Image: e.Image})
	}
	return out, nil
}
