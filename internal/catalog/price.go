package catalog

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Amount is a minor-unit value that tolerates textual encodings from older
// catalog imports ("1999", 1999, "1,999").
type Amount string

// UnmarshalJSON accepts both JSON numbers and strings.
func (a *Amount) UnmarshalJSON(data []byte) error {
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*a = Amount(n.String())
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		*a = ""
		return nil
	}
	*a = Amount(s)
	return nil
}

// MarshalJSON renders the amount as a JSON number when possible.
func (a Amount) MarshalJSON() ([]byte, error) {
	s := strings.TrimSpace(string(a))
	if s == "" {
		return []byte("0"), nil
	}
	if _, err := decimal.NewFromString(s); err == nil {
		return []byte(s), nil
	}
	return json.Marshal(s)
}

// PriceEntry is a single price-list row attached to a product.
type PriceEntry struct {
	ListID int    `json:"priceListId"`
	Amount Amount `json:"amount"`
}

// Product is the catalog view the cart engine consumes. Prices come in three
// generations of shape: per-list entries, a generic price array, and a legacy
// scalar field holding a formatted major-unit string.
type Product struct {
	ID           uuid.UUID    `json:"id"`
	Title        string       `json:"title"`
	Slug         string       `json:"slug"`
	CategoryCode string       `json:"categoryCode"`
	PriceLists   []PriceEntry `json:"priceLists"`
	Prices       []PriceEntry `json:"prices"`
	LegacyPrice  string       `json:"legacyPrice"`
}

// ResolvePrice returns the unit price in minor units for the given price list.
// The fallback chain is price-list entry, generic price entry, legacy scalar.
// It never fails: anything unparseable resolves to zero.
func ResolvePrice(p *Product, priceListID int) int64 {
	if p == nil {
		return 0
	}
	if amount, ok := entryAmount(p.PriceLists, priceListID); ok {
		return amount
	}
	if amount, ok := entryAmount(p.Prices, priceListID); ok {
		return amount
	}
	return parseLegacyPrice(p.LegacyPrice)
}

// entryAmount picks the entry matching the requested list id, falling back to
// the first entry that carries a positive amount.
func entryAmount(entries []PriceEntry, priceListID int) (int64, bool) {
	for _, e := range entries {
		if e.ListID == priceListID {
			if amount := parseMinorUnits(e.Amount); amount > 0 {
				return amount, true
			}
		}
	}
	for _, e := range entries {
		if amount := parseMinorUnits(e.Amount); amount > 0 {
			return amount, true
		}
	}
	return 0, false
}

func parseMinorUnits(raw Amount) int64 {
	s := strings.TrimSpace(string(raw))
	if s == "" {
		return 0
	}
	d, err := decimal.NewFromString(stripNonNumeric(s))
	if err != nil {
		return 0
	}
	if d.IsNegative() {
		return 0
	}
	return d.IntPart()
}

// parseLegacyPrice converts a formatted major-unit string ("$19.99", "1.299,00"
// is not supported, groupings and symbols are dropped) into minor units.
func parseLegacyPrice(raw string) int64 {
	s := stripNonNumeric(raw)
	if s == "" {
		return 0
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	if d.IsNegative() {
		return 0
	}
	return d.Mul(decimal.NewFromInt(100)).IntPart()
}

func stripNonNumeric(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '.' || r == '-' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
