package catalog

import "testing"

func TestResolvePricePrefersMatchingList(t *testing.T) {
	p := &Product{
		PriceLists: []PriceEntry{
			{ListID: 1, Amount: Amount("1500")},
			{ListID: 2, Amount: Amount("1200")},
		},
		Prices:      []PriceEntry{{ListID: 0, Amount: Amount("999")}},
		LegacyPrice: "$5.00",
	}
	if got := ResolvePrice(p, 2); got != 1200 {
		t.Fatalf("expected 1200, got %d", got)
	}
	if got := ResolvePrice(p, 1); got != 1500 {
		t.Fatalf("expected 1500, got %d", got)
	}
}

func TestResolvePriceFallsBackToFirstPositiveEntry(t *testing.T) {
	p := &Product{
		PriceLists: []PriceEntry{
			{ListID: 7, Amount: Amount("0")},
			{ListID: 9, Amount: Amount("2500")},
		},
	}
	if got := ResolvePrice(p, 2); got != 2500 {
		t.Fatalf("expected fallback to 2500, got %d", got)
	}
}

func TestResolvePriceGenericArray(t *testing.T) {
	p := &Product{
		Prices: []PriceEntry{{ListID: 2, Amount: Amount("750")}},
	}
	if got := ResolvePrice(p, 2); got != 750 {
		t.Fatalf("expected 750, got %d", got)
	}
}

func TestResolvePriceLegacyScalar(t *testing.T) {
	cases := map[string]int64{
		"$19.99":    1999,
		"19.99 USD": 1999,
		"1,500":     150000,
		"":          0,
		"free":      0,
		"-4.20":     0,
	}
	for raw, want := range cases {
		p := &Product{LegacyPrice: raw}
		if got := ResolvePrice(p, 2); got != want {
			t.Fatalf("legacy %q: expected %d, got %d", raw, want, got)
		}
	}
}

func TestResolvePriceNilProduct(t *testing.T) {
	if got := ResolvePrice(nil, 2); got != 0 {
		t.Fatalf("expected 0 for missing product, got %d", got)
	}
}

func TestResolvePriceTextualListAmount(t *testing.T) {
	p := &Product{
		PriceLists: []PriceEntry{{ListID: 2, Amount: Amount("1,999")}},
	}
	if got := ResolvePrice(p, 2); got != 1999 {
		t.Fatalf("expected 1999, got %d", got)
	}
}
