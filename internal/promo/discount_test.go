package promo

import (
	"testing"

	"github.com/google/uuid"
)

func TestCartTotalPercent(t *testing.T) {
	r := Rule{Kind: KindCartTotal, PercentBps: 1000, MinOrder: 10_000}
	lines := []Line{paidLine(6_000, 2)}

	discounts := ComputeDiscounts(r, lines)
	if len(discounts) != 1 {
		t.Fatalf("expected one discount, got %d", len(discounts))
	}
	if discounts[0].Amount != 1_200 {
		t.Fatalf("expected 1200, got %d", discounts[0].Amount)
	}
	if discounts[0].ProductID != uuid.Nil {
		t.Fatal("cart-level discount must not reference a product")
	}
}

func TestCartTotalBelowMinimum(t *testing.T) {
	r := Rule{Kind: KindCartTotal, PercentBps: 1000, MinOrder: 10_000}
	if got := ComputeDiscounts(r, []Line{paidLine(8_000, 1)}); got != nil {
		t.Fatalf("expected no discount below minimum, got %v", got)
	}
}

func TestCartTotalFlatClamped(t *testing.T) {
	r := Rule{Kind: KindCartTotal, Amount: 50_000}
	discounts := ComputeDiscounts(r, []Line{paidLine(30_000, 1)})
	if len(discounts) != 1 || discounts[0].Amount != 30_000 {
		t.Fatalf("expected clamp to cart total, got %v", discounts)
	}
}

func TestQuantityDiscountPerLine(t *testing.T) {
	r := Rule{Kind: KindQuantityDiscount, PercentBps: 1500, MinQty: 3}
	under := paidLine(2_000, 2)
	over := paidLine(2_000, 4)

	discounts := ComputeDiscounts(r, []Line{under, over})
	if len(discounts) != 1 {
		t.Fatalf("expected one discount, got %d", len(discounts))
	}
	if discounts[0].ProductID != over.ProductID {
		t.Fatal("discount attached to wrong line")
	}
	// 15% of 8000.
	if discounts[0].Amount != 1_200 {
		t.Fatalf("expected 1200, got %d", discounts[0].Amount)
	}
}

func TestQuantityDiscountThresholdUsesRawQty(t *testing.T) {
	// Qty meets the threshold even though part of it is free; the discount
	// applies to the chargeable amount only.
	r := Rule{Kind: KindQuantityDiscount, PercentBps: 1000, MinQty: 3}
	line := paidLine(2_000, 3)
	line.FreeQty = 1

	discounts := ComputeDiscounts(r, []Line{line})
	if len(discounts) != 1 || discounts[0].Amount != 400 {
		t.Fatalf("expected 400 on chargeable amount, got %v", discounts)
	}
}

func TestBuyXGetYGrantsPerBlock(t *testing.T) {
	r := Rule{Kind: KindBuyXGetY, BuyQty: 2, GetQty: 1}
	line := paidLine(10_000, 6)

	discounts := ComputeDiscounts(r, []Line{line})
	if len(discounts) != 1 {
		t.Fatalf("expected one grant, got %d", len(discounts))
	}
	d := discounts[0]
	if d.FreeQty != 2 {
		t.Fatalf("expected 2 free units, got %d", d.FreeQty)
	}
	if d.Amount != 20_000 {
		t.Fatalf("expected display value 20000, got %d", d.Amount)
	}
}

func TestBuyXGetYPartialBlock(t *testing.T) {
	r := Rule{Kind: KindBuyXGetY, BuyQty: 2, GetQty: 1}
	if got := ComputeDiscounts(r, []Line{paidLine(10_000, 2)}); got != nil {
		t.Fatalf("expected no grant for incomplete block, got %v", got)
	}
}

func TestBuyXGetYScoped(t *testing.T) {
	target := uuid.New()
	r := Rule{Kind: KindBuyXGetY, BuyQty: 1, GetQty: 1, ProductIDs: []uuid.UUID{target}}
	lines := []Line{
		{ProductID: target, Qty: 2, UnitPrice: 5_000},
		paidLine(5_000, 4),
	}

	discounts := ComputeDiscounts(r, lines)
	if len(discounts) != 1 || discounts[0].ProductID != target {
		t.Fatalf("expected grant on scoped line only, got %v", discounts)
	}
	if discounts[0].FreeQty != 1 {
		t.Fatalf("expected 1 free unit, got %d", discounts[0].FreeQty)
	}
}

func TestMonetaryTotalExcludesFreeUnitGrants(t *testing.T) {
	discounts := []Discount{
		{Amount: 1_200},
		{ProductID: uuid.New(), Amount: 500},
		{ProductID: uuid.New(), Amount: 20_000, FreeQty: 2},
	}
	if got := MonetaryTotal(discounts); got != 1_700 {
		t.Fatalf("expected 1700, got %d", got)
	}
	if got := DisplayTotal(discounts); got != 21_700 {
		t.Fatalf("expected 21700, got %d", got)
	}
}

func TestUnknownKindComputesNothing(t *testing.T) {
	r := Rule{Kind: Kind("mystery"), PercentBps: 1000}
	if got := ComputeDiscounts(r, []Line{paidLine(10_000, 1)}); got != nil {
		t.Fatalf("expected nil for unknown kind, got %v", got)
	}
}
