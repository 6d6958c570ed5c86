package cart

import (
	"context"
	"reflect"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lokamart/cart-api/internal/promo"
)

func assertQuantityInvariant(t *testing.T, c *Cart) {
	t.Helper()
	for _, it := range c.Items {
		if it.FreeQty < 0 || it.FreeQty > it.Qty {
			t.Fatalf("line %s violates 0 <= freeQty <= qty: qty=%d freeQty=%d", it.ProductID, it.Qty, it.FreeQty)
		}
		if it.IsFreeItem && it.FreeQty != it.Qty {
			t.Fatalf("free line %s must be entirely free: qty=%d freeQty=%d", it.ProductID, it.Qty, it.FreeQty)
		}
	}
}

func TestReconcileIdempotent(t *testing.T) {
	productID := uuid.New()
	otherID := uuid.New()
	b2g1 := &promo.Rule{
		StoreID: testStore, Code: "B2G1", Kind: promo.KindBuyXGetY,
		IsActive: true, AutoApply: true, BuyQty: 2, GetQty: 1,
		ProductIDs: []uuid.UUID{productID},
	}
	tenOff := &promo.Rule{
		StoreID: testStore, Code: "TEN", Kind: promo.KindCartTotal,
		IsActive: true, AutoApply: true, PercentBps: 1000,
	}
	promos := newMemPromos(b2g1, tenOff)
	ledger := &promo.Ledger{Store: promos, Log: zerolog.Nop()}
	orc := &Orchestrator{Promos: promos, Ledger: ledger, Log: zerolog.Nop()}

	c := &Cart{
		ID: uuid.New(), StoreID: testStore, UserID: uuid.New(), Status: StatusActive,
		Items: []Item{
			{ID: uuid.New(), ProductID: productID, Qty: 6, UnitPrice: 10},
			{ID: uuid.New(), ProductID: otherID, Qty: 1, UnitPrice: 35},
		},
	}

	first, err := orc.Reconcile(context.Background(), c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertQuantityInvariant(t, c)
	itemsAfterFirst := append([]Item(nil), c.Items...)
	appliedAfterFirst := append([]AppliedPromotion(nil), c.Applied...)

	second, err := orc.Reconcile(context.Background(), c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertQuantityInvariant(t, c)

	if !reflect.DeepEqual(itemsAfterFirst, c.Items) {
		t.Fatalf("items changed on second run:\nfirst: %+v\nsecond: %+v", itemsAfterFirst, c.Items)
	}
	if !reflect.DeepEqual(appliedAfterFirst, c.Applied) {
		t.Fatalf("applied promotions changed on second run:\nfirst: %+v\nsecond: %+v", appliedAfterFirst, c.Applied)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("totals changed on second run:\nfirst: %+v\nsecond: %+v", first, second)
	}
	// Chargeable total 95, ten percent off 9.
	if first.OriginalTotal != 95 || first.TotalDiscount != 9 || first.FinalTotal != 86 {
		t.Fatalf("unexpected totals: %+v", first)
	}
}

func TestReconcileDropsExpiredManual(t *testing.T) {
	productID := uuid.New()
	rule := &promo.Rule{
		StoreID: testStore, Code: "TEN", Kind: promo.KindCartTotal,
		IsActive: true, PercentBps: 1000,
	}
	promos := newMemPromos(rule)
	ledger := &promo.Ledger{Store: promos, Log: zerolog.Nop()}
	orc := &Orchestrator{Promos: promos, Ledger: ledger, Log: zerolog.Nop()}
	userID := uuid.New()

	c := &Cart{
		ID: uuid.New(), StoreID: testStore, UserID: userID, Status: StatusActive,
		Items:   []Item{{ID: uuid.New(), ProductID: productID, Qty: 1, UnitPrice: 100}},
		Applied: []AppliedPromotion{{PromotionID: rule.ID, Code: rule.Code}},
	}
	if err := promos.ReserveUsage(context.Background(), rule.ID, userID, 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Deactivate the promotion; the next reconcile must detach it and give
	// the reservation back.
	rule.IsActive = false
	totals, err := orc.Reconcile(context.Background(), c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(c.Applied) != 0 {
		t.Fatalf("expected promotion detached, got %+v", c.Applied)
	}
	if totals.TotalDiscount != 0 || totals.FinalTotal != 100 {
		t.Fatalf("expected undiscounted totals, got %+v", totals)
	}
	if promos.currentUsage(rule.ID) != 0 {
		t.Fatalf("expected reservation released, got usage %d", promos.currentUsage(rule.ID))
	}
}

func TestResetFreeStateDropsFreeOnlyLines(t *testing.T) {
	productID := uuid.New()
	c := &Cart{Items: []Item{
		{ID: uuid.New(), ProductID: productID, Qty: 8, FreeQty: 2, UnitPrice: 10},
		{ID: uuid.New(), ProductID: uuid.New(), Qty: 3, FreeQty: 3, IsFreeItem: true, UnitPrice: 5},
	}}
	resetFreeState(c)
	if len(c.Items) != 1 {
		t.Fatalf("expected the free-only line dropped, got %d lines", len(c.Items))
	}
	if c.Items[0].Qty != 6 || c.Items[0].FreeQty != 0 {
		t.Fatalf("expected paid baseline qty=6, got %+v", c.Items[0])
	}
}

func TestApplyFreeUnitsInsertsFreeLine(t *testing.T) {
	c := &Cart{}
	productID := uuid.New()
	applyFreeUnits(c, productID, 2, 15, "snacks", "Chips")
	if len(c.Items) != 1 {
		t.Fatalf("expected one line, got %d", len(c.Items))
	}
	it := c.Items[0]
	if !it.IsFreeItem || it.Qty != 2 || it.FreeQty != 2 || it.UnitPrice != 15 {
		t.Fatalf("unexpected free line: %+v", it)
	}
	assertQuantityInvariant(t, c)
}
