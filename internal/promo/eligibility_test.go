package promo

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func activeRule() Rule {
	return Rule{
		ID:       uuid.New(),
		Code:     "SAVE10",
		Kind:     KindCartTotal,
		IsActive: true,
		MinOrder: 10_000,
	}
}

func paidLine(price int64, qty int32) Line {
	return Line{ProductID: uuid.New(), Qty: qty, UnitPrice: price}
}

func TestCheckInactive(t *testing.T) {
	r := activeRule()
	r.IsActive = false
	err := Check(r, []Line{paidLine(10_000, 2)}, 0, time.Now())
	if !errors.Is(err, ErrInactive) {
		t.Fatalf("expected ErrInactive, got %v", err)
	}
}

func TestCheckWindow(t *testing.T) {
	now := time.Now()
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	r := activeRule()
	r.StartsAt = &future
	if err := Check(r, []Line{paidLine(10_000, 2)}, 0, now); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}

	r = activeRule()
	r.EndsAt = &past
	if err := Check(r, []Line{paidLine(10_000, 2)}, 0, now); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestCheckUsageLimits(t *testing.T) {
	r := activeRule()
	r.MaxUsage = 5
	r.CurrentUsage = 5
	if err := Check(r, []Line{paidLine(10_000, 2)}, 0, time.Now()); !errors.Is(err, ErrUsageLimitReached) {
		t.Fatalf("expected ErrUsageLimitReached, got %v", err)
	}

	r = activeRule()
	r.MaxUsagePerUser = 2
	if err := Check(r, []Line{paidLine(10_000, 2)}, 2, time.Now()); !errors.Is(err, ErrPerUserLimitReached) {
		t.Fatalf("expected ErrPerUserLimitReached, got %v", err)
	}
}

func TestCheckMinimumOrderUsesChargeableTotal(t *testing.T) {
	r := activeRule()
	r.MinOrder = 12_000

	// Qty 3 but one unit free: chargeable total is 10_000.
	line := paidLine(5_000, 3)
	line.FreeQty = 1
	err := Check(r, []Line{line}, 0, time.Now())
	if !errors.Is(err, ErrMinimumOrderUnmet) {
		t.Fatalf("expected ErrMinimumOrderUnmet, got %v", err)
	}

	line.FreeQty = 0
	if err := Check(r, []Line{line}, 0, time.Now()); err != nil {
		t.Fatalf("expected eligible, got %v", err)
	}
}

func TestCheckScope(t *testing.T) {
	inScope := uuid.New()
	r := activeRule()
	r.MinOrder = 0
	r.ProductIDs = []uuid.UUID{inScope}

	if err := Check(r, []Line{paidLine(10_000, 1)}, 0, time.Now()); !errors.Is(err, ErrScopeMismatch) {
		t.Fatalf("expected ErrScopeMismatch, got %v", err)
	}

	lines := []Line{{ProductID: inScope, Qty: 1, UnitPrice: 10_000}}
	if err := Check(r, lines, 0, time.Now()); err != nil {
		t.Fatalf("expected eligible, got %v", err)
	}
}

func TestCheckPriorityOrder(t *testing.T) {
	// Every sub-check fails; the first in priority order wins.
	future := time.Now().Add(time.Hour)
	r := activeRule()
	r.IsActive = false
	r.StartsAt = &future
	r.MaxUsage = 1
	r.CurrentUsage = 1
	r.MinOrder = 1_000_000

	err := Check(r, nil, 5, time.Now())
	if !errors.Is(err, ErrInactive) {
		t.Fatalf("expected ErrInactive first, got %v", err)
	}
}

func TestMatchesScopeExclusionsWin(t *testing.T) {
	excluded := uuid.New()
	r := Rule{ProductIDs: []uuid.UUID{excluded}, ExcludedProductIDs: []uuid.UUID{excluded}}
	if MatchesScope(r, Line{ProductID: excluded}) {
		t.Fatal("excluded product must not match even when listed as applicable")
	}

	r = Rule{CategoryCodes: []string{"beverages"}, ExcludedCategories: []string{"beverages"}}
	if MatchesScope(r, Line{ProductID: uuid.New(), CategoryCode: "beverages"}) {
		t.Fatal("excluded category must not match")
	}
}

func TestMatchesScopeEmptyMeansEverything(t *testing.T) {
	r := Rule{}
	if !MatchesScope(r, Line{ProductID: uuid.New(), CategoryCode: "snacks"}) {
		t.Fatal("empty scope should match every line")
	}
}

func TestScopeIgnoresFreeOnlyLines(t *testing.T) {
	id := uuid.New()
	r := activeRule()
	r.MinOrder = 0
	r.ProductIDs = []uuid.UUID{id}

	lines := []Line{
		{ProductID: id, Qty: 2, FreeQty: 2, UnitPrice: 5_000},
		{ProductID: uuid.New(), Qty: 1, UnitPrice: 20_000},
	}
	if err := Check(r, lines, 0, time.Now()); !errors.Is(err, ErrScopeMismatch) {
		t.Fatalf("expected ErrScopeMismatch for fully free line, got %v", err)
	}
}
