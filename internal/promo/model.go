package promo

import (
	"time"

	"github.com/google/uuid"
)

// Kind discriminates the promotion rule variants.
type Kind string

const (
	// KindCartTotal discounts the whole cart once a minimum total is reached.
	KindCartTotal Kind = "cart_total"
	// KindQuantityDiscount discounts individual lines that reach a quantity threshold.
	KindQuantityDiscount Kind = "quantity_discount"
	// KindBuyXGetY grants free units for every full buy+get block in a line.
	KindBuyXGetY Kind = "buy_x_get_y"
)

// Valid reports whether the kind is a known variant.
func (k Kind) Valid() bool {
	switch k {
	case KindCartTotal, KindQuantityDiscount, KindBuyXGetY:
		return true
	}
	return false
}

// Rule is a promotion with its variant payload flattened behind the Kind
// discriminant. Zero values mean "unset": MaxUsage 0 is unlimited, nil dates
// are open-ended, empty scope slices apply to everything not excluded.
type Rule struct {
	ID       uuid.UUID
	StoreID  string
	Code     string
	Kind     Kind
	IsActive bool
	// AutoApply opts the promotion into the orchestrator's candidate scan.
	// Promotions without it attach only through an explicit code entry.
	AutoApply       bool
	StartsAt        *time.Time
	EndsAt          *time.Time
	MaxUsage        int32
	CurrentUsage    int32
	MaxUsagePerUser int32
	MinOrder        int64

	// cart_total: PercentBps or a flat Amount.
	// quantity_discount: PercentBps applied per line over MinQty.
	// buy_x_get_y: BuyQty/GetQty block sizes.
	PercentBps int32
	Amount     int64
	MinQty     int32
	BuyQty     int32
	GetQty     int32

	ProductIDs         []uuid.UUID
	CategoryCodes      []string
	ExcludedProductIDs []uuid.UUID
	ExcludedCategories []string
}

// UsageEntry is one row of a promotion's append-only usage history. Entries
// without an order are reservations; the order id is stamped at checkout.
type UsageEntry struct {
	ID          uuid.UUID
	PromotionID uuid.UUID
	UserID      uuid.UUID
	OrderID     *uuid.UUID
	Amount      int64
	UsedAt      time.Time
}

// Line is the cart snapshot the engine evaluates. Quantities follow the cart
// invariant 0 <= FreeQty <= Qty; IsFreeItem lines were inserted entirely by a
// buy-x-get-y grant and are never charged.
type Line struct {
	ProductID    uuid.UUID
	CategoryCode string
	Qty          int32
	FreeQty      int32
	IsFreeItem   bool
	UnitPrice    int64
}

// ChargeableQty returns the billed portion of the line.
func (l Line) ChargeableQty() int32 {
	if l.IsFreeItem {
		return 0
	}
	qty := l.Qty - l.FreeQty
	if qty < 0 {
		return 0
	}
	return qty
}

// ChargeableAmount returns the billed value of the line.
func (l Line) ChargeableAmount() int64 {
	return int64(l.ChargeableQty()) * l.UnitPrice
}

// ChargeableTotal sums the billed value across lines.
func ChargeableTotal(lines []Line) int64 {
	var total int64
	for _, l := range lines {
		total += l.ChargeableAmount()
	}
	return total
}

// Discount is one calculator result. A zero ProductID marks a cart-level
// discount. FreeQty > 0 instructs the reconciler to grant free units; the
// Amount then records the value of those units for display, it is already
// excluded from the chargeable total and must not be subtracted again.
type Discount struct {
	ProductID uuid.UUID
	Amount    int64
	FreeQty   int32
}

// MonetaryTotal sums the discounts that reduce the amount actually billed.
// Free-unit grants are excluded: their benefit is already reflected in the
// chargeable quantities.
func MonetaryTotal(discounts []Discount) int64 {
	var total int64
	for _, d := range discounts {
		if d.FreeQty > 0 {
			continue
		}
		total += d.Amount
	}
	return total
}

// DisplayTotal sums every discount including the value of granted free units.
func DisplayTotal(discounts []Discount) int64 {
	var total int64
	for _, d := range discounts {
		total += d.Amount
	}
	return total
}
