package cart

import (
	"time"

	"github.com/google/uuid"

	"github.com/lokamart/cart-api/internal/promo"
)

// Status values a cart moves through.
const (
	StatusActive     = "active"
	StatusAbandoned  = "abandoned"
	StatusCheckedOut = "checked_out"
	StatusExpired    = "expired"
)

// Cart is the aggregate root. A (store, user) pair holds at most one cart in
// status active; Version backs the optimistic save.
type Cart struct {
	ID        uuid.UUID
	StoreID   string
	UserID    uuid.UUID
	Status    string
	Version   int32
	Items     []Item
	Applied   []AppliedPromotion
	ExpiresAt time.Time
	UpdatedAt time.Time
}

// Item is one cart line. Qty counts both paid and free units; FreeQty marks
// the portion granted by a buy-x-get-y rule. IsFreeItem lines exist entirely
// because of a grant and are never charged.
type Item struct {
	ID           uuid.UUID
	ProductID    uuid.UUID
	CategoryCode string
	Title        string
	Qty          int32
	FreeQty      int32
	IsFreeItem   bool
	UnitPrice    int64
}

// AppliedPromotion records a promotion attached to the cart. Manual entries
// hold a usage reservation; auto-applied ones defer usage to checkout.
type AppliedPromotion struct {
	PromotionID uuid.UUID
	Code        string
	Discount    int64
	AutoApplied bool
	AppliedAt   time.Time
}

// AppliedDiscount is one entry of the totals breakdown.
type AppliedDiscount struct {
	PromotionID uuid.UUID `json:"promotionId"`
	Code        string    `json:"code"`
	Amount      int64     `json:"amount"`
	FreeQty     int32     `json:"freeQty,omitempty"`
	AutoApplied bool      `json:"autoApplied"`
}

// Totals is the priced view of a reconciled cart.
type Totals struct {
	OriginalTotal    int64             `json:"originalTotal"`
	TotalDiscount    int64             `json:"totalDiscount"`
	FinalTotal       int64             `json:"finalTotal"`
	AppliedDiscounts []AppliedDiscount `json:"appliedDiscounts"`
}

// Lines projects the cart items into the snapshot shape the promotion engine
// evaluates.
func (c *Cart) Lines() []promo.Line {
	out := make([]promo.Line, 0, len(c.Items))
	for _, it := range c.Items {
		out = append(out, promo.Line{
			ProductID:    it.ProductID,
			CategoryCode: it.CategoryCode,
			Qty:          it.Qty,
			FreeQty:      it.FreeQty,
			IsFreeItem:   it.IsFreeItem,
			UnitPrice:    it.UnitPrice,
		})
	}
	return out
}

// HasPromotion reports whether the promotion is already attached.
func (c *Cart) HasPromotion(promotionID uuid.UUID) bool {
	for _, ap := range c.Applied {
		if ap.PromotionID == promotionID {
			return true
		}
	}
	return false
}

// FindItem returns the index of the line for productID, or -1.
func (c *Cart) FindItem(productID uuid.UUID) int {
	for i, it := range c.Items {
		if it.ProductID == productID {
			return i
		}
	}
	return -1
}
