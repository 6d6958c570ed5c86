package cart

import "github.com/lokamart/cart-api/internal/promo"

// computeTotals prices the cart from the freshly computed discount results.
// Stored AppliedPromotion.Discount values are never trusted here; staleness
// would otherwise leak into the bill.
func computeTotals(items []Item, results []promoResult) Totals {
	var original int64
	for _, it := range items {
		if it.IsFreeItem {
			continue
		}
		qty := it.Qty - it.FreeQty
		if qty < 0 {
			qty = 0
		}
		original += int64(qty) * it.UnitPrice
	}

	totals := Totals{OriginalTotal: original}
	for _, res := range results {
		totals.TotalDiscount += promo.MonetaryTotal(res.discounts)
		entry := AppliedDiscount{
			PromotionID: res.rule.ID,
			Code:        res.rule.Code,
			Amount:      promo.DisplayTotal(res.discounts),
			AutoApplied: res.applied.AutoApplied,
		}
		for _, d := range res.discounts {
			entry.FreeQty += d.FreeQty
		}
		totals.AppliedDiscounts = append(totals.AppliedDiscounts, entry)
	}

	totals.FinalTotal = totals.OriginalTotal - totals.TotalDiscount
	if totals.FinalTotal < 0 {
		totals.FinalTotal = 0
	}
	return totals
}
