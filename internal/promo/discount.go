package promo

// ComputeDiscounts evaluates the rule against the cart snapshot and returns
// per-line discounts. An empty result means the promotion does not apply to
// this cart; it is never an error.
func ComputeDiscounts(r Rule, lines []Line) []Discount {
	switch r.Kind {
	case KindCartTotal:
		return cartTotalDiscount(r, lines)
	case KindQuantityDiscount:
		return quantityDiscounts(r, lines)
	case KindBuyXGetY:
		return buyXGetYDiscounts(r, lines)
	}
	return nil
}

func cartTotalDiscount(r Rule, lines []Line) []Discount {
	total := ChargeableTotal(lines)
	if total <= 0 || total < r.MinOrder {
		return nil
	}
	var amount int64
	if r.PercentBps > 0 {
		amount = total * int64(r.PercentBps) / 10000
	} else {
		amount = r.Amount
	}
	// Never push the final total below zero.
	if amount > total {
		amount = total
	}
	if amount <= 0 {
		return nil
	}
	return []Discount{{Amount: amount}}
}

func quantityDiscounts(r Rule, lines []Line) []Discount {
	if r.PercentBps <= 0 || r.MinQty <= 0 {
		return nil
	}
	var out []Discount
	for _, l := range lines {
		if !MatchesScope(r, l) {
			continue
		}
		if l.Qty < r.MinQty || l.ChargeableQty() <= 0 {
			continue
		}
		amount := l.ChargeableAmount() * int64(r.PercentBps) / 10000
		if amount <= 0 {
			continue
		}
		out = append(out, Discount{ProductID: l.ProductID, Amount: amount})
	}
	return out
}

func buyXGetYDiscounts(r Rule, lines []Line) []Discount {
	block := r.BuyQty + r.GetQty
	if r.BuyQty <= 0 || r.GetQty <= 0 || block <= 0 {
		return nil
	}
	var out []Discount
	for _, l := range lines {
		if !MatchesScope(r, l) {
			continue
		}
		paid := l.ChargeableQty()
		if paid <= 0 {
			continue
		}
		free := paid / block * r.GetQty
		if free > paid {
			free = paid
		}
		if free <= 0 {
			continue
		}
		out = append(out, Discount{ProductID: l.ProductID, Amount: int64(free) * l.UnitPrice, FreeQty: free})
	}
	return out
}
