package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lokamart/cart-api/internal/obs"
	"github.com/lokamart/cart-api/internal/promo"
)

// applyFreeUnits grants free units for productID. An existing line grows by
// freeUnits in both quantity and free quantity; otherwise a display-only free
// line is inserted at the snapshot price.
func applyFreeUnits(c *Cart, productID uuid.UUID, freeUnits int32, unitPrice int64, categoryCode, title string) {
	if freeUnits <= 0 {
		return
	}
	if i := c.FindItem(productID); i >= 0 {
		c.Items[i].Qty += freeUnits
		c.Items[i].FreeQty += freeUnits
		return
	}
	c.Items = append(c.Items, Item{
		ID:           uuid.New(),
		ProductID:    productID,
		CategoryCode: categoryCode,
		Title:        title,
		Qty:          freeUnits,
		FreeQty:      freeUnits,
		IsFreeItem:   true,
		UnitPrice:    unitPrice,
	})
}

// resetFreeState strips every free line and every residual free quantity,
// returning the cart to its paid-quantity baseline. Reconciliation always
// starts here so repeated runs cannot double-grant.
func resetFreeState(c *Cart) {
	kept := c.Items[:0]
	for _, it := range c.Items {
		if it.IsFreeItem {
			continue
		}
		if it.FreeQty > 0 {
			it.Qty -= it.FreeQty
			it.FreeQty = 0
		}
		if it.Qty <= 0 {
			continue
		}
		kept = append(kept, it)
	}
	c.Items = kept
}

// Orchestrator re-runs the whole promotion evaluation after a cart mutation:
// it revalidates attached promotions, releases manual ones that stopped
// qualifying, then rebuilds free-item state and the auto-applied set from
// scratch. Running it twice on an unchanged cart yields the same cart.
type Orchestrator struct {
	Promos promo.Catalog
	Ledger *promo.Ledger
	Log    zerolog.Logger
	Now    func() time.Time
}

func (o *Orchestrator) now() time.Time {
	if o != nil && o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// Reconcile mutates the cart in place and returns its recomputed totals.
// Eligible store promotions not yet on the cart are auto-applied.
func (o *Orchestrator) Reconcile(ctx context.Context, c *Cart) (Totals, error) {
	return o.instrumented(ctx, c, true)
}

// Recompute revalidates and reprices only the promotions already attached,
// without attaching new auto candidates. Promotion-removal paths use it so a
// just-removed promotion's effects are reverted without the auto set growing
// back in the same call.
func (o *Orchestrator) Recompute(ctx context.Context, c *Cart) (Totals, error) {
	return o.instrumented(ctx, c, false)
}

func (o *Orchestrator) instrumented(ctx context.Context, c *Cart, includeAuto bool) (Totals, error) {
	if o == nil || o.Promos == nil {
		return Totals{}, errors.New("orchestrator not configured")
	}
	start := time.Now()
	totals, err := o.run(ctx, c, includeAuto)
	result := "ok"
	if err != nil {
		result = "error"
	}
	if obs.CartReconcileTotal != nil {
		obs.CartReconcileTotal.WithLabelValues(result).Inc()
	}
	if obs.CartReconcileDuration != nil {
		obs.CartReconcileDuration.Observe(obs.DurationMillis(time.Since(start)))
	}
	return totals, err
}

func (o *Orchestrator) run(ctx context.Context, c *Cart, includeAuto bool) (Totals, error) {
	now := o.now()
	resetFreeState(c)
	lines := c.Lines()

	var results []promoResult
	for _, ap := range c.Applied {
		rule, err := o.Promos.GetByID(ctx, ap.PromotionID)
		if err != nil {
			if errors.Is(err, promo.ErrNotFound) {
				o.drop(ctx, ap, c.UserID, "promotion deleted")
				continue
			}
			return Totals{}, fmt.Errorf("load promotion %s: %w", ap.PromotionID, err)
		}
		if checkErr := o.revalidate(ctx, rule, ap, lines, c.UserID, now); checkErr != nil {
			o.drop(ctx, ap, c.UserID, checkErr.Error())
			continue
		}
		discounts := promo.ComputeDiscounts(rule, lines)
		if len(discounts) == 0 {
			o.drop(ctx, ap, c.UserID, "no applicable discount")
			continue
		}
		results = append(results, promoResult{rule: rule, applied: ap, discounts: discounts})
	}

	if includeAuto {
		candidates, err := o.Promos.ListActive(ctx, c.StoreID, now)
		if err != nil {
			return Totals{}, fmt.Errorf("list active promotions: %w", err)
		}
		for _, rule := range candidates {
			if !rule.AutoApply || hasResult(results, rule.ID) {
				continue
			}
			perUser, err := o.userUsage(ctx, rule, c.UserID)
			if err != nil {
				return Totals{}, err
			}
			if promo.Check(rule, lines, perUser, now) != nil {
				continue
			}
			discounts := promo.ComputeDiscounts(rule, lines)
			if len(discounts) == 0 {
				continue
			}
			results = append(results, promoResult{
				rule: rule,
				applied: AppliedPromotion{
					PromotionID: rule.ID,
					Code:        rule.Code,
					AutoApplied: true,
					AppliedAt:   now,
				},
				discounts: discounts,
			})
			if obs.PromotionAppliedTotal != nil {
				obs.PromotionAppliedTotal.WithLabelValues(string(rule.Kind), "auto").Inc()
			}
		}
	}

	// Materialize free-unit grants and rebuild the applied list with fresh
	// discount amounts.
	c.Applied = c.Applied[:0]
	for i := range results {
		res := &results[i]
		for _, d := range res.discounts {
			if d.FreeQty <= 0 {
				continue
			}
			line := findLine(lines, d.ProductID)
			applyFreeUnits(c, d.ProductID, d.FreeQty, line.UnitPrice, line.CategoryCode, titleFor(c, d.ProductID))
		}
		res.applied.Discount = promo.DisplayTotal(res.discounts)
		c.Applied = append(c.Applied, res.applied)
	}
	c.UpdatedAt = now

	return computeTotals(c.Items, results), nil
}

// revalidate re-checks an attached promotion. Manual promotions skip the
// usage caps: their own reservation already counts and would otherwise
// invalidate the very promotion it belongs to.
func (o *Orchestrator) revalidate(ctx context.Context, rule promo.Rule, ap AppliedPromotion, lines []promo.Line, userID uuid.UUID, now time.Time) error {
	if !ap.AutoApplied {
		relaxed := rule
		relaxed.MaxUsage = 0
		relaxed.MaxUsagePerUser = 0
		return promo.Check(relaxed, lines, 0, now)
	}
	perUser, err := o.userUsage(ctx, rule, userID)
	if err != nil {
		return err
	}
	return promo.Check(rule, lines, perUser, now)
}

type promoResult struct {
	rule      promo.Rule
	applied   AppliedPromotion
	discounts []promo.Discount
}

func hasResult(results []promoResult, id uuid.UUID) bool {
	for _, r := range results {
		if r.rule.ID == id {
			return true
		}
	}
	return false
}

func findLine(lines []promo.Line, productID uuid.UUID) promo.Line {
	for _, l := range lines {
		if l.ProductID == productID {
			return l
		}
	}
	return promo.Line{ProductID: productID}
}

func titleFor(c *Cart, productID uuid.UUID) string {
	if i := c.FindItem(productID); i >= 0 {
		return c.Items[i].Title
	}
	return ""
}

func (o *Orchestrator) userUsage(ctx context.Context, rule promo.Rule, userID uuid.UUID) (int32, error) {
	if rule.MaxUsagePerUser <= 0 || o.Ledger == nil {
		return 0, nil
	}
	count, err := o.Ledger.UserUsage(ctx, rule.ID, userID)
	if err != nil {
		return 0, fmt.Errorf("count user usage: %w", err)
	}
	return count, nil
}

// drop detaches a stale promotion; manual reservations are released. Release
// failures are logged and swallowed so a broken cleanup never blocks the cart
// mutation, the usage recount job repairs any drift.
func (o *Orchestrator) drop(ctx context.Context, ap AppliedPromotion, userID uuid.UUID, reason string) {
	if obs.PromotionRejectedTotal != nil {
		obs.PromotionRejectedTotal.WithLabelValues("revalidation").Inc()
	}
	o.Log.Info().
		Str("promotion_id", ap.PromotionID.String()).
		Str("code", ap.Code).
		Bool("auto", ap.AutoApplied).
		Str("reason", reason).
		Msg("promotion no longer eligible, detaching")
	if ap.AutoApplied || o.Ledger == nil {
		return
	}
	if err := o.Ledger.Release(ctx, ap.PromotionID, userID); err != nil {
		o.Log.Error().Err(err).
			Str("promotion_id", ap.PromotionID.String()).
			Msg("failed to release promotion usage")
	}
}
