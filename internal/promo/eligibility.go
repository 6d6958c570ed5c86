package promo

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Eligibility failures, ordered by reporting priority. Check returns the
// first one that applies so callers can surface a single precise reason.
var (
	// ErrInactive is returned when the promotion is switched off.
	ErrInactive = errors.New("promotion not active")
	// ErrNotStarted is returned before the activation window opens.
	ErrNotStarted = errors.New("promotion not started")
	// ErrExpired is returned after the activation window closes.
	ErrExpired = errors.New("promotion expired")
	// ErrUsageLimitReached indicates the global usage quota is exhausted.
	ErrUsageLimitReached = errors.New("promotion usage limit reached")
	// ErrPerUserLimitReached indicates the caller exceeded the per-user allowance.
	ErrPerUserLimitReached = errors.New("promotion per-user usage limit reached")
	// ErrMinimumOrderUnmet indicates the chargeable cart total is below the requirement.
	ErrMinimumOrderUnmet = errors.New("promotion minimum order not met")
	// ErrScopeMismatch indicates no cart line falls inside the promotion's product scope.
	ErrScopeMismatch = errors.New("promotion not applicable to any cart line")
)

// Check runs every eligibility sub-check against the cart snapshot and
// returns the first failure in priority order, or nil when the promotion can
// be applied. perUserUsed is the caller's usage-history entry count.
func Check(r Rule, lines []Line, perUserUsed int32, now time.Time) error {
	if !r.IsActive {
		return ErrInactive
	}
	if r.StartsAt != nil && now.Before(*r.StartsAt) {
		return ErrNotStarted
	}
	if r.EndsAt != nil && now.After(*r.EndsAt) {
		return ErrExpired
	}
	if r.MaxUsage > 0 && r.CurrentUsage >= r.MaxUsage {
		return ErrUsageLimitReached
	}
	if r.MaxUsagePerUser > 0 && perUserUsed >= r.MaxUsagePerUser {
		return ErrPerUserLimitReached
	}
	if ChargeableTotal(lines) < r.MinOrder {
		return ErrMinimumOrderUnmet
	}
	if !anyLineInScope(r, lines) {
		return ErrScopeMismatch
	}
	return nil
}

func anyLineInScope(r Rule, lines []Line) bool {
	for _, l := range lines {
		if l.ChargeableQty() <= 0 {
			continue
		}
		if MatchesScope(r, l) {
			return true
		}
	}
	return false
}

// MatchesScope reports whether the line's product falls inside the
// promotion's applicability scope. Empty applicable sets mean "everything";
// exclusions always win.
func MatchesScope(r Rule, l Line) bool {
	if containsUUID(r.ExcludedProductIDs, l.ProductID) {
		return false
	}
	if l.CategoryCode != "" && containsString(r.ExcludedCategories, l.CategoryCode) {
		return false
	}
	if len(r.ProductIDs) == 0 && len(r.CategoryCodes) == 0 {
		return true
	}
	if containsUUID(r.ProductIDs, l.ProductID) {
		return true
	}
	if l.CategoryCode != "" && containsString(r.CategoryCodes, l.CategoryCode) {
		return true
	}
	return false
}

func containsUUID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, el := range ids {
		if el == id {
			return true
		}
	}
	return false
}

func containsString(values []string, v string) bool {
	for _, el := range values {
		if el == v {
			return true
		}
	}
	return false
}
