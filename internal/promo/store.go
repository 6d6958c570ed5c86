package promo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates the requested promotion does not exist.
var ErrNotFound = errors.New("promotion not found")

// Catalog is the read contract the cart engine uses to discover promotions.
type Catalog interface {
	GetByID(ctx context.Context, id uuid.UUID) (Rule, error)
	GetByCode(ctx context.Context, storeID, code string) (Rule, error)
	ListActive(ctx context.Context, storeID string, now time.Time) ([]Rule, error)
}

// Store persists promotions and their usage history in Postgres.
type Store struct {
	Pool *pgxpool.Pool
}

const ruleColumns = `id, store_id, code, kind, is_active, auto_apply, starts_at, ends_at,
	max_usage, current_usage, max_usage_per_user, min_order,
	percent_bps, amount, min_qty, buy_qty, get_qty,
	product_ids, category_codes, excluded_product_ids, excluded_categories`

// GetByID loads a promotion by id.
func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (Rule, error) {
	if err := s.ready(); err != nil {
		return Rule{}, err
	}
	row := s.Pool.QueryRow(ctx, `SELECT `+ruleColumns+` FROM promotions WHERE id = $1`, id)
	return scanRule(row)
}

// GetByCode loads a promotion by store and code.
func (s *Store) GetByCode(ctx context.Context, storeID, code string) (Rule, error) {
	if err := s.ready(); err != nil {
		return Rule{}, err
	}
	row := s.Pool.QueryRow(ctx, `SELECT `+ruleColumns+` FROM promotions WHERE store_id = $1 AND code = $2`, storeID, code)
	return scanRule(row)
}

// ListActive returns the store's promotions whose activation window contains now.
func (s *Store) ListActive(ctx context.Context, storeID string, now time.Time) ([]Rule, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, err := s.Pool.Query(ctx, `SELECT `+ruleColumns+` FROM promotions
		WHERE store_id = $1 AND is_active
		  AND (starts_at IS NULL OR starts_at <= $2)
		  AND (ends_at IS NULL OR ends_at >= $2)
		ORDER BY created_at`, storeID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRules(rows)
}

// ListByStore returns every promotion configured for the store.
func (s *Store) ListByStore(ctx context.Context, storeID string) ([]Rule, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, err := s.Pool.Query(ctx, `SELECT `+ruleColumns+` FROM promotions WHERE store_id = $1 ORDER BY created_at`, storeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRules(rows)
}

// Create inserts a promotion and returns it with the generated id.
func (s *Store) Create(ctx context.Context, r Rule) (Rule, error) {
	if err := s.ready(); err != nil {
		return Rule{}, err
	}
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	_, err := s.Pool.Exec(ctx, `INSERT INTO promotions (
			id, store_id, code, kind, is_active, auto_apply, starts_at, ends_at,
			max_usage, current_usage, max_usage_per_user, min_order,
			percent_bps, amount, min_qty, buy_qty, get_qty,
			product_ids, category_codes, excluded_product_ids, excluded_categories
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,0,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`,
		r.ID, r.StoreID, r.Code, string(r.Kind), r.IsActive, r.AutoApply, r.StartsAt, r.EndsAt,
		r.MaxUsage, r.MaxUsagePerUser, r.MinOrder,
		r.PercentBps, r.Amount, r.MinQty, r.BuyQty, r.GetQty,
		uuidStrings(r.ProductIDs), textArray(r.CategoryCodes),
		uuidStrings(r.ExcludedProductIDs), textArray(r.ExcludedCategories))
	if err != nil {
		return Rule{}, fmt.Errorf("insert promotion: %w", err)
	}
	return r, nil
}

// Update rewrites the promotion's rule payload. Usage counters are never
// touched here; only the ledger mutates them.
func (s *Store) Update(ctx context.Context, r Rule) error {
	if err := s.ready(); err != nil {
		return err
	}
	tag, err := s.Pool.Exec(ctx, `UPDATE promotions SET
			code = $2, kind = $3, is_active = $4, auto_apply = $5, starts_at = $6, ends_at = $7,
			max_usage = $8, max_usage_per_user = $9, min_order = $10,
			percent_bps = $11, amount = $12, min_qty = $13, buy_qty = $14, get_qty = $15,
			product_ids = $16, category_codes = $17,
			excluded_product_ids = $18, excluded_categories = $19,
			updated_at = now()
		WHERE id = $1`,
		r.ID, r.Code, string(r.Kind), r.IsActive, r.AutoApply, r.StartsAt, r.EndsAt,
		r.MaxUsage, r.MaxUsagePerUser, r.MinOrder,
		r.PercentBps, r.Amount, r.MinQty, r.BuyQty, r.GetQty,
		uuidStrings(r.ProductIDs), textArray(r.CategoryCodes),
		uuidStrings(r.ExcludedProductIDs), textArray(r.ExcludedCategories))
	if err != nil {
		return fmt.Errorf("update promotion: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CountUserUsage returns the number of usage-history entries for the user.
func (s *Store) CountUserUsage(ctx context.Context, promotionID, userID uuid.UUID) (int32, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	var count int32
	err := s.Pool.QueryRow(ctx,
		`SELECT count(*) FROM promotion_usages WHERE promotion_id = $1 AND user_id = $2`,
		promotionID, userID).Scan(&count)
	return count, err
}

// UsageHistory returns the promotion's usage entries, newest first.
func (s *Store) UsageHistory(ctx context.Context, promotionID uuid.UUID) ([]UsageEntry, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, err := s.Pool.Query(ctx, `SELECT id, promotion_id, user_id, order_id, amount, used_at
		FROM promotion_usages WHERE promotion_id = $1 ORDER BY used_at DESC`, promotionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []UsageEntry
	for rows.Next() {
		var e UsageEntry
		if err := rows.Scan(&e.ID, &e.PromotionID, &e.UserID, &e.OrderID, &e.Amount, &e.UsedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ReserveUsage conditionally increments the global counter and appends an
// order-less usage entry in one transaction. The UPDATE's WHERE clause is the
// atomic cap check: a concurrent reservation that would overshoot matches
// zero rows.
func (s *Store) ReserveUsage(ctx context.Context, promotionID, userID uuid.UUID, amount int64) error {
	if err := s.ready(); err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, s.Pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE promotions
			SET current_usage = current_usage + 1, updated_at = now()
			WHERE id = $1 AND (max_usage = 0 OR current_usage < max_usage)`, promotionID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrUsageLimitReached
		}
		_, err = tx.Exec(ctx, `INSERT INTO promotion_usages (id, promotion_id, user_id, amount)
			VALUES ($1, $2, $3, $4)`, uuid.New(), promotionID, userID, amount)
		return err
	})
}

// ReleaseUsage removes the user's most recent order-less usage entry and
// decrements the counter, floored at zero. Finalized entries are untouched.
func (s *Store) ReleaseUsage(ctx context.Context, promotionID, userID uuid.UUID) error {
	if err := s.ready(); err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, s.Pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM promotion_usages WHERE id = (
			SELECT id FROM promotion_usages
			WHERE promotion_id = $1 AND user_id = $2 AND order_id IS NULL
			ORDER BY used_at DESC LIMIT 1)`, promotionID, userID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNoReservation
		}
		_, err = tx.Exec(ctx, `UPDATE promotions
			SET current_usage = GREATEST(current_usage - 1, 0), updated_at = now()
			WHERE id = $1`, promotionID)
		return err
	})
}

// FinalizeUsage stamps the order onto the user's pending reservation.
func (s *Store) FinalizeUsage(ctx context.Context, promotionID, userID, orderID uuid.UUID) error {
	if err := s.ready(); err != nil {
		return err
	}
	tag, err := s.Pool.Exec(ctx, `UPDATE promotion_usages SET order_id = $3 WHERE id = (
		SELECT id FROM promotion_usages
		WHERE promotion_id = $1 AND user_id = $2 AND order_id IS NULL
		ORDER BY used_at DESC LIMIT 1)`, promotionID, userID, orderID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNoReservation
	}
	return nil
}

// RecountUsage rewrites current_usage from the usage table for every
// promotion whose counter drifted. It returns the number of rows fixed.
func (s *Store) RecountUsage(ctx context.Context) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	tag, err := s.Pool.Exec(ctx, `UPDATE promotions p SET current_usage = counted.n, updated_at = now()
		FROM (
			SELECT p2.id, count(u.id) AS n
			FROM promotions p2
			LEFT JOIN promotion_usages u ON u.promotion_id = p2.id
			GROUP BY p2.id
		) counted
		WHERE counted.id = p.id AND p.current_usage <> counted.n`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Store) ready() error {
	if s == nil || s.Pool == nil {
		return errors.New("promotion store not configured")
	}
	return nil
}

func scanRule(row pgx.Row) (Rule, error) {
	var (
		r          Rule
		kind       string
		products   []string
		excluded   []string
		categories []string
		exCats     []string
	)
	err := row.Scan(&r.ID, &r.StoreID, &r.Code, &kind, &r.IsActive, &r.AutoApply, &r.StartsAt, &r.EndsAt,
		&r.MaxUsage, &r.CurrentUsage, &r.MaxUsagePerUser, &r.MinOrder,
		&r.PercentBps, &r.Amount, &r.MinQty, &r.BuyQty, &r.GetQty,
		&products, &categories, &excluded, &exCats)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Rule{}, ErrNotFound
		}
		return Rule{}, fmt.Errorf("scan promotion: %w", err)
	}
	r.Kind = Kind(kind)
	r.ProductIDs = parseUUIDs(products)
	r.CategoryCodes = categories
	r.ExcludedProductIDs = parseUUIDs(excluded)
	r.ExcludedCategories = exCats
	return r, nil
}

func collectRules(rows pgx.Rows) ([]Rule, error) {
	var out []Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func parseUUIDs(values []string) []uuid.UUID {
	if len(values) == 0 {
		return nil
	}
	out := make([]uuid.UUID, 0, len(values))
	for _, v := range values {
		id, err := uuid.Parse(v)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}

func textArray(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
