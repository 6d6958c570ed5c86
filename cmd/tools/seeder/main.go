package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
)

const defaultStore = "main"

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		log.Fatalf("Failed to open DB: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("Failed to ping DB: %v", err)
	}

	store := os.Getenv("SEED_STORE")
	if store == "" {
		store = defaultStore
	}
	log.Printf("Seeding store %q", store)

	seedProducts(ctx, pool)
	seedPromotions(ctx, pool, store)

	log.Println("Seeding completed successfully!")
}

type priceEntry struct {
	ListID int   `json:"priceListId"`
	Amount int64 `json:"amount"`
}

func seedProducts(ctx context.Context, pool *pgxpool.Pool) {
	products := []struct {
		Title       string
		Slug        string
		Category    string
		Price       int64
		LegacyPrice string
	}{
		{"Stainless Water Bottle 750ml", "stainless-water-bottle", "kitchen", 1900, ""},
		{"French Press 1L", "french-press-1l", "kitchen", 3500, ""},
		{"Espresso Beans 1kg", "espresso-beans-1kg", "grocery", 2400, ""},
		{"Pour-Over Kettle", "pour-over-kettle", "kitchen", 5200, ""},
		{"Ceramic Mug Set", "ceramic-mug-set", "kitchen", 2800, ""},
		{"Cotton Tote Bag", "cotton-tote-bag", "apparel", 1200, ""},
		{"Linen Apron", "linen-apron", "apparel", 3300, ""},
		{"Cold Brew Jar", "cold-brew-jar", "kitchen", 0, "27.50"},
		{"Digital Scale", "digital-scale", "kitchen", 0, "41,00"},
	}

	log.Println("Seeding Products...")
	for _, p := range products {
		entries := []priceEntry{}
		if p.Price > 0 {
			entries = append(entries, priceEntry{ListID: 2, Amount: p.Price})
		}
		priceLists, err := json.Marshal(entries)
		if err != nil {
			log.Printf("Failed to encode prices for %s: %v", p.Title, err)
			continue
		}
		_, err = pool.Exec(ctx, `
			INSERT INTO products (id, title, slug, category_code, price_lists, prices, legacy_price)
			VALUES ($1, $2, $3, $4, $5, '[]'::jsonb, $6)
			ON CONFLICT (slug) DO UPDATE SET
				title = EXCLUDED.title,
				category_code = EXCLUDED.category_code,
				price_lists = EXCLUDED.price_lists,
				legacy_price = EXCLUDED.legacy_price,
				updated_at = now();
		`, uuid.New(), p.Title, p.Slug, p.Category, priceLists, p.LegacyPrice)
		if err != nil {
			log.Printf("Failed to seed product %s: %v", p.Title, err)
		}
	}
}

func seedPromotions(ctx context.Context, pool *pgxpool.Pool, store string) {
	now := time.Now()
	yearOut := now.AddDate(1, 0, 0)

	promotions := []struct {
		Code       string
		Kind       string
		AutoApply  bool
		MinOrder   int64
		PercentBps int32
		Amount     int64
		MinQty     int32
		BuyQty     int32
		GetQty     int32
		Categories []string
	}{
		{Code: "WELCOME10", Kind: "cart_total", PercentBps: 1000, MinOrder: 5000},
		{Code: "FLAT5", Kind: "cart_total", Amount: 500},
		{Code: "BULK-KITCHEN", Kind: "quantity_discount", AutoApply: true, PercentBps: 500, MinQty: 4, Categories: []string{"kitchen"}},
		{Code: "B2G1-MUGS", Kind: "buy_x_get_y", AutoApply: true, BuyQty: 2, GetQty: 1, Categories: []string{"kitchen"}},
	}

	log.Println("Seeding Promotions...")
	for _, p := range promotions {
		categories := p.Categories
		if categories == nil {
			categories = []string{}
		}
		_, err := pool.Exec(ctx, `
			INSERT INTO promotions (
				id, store_id, code, kind, is_active, auto_apply, starts_at, ends_at,
				max_usage, current_usage, max_usage_per_user, min_order,
				percent_bps, amount, min_qty, buy_qty, get_qty,
				product_ids, category_codes, excluded_product_ids, excluded_categories
			) VALUES ($1, $2, $3, $4, true, $5, $6, $7, 0, 0, 0, $8, $9, $10, $11, $12, $13, '{}', $14, '{}', '{}')
			ON CONFLICT (store_id, code) DO NOTHING;
		`, uuid.New(), store, p.Code, p.Kind, p.AutoApply, now, yearOut,
			p.MinOrder, p.PercentBps, p.Amount, p.MinQty, p.BuyQty, p.GetQty, categories)
		if err != nil {
			log.Printf("Failed to seed promotion %s: %v", p.Code, err)
		}
	}
}
