package common

import "context"

type ctxKey string

const (
	userIDKey  ctxKey = "auth/user-id"
	storeIDKey ctxKey = "shop/store-id"
)

// WithUserID stores the authenticated user identifier on the provided context.
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userIDKey, id)
}

// UserID extracts the authenticated user identifier from the context if present.
func UserID(ctx context.Context) (string, bool) {
	v := ctx.Value(userIDKey)
	if v == nil {
		return "", false
	}
	id, ok := v.(string)
	return id, ok
}

// WithStoreID stores the resolved store identifier on the provided context.
// Carts and promotions are always scoped to a single store.
func WithStoreID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, storeIDKey, id)
}

// StoreID extracts the store identifier from the context if present.
func StoreID(ctx context.Context) (string, bool) {
	v := ctx.Value(storeIDKey)
	if v == nil {
		return "", false
	}
	id, ok := v.(string)
	return id, ok
}
