package middleware

import (
	"net/http"

	"github.com/lokamart/cart-api/internal/common"
)

// RequireIdentity rejects requests before they reach the cart handlers when
// the resolver could not establish which store and user the call is for.
func RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := common.StoreID(r.Context()); !ok {
			common.JSONError(w, http.StatusBadRequest, "STORE_REQUIRED", "store is required", nil)
			return
		}
		if _, ok := common.UserID(r.Context()); !ok {
			common.JSONError(w, http.StatusUnauthorized, "USER_REQUIRED", "user identity is required", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
