package ratelimit

import (
	"net"
	"net/http"
	"strconv"

	limiter "github.com/ulule/limiter/v3"

	"github.com/lokamart/cart-api/internal/common"
)

// Middleware throttles requests per caller. Carts are keyed by store and
// user so one noisy client cannot starve the rest; anonymous requests fall
// back to the client IP.
type Middleware struct {
	Limiter *limiter.Limiter
}

// Handler enforces the limit and annotates responses with the usual
// X-RateLimit headers.
func (m Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		lctx, err := m.Limiter.Get(r.Context(), clientKey(r))
		if err != nil {
			// A limiter outage must not take the cart API down with it.
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(lctx.Limit, 10))
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(lctx.Remaining, 10))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(lctx.Reset, 10))
		if lctx.Reached {
			common.JSONError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	store, okStore := common.StoreID(r.Context())
	user, okUser := common.UserID(r.Context())
	if okStore && okUser {
		return "rl:" + store + ":" + user
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "rl:ip:" + host
}
