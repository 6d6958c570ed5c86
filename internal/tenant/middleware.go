package tenant

import (
	"net"
	"net/http"
	"strings"

	"github.com/lokamart/cart-api/internal/common"
)

// Resolver resolves the store a request belongs to, from a header or the
// request subdomain, and the acting user from a header. Both land on the
// request context for the cart and promotion handlers.
type Resolver struct {
	StoreHeader  string
	UserHeader   string
	RootDomain   string
	DefaultStore string
}

// NewResolver returns a resolver with the given header names, root domain
// and default store slug. Empty header names fall back to X-Store-ID and
// X-User-ID.
func NewResolver(storeHeader, userHeader, rootDomain, defaultStore string) *Resolver {
	if storeHeader == "" {
		storeHeader = "X-Store-ID"
	}
	if userHeader == "" {
		userHeader = "X-User-ID"
	}
	return &Resolver{
		StoreHeader:  storeHeader,
		UserHeader:   userHeader,
		RootDomain:   strings.ToLower(strings.TrimSpace(rootDomain)),
		DefaultStore: strings.TrimSpace(defaultStore),
	}
}

// Middleware resolves store and user and injects both into the context
// passed downstream.
func (r *Resolver) Middleware(next http.Handler) http.Handler {
	if r == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ctx := req.Context()
		storeID := r.ResolveStore(req)
		if storeID == "" {
			storeID = r.DefaultStore
		}
		if storeID != "" {
			ctx = common.WithStoreID(ctx, storeID)
		}
		if userID := strings.TrimSpace(req.Header.Get(r.UserHeader)); userID != "" {
			ctx = common.WithUserID(ctx, userID)
		}
		next.ServeHTTP(w, req.WithContext(ctx))
	})
}

// ResolveStore finds the store identifier from the configured header or the
// request subdomain.
func (r *Resolver) ResolveStore(req *http.Request) string {
	if r == nil || req == nil {
		return ""
	}
	if storeID := strings.TrimSpace(req.Header.Get(r.StoreHeader)); storeID != "" {
		return storeID
	}

	host := hostWithoutPort(req.Host)
	if host == "" {
		return ""
	}
	return strings.TrimSpace(r.subdomainFromHost(host))
}

// subdomainFromHost maps a host under the configured root domain to its store
// slug. Without a root domain there is nothing to anchor the match against,
// so hosts resolve no store and the default applies.
func (r *Resolver) subdomainFromHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if host == "" || r.RootDomain == "" || host == r.RootDomain {
		return ""
	}
	suffix := "." + r.RootDomain
	if !strings.HasSuffix(host, suffix) {
		return ""
	}
	parts := strings.Split(strings.TrimSuffix(host, suffix), ".")
	return parts[0]
}

func hostWithoutPort(hostport string) string {
	hostport = strings.TrimSpace(hostport)
	if hostport == "" {
		return ""
	}
	if strings.HasPrefix(hostport, "[") {
		if idx := strings.Index(hostport, "]"); idx != -1 {
			host := hostport[1:idx]
			if host != "" {
				return host
			}
		}
	}
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		return h
	}
	if idx := strings.Index(hostport, ":"); idx != -1 && strings.Count(hostport, ":") == 1 {
		return hostport[:idx]
	}
	return hostport
}
