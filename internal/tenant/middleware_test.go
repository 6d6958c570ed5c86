package tenant_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lokamart/cart-api/internal/common"
	"github.com/lokamart/cart-api/internal/tenant"
)

func resolve(t *testing.T, r *tenant.Resolver, mutate func(*http.Request)) (string, string) {
	t.Helper()
	var store, user string
	handler := r.Middleware(http.HandlerFunc(func(_ http.ResponseWriter, req *http.Request) {
		store, _ = common.StoreID(req.Context())
		user, _ = common.UserID(req.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if mutate != nil {
		mutate(req)
	}
	handler.ServeHTTP(httptest.NewRecorder(), req)
	return store, user
}

func TestResolveFromHeaders(t *testing.T) {
	r := tenant.NewResolver("", "", "", "")
	store, user := resolve(t, r, func(req *http.Request) {
		req.Header.Set("X-Store-ID", "acme")
		req.Header.Set("X-User-ID", "5f0c9a60-8a85-4f52-9d1b-0f9a3e9be000")
	})
	if store != "acme" {
		t.Fatalf("expected store acme got %q", store)
	}
	if user != "5f0c9a60-8a85-4f52-9d1b-0f9a3e9be000" {
		t.Fatalf("unexpected user %q", user)
	}
}

func TestResolveFromSubdomain(t *testing.T) {
	r := tenant.NewResolver("", "", "lokamart.io", "")
	store, _ := resolve(t, r, func(req *http.Request) {
		req.Host = "acme.lokamart.io:8080"
	})
	if store != "acme" {
		t.Fatalf("expected store acme got %q", store)
	}
}

func TestRootDomainHasNoStore(t *testing.T) {
	r := tenant.NewResolver("", "", "lokamart.io", "")
	store, _ := resolve(t, r, func(req *http.Request) {
		req.Host = "lokamart.io"
	})
	if store != "" {
		t.Fatalf("expected no store got %q", store)
	}
}

func TestDefaultStoreFallback(t *testing.T) {
	r := tenant.NewResolver("", "", "", "main")
	store, _ := resolve(t, r, nil)
	if store != "main" {
		t.Fatalf("expected default store got %q", store)
	}
}

func TestNoRootDomainIgnoresHost(t *testing.T) {
	r := tenant.NewResolver("", "", "", "main")
	store, _ := resolve(t, r, func(req *http.Request) {
		req.Host = "example.com"
	})
	if store != "main" {
		t.Fatalf("expected default store got %q", store)
	}
}

func TestHeaderWinsOverSubdomain(t *testing.T) {
	r := tenant.NewResolver("", "", "lokamart.io", "")
	store, _ := resolve(t, r, func(req *http.Request) {
		req.Host = "acme.lokamart.io"
		req.Header.Set("X-Store-ID", "globex")
	})
	if store != "globex" {
		t.Fatalf("expected header store got %q", store)
	}
}
