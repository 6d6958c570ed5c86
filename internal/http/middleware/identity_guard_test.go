package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lokamart/cart-api/internal/common"
	httpmiddleware "github.com/lokamart/cart-api/internal/http/middleware"
)

func TestRequireIdentityMissingStore(t *testing.T) {
	handler := httpmiddleware.RequireIdentity(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/cart", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rr.Code)
	}
}

func TestRequireIdentityMissingUser(t *testing.T) {
	handler := httpmiddleware.RequireIdentity(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/cart", nil)
	req = req.WithContext(common.WithStoreID(req.Context(), "acme"))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rr.Code)
	}
}

func TestRequireIdentityPasses(t *testing.T) {
	handler := httpmiddleware.RequireIdentity(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodGet, "/cart", nil)
	ctx := common.WithStoreID(req.Context(), "acme")
	ctx = common.WithUserID(ctx, "5f0c9a60-8a85-4f52-9d1b-0f9a3e9be000")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req.WithContext(ctx))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204 got %d", rr.Code)
	}
}
