package promo

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/lokamart/cart-api/internal/common"
)

// Handler exposes administrative promotion management endpoints.
type Handler struct {
	Store    *Store
	Validate *validator.Validate
}

type rulePayload struct {
	Code            string     `json:"code" validate:"required,min=2,max=64"`
	Kind            string     `json:"kind" validate:"required,oneof=cart_total quantity_discount buy_x_get_y"`
	IsActive        bool       `json:"isActive"`
	AutoApply       bool       `json:"autoApply"`
	StartsAt        *time.Time `json:"startsAt"`
	EndsAt          *time.Time `json:"endsAt"`
	MaxUsage        int32      `json:"maxUsage" validate:"gte=0"`
	MaxUsagePerUser int32      `json:"maxUsagePerUser" validate:"gte=0"`
	MinOrder        int64      `json:"minOrder" validate:"gte=0"`
	PercentBps      int32      `json:"percentBps" validate:"gte=0,lte=10000"`
	Amount          int64      `json:"amount" validate:"gte=0"`
	MinQty          int32      `json:"minQty" validate:"gte=0"`
	BuyQty          int32      `json:"buyQty" validate:"gte=0"`
	GetQty          int32      `json:"getQty" validate:"gte=0"`

	ProductIDs         []string `json:"productIds" validate:"dive,uuid"`
	CategoryCodes      []string `json:"categoryCodes"`
	ExcludedProductIDs []string `json:"excludedProductIds" validate:"dive,uuid"`
	ExcludedCategories []string `json:"excludedCategories"`
}

type ruleResponse struct {
	ID              uuid.UUID  `json:"id"`
	StoreID         string     `json:"storeId"`
	Code            string     `json:"code"`
	Kind            string     `json:"kind"`
	IsActive        bool       `json:"isActive"`
	AutoApply       bool       `json:"autoApply"`
	StartsAt        *time.Time `json:"startsAt,omitempty"`
	EndsAt          *time.Time `json:"endsAt,omitempty"`
	MaxUsage        int32      `json:"maxUsage"`
	CurrentUsage    int32      `json:"currentUsage"`
	MaxUsagePerUser int32      `json:"maxUsagePerUser"`
	MinOrder        int64      `json:"minOrder"`
	PercentBps      int32      `json:"percentBps,omitempty"`
	Amount          int64      `json:"amount,omitempty"`
	MinQty          int32      `json:"minQty,omitempty"`
	BuyQty          int32      `json:"buyQty,omitempty"`
	GetQty          int32      `json:"getQty,omitempty"`

	ProductIDs         []string `json:"productIds,omitempty"`
	CategoryCodes      []string `json:"categoryCodes,omitempty"`
	ExcludedProductIDs []string `json:"excludedProductIds,omitempty"`
	ExcludedCategories []string `json:"excludedCategories,omitempty"`
}

// Create inserts a new promotion for the request's store.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "promotion store not configured", nil)
		return
	}
	storeID, ok := common.StoreID(r.Context())
	if !ok {
		common.JSONError(w, http.StatusBadRequest, common.CodeInvalidInput, "store is required", nil)
		return
	}
	payload, err := h.decode(r)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeInvalidInput, err.Error(), nil)
		return
	}
	rule, err := toRule(payload)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeInvalidInput, err.Error(), nil)
		return
	}
	rule.StoreID = storeID
	created, err := h.Store.Create(r.Context(), rule)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			common.JSONError(w, http.StatusConflict, common.CodeConflict, "promotion code already exists", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "failed to create promotion", nil)
		return
	}
	common.JSONData(w, http.StatusCreated, toResponse(created))
}

// Update rewrites an existing promotion's rule.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "promotion store not configured", nil)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "promotionID"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeInvalidInput, "invalid promotion id", nil)
		return
	}
	payload, err := h.decode(r)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeInvalidInput, err.Error(), nil)
		return
	}
	rule, err := toRule(payload)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeInvalidInput, err.Error(), nil)
		return
	}
	rule.ID = id
	if err := h.Store.Update(r.Context(), rule); err != nil {
		if errors.Is(err, ErrNotFound) {
			common.JSONError(w, http.StatusNotFound, common.CodeNotFound, "promotion not found", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "failed to update promotion", nil)
		return
	}
	updated, err := h.Store.GetByID(r.Context(), id)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "failed to load promotion", nil)
		return
	}
	common.JSONData(w, http.StatusOK, toResponse(updated))
}

// Get returns one promotion by id.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "promotion store not configured", nil)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "promotionID"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeInvalidInput, "invalid promotion id", nil)
		return
	}
	rule, err := h.Store.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			common.JSONError(w, http.StatusNotFound, common.CodeNotFound, "promotion not found", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "failed to load promotion", nil)
		return
	}
	common.JSONData(w, http.StatusOK, toResponse(rule))
}

// List returns the store's promotions.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "promotion store not configured", nil)
		return
	}
	storeID, ok := common.StoreID(r.Context())
	if !ok {
		common.JSONError(w, http.StatusBadRequest, common.CodeInvalidInput, "store is required", nil)
		return
	}
	rules, err := h.Store.ListByStore(r.Context(), storeID)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "failed to list promotions", nil)
		return
	}
	out := make([]ruleResponse, 0, len(rules))
	for _, rule := range rules {
		out = append(out, toResponse(rule))
	}
	common.JSONData(w, http.StatusOK, out)
}

// Usage returns the promotion's usage history, newest first.
func (h *Handler) Usage(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "promotion store not configured", nil)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "promotionID"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeInvalidInput, "invalid promotion id", nil)
		return
	}
	entries, err := h.Store.UsageHistory(r.Context(), id)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "failed to load usage history", nil)
		return
	}
	common.JSONData(w, http.StatusOK, entries)
}

func (h *Handler) decode(r *http.Request) (rulePayload, error) {
	var payload rulePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		return rulePayload{}, errors.New("invalid payload")
	}
	if h.Validate != nil {
		if err := h.Validate.Struct(payload); err != nil {
			return rulePayload{}, err
		}
	}
	return payload, nil
}

func toRule(payload rulePayload) (Rule, error) {
	kind := Kind(strings.TrimSpace(payload.Kind))
	if !kind.Valid() {
		return Rule{}, errors.New("invalid kind")
	}
	switch kind {
	case KindCartTotal:
		if payload.PercentBps <= 0 && payload.Amount <= 0 {
			return Rule{}, errors.New("cart_total requires percentBps or amount")
		}
	case KindQuantityDiscount:
		if payload.PercentBps <= 0 || payload.MinQty <= 0 {
			return Rule{}, errors.New("quantity_discount requires percentBps and minQty")
		}
	case KindBuyXGetY:
		if payload.BuyQty <= 0 || payload.GetQty <= 0 {
			return Rule{}, errors.New("buy_x_get_y requires buyQty and getQty")
		}
	}
	productIDs, err := parseUUIDList(payload.ProductIDs)
	if err != nil {
		return Rule{}, err
	}
	excludedIDs, err := parseUUIDList(payload.ExcludedProductIDs)
	if err != nil {
		return Rule{}, err
	}
	return Rule{
		Code:               strings.ToUpper(strings.TrimSpace(payload.Code)),
		Kind:               kind,
		IsActive:           payload.IsActive,
		AutoApply:          payload.AutoApply,
		StartsAt:           payload.StartsAt,
		EndsAt:             payload.EndsAt,
		MaxUsage:           payload.MaxUsage,
		MaxUsagePerUser:    payload.MaxUsagePerUser,
		MinOrder:           payload.MinOrder,
		PercentBps:         payload.PercentBps,
		Amount:             payload.Amount,
		MinQty:             payload.MinQty,
		BuyQty:             payload.BuyQty,
		GetQty:             payload.GetQty,
		ProductIDs:         productIDs,
		CategoryCodes:      trimStrings(payload.CategoryCodes),
		ExcludedProductIDs: excludedIDs,
		ExcludedCategories: trimStrings(payload.ExcludedCategories),
	}, nil
}

func toResponse(r Rule) ruleResponse {
	return ruleResponse{
		ID:                 r.ID,
		StoreID:            r.StoreID,
		Code:               r.Code,
		Kind:               string(r.Kind),
		IsActive:           r.IsActive,
		AutoApply:          r.AutoApply,
		StartsAt:           r.StartsAt,
		EndsAt:             r.EndsAt,
		MaxUsage:           r.MaxUsage,
		CurrentUsage:       r.CurrentUsage,
		MaxUsagePerUser:    r.MaxUsagePerUser,
		MinOrder:           r.MinOrder,
		PercentBps:         r.PercentBps,
		Amount:             r.Amount,
		MinQty:             r.MinQty,
		BuyQty:             r.BuyQty,
		GetQty:             r.GetQty,
		ProductIDs:         uuidStrings(r.ProductIDs),
		CategoryCodes:      r.CategoryCodes,
		ExcludedProductIDs: uuidStrings(r.ExcludedProductIDs),
		ExcludedCategories: r.ExcludedCategories,
	}
}

func parseUUIDList(values []string) ([]uuid.UUID, error) {
	if len(values) == 0 {
		return nil, nil
	}
	out := make([]uuid.UUID, 0, len(values))
	for _, raw := range values {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			continue
		}
		parsed, err := uuid.Parse(trimmed)
		if err != nil {
			return nil, errors.New("invalid product id: " + trimmed)
		}
		out = append(out, parsed)
	}
	return out, nil
}

func trimStrings(values []string) []string {
	var out []string
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}
