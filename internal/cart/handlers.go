package cart

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lokamart/cart-api/internal/common"
	"github.com/lokamart/cart-api/internal/promo"
)

// Handler exposes the cart mutation endpoints. Store and user identity come
// from the request context; the resolver middleware in cmd/api sets both.
type Handler struct {
	Svc      *Service
	Currency string
}

type addItemRequest struct {
	ProductID string `json:"productId"`
	Qty       int32  `json:"qty"`
}

type updateItemRequest struct {
	Qty int32 `json:"qty"`
}

type applyPromotionRequest struct {
	Promotion string `json:"promotion"`
}

type itemDTO struct {
	ID         uuid.UUID `json:"id"`
	ProductID  uuid.UUID `json:"productId"`
	Title      string    `json:"title,omitempty"`
	Qty        int32     `json:"qty"`
	FreeQty    int32     `json:"freeQty,omitempty"`
	IsFreeItem bool      `json:"isFreeItem,omitempty"`
	UnitPrice  int64     `json:"unitPrice"`
	Subtotal   int64     `json:"subtotal"`
}

type promotionDTO struct {
	PromotionID uuid.UUID `json:"promotionId"`
	Code        string    `json:"code"`
	Discount    int64     `json:"discount"`
	AutoApplied bool      `json:"autoApplied"`
	AppliedAt   time.Time `json:"appliedAt"`
}

type viewDTO struct {
	ID         uuid.UUID      `json:"id"`
	Status     string         `json:"status"`
	Currency   string         `json:"currency,omitempty"`
	Items      []itemDTO      `json:"items"`
	Promotions []promotionDTO `json:"promotions"`
	Totals     Totals         `json:"totals"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

// Get returns the reconciled cart.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	storeID, userID, ok := identity(w, r)
	if !ok {
		return
	}
	view, err := h.Svc.Get(r.Context(), storeID, userID)
	h.respond(w, view, err)
}

// AddItem upserts a line.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	storeID, userID, ok := identity(w, r)
	if !ok {
		return
	}
	var req addItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeInvalidInput, "invalid payload", nil)
		return
	}
	productID, err := uuid.Parse(req.ProductID)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeInvalidInput, "invalid product id", nil)
		return
	}
	view, err := h.Svc.AddItem(r.Context(), storeID, userID, productID, req.Qty)
	h.respond(w, view, err)
}

// UpdateItem sets a line's paid quantity; zero removes it.
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	storeID, userID, ok := identity(w, r)
	if !ok {
		return
	}
	productID, err := uuid.Parse(chi.URLParam(r, "productID"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeInvalidInput, "invalid product id", nil)
		return
	}
	var req updateItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeInvalidInput, "invalid payload", nil)
		return
	}
	view, err := h.Svc.UpdateItem(r.Context(), storeID, userID, productID, req.Qty)
	h.respond(w, view, err)
}

// RemoveItem drops a line.
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	storeID, userID, ok := identity(w, r)
	if !ok {
		return
	}
	productID, err := uuid.Parse(chi.URLParam(r, "productID"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeInvalidInput, "invalid product id", nil)
		return
	}
	view, err := h.Svc.RemoveItem(r.Context(), storeID, userID, productID)
	h.respond(w, view, err)
}

// Clear empties the cart.
func (h *Handler) Clear(w http.ResponseWriter, r *http.Request) {
	storeID, userID, ok := identity(w, r)
	if !ok {
		return
	}
	view, err := h.Svc.Clear(r.Context(), storeID, userID)
	h.respond(w, view, err)
}

// ApplyPromotion attaches a promotion by id or code.
func (h *Handler) ApplyPromotion(w http.ResponseWriter, r *http.Request) {
	storeID, userID, ok := identity(w, r)
	if !ok {
		return
	}
	var req applyPromotionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeInvalidInput, "invalid payload", nil)
		return
	}
	view, err := h.Svc.ApplyPromotion(r.Context(), storeID, userID, req.Promotion)
	h.respond(w, view, err)
}

// RemovePromotion detaches one promotion.
func (h *Handler) RemovePromotion(w http.ResponseWriter, r *http.Request) {
	storeID, userID, ok := identity(w, r)
	if !ok {
		return
	}
	promotionID, err := uuid.Parse(chi.URLParam(r, "promotionID"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeInvalidInput, "invalid promotion id", nil)
		return
	}
	view, err := h.Svc.RemovePromotion(r.Context(), storeID, userID, promotionID)
	h.respond(w, view, err)
}

// RemoveAllPromotions detaches everything and releases manual reservations.
func (h *Handler) RemoveAllPromotions(w http.ResponseWriter, r *http.Request) {
	storeID, userID, ok := identity(w, r)
	if !ok {
		return
	}
	view, err := h.Svc.RemoveAllPromotions(r.Context(), storeID, userID)
	h.respond(w, view, err)
}

// ApplicablePromotions lists promotions that would currently apply.
func (h *Handler) ApplicablePromotions(w http.ResponseWriter, r *http.Request) {
	storeID, userID, ok := identity(w, r)
	if !ok {
		return
	}
	rules, err := h.Svc.ApplicablePromotions(r.Context(), storeID, userID)
	if err != nil {
		writeErr(w, err)
		return
	}
	out := make([]map[string]any, 0, len(rules))
	for _, rule := range rules {
		out = append(out, map[string]any{
			"promotionId": rule.ID,
			"code":        rule.Code,
			"kind":        rule.Kind,
		})
	}
	common.JSONData(w, http.StatusOK, out)
}

func (h *Handler) respond(w http.ResponseWriter, view View, err error) {
	if err != nil {
		writeErr(w, err)
		return
	}
	dto := toViewDTO(view)
	dto.Currency = h.Currency
	common.JSONData(w, http.StatusOK, dto)
}

func writeErr(w http.ResponseWriter, err error) {
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		status := appErr.HTTPStatus
		if status == 0 {
			status = http.StatusInternalServerError
		}
		common.JSONError(w, status, appErr.Code, appErr.Message, appErr.Details)
		return
	}
	if errors.Is(err, promo.ErrNotFound) || errors.Is(err, ErrNotFound) {
		common.JSONError(w, http.StatusNotFound, common.CodeNotFound, err.Error(), nil)
		return
	}
	common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "internal error", nil)
}

func identity(w http.ResponseWriter, r *http.Request) (string, uuid.UUID, bool) {
	storeID, ok := common.StoreID(r.Context())
	if !ok || storeID == "" {
		common.JSONError(w, http.StatusBadRequest, common.CodeInvalidInput, "store is required", nil)
		return "", uuid.Nil, false
	}
	raw, ok := common.UserID(r.Context())
	if !ok || raw == "" {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "user identity required", nil)
		return "", uuid.Nil, false
	}
	userID, err := uuid.Parse(raw)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeInvalidInput, "invalid user id", nil)
		return "", uuid.Nil, false
	}
	return storeID, userID, true
}

func toViewDTO(view View) viewDTO {
	items := make([]itemDTO, 0, len(view.Cart.Items))
	for _, it := range view.Cart.Items {
		chargeable := it.Qty - it.FreeQty
		if it.IsFreeItem || chargeable < 0 {
			chargeable = 0
		}
		items = append(items, itemDTO{
			ID:         it.ID,
			ProductID:  it.ProductID,
			Title:      it.Title,
			Qty:        it.Qty,
			FreeQty:    it.FreeQty,
			IsFreeItem: it.IsFreeItem,
			UnitPrice:  it.UnitPrice,
			Subtotal:   int64(chargeable) * it.UnitPrice,
		})
	}
	promos := make([]promotionDTO, 0, len(view.Cart.Applied))
	for _, ap := range view.Cart.Applied {
		promos = append(promos, promotionDTO{
			PromotionID: ap.PromotionID,
			Code:        ap.Code,
			Discount:    ap.Discount,
			AutoApplied: ap.AutoApplied,
			AppliedAt:   ap.AppliedAt,
		})
	}
	return viewDTO{
		ID:         view.Cart.ID,
		Status:     view.Cart.Status,
		Items:      items,
		Promotions: promos,
		Totals:     view.Totals,
		UpdatedAt:  view.Cart.UpdatedAt,
	}
}
