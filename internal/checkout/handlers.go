package checkout

import (
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/lokamart/cart-api/internal/common"
)

// Handler exposes the checkout hand-off endpoint.
type Handler struct {
	Svc *Service
}

// Create finalizes the caller's active cart into an order.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "checkout service not configured", nil)
		return
	}
	storeID, ok := common.StoreID(r.Context())
	if !ok || storeID == "" {
		common.JSONError(w, http.StatusBadRequest, common.CodeInvalidInput, "store is required", nil)
		return
	}
	raw, ok := common.UserID(r.Context())
	if !ok || raw == "" {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "user identity required", nil)
		return
	}
	userID, err := uuid.Parse(raw)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeInvalidInput, "invalid user id", nil)
		return
	}
	order, err := h.Svc.Checkout(r.Context(), storeID, userID)
	if err != nil {
		var appErr *common.AppError
		if errors.As(err, &appErr) {
			status := appErr.HTTPStatus
			if status == 0 {
				status = http.StatusInternalServerError
			}
			common.JSONError(w, status, appErr.Code, appErr.Message, appErr.Details)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "checkout failed", nil)
		return
	}
	common.JSONData(w, http.StatusCreated, order)
}
