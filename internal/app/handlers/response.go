package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/linemk/ibr-resto/internal/service"
	"github.com/linemk/ibr-resto/internal/storage"
)

// ErrorResponse — структурированное тело ошибки для UI.
type ErrorResponse struct {
	Error string         `json:"error"`
	Code  string         `json:"code"`
	Meta  map[string]any `json:"meta,omitempty"`
}

// writeJSON сериализует ответ; ошибки кодирования на этом этапе уже не чинятся.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeBusinessError переводит ошибки ядра в HTTP-статусы:
// бизнес-отказы — 409 с кодом причины, отсутствие записи — 404,
// конкуренция за строку — 409 retryable, остальное — 500.
func writeBusinessError(w http.ResponseWriter, err error) {
	var insufficient *service.ErrInsufficientStock
	if errors.As(err, &insufficient) {
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error: insufficient.Error(),
			Code:  "insufficient_stock",
			Meta: map[string]any{
				"product_id": insufficient.ProductID,
				"requested":  insufficient.Requested,
				"available":  insufficient.Available,
			},
		})
		return
	}

	var invalidState *service.ErrInvalidState
	if errors.As(err, &invalidState) {
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error: invalidState.Error(),
			Code:  "invalid_state",
			Meta: map[string]any{
				"order_id":  invalidState.OrderID,
				"current":   invalidState.Current,
				"attempted": invalidState.Attempted,
			},
		})
		return
	}

	var expired *service.ErrCancellationExpired
	if errors.As(err, &expired) {
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error: expired.Error(),
			Code:  "cancellation_window_expired",
			Meta: map[string]any{
				"order_id": expired.OrderID,
				"deadline": expired.Deadline,
			},
		})
		return
	}

	switch {
	case errors.Is(err, storage.ErrProductNotFound),
		errors.Is(err, storage.ErrOrderNotFound),
		errors.Is(err, storage.ErrSaleNotFound),
		errors.Is(err, storage.ErrNotificationNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "not_found"})
	case errors.Is(err, storage.ErrRowLocked):
		// временный конфликт — клиенту безопасно повторить запрос
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "try_again"})
	default:
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal server error", Code: "internal"})
	}
}
