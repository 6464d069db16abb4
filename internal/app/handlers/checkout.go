package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/linemk/ibr-resto/internal/domain/models"
	"github.com/linemk/ibr-resto/internal/jwt-new/jwtmiddleware"
	"github.com/linemk/ibr-resto/internal/service"
)

type CheckoutRequest struct {
	Items []OrderLineRequest `json:"items" validate:"required,min=1,dive"`
}

type SalesReportResponse struct {
	Sales []*models.Sale `json:"sales"`
	Total int            `json:"total"`
}

// CheckoutHandler обрабатывает POST /api/admin/checkout
func CheckoutHandler(log *slog.Logger, checkoutService service.CheckoutService, catalogService service.CatalogService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.CheckoutHandler"
		logger := log.With(slog.String("op", op))

		cashierID, ok := jwtmiddleware.FromContext(r.Context())
		if !ok {
			logger.Error("userID not found in context")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		var req CheckoutRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Error("invalid request: decoding error", slog.Any("error", err))
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
		if err := validate.Struct(req); err != nil {
			logger.Error("invalid request: validation error", slog.Any("error", err))
			http.Error(w, "validation error", http.StatusBadRequest)
			return
		}

		lines, err := snapshotLines(r, catalogService, req.Items)
		if err != nil {
			logger.Warn("failed to snapshot cart", slog.Any("error", err))
			writeBusinessError(w, err)
			return
		}

		sale, err := checkoutService.Checkout(r.Context(), cashierID, lines, r.Header.Get("Idempotency-Key"))
		if err != nil {
			logger.Warn("checkout failed", slog.Any("error", err))
			writeBusinessError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, sale)
	}
}

// ReverseSaleHandler обрабатывает DELETE /api/admin/sales/{id}
func ReverseSaleHandler(log *slog.Logger, checkoutService service.CheckoutService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.ReverseSaleHandler"
		logger := log.With(slog.String("op", op))

		saleID := chi.URLParam(r, "id")
		if saleID == "" {
			http.Error(w, "id parameter is required", http.StatusBadRequest)
			return
		}

		if err := checkoutService.ReverseSale(r.Context(), saleID); err != nil {
			logger.Warn("failed to reverse sale", slog.Any("error", err))
			writeBusinessError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"message": "sale reversed, stock restored"})
	}
}

// SalesReportHandler обрабатывает GET /api/admin/sales?from=&to= (RFC3339).
// Без параметров отдаёт отчёт за сегодняшний день.
func SalesReportHandler(log *slog.Logger, checkoutService service.CheckoutService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.SalesReportHandler"
		logger := log.With(slog.String("op", op))

		now := time.Now()
		from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		to := from.Add(24*time.Hour - time.Nanosecond)

		if raw := r.URL.Query().Get("from"); raw != "" {
			parsed, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				http.Error(w, "invalid from parameter", http.StatusBadRequest)
				return
			}
			from = parsed
		}
		if raw := r.URL.Query().Get("to"); raw != "" {
			parsed, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				http.Error(w, "invalid to parameter", http.StatusBadRequest)
				return
			}
			to = parsed
		}

		sales, total, err := checkoutService.SalesReport(r.Context(), from, to)
		if err != nil {
			logger.Error("failed to build report", slog.Any("error", err))
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, SalesReportResponse{Sales: sales, Total: total})
	}
}
