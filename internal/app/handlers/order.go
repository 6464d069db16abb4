package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/linemk/ibr-resto/internal/domain/models"
	"github.com/linemk/ibr-resto/internal/jwt-new/jwtmiddleware"
	"github.com/linemk/ibr-resto/internal/service"
	"github.com/linemk/ibr-resto/internal/storage"
)

// OrderLineRequest — позиция корзины в запросе.
// Цена и имя не принимаются от клиента: снимок делает сервис по данным каталога.
type OrderLineRequest struct {
	ProductID int64 `json:"product_id" validate:"required"`
	Quantity  int   `json:"quantity" validate:"required,gt=0"`
}

type PlaceOrderRequest struct {
	Items []OrderLineRequest `json:"items" validate:"required,min=1,dive"`
}

type AdvanceStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=processing completed"`
}

// PlaceOrderHandler обрабатывает POST /api/orders
func PlaceOrderHandler(log *slog.Logger, orderService service.OrderService, catalogService service.CatalogService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.PlaceOrderHandler"
		logger := log.With(slog.String("op", op))

		userID, ok := jwtmiddleware.FromContext(r.Context())
		if !ok {
			logger.Error("userID not found in context")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		userName := jwtmiddleware.NameFromContext(r.Context())

		var req PlaceOrderRequest
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

		// Снимок имени и цены берём из каталога, а не из запроса
		lines, err := snapshotLines(r, catalogService, req.Items)
		if err != nil {
			logger.Warn("failed to snapshot cart", slog.Any("error", err))
			writeBusinessError(w, err)
			return
		}

		// Клиент может прислать ключ идемпотентности для безопасного повтора
		order, err := orderService.PlaceOrder(r.Context(), userID, userName, lines, r.Header.Get("Idempotency-Key"))
		if err != nil {
			logger.Warn("failed to place order", slog.Any("error", err))
			writeBusinessError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, order)
	}
}

// MyOrdersHandler обрабатывает GET /api/orders
func MyOrdersHandler(log *slog.Logger, orderService service.OrderService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.MyOrdersHandler"
		logger := log.With(slog.String("op", op))

		userID, ok := jwtmiddleware.FromContext(r.Context())
		if !ok {
			logger.Error("userID not found in context")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		orders, err := orderService.OrdersByUser(r.Context(), userID)
		if err != nil {
			logger.Error("failed to get orders", slog.Any("error", err))
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, orders)
	}
}

// CancelOrderHandler обрабатывает POST /api/orders/{id}/cancel
func CancelOrderHandler(log *slog.Logger, orderService service.OrderService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.CancelOrderHandler"
		logger := log.With(slog.String("op", op))

		userID, ok := jwtmiddleware.FromContext(r.Context())
		if !ok {
			logger.Error("userID not found in context")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		orderID := chi.URLParam(r, "id")
		if orderID == "" {
			http.Error(w, "id parameter is required", http.StatusBadRequest)
			return
		}

		if err := orderService.Cancel(r.Context(), orderID, userID); err != nil {
			logger.Warn("failed to cancel order", slog.Any("error", err))
			writeBusinessError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"message": "order cancelled"})
	}
}

// AdvanceStatusHandler обрабатывает POST /api/admin/orders/{id}/status
func AdvanceStatusHandler(log *slog.Logger, orderService service.OrderService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.AdvanceStatusHandler"
		logger := log.With(slog.String("op", op))

		orderID := chi.URLParam(r, "id")
		if orderID == "" {
			http.Error(w, "id parameter is required", http.StatusBadRequest)
			return
		}

		var req AdvanceStatusRequest
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

		if err := orderService.AdvanceStatus(r.Context(), orderID, models.OrderStatus(req.Status)); err != nil {
			logger.Warn("failed to advance status", slog.Any("error", err))
			writeBusinessError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"message": "status updated"})
	}
}

// DeleteOrderHandler обрабатывает DELETE /api/admin/orders/{id}
func DeleteOrderHandler(log *slog.Logger, orderService service.OrderService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.DeleteOrderHandler"
		logger := log.With(slog.String("op", op))

		orderID := chi.URLParam(r, "id")
		if orderID == "" {
			http.Error(w, "id parameter is required", http.StatusBadRequest)
			return
		}

		if err := orderService.Delete(r.Context(), orderID); err != nil {
			logger.Warn("failed to delete order", slog.Any("error", err))
			writeBusinessError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"message": "order deleted, stock restored"})
	}
}

// snapshotLines превращает позиции запроса в снимки с актуальными ценами каталога.
func snapshotLines(r *http.Request, catalogService service.CatalogService, items []OrderLineRequest) ([]models.OrderLineItem, error) {
	products, err := catalogService.Products(r.Context(), "")
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]*models.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	lines := make([]models.OrderLineItem, 0, len(items))
	for _, item := range items {
		product, ok := byID[item.ProductID]
		if !ok {
			return nil, storage.ErrProductNotFound
		}
		lines = append(lines, models.OrderLineItem{
			ProductID: product.ID,
			Name:      product.Name,
			Price:     product.Price,
			Quantity:  item.Quantity,
		})
	}
	return lines, nil
}
