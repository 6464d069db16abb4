package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/linemk/ibr-resto/internal/domain/models"
	"github.com/linemk/ibr-resto/internal/service"
)

type ProductRequest struct {
	Name        string `json:"name" validate:"required"`
	Description string `json:"description"`
	Price       int    `json:"price" validate:"gte=0"`
	ImageURL    string `json:"image_url"`
	Quantity    int    `json:"quantity" validate:"gte=0"`
	Category    string `json:"category" validate:"required,oneof=food drink addon"`
}

type RestockRequest struct {
	Quantity int `json:"quantity" validate:"required,gt=0"`
}

// ListProductsHandler обрабатывает GET /api/products?category=
func ListProductsHandler(log *slog.Logger, catalogService service.CatalogService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.ListProductsHandler"
		logger := log.With(slog.String("op", op))

		category := models.Category(r.URL.Query().Get("category"))
		if category != "" && !category.Valid() {
			http.Error(w, "unknown category", http.StatusBadRequest)
			return
		}

		products, err := catalogService.Products(r.Context(), category)
		if err != nil {
			logger.Error("failed to list products", slog.Any("error", err))
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, products)
	}
}

// CreateProductHandler обрабатывает POST /api/admin/products
func CreateProductHandler(log *slog.Logger, catalogService service.CatalogService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.CreateProductHandler"
		logger := log.With(slog.String("op", op))

		var req ProductRequest
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

		product, err := catalogService.CreateProduct(r.Context(), &models.Product{
			Name:        req.Name,
			Description: req.Description,
			Price:       req.Price,
			ImageURL:    req.ImageURL,
			Quantity:    req.Quantity,
			Category:    models.Category(req.Category),
		})
		if err != nil {
			logger.Error("failed to create product", slog.Any("error", err))
			writeBusinessError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, product)
	}
}

// UpdateProductHandler обрабатывает PUT /api/admin/products/{id}.
// Остаток через этот эндпоинт не меняется — для этого есть restock.
func UpdateProductHandler(log *slog.Logger, catalogService service.CatalogService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.UpdateProductHandler"
		logger := log.With(slog.String("op", op))

		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			http.Error(w, "invalid product id", http.StatusBadRequest)
			return
		}

		var req ProductRequest
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

		err = catalogService.UpdateProduct(r.Context(), &models.Product{
			ID:          id,
			Name:        req.Name,
			Description: req.Description,
			Price:       req.Price,
			ImageURL:    req.ImageURL,
			Category:    models.Category(req.Category),
		})
		if err != nil {
			logger.Error("failed to update product", slog.Any("error", err))
			writeBusinessError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"message": "product updated"})
	}
}

// RestockHandler обрабатывает POST /api/admin/products/{id}/restock
func RestockHandler(log *slog.Logger, catalogService service.CatalogService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.RestockHandler"
		logger := log.With(slog.String("op", op))

		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			http.Error(w, "invalid product id", http.StatusBadRequest)
			return
		}

		var req RestockRequest
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

		if err := catalogService.Restock(r.Context(), id, req.Quantity); err != nil {
			logger.Error("failed to restock", slog.Any("error", err))
			writeBusinessError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"message": "stock updated"})
	}
}
