package service

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/linemk/ibr-resto/internal/domain/models"
	"github.com/linemk/ibr-resto/internal/lib/events"
	"github.com/linemk/ibr-resto/internal/storage"
)

// CatalogService — чтение меню и административное управление позициями.
// Описательные поля правятся напрямую, остаток — только через StockService.
type CatalogService interface {
	Products(ctx context.Context, category models.Category) ([]*models.Product, error)
	CreateProduct(ctx context.Context, p *models.Product) (*models.Product, error)
	UpdateProduct(ctx context.Context, p *models.Product) error
	// Restock добавляет qty единиц к остатку (кредитовая дельта через движок).
	Restock(ctx context.Context, productID int64, qty int) error
}

type catalogService struct {
	log         *slog.Logger
	db          *sql.DB
	stock       StockService
	productRepo storage.ProductStorage
	publisher   events.Publisher
}

func NewCatalogService(log *slog.Logger, db *sql.DB, stock StockService, productRepo storage.ProductStorage, publisher events.Publisher) CatalogService {
	return &catalogService{
		log:         log,
		db:          db,
		stock:       stock,
		productRepo: productRepo,
		publisher:   publisher,
	}
}

func (s *catalogService) Products(ctx context.Context, category models.Category) ([]*models.Product, error) {
	const op = "service.CatalogService.Products"

	if category != "" && !category.Valid() {
		return nil, fmt.Errorf("%s: unknown category %q", op, category)
	}
	products, err := s.productRepo.ListProducts(ctx, category)
	if err != nil {
		s.log.Error("failed to list products", slog.String("op", op), slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to list products: %w", op, err)
	}
	return products, nil
}

func (s *catalogService) CreateProduct(ctx context.Context, p *models.Product) (*models.Product, error) {
	const op = "service.CatalogService.CreateProduct"
	logger := s.log.With(slog.String("op", op), slog.String("name", p.Name))

	if !p.Category.Valid() {
		return nil, fmt.Errorf("%s: unknown category %q", op, p.Category)
	}
	if p.Price < 0 || p.Quantity < 0 {
		return nil, fmt.Errorf("%s: price and quantity must be non-negative", op)
	}

	created, err := s.productRepo.CreateProduct(ctx, p)
	if err != nil {
		logger.Error("failed to create product", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to create product: %w", op, err)
	}
	logger.Info("product created", slog.Int64("productID", created.ID))
	return created, nil
}

func (s *catalogService) UpdateProduct(ctx context.Context, p *models.Product) error {
	const op = "service.CatalogService.UpdateProduct"
	logger := s.log.With(slog.String("op", op), slog.Int64("productID", p.ID))

	if !p.Category.Valid() {
		return fmt.Errorf("%s: unknown category %q", op, p.Category)
	}
	if p.Price < 0 {
		return fmt.Errorf("%s: price must be non-negative", op)
	}

	if err := s.productRepo.UpdateProduct(ctx, p); err != nil {
		logger.Error("failed to update product", slog.Any("error", err))
		return fmt.Errorf("%s: failed to update product: %w", op, err)
	}
	logger.Info("product updated")
	return nil
}

// Restock — дозакупка: единственное изменение остатка вне потоков заказа/кассы,
// и оно тоже идёт через движок остатков.
func (s *catalogService) Restock(ctx context.Context, productID int64, qty int) error {
	const op = "service.CatalogService.Restock"
	logger := s.log.With(slog.String("op", op), slog.Int64("productID", productID), slog.Int("qty", qty))
	logger.Info("starting restock transaction")

	if qty <= 0 {
		return fmt.Errorf("%s: qty must be positive", op)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		logger.Error("failed to begin transaction", slog.Any("error", err))
		return fmt.Errorf("%s: failed to begin transaction: %w", op, err)
	}

	if err := s.stock.ApplyDeltas(ctx, tx, []StockDelta{{ProductID: productID, Delta: qty}}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		logger.Error("failed to apply restock delta", slog.Any("error", err))
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		logger.Error("failed to commit transaction", slog.Any("error", err))
		return fmt.Errorf("%s: failed to commit transaction: %w", op, err)
	}

	s.publisher.Publish(ctx, events.ProductRestocked, map[string]any{"product_id": productID, "qty": qty})
	logger.Info("restock completed")
	return nil
}
