package service

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"

	"github.com/linemk/ibr-resto/internal/storage"
)

// StockDelta — одно изменение остатка: отрицательное при списании
// (заказ, продажа), положительное при возврате (отмена, сторно, дозакупка).
type StockDelta struct {
	ProductID int64
	Delta     int
}

// StockService — единственное место, где меняется products.quantity.
// Все операции уровня выше (заказы, касса, дозакупка) обязаны идти сюда,
// а не писать остаток напрямую.
type StockService interface {
	// ApplyDeltas применяет набор изменений как одно целое внутри tx.
	// Если хотя бы одно списание уводит остаток в минус — возвращается
	// ErrInsufficientStock и ничего не записывается (откат — забота вызывающего).
	ApplyDeltas(ctx context.Context, tx *sql.Tx, deltas []StockDelta) error
}

type stockService struct {
	log         *slog.Logger
	productRepo storage.ProductStorage
}

func NewStockService(log *slog.Logger, productRepo storage.ProductStorage) StockService {
	return &stockService{log: log, productRepo: productRepo}
}

func (s *stockService) ApplyDeltas(ctx context.Context, tx *sql.Tx, deltas []StockDelta) error {
	const op = "service.StockService.ApplyDeltas"
	logger := s.log.With(slog.String("op", op))

	merged := mergeDeltas(deltas)

	for _, d := range merged {
		// Чтение с блокировкой строки: никто не изменит остаток между
		// нашим чтением и записью до конца транзакции.
		product, err := s.productRepo.LockProductTx(ctx, tx, d.ProductID)
		if err != nil {
			logger.Error("failed to lock product", slog.Int64("productID", d.ProductID), slog.Any("error", err))
			return fmt.Errorf("%s: failed to lock product %d: %w", op, d.ProductID, err)
		}

		newQuantity := product.Quantity + d.Delta
		if d.Delta < 0 && newQuantity < 0 {
			logger.Warn("insufficient stock",
				slog.Int64("productID", d.ProductID),
				slog.Int("requested", -d.Delta),
				slog.Int("available", product.Quantity),
			)
			return &ErrInsufficientStock{
				ProductID: d.ProductID,
				Requested: -d.Delta,
				Available: product.Quantity,
			}
		}

		if err := s.productRepo.UpdateQuantityTx(ctx, tx, d.ProductID, newQuantity); err != nil {
			logger.Error("failed to update quantity", slog.Int64("productID", d.ProductID), slog.Any("error", err))
			return fmt.Errorf("%s: failed to update quantity for product %d: %w", op, d.ProductID, err)
		}
	}
	return nil
}

// mergeDeltas складывает дубликаты по продукту и сортирует по id —
// стабильный порядок блокировок исключает взаимные deadlock'и
// между конкурирующими транзакциями.
func mergeDeltas(deltas []StockDelta) []StockDelta {
	byProduct := make(map[int64]int, len(deltas))
	for _, d := range deltas {
		byProduct[d.ProductID] += d.Delta
	}

	merged := make([]StockDelta, 0, len(byProduct))
	for id, delta := range byProduct {
		merged = append(merged, StockDelta{ProductID: id, Delta: delta})
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].ProductID < merged[j].ProductID })
	return merged
}
