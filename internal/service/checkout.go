package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/linemk/ibr-resto/internal/domain/models"
	"github.com/linemk/ibr-resto/internal/lib/events"
	"github.com/linemk/ibr-resto/internal/storage"
)

// TaxRatePercent — фиксированный налог кассы (10%), не настраивается per-чек.
const TaxRatePercent = 10

// CheckoutService — кассовый поток: продажа со списанием остатков,
// сторно продажи с возвратом, отчёт за период.
type CheckoutService interface {
	// Checkout проводит продажу. Непустой idemKey делает повтор запроса
	// безопасным: уже пробитая продажа возвращается без нового списания.
	Checkout(ctx context.Context, cashierID int64, lines []models.OrderLineItem, idemKey string) (*models.Sale, error)
	ReverseSale(ctx context.Context, saleID string) error
	SalesReport(ctx context.Context, from, to time.Time) ([]*models.Sale, int, error)
}

type checkoutService struct {
	log       *slog.Logger
	db        *sql.DB
	now       func() time.Time
	stock     StockService
	saleRepo  storage.SaleStorage
	publisher events.Publisher
}

func NewCheckoutService(
	log *slog.Logger,
	db *sql.DB,
	stock StockService,
	saleRepo storage.SaleStorage,
	publisher events.Publisher,
) CheckoutService {
	return &checkoutService{
		log:       log,
		db:        db,
		now:       time.Now,
		stock:     stock,
		saleRepo:  saleRepo,
		publisher: publisher,
	}
}

// Checkout проводит кассовую продажу: считает итог с налогом, списывает
// остатки и создаёт запись продажи в одной транзакции.
func (s *checkoutService) Checkout(ctx context.Context, cashierID int64, lines []models.OrderLineItem, idemKey string) (*models.Sale, error) {
	const op = "service.CheckoutService.Checkout"
	logger := s.log.With(slog.String("op", op), slog.Int64("cashierID", cashierID))
	logger.Info("starting checkout transaction", slog.Int("lines", len(lines)))

	if len(lines) == 0 {
		return nil, fmt.Errorf("%s: cart is empty", op)
	}

	// Повтор запроса с тем же ключом возвращает уже пробитую продажу
	if idemKey != "" {
		existing, err := s.saleRepo.GetSaleByKey(ctx, cashierID, idemKey)
		if err == nil {
			logger.Info("duplicate request, returning existing sale", slog.String("saleID", existing.ID))
			return existing, nil
		}
		if !errors.Is(err, storage.ErrSaleNotFound) {
			logger.Error("failed to check idempotency key", slog.Any("error", err))
			return nil, fmt.Errorf("%s: failed to check idempotency key: %w", op, err)
		}
	}
	subtotal := 0
	for _, line := range lines {
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%s: quantity must be positive for product %d", op, line.ProductID)
		}
		subtotal += line.Price * line.Quantity
	}
	tax := subtotal * TaxRatePercent / 100
	total := subtotal + tax

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		logger.Error("failed to begin transaction", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to begin transaction: %w", op, err)
	}

	deltas := make([]StockDelta, 0, len(lines))
	for _, line := range lines {
		deltas = append(deltas, StockDelta{ProductID: line.ProductID, Delta: -line.Quantity})
	}
	if err := s.stock.ApplyDeltas(ctx, tx, deltas); err != nil {
		s.rollback(logger, tx)
		logger.Warn("stock debit failed", slog.Any("error", err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	sale := &models.Sale{
		ID:             uuid.NewString(),
		Items:          lines,
		Subtotal:       subtotal,
		Tax:            tax,
		Total:          total,
		CashierID:      cashierID,
		CreatedAt:      s.now(),
		IdempotencyKey: idemKey,
	}
	if err := s.saleRepo.CreateSaleTx(ctx, tx, sale); err != nil {
		s.rollback(logger, tx)
		// Гонка двух повторов: проигравший отдаёт продажу победителя.
		if idemKey != "" && errors.Is(err, storage.ErrDuplicateRequest) {
			return s.saleRepo.GetSaleByKey(ctx, cashierID, idemKey)
		}
		logger.Error("failed to create sale", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to create sale: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		logger.Error("failed to commit transaction", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to commit transaction: %w", op, err)
	}

	s.publisher.Publish(ctx, events.SaleCompleted, sale)
	logger.Info("checkout completed", slog.String("saleID", sale.ID), slog.Int("total", total))
	return sale, nil
}

// ReverseSale сторнирует продажу: возвращает остатки по всем позициям
// и удаляет запись продажи — атомарно, частичных состояний не бывает.
func (s *checkoutService) ReverseSale(ctx context.Context, saleID string) error {
	const op = "service.CheckoutService.ReverseSale"
	logger := s.log.With(slog.String("op", op), slog.String("saleID", saleID))
	logger.Info("starting sale reversal transaction")

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		logger.Error("failed to begin transaction", slog.Any("error", err))
		return fmt.Errorf("%s: failed to begin transaction: %w", op, err)
	}

	sale, err := s.saleRepo.LockSaleTx(ctx, tx, saleID)
	if err != nil {
		s.rollback(logger, tx)
		logger.Error("failed to lock sale", slog.Any("error", err))
		return fmt.Errorf("%s: failed to lock sale: %w", op, err)
	}

	deltas := make([]StockDelta, 0, len(sale.Items))
	for _, item := range sale.Items {
		deltas = append(deltas, StockDelta{ProductID: item.ProductID, Delta: item.Quantity})
	}
	if err := s.stock.ApplyDeltas(ctx, tx, deltas); err != nil {
		s.rollback(logger, tx)
		logger.Error("failed to restore stock", slog.Any("error", err))
		return fmt.Errorf("%s: failed to restore stock: %w", op, err)
	}

	if err := s.saleRepo.DeleteSaleTx(ctx, tx, saleID); err != nil {
		s.rollback(logger, tx)
		logger.Error("failed to delete sale", slog.Any("error", err))
		return fmt.Errorf("%s: failed to delete sale: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		logger.Error("failed to commit transaction", slog.Any("error", err))
		return fmt.Errorf("%s: failed to commit transaction: %w", op, err)
	}

	s.publisher.Publish(ctx, events.SaleReversed, map[string]any{"sale_id": saleID})
	logger.Info("sale reversed")
	return nil
}

// SalesReport возвращает продажи за период и их суммарный оборот.
func (s *checkoutService) SalesReport(ctx context.Context, from, to time.Time) ([]*models.Sale, int, error) {
	const op = "service.CheckoutService.SalesReport"

	sales, err := s.saleRepo.ListSalesByPeriod(ctx, from, to)
	if err != nil {
		s.log.Error("failed to list sales", slog.String("op", op), slog.Any("error", err))
		return nil, 0, fmt.Errorf("%s: failed to list sales: %w", op, err)
	}
	total := 0
	for _, sale := range sales {
		total += sale.Total
	}
	return sales, total, nil
}

func (s *checkoutService) rollback(logger *slog.Logger, tx *sql.Tx) {
	if rbErr := tx.Rollback(); rbErr != nil {
		logger.Error("transaction rollback failed", slog.Any("error", rbErr))
	}
}
