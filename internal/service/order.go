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

// CancellationWindow — окно, в течение которого клиент может отменить заказ.
const CancellationWindow = 5 * time.Minute

// OrderService реализует жизненный цикл заказа.
// Каждая операция — одна транзакция: движение остатков, запись заказа
// и уведомления коммитятся или откатываются вместе.
type OrderService interface {
	// PlaceOrder создаёт заказ. Непустой idemKey делает повтор запроса
	// безопасным: уже созданный заказ возвращается без нового списания.
	PlaceOrder(ctx context.Context, userID int64, userName string, lines []models.OrderLineItem, idemKey string) (*models.Order, error)
	AdvanceStatus(ctx context.Context, orderID string, next models.OrderStatus) error
	Cancel(ctx context.Context, orderID string, userID int64) error
	// Delete — привилегированное удаление заказа сотрудником с возвратом
	// остатков. Окно отмены не проверяется, запись заказа удаляется целиком.
	Delete(ctx context.Context, orderID string) error
	OrdersByUser(ctx context.Context, userID int64) ([]*models.Order, error)
}

type orderService struct {
	log       *slog.Logger
	db        *sql.DB
	now       func() time.Time
	stock     StockService
	userRepo  storage.UserStorage
	orderRepo storage.OrderStorage
	notifRepo storage.NotificationStorage
	publisher events.Publisher
}

func NewOrderService(
	log *slog.Logger,
	db *sql.DB,
	stock StockService,
	userRepo storage.UserStorage,
	orderRepo storage.OrderStorage,
	notifRepo storage.NotificationStorage,
	publisher events.Publisher,
) OrderService {
	return &orderService{
		log:       log,
		db:        db,
		now:       time.Now,
		stock:     stock,
		userRepo:  userRepo,
		orderRepo: orderRepo,
		notifRepo: notifRepo,
		publisher: publisher,
	}
}

// PlaceOrder создаёт заказ: списывает остатки по каждой позиции, пишет заказ
// со статусом pending и дедлайном отмены, кладёт уведомление каждому сотруднику.
// При нехватке остатков не создаётся ничего.
func (s *orderService) PlaceOrder(ctx context.Context, userID int64, userName string, lines []models.OrderLineItem, idemKey string) (*models.Order, error) {
	const op = "service.OrderService.PlaceOrder"
	logger := s.log.With(slog.String("op", op), slog.Int64("userID", userID))
	logger.Info("starting place order transaction", slog.Int("lines", len(lines)))

	if len(lines) == 0 {
		return nil, fmt.Errorf("%s: cart is empty", op)
	}
	for _, line := range lines {
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%s: quantity must be positive for product %d", op, line.ProductID)
		}
	}

	// Повтор запроса с тем же ключом возвращает уже созданный заказ
	if idemKey != "" {
		existing, err := s.orderRepo.GetOrderByKey(ctx, userID, idemKey)
		if err == nil {
			logger.Info("duplicate request, returning existing order", slog.String("orderID", existing.ID))
			return existing, nil
		}
		if !errors.Is(err, storage.ErrOrderNotFound) {
			logger.Error("failed to check idempotency key", slog.Any("error", err))
			return nil, fmt.Errorf("%s: failed to check idempotency key: %w", op, err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		logger.Error("failed to begin transaction", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to begin transaction: %w", op, err)
	}

	// Списываем остатки одним набором: либо хватает всего, либо ничего не трогаем
	deltas := make([]StockDelta, 0, len(lines))
	for _, line := range lines {
		deltas = append(deltas, StockDelta{ProductID: line.ProductID, Delta: -line.Quantity})
	}
	if err := s.stock.ApplyDeltas(ctx, tx, deltas); err != nil {
		s.rollback(logger, tx)
		logger.Warn("stock debit failed", slog.Any("error", err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	now := s.now()
	order := &models.Order{
		ID:               uuid.NewString(),
		UserID:           userID,
		UserName:         userName,
		Items:            lines,
		Status:           models.StatusPending,
		CreatedAt:        now,
		CancellableUntil: now.Add(CancellationWindow),
		IdempotencyKey:   idemKey,
	}
	if err := s.orderRepo.CreateOrderTx(ctx, tx, order); err != nil {
		s.rollback(logger, tx)
		// Гонка двух повторов: проигравший отдаёт заказ победителя.
		if idemKey != "" && errors.Is(err, storage.ErrDuplicateRequest) {
			return s.orderRepo.GetOrderByKey(ctx, userID, idemKey)
		}
		logger.Error("failed to create order", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to create order: %w", op, err)
	}

	// Уведомление каждому сотруднику о новом заказе
	adminIDs, err := s.userRepo.AdminIDsTx(ctx, tx)
	if err != nil {
		s.rollback(logger, tx)
		logger.Error("failed to list admins", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to list admins: %w", op, err)
	}
	body := fmt.Sprintf("Pesanan baru dari %s telah diterima.", userName)
	for _, adminID := range adminIDs {
		if err := s.notify(ctx, tx, adminID, body, models.NotificationNewOrder, now); err != nil {
			s.rollback(logger, tx)
			logger.Error("failed to create notification", slog.Any("error", err))
			return nil, fmt.Errorf("%s: failed to create notification: %w", op, err)
		}
	}

	if err := tx.Commit(); err != nil {
		logger.Error("failed to commit transaction", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to commit transaction: %w", op, err)
	}

	s.publisher.Publish(ctx, events.OrderPlaced, order)
	logger.Info("order placed", slog.String("orderID", order.ID))
	return order, nil
}

// AdvanceStatus двигает заказ по цепочке pending -> processing -> completed.
// Остатки не трогает, пишет одно уведомление владельцу заказа.
func (s *orderService) AdvanceStatus(ctx context.Context, orderID string, next models.OrderStatus) error {
	const op = "service.OrderService.AdvanceStatus"
	logger := s.log.With(slog.String("op", op), slog.String("orderID", orderID), slog.String("next", string(next)))
	logger.Info("starting status transition")

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		logger.Error("failed to begin transaction", slog.Any("error", err))
		return fmt.Errorf("%s: failed to begin transaction: %w", op, err)
	}

	// Блокировка строки заказа сериализует конкурирующие переходы:
	// проигравший перечитывает уже изменённый статус и получает ErrInvalidState.
	order, err := s.orderRepo.LockOrderTx(ctx, tx, orderID)
	if err != nil {
		s.rollback(logger, tx)
		logger.Error("failed to lock order", slog.Any("error", err))
		return fmt.Errorf("%s: failed to lock order: %w", op, err)
	}

	if !models.CanTransition(order.Status, next) {
		s.rollback(logger, tx)
		logger.Warn("illegal transition", slog.String("current", string(order.Status)))
		return fmt.Errorf("%s: %w", op, &ErrInvalidState{OrderID: orderID, Current: order.Status, Attempted: next})
	}

	if err := s.orderRepo.UpdateStatusTx(ctx, tx, orderID, next); err != nil {
		s.rollback(logger, tx)
		logger.Error("failed to update status", slog.Any("error", err))
		return fmt.Errorf("%s: failed to update status: %w", op, err)
	}

	body := fmt.Sprintf("Pesanan anda telah %s", next)
	if err := s.notify(ctx, tx, order.UserID, body, models.NotificationStatusUpdate, s.now()); err != nil {
		s.rollback(logger, tx)
		logger.Error("failed to create notification", slog.Any("error", err))
		return fmt.Errorf("%s: failed to create notification: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		logger.Error("failed to commit transaction", slog.Any("error", err))
		return fmt.Errorf("%s: failed to commit transaction: %w", op, err)
	}

	s.publisher.Publish(ctx, events.OrderStatusChanged, map[string]any{"order_id": orderID, "status": next})
	logger.Info("status updated")
	return nil
}

// Cancel отменяет заказ по инициативе клиента: только из pending и только
// до истечения окна отмены. Возвращает остатки по всем позициям.
func (s *orderService) Cancel(ctx context.Context, orderID string, userID int64) error {
	const op = "service.OrderService.Cancel"
	logger := s.log.With(slog.String("op", op), slog.String("orderID", orderID), slog.Int64("userID", userID))
	logger.Info("starting cancel transaction")

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		logger.Error("failed to begin transaction", slog.Any("error", err))
		return fmt.Errorf("%s: failed to begin transaction: %w", op, err)
	}

	order, err := s.orderRepo.LockOrderTx(ctx, tx, orderID)
	if err != nil {
		s.rollback(logger, tx)
		logger.Error("failed to lock order", slog.Any("error", err))
		return fmt.Errorf("%s: failed to lock order: %w", op, err)
	}

	if order.UserID != userID {
		s.rollback(logger, tx)
		logger.Warn("cancel attempt by non-owner")
		return fmt.Errorf("%s: %w", op, storage.ErrOrderNotFound)
	}
	if order.Status != models.StatusPending {
		s.rollback(logger, tx)
		logger.Warn("cancel from non-pending state", slog.String("current", string(order.Status)))
		return fmt.Errorf("%s: %w", op, &ErrInvalidState{OrderID: orderID, Current: order.Status, Attempted: models.StatusCancelled})
	}
	if now := s.now(); !now.Before(order.CancellableUntil) {
		s.rollback(logger, tx)
		logger.Warn("cancellation window expired", slog.Time("deadline", order.CancellableUntil))
		return fmt.Errorf("%s: %w", op, &ErrCancellationExpired{OrderID: orderID, Deadline: order.CancellableUntil})
	}

	if err := s.restoreStock(ctx, tx, orderID); err != nil {
		s.rollback(logger, tx)
		logger.Error("failed to restore stock", slog.Any("error", err))
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := s.orderRepo.UpdateStatusTx(ctx, tx, orderID, models.StatusCancelled); err != nil {
		s.rollback(logger, tx)
		logger.Error("failed to update status", slog.Any("error", err))
		return fmt.Errorf("%s: failed to update status: %w", op, err)
	}

	// Сотрудники должны узнать об отмене
	adminIDs, err := s.userRepo.AdminIDsTx(ctx, tx)
	if err != nil {
		s.rollback(logger, tx)
		logger.Error("failed to list admins", slog.Any("error", err))
		return fmt.Errorf("%s: failed to list admins: %w", op, err)
	}
	body := fmt.Sprintf("Pesanan dari %s telah dibatalkan.", order.UserName)
	now := s.now()
	for _, adminID := range adminIDs {
		if err := s.notify(ctx, tx, adminID, body, models.NotificationCancelled, now); err != nil {
			s.rollback(logger, tx)
			logger.Error("failed to create notification", slog.Any("error", err))
			return fmt.Errorf("%s: failed to create notification: %w", op, err)
		}
	}

	if err := tx.Commit(); err != nil {
		logger.Error("failed to commit transaction", slog.Any("error", err))
		return fmt.Errorf("%s: failed to commit transaction: %w", op, err)
	}

	s.publisher.Publish(ctx, events.OrderCancelled, map[string]any{"order_id": orderID})
	logger.Info("order cancelled")
	return nil
}

func (s *orderService) Delete(ctx context.Context, orderID string) error {
	const op = "service.OrderService.Delete"
	logger := s.log.With(slog.String("op", op), slog.String("orderID", orderID))
	logger.Info("starting delete transaction")

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		logger.Error("failed to begin transaction", slog.Any("error", err))
		return fmt.Errorf("%s: failed to begin transaction: %w", op, err)
	}

	order, err := s.orderRepo.LockOrderTx(ctx, tx, orderID)
	if err != nil {
		s.rollback(logger, tx)
		logger.Error("failed to lock order", slog.Any("error", err))
		return fmt.Errorf("%s: failed to lock order: %w", op, err)
	}

	// Из терминальных статусов не удаляем: completed — история продаж,
	// cancelled уже вернул остатки, повторный возврат задвоил бы их.
	if order.Status.Terminal() {
		s.rollback(logger, tx)
		logger.Warn("delete from terminal state", slog.String("current", string(order.Status)))
		return fmt.Errorf("%s: %w", op, &ErrInvalidState{OrderID: orderID, Current: order.Status, Attempted: "deleted"})
	}

	if err := s.restoreStock(ctx, tx, orderID); err != nil {
		s.rollback(logger, tx)
		logger.Error("failed to restore stock", slog.Any("error", err))
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := s.orderRepo.DeleteOrderTx(ctx, tx, orderID); err != nil {
		s.rollback(logger, tx)
		logger.Error("failed to delete order", slog.Any("error", err))
		return fmt.Errorf("%s: failed to delete order: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		logger.Error("failed to commit transaction", slog.Any("error", err))
		return fmt.Errorf("%s: failed to commit transaction: %w", op, err)
	}

	s.publisher.Publish(ctx, events.OrderDeleted, map[string]any{"order_id": orderID})
	logger.Info("order deleted with stock reversal")
	return nil
}

func (s *orderService) OrdersByUser(ctx context.Context, userID int64) ([]*models.Order, error) {
	const op = "service.OrderService.OrdersByUser"

	orders, err := s.orderRepo.GetOrdersByUserID(ctx, userID)
	if err != nil {
		s.log.Error("failed to get orders", slog.String("op", op), slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to get orders: %w", op, err)
	}
	return orders, nil
}

// restoreStock возвращает остатки по всем позициям заказа (кредитовые дельты).
func (s *orderService) restoreStock(ctx context.Context, tx *sql.Tx, orderID string) error {
	items, err := s.orderRepo.ItemsTx(ctx, tx, orderID)
	if err != nil {
		return fmt.Errorf("failed to load order items: %w", err)
	}
	deltas := make([]StockDelta, 0, len(items))
	for _, item := range items {
		deltas = append(deltas, StockDelta{ProductID: item.ProductID, Delta: item.Quantity})
	}
	return s.stock.ApplyDeltas(ctx, tx, deltas)
}

func (s *orderService) notify(ctx context.Context, tx *sql.Tx, recipientID int64, body, typ string, now time.Time) error {
	return s.notifRepo.CreateNotificationTx(ctx, tx, &models.Notification{
		ID:              uuid.NewString(),
		RecipientUserID: recipientID,
		Title:           models.NotificationTitle,
		Body:            body,
		Type:            typ,
		IsRead:          false,
		CreatedAt:       now,
	})
}

func (s *orderService) rollback(logger *slog.Logger, tx *sql.Tx) {
	if rbErr := tx.Rollback(); rbErr != nil {
		logger.Error("transaction rollback failed", slog.Any("error", rbErr))
	}
}
