package service

import (
	"fmt"
	"time"

	"github.com/linemk/ibr-resto/internal/domain/models"
)

// Бизнес-ошибки ядра. Это ожидаемые исходы, а не аварии: транзакция
// целиком откатывается, вызывающий получает структурированную причину.

// ErrInsufficientStock — списание увело бы остаток продукта в минус.
type ErrInsufficientStock struct {
	ProductID int64
	Requested int
	Available int
}

func (e *ErrInsufficientStock) Error() string {
	return fmt.Sprintf("insufficient stock for product %d: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

// ErrInvalidState — запрошенный переход статуса недопустим из текущего состояния.
type ErrInvalidState struct {
	OrderID   string
	Current   models.OrderStatus
	Attempted models.OrderStatus
}

func (e *ErrInvalidState) Error() string {
	return fmt.Sprintf("invalid state transition for order %s: %s -> %s",
		e.OrderID, e.Current, e.Attempted)
}

// ErrCancellationExpired — окно отмены заказа уже закрылось.
// Отдельный тип, а не ErrInvalidState: UI показывает другое сообщение.
type ErrCancellationExpired struct {
	OrderID  string
	Deadline time.Time
}

func (e *ErrCancellationExpired) Error() string {
	return fmt.Sprintf("cancellation window for order %s expired at %s",
		e.OrderID, e.Deadline.Format(time.RFC3339))
}
