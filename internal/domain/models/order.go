package models

import "time"

// OrderStatus — статус заказа.
type OrderStatus string

const (
	StatusPending    OrderStatus = "pending"
	StatusProcessing OrderStatus = "processing"
	StatusCompleted  OrderStatus = "completed"
	StatusCancelled  OrderStatus = "cancelled"
)

// validNext описывает допустимые переходы статусов.
// Отмена идёт отдельной операцией (с проверкой окна отмены), поэтому
// cancelled здесь отсутствует в списках целей.
var validNext = map[OrderStatus]map[OrderStatus]bool{
	StatusPending:    {StatusProcessing: true},
	StatusProcessing: {StatusCompleted: true},
	StatusCompleted:  {},
	StatusCancelled:  {},
}

// CanTransition сообщает, разрешён ли переход from -> to.
func CanTransition(from, to OrderStatus) bool {
	return validNext[from][to]
}

// Terminal сообщает, является ли статус конечным (заказ больше не меняется).
func (s OrderStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// OrderLineItem — снимок позиции на момент заказа.
// Name и Price намеренно копируются из продукта: исторические заказы
// не должны меняться при изменении цены в меню.
type OrderLineItem struct {
	ProductID int64  `json:"product_id"`
	Name      string `json:"name"`
	Price     int    `json:"price"`
	Quantity  int    `json:"quantity"`
}

// Order представляет заказ клиента.
type Order struct {
	ID               string          `json:"id"`
	UserID           int64           `json:"user_id"`
	UserName         string          `json:"user_name"`
	Items            []OrderLineItem `json:"items"`
	Status           OrderStatus     `json:"status"`
	CreatedAt        time.Time       `json:"created_at"`
	CancellableUntil time.Time       `json:"cancellable_until"`
	// IdempotencyKey защищает от двойной отправки при повторе запроса.
	IdempotencyKey string `json:"-"`
}

// CancellableAt сообщает, можно ли отменить заказ в момент now.
// Ровно на границе дедлайна отмена уже запрещена.
func (o *Order) CancellableAt(now time.Time) bool {
	return o.Status == StatusPending && now.Before(o.CancellableUntil)
}
