package models

import "time"

// Типы уведомлений, записываемых ядром.
const (
	NotificationNewOrder     = "new_order"
	NotificationStatusUpdate = "status_update"
	NotificationCancelled    = "order_cancelled"
)

// NotificationTitle — заголовок всех уведомлений приложения.
const NotificationTitle = "iBR"

// Notification — запись в «почтовом ящике» получателя.
// Создаётся только как побочный эффект операции с заказом/продажей;
// IsRead переводится в true один раз внешним сервисом доставки.
type Notification struct {
	ID              string    `json:"id"`
	RecipientUserID int64     `json:"recipient_user_id"`
	Title           string    `json:"title"`
	Body            string    `json:"body"`
	Type            string    `json:"type"`
	IsRead          bool      `json:"is_read"`
	CreatedAt       time.Time `json:"created_at"`
}
