package models

import "time"

// Sale представляет кассовую продажу (точка продаж).
// Создаётся атомарно со списанием остатков, удаляется только с их возвратом.
type Sale struct {
	ID        string          `json:"id"`
	Items     []OrderLineItem `json:"items"`
	Subtotal  int             `json:"subtotal"`
	Tax       int             `json:"tax"`
	Total     int             `json:"total"` // с учётом налога
	CashierID int64           `json:"cashier_id"`
	CreatedAt time.Time       `json:"created_at"`
	// IdempotencyKey защищает от двойного пробития при повторе запроса.
	IdempotencyKey string `json:"-"`
}
