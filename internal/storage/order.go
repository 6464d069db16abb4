package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/linemk/ibr-resto/internal/domain/models"
)

var ErrOrderNotFound = errors.New("order not found")

// ErrDuplicateRequest — запись с таким ключом идемпотентности уже существует.
var ErrDuplicateRequest = errors.New("duplicate request")

// OrderStorage описывает методы для работы с заказами.
// Создание, смена статуса и удаление всегда идут внутри транзакции,
// в которой вызывающий код параллельно двигает остатки.
type OrderStorage interface {
	CreateOrderTx(ctx context.Context, tx *sql.Tx, order *models.Order) error
	// LockOrderTx читает заказ (без позиций) с блокировкой строки.
	LockOrderTx(ctx context.Context, tx *sql.Tx, id string) (*models.Order, error)
	UpdateStatusTx(ctx context.Context, tx *sql.Tx, id string, status models.OrderStatus) error
	DeleteOrderTx(ctx context.Context, tx *sql.Tx, id string) error
	ItemsTx(ctx context.Context, tx *sql.Tx, orderID string) ([]models.OrderLineItem, error)
	GetOrdersByUserID(ctx context.Context, userID int64) ([]*models.Order, error)
	// GetOrderByKey ищет заказ пользователя по ключу идемпотентности.
	GetOrderByKey(ctx context.Context, userID int64, key string) (*models.Order, error)
}

type orderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) OrderStorage {
	return &orderRepository{db: db}
}

func (r *orderRepository) CreateOrderTx(ctx context.Context, tx *sql.Tx, order *models.Order) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO orders (id, user_id, user_name, status, created_at, cancellable_until, idempotency_key)
		 VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''))`,
		order.ID, order.UserID, order.UserName, order.Status, order.CreatedAt, order.CancellableUntil, order.IdempotencyKey)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" { // unique_violation
			return fmt.Errorf("%w: %v", ErrDuplicateRequest, err)
		}
		return fmt.Errorf("failed to create order: %w", err)
	}
	for _, item := range order.Items {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO order_items (order_id, product_id, name, price, quantity)
			 VALUES ($1, $2, $3, $4, $5)`,
			order.ID, item.ProductID, item.Name, item.Price, item.Quantity)
		if err != nil {
			return fmt.Errorf("failed to create order item: %w", err)
		}
	}
	return nil
}

func (r *orderRepository) LockOrderTx(ctx context.Context, tx *sql.Tx, id string) (*models.Order, error) {
	order := &models.Order{}
	row := tx.QueryRowContext(ctx,
		`SELECT id, user_id, user_name, status, created_at, cancellable_until
		 FROM orders WHERE id = $1 FOR UPDATE NOWAIT`, id)
	if err := row.Scan(&order.ID, &order.UserID, &order.UserName, &order.Status, &order.CreatedAt, &order.CancellableUntil); err != nil {
		if pqErr, ok := err.(*pq.Error); ok {
			if pqErr.Code == "55P03" { // lock_not_available
				return nil, fmt.Errorf("%w: %v", ErrRowLocked, err)
			}
		}
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return order, nil
}

func (r *orderRepository) UpdateStatusTx(ctx context.Context, tx *sql.Tx, id string, status models.OrderStatus) error {
	res, err := tx.ExecContext(ctx, "UPDATE orders SET status = $1 WHERE id = $2", status, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// DeleteOrderTx удаляет заказ вместе с позициями (возврат остатков — забота вызывающего).
func (r *orderRepository) DeleteOrderTx(ctx context.Context, tx *sql.Tx, id string) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM order_items WHERE order_id = $1", id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM orders WHERE id = $1", id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (r *orderRepository) ItemsTx(ctx context.Context, tx *sql.Tx, orderID string) ([]models.OrderLineItem, error) {
	rows, err := tx.QueryContext(ctx,
		"SELECT product_id, name, price, quantity FROM order_items WHERE order_id = $1", orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.OrderLineItem
	for rows.Next() {
		var item models.OrderLineItem
		if err := rows.Scan(&item.ProductID, &item.Name, &item.Price, &item.Quantity); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// GetOrdersByUserID возвращает историю заказов пользователя вместе с позициями.
func (r *orderRepository) GetOrdersByUserID(ctx context.Context, userID int64) ([]*models.Order, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, user_name, status, created_at, cancellable_until
		 FROM orders WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		order := &models.Order{}
		if err := rows.Scan(&order.ID, &order.UserID, &order.UserName, &order.Status, &order.CreatedAt, &order.CancellableUntil); err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, order := range orders {
		itemRows, err := r.db.QueryContext(ctx,
			"SELECT product_id, name, price, quantity FROM order_items WHERE order_id = $1", order.ID)
		if err != nil {
			return nil, err
		}
		for itemRows.Next() {
			var item models.OrderLineItem
			if err := itemRows.Scan(&item.ProductID, &item.Name, &item.Price, &item.Quantity); err != nil {
				itemRows.Close()
				return nil, err
			}
			order.Items = append(order.Items, item)
		}
		if err := itemRows.Err(); err != nil {
			itemRows.Close()
			return nil, err
		}
		itemRows.Close()
	}
	return orders, nil
}

// GetOrderByKey возвращает уже созданный заказ для повторно пришедшего запроса.
func (r *orderRepository) GetOrderByKey(ctx context.Context, userID int64, key string) (*models.Order, error) {
	order := &models.Order{}
	row := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, user_name, status, created_at, cancellable_until
		 FROM orders WHERE user_id = $1 AND idempotency_key = $2`, userID, key)
	if err := row.Scan(&order.ID, &order.UserID, &order.UserName, &order.Status, &order.CreatedAt, &order.CancellableUntil); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}

	itemRows, err := r.db.QueryContext(ctx,
		"SELECT product_id, name, price, quantity FROM order_items WHERE order_id = $1", order.ID)
	if err != nil {
		return nil, err
	}
	defer itemRows.Close()
	for itemRows.Next() {
		var item models.OrderLineItem
		if err := itemRows.Scan(&item.ProductID, &item.Name, &item.Price, &item.Quantity); err != nil {
			return nil, err
		}
		order.Items = append(order.Items, item)
	}
	if err := itemRows.Err(); err != nil {
		return nil, err
	}
	return order, nil
}
