package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/linemk/ibr-resto/internal/domain/models"
)

var ErrSaleNotFound = errors.New("sale not found")

type SaleStorage interface {
	CreateSaleTx(ctx context.Context, tx *sql.Tx, sale *models.Sale) error
	// LockSaleTx читает продажу с позициями под блокировкой строки —
	// чтобы возврат не пересёкся с повторным возвратом той же продажи.
	LockSaleTx(ctx context.Context, tx *sql.Tx, id string) (*models.Sale, error)
	DeleteSaleTx(ctx context.Context, tx *sql.Tx, id string) error
	ListSalesByPeriod(ctx context.Context, from, to time.Time) ([]*models.Sale, error)
	// GetSaleByKey ищет продажу кассира по ключу идемпотентности.
	GetSaleByKey(ctx context.Context, cashierID int64, key string) (*models.Sale, error)
}

type saleRepository struct {
	db *sql.DB
}

func NewSaleRepository(db *sql.DB) SaleStorage {
	return &saleRepository{db: db}
}

func (r *saleRepository) CreateSaleTx(ctx context.Context, tx *sql.Tx, sale *models.Sale) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO sales (id, subtotal, tax, total, cashier_id, created_at, idempotency_key)
		 VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''))`,
		sale.ID, sale.Subtotal, sale.Tax, sale.Total, sale.CashierID, sale.CreatedAt, sale.IdempotencyKey)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" { // unique_violation
			return fmt.Errorf("%w: %v", ErrDuplicateRequest, err)
		}
		return fmt.Errorf("failed to create sale: %w", err)
	}
	for _, item := range sale.Items {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO sale_items (sale_id, product_id, name, price, quantity)
			 VALUES ($1, $2, $3, $4, $5)`,
			sale.ID, item.ProductID, item.Name, item.Price, item.Quantity)
		if err != nil {
			return fmt.Errorf("failed to create sale item: %w", err)
		}
	}
	return nil
}

func (r *saleRepository) LockSaleTx(ctx context.Context, tx *sql.Tx, id string) (*models.Sale, error) {
	sale := &models.Sale{}
	row := tx.QueryRowContext(ctx,
		`SELECT id, subtotal, tax, total, cashier_id, created_at
		 FROM sales WHERE id = $1 FOR UPDATE NOWAIT`, id)
	if err := row.Scan(&sale.ID, &sale.Subtotal, &sale.Tax, &sale.Total, &sale.CashierID, &sale.CreatedAt); err != nil {
		if pqErr, ok := err.(*pq.Error); ok {
			if pqErr.Code == "55P03" { // lock_not_available
				return nil, fmt.Errorf("%w: %v", ErrRowLocked, err)
			}
		}
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSaleNotFound
		}
		return nil, err
	}

	rows, err := tx.QueryContext(ctx,
		"SELECT product_id, name, price, quantity FROM sale_items WHERE sale_id = $1", id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var item models.OrderLineItem
		if err := rows.Scan(&item.ProductID, &item.Name, &item.Price, &item.Quantity); err != nil {
			return nil, err
		}
		sale.Items = append(sale.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sale, nil
}

func (r *saleRepository) DeleteSaleTx(ctx context.Context, tx *sql.Tx, id string) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM sale_items WHERE sale_id = $1", id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM sales WHERE id = $1", id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrSaleNotFound
	}
	return nil
}

// ListSalesByPeriod возвращает продажи за период [from, to] для отчёта кассы.
func (r *saleRepository) ListSalesByPeriod(ctx context.Context, from, to time.Time) ([]*models.Sale, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, subtotal, tax, total, cashier_id, created_at
		 FROM sales WHERE created_at >= $1 AND created_at <= $2 ORDER BY created_at DESC`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sales []*models.Sale
	for rows.Next() {
		sale := &models.Sale{}
		if err := rows.Scan(&sale.ID, &sale.Subtotal, &sale.Tax, &sale.Total, &sale.CashierID, &sale.CreatedAt); err != nil {
			return nil, err
		}
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sales, nil
}

// GetSaleByKey возвращает уже пробитую продажу для повторно пришедшего запроса.
func (r *saleRepository) GetSaleByKey(ctx context.Context, cashierID int64, key string) (*models.Sale, error) {
	sale := &models.Sale{}
	row := r.db.QueryRowContext(ctx,
		`SELECT id, subtotal, tax, total, cashier_id, created_at
		 FROM sales WHERE cashier_id = $1 AND idempotency_key = $2`, cashierID, key)
	if err := row.Scan(&sale.ID, &sale.Subtotal, &sale.Tax, &sale.Total, &sale.CashierID, &sale.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSaleNotFound
		}
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx,
		"SELECT product_id, name, price, quantity FROM sale_items WHERE sale_id = $1", sale.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var item models.OrderLineItem
		if err := rows.Scan(&item.ProductID, &item.Name, &item.Price, &item.Quantity); err != nil {
			return nil, err
		}
		sale.Items = append(sale.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sale, nil
}
