package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/linemk/ibr-resto/internal/domain/models"
)

var ErrProductNotFound = errors.New("product not found")

// ErrRowLocked возвращается, когда нужная строка заблокирована конкурирующей
// транзакцией (FOR UPDATE NOWAIT). Запрос безопасно повторить.
var ErrRowLocked = errors.New("resource is locked, please try again")

// ProductStorage описывает методы для работы с таблицей продуктов.
// Методы с суффиксом Tx выполняются внутри переданной транзакции.
type ProductStorage interface {
	ListProducts(ctx context.Context, category models.Category) ([]*models.Product, error)
	GetProductByID(ctx context.Context, id int64) (*models.Product, error)
	CreateProduct(ctx context.Context, p *models.Product) (*models.Product, error)
	UpdateProduct(ctx context.Context, p *models.Product) error
	// LockProductTx читает продукт с блокировкой строки (FOR UPDATE NOWAIT).
	LockProductTx(ctx context.Context, tx *sql.Tx, id int64) (*models.Product, error)
	// UpdateQuantityTx выставляет новый остаток. Вызывается только из StockService.
	UpdateQuantityTx(ctx context.Context, tx *sql.Tx, id int64, newQuantity int) error
}

type productRepository struct {
	db *sql.DB
}

func NewProductRepository(db *sql.DB) ProductStorage {
	return &productRepository{db: db}
}

// ListProducts возвращает меню; при пустой категории — всё целиком.
func (r *productRepository) ListProducts(ctx context.Context, category models.Category) ([]*models.Product, error) {
	query := `SELECT id, name, description, price, image_url, quantity, category FROM products`
	args := []any{}
	if category != "" {
		query += ` WHERE category = $1`
		args = append(args, string(category))
	}
	query += ` ORDER BY category, name`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []*models.Product
	for rows.Next() {
		p := &models.Product{}
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.ImageURL, &p.Quantity, &p.Category); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (r *productRepository) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	p := &models.Product{}
	row := r.db.QueryRowContext(ctx,
		"SELECT id, name, description, price, image_url, quantity, category FROM products WHERE id = $1", id)
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.ImageURL, &p.Quantity, &p.Category); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, err
	}
	return p, nil
}

func (r *productRepository) CreateProduct(ctx context.Context, p *models.Product) (*models.Product, error) {
	var id int64
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO products (name, description, price, image_url, quantity, category)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		p.Name, p.Description, p.Price, p.ImageURL, p.Quantity, p.Category,
	).Scan(&id)
	if err != nil {
		return nil, err
	}
	p.ID = id
	return p, nil
}

// UpdateProduct обновляет описательные поля продукта.
// Остаток (quantity) здесь намеренно не трогаем — им владеет StockService.
func (r *productRepository) UpdateProduct(ctx context.Context, p *models.Product) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE products SET name = $1, description = $2, price = $3, image_url = $4, category = $5 WHERE id = $6`,
		p.Name, p.Description, p.Price, p.ImageURL, p.Category, p.ID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrProductNotFound
	}
	return nil
}

func (r *productRepository) LockProductTx(ctx context.Context, tx *sql.Tx, id int64) (*models.Product, error) {
	p := &models.Product{}
	row := tx.QueryRowContext(ctx,
		"SELECT id, name, description, price, image_url, quantity, category FROM products WHERE id = $1 FOR UPDATE NOWAIT", id)
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.ImageURL, &p.Quantity, &p.Category); err != nil {
		if pqErr, ok := err.(*pq.Error); ok {
			if pqErr.Code == "55P03" { // lock_not_available
				return nil, fmt.Errorf("%w: %v", ErrRowLocked, err)
			}
		}
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, err
	}
	return p, nil
}

func (r *productRepository) UpdateQuantityTx(ctx context.Context, tx *sql.Tx, id int64, newQuantity int) error {
	res, err := tx.ExecContext(ctx, "UPDATE products SET quantity = $1 WHERE id = $2", newQuantity, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrProductNotFound
	}
	return nil
}
