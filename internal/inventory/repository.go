package inventory

import (
	"context"
	"database/sql"
	"errors"

	"github.com/joao-fontenele/orderflow-ledger/internal/domain"
)

const productColumns = `id, title, price, stock, reserved_count, is_active, low_stock_threshold, updated_at`

type ProductRepository struct {
	db *sql.DB
}

func NewProductRepository(db *sql.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

func (r *ProductRepository) List(ctx context.Context) ([]domain.Product, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+productColumns+` FROM products ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var products []domain.Product
	for rows.Next() {
		var p domain.Product
		if err := scanProduct(rows, &p); err != nil {
			return nil, err
		}
		products = append(products, p)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return products, nil
}

func (r *ProductRepository) Get(ctx context.Context, id string) (*domain.Product, error) {
	return r.queryOne(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
}

// IncrementReserved adds quantity to reserved_count in a single statement so
// concurrent reservations never lose an update.
func (r *ProductRepository) IncrementReserved(ctx context.Context, id string, quantity int) (*domain.Product, error) {
	return r.queryOne(ctx, `
		UPDATE products
		SET reserved_count = reserved_count + $2, updated_at = NOW()
		WHERE id = $1
		RETURNING `+productColumns, id, quantity)
}

// ReleaseReserved subtracts quantity from reserved_count, never going below
// zero, so repeated releases are harmless.
func (r *ProductRepository) ReleaseReserved(ctx context.Context, id string, quantity int) (*domain.Product, error) {
	return r.queryOne(ctx, `
		UPDATE products
		SET reserved_count = GREATEST(reserved_count - $2, 0), updated_at = NOW()
		WHERE id = $1
		RETURNING `+productColumns, id, quantity)
}

func (r *ProductRepository) SetStock(ctx context.Context, id string, stock int) (*domain.Product, error) {
	return r.queryOne(ctx, `
		UPDATE products
		SET stock = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING `+productColumns, id, stock)
}

func (r *ProductRepository) queryOne(ctx context.Context, query string, args ...any) (*domain.Product, error) {
	var p domain.Product
	if err := scanProduct(r.db.QueryRowContext(ctx, query, args...), &p); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner, p *domain.Product) error {
	return row.Scan(&p.ID, &p.Title, &p.Price, &p.Stock, &p.ReservedCount, &p.IsActive, &p.LowStockThreshold, &p.UpdatedAt)
}
