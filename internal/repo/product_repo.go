package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/annavaram/storefront/internal/model"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// ProductRepo defines the interface for catalog reads
type ProductRepo interface {
	Create(ctx context.Context, p *model.Product) error
	GetByID(ctx context.Context, id uuid.UUID) (model.Product, error)
	GetBySlug(ctx context.Context, slug string) (model.Product, error)
	ListActive(ctx context.Context, limit, offset int) ([]model.Product, error)
}

type productRepo struct {
	db *sql.DB
}

// NewProductRepo creates a new ProductRepo instance
func NewProductRepo(db *sql.DB) ProductRepo {
	return &productRepo{db: db}
}

const productColumns = `id, name, slug, description, price, stock, category, images, is_active, created_at, updated_at`

func scanProduct(row rowScanner) (model.Product, error) {
	var p model.Product
	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Slug,
		&p.Description,
		&p.Price,
		&p.Stock,
		&p.Category,
		pq.Array(&p.Images),
		&p.IsActive,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Product{}, fmt.Errorf("product: %w", ErrNotFound)
		}
		return model.Product{}, fmt.Errorf("scan product: %w", err)
	}
	return p, nil
}

func (r *productRepo) Create(ctx context.Context, p *model.Product) error {
	if p.Images == nil {
		p.Images = []string{}
	}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO products (name, slug, description, price, stock, category, images, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`, p.Name, p.Slug, p.Description, p.Price, p.Stock, p.Category, pq.Array(p.Images), p.IsActive,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert product: %w", ErrConflict)
		}
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

func (r *productRepo) GetByID(ctx context.Context, id uuid.UUID) (model.Product, error) {
	return scanProduct(r.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
}

func (r *productRepo) GetBySlug(ctx context.Context, slug string) (model.Product, error) {
	return scanProduct(r.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE slug = $1`, slug))
}

func (r *productRepo) ListActive(ctx context.Context, limit, offset int) ([]model.Product, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+productColumns+` FROM products
		WHERE is_active
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	products := make([]model.Product, 0)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}
