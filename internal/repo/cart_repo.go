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

// CartRepo defines the interface for cart repository operations
type CartRepo interface {
	GetOrCreateActive(ctx context.Context, userID uuid.UUID) (model.Cart, error)
	FindActive(ctx context.Context, userID uuid.UUID) (model.Cart, error)
	ListLines(ctx context.Context, cartID uuid.UUID) ([]model.CartLine, error)
	GetItem(ctx context.Context, cartID, itemID uuid.UUID) (model.CartItem, error)
	AddItem(ctx context.Context, cartID, productID uuid.UUID, qty int, unitPrice int64) (model.CartItem, error)
	SetItemQuantity(ctx context.Context, cartID, itemID uuid.UUID, qty int) (model.CartItem, error)
	DeleteItem(ctx context.Context, cartID, itemID uuid.UUID) error
	Convert(ctx context.Context, cartID uuid.UUID) error
}

type cartRepo struct {
	db *sql.DB
}

// NewCartRepo creates a new CartRepo instance
func NewCartRepo(db *sql.DB) CartRepo {
	return &cartRepo{db: db}
}

const cartItemColumns = `id, cart_id, product_id, quantity, price_at_addition, created_at, updated_at`

func scanCart(row rowScanner) (model.Cart, error) {
	var c model.Cart
	if err := row.Scan(&c.ID, &c.UserID, &c.Status, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Cart{}, fmt.Errorf("cart: %w", ErrNotFound)
		}
		return model.Cart{}, fmt.Errorf("scan cart: %w", err)
	}
	return c, nil
}

func scanCartItem(row rowScanner) (model.CartItem, error) {
	var it model.CartItem
	err := row.Scan(&it.ID, &it.CartID, &it.ProductID, &it.Quantity, &it.PriceAtAddition, &it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.CartItem{}, fmt.Errorf("cart item: %w", ErrNotFound)
		}
		return model.CartItem{}, fmt.Errorf("scan cart item: %w", err)
	}
	return it, nil
}

// GetOrCreateActive returns the user's active cart, creating it when absent.
// The partial unique index on (user_id) WHERE status='active' makes this race-safe.
func (r *cartRepo) GetOrCreateActive(ctx context.Context, userID uuid.UUID) (model.Cart, error) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO carts (user_id, status) VALUES ($1, 'active')
		ON CONFLICT (user_id) WHERE status = 'active' DO NOTHING
	`, userID)
	if err != nil {
		return model.Cart{}, fmt.Errorf("insert cart: %w", err)
	}
	return r.FindActive(ctx, userID)
}

func (r *cartRepo) FindActive(ctx context.Context, userID uuid.UUID) (model.Cart, error) {
	return scanCart(r.db.QueryRowContext(ctx, `
		SELECT id, user_id, status, created_at, updated_at FROM carts WHERE user_id = $1 AND status = 'active'
	`, userID))
}

// ListLines returns the cart items joined with their live product rows, oldest first
func (r *cartRepo) ListLines(ctx context.Context, cartID uuid.UUID) ([]model.CartLine, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT ci.id, ci.cart_id, ci.product_id, ci.quantity, ci.price_at_addition, ci.created_at, ci.updated_at,
		       p.id, p.name, p.slug, p.description, p.price, p.stock, p.category, p.images, p.is_active, p.created_at, p.updated_at
		FROM cart_items ci
		JOIN products p ON p.id = ci.product_id
		WHERE ci.cart_id = $1
		ORDER BY ci.created_at, ci.id
	`, cartID)
	if err != nil {
		return nil, fmt.Errorf("list cart lines: %w", err)
	}
	defer rows.Close()

	lines := make([]model.CartLine, 0)
	for rows.Next() {
		var l model.CartLine
		err := rows.Scan(
			&l.Item.ID, &l.Item.CartID, &l.Item.ProductID, &l.Item.Quantity, &l.Item.PriceAtAddition,
			&l.Item.CreatedAt, &l.Item.UpdatedAt,
			&l.Product.ID, &l.Product.Name, &l.Product.Slug, &l.Product.Description, &l.Product.Price,
			&l.Product.Stock, &l.Product.Category, pq.Array(&l.Product.Images), &l.Product.IsActive,
			&l.Product.CreatedAt, &l.Product.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan cart line: %w", err)
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (r *cartRepo) GetItem(ctx context.Context, cartID, itemID uuid.UUID) (model.CartItem, error) {
	return scanCartItem(r.db.QueryRowContext(ctx, `
		SELECT `+cartItemColumns+` FROM cart_items WHERE cart_id = $1 AND id = $2
	`, cartID, itemID))
}

// AddItem inserts a line or increments the quantity of an existing line for the product.
// The price captured on first addition is kept.
func (r *cartRepo) AddItem(ctx context.Context, cartID, productID uuid.UUID, qty int, unitPrice int64) (model.CartItem, error) {
	return scanCartItem(r.db.QueryRowContext(ctx, `
		INSERT INTO cart_items (cart_id, product_id, quantity, price_at_addition)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (cart_id, product_id)
		DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity, updated_at = now()
		RETURNING `+cartItemColumns,
		cartID, productID, qty, unitPrice))
}

func (r *cartRepo) SetItemQuantity(ctx context.Context, cartID, itemID uuid.UUID, qty int) (model.CartItem, error) {
	return scanCartItem(r.db.QueryRowContext(ctx, `
		UPDATE cart_items SET quantity = $3, updated_at = now()
		WHERE cart_id = $1 AND id = $2
		RETURNING `+cartItemColumns,
		cartID, itemID, qty))
}

func (r *cartRepo) DeleteItem(ctx context.Context, cartID, itemID uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM cart_items WHERE cart_id = $1 AND id = $2`, cartID, itemID)
	if err != nil {
		return fmt.Errorf("delete cart item: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("delete cart item: %w", ErrNotFound)
	}
	return nil
}

// Convert empties the cart and marks it converted in one transaction
func (r *cartRepo) Convert(ctx context.Context, cartID uuid.UUID) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cartID); err != nil {
		return fmt.Errorf("clear cart items: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE carts SET status = 'converted', updated_at = now() WHERE id = $1
	`, cartID); err != nil {
		return fmt.Errorf("convert cart: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
