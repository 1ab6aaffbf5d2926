// Package tests holds end-to-end tests that run the full HTTP stack against a
// real Postgres. They skip when DATABASE_URL is unset.
package tests

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// TruncateTables empties every application table for a clean test state
func TruncateTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `TRUNCATE TABLE payments, order_items, orders, cart_items, carts, products, sessions, users RESTART IDENTITY CASCADE`)
	if err != nil {
		return fmt.Errorf("truncate tables: %w", err)
	}
	return nil
}

// SeedProduct inserts an active product and returns its id
func SeedProduct(ctx context.Context, db *sql.DB, name, slug string, price int64, stock int) (uuid.UUID, error) {
	var id uuid.UUID
	err := db.QueryRowContext(ctx, `
		INSERT INTO products (name, slug, price, stock, category, images)
		VALUES ($1, $2, $3, $4, 'prasadam', $5)
		RETURNING id`,
		name, slug, price, stock, pq.Array([]string{"/img/" + slug + ".jpg"}),
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("seed product: %w", err)
	}
	return id, nil
}

// ProductStock reads the current stock of a product
func ProductStock(ctx context.Context, db *sql.DB, id uuid.UUID) (int, error) {
	var stock int
	if err := db.QueryRowContext(ctx, `SELECT stock FROM products WHERE id = $1`, id).Scan(&stock); err != nil {
		return 0, fmt.Errorf("read stock: %w", err)
	}
	return stock, nil
}

// PromoteToAdmin sets the admin role on a user
func PromoteToAdmin(ctx context.Context, db *sql.DB, email string) error {
	_, err := db.ExecContext(ctx, `UPDATE users SET role = 'admin' WHERE email = $1`, email)
	return err
}
