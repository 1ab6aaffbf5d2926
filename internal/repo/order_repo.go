package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/annavaram/storefront/internal/model"
	"github.com/google/uuid"
)

// OrderRepo defines the interface for order repository operations
type OrderRepo interface {
	CreateWithItems(ctx context.Context, o *model.Order, items []model.OrderItem) error
	DeleteWithRestock(ctx context.Context, orderID uuid.UUID, items []model.OrderItem) error
	SetPaymentIntent(ctx context.Context, orderID uuid.UUID, intentID string) error
	GetByID(ctx context.Context, id uuid.UUID) (model.Order, error)
	GetForUser(ctx context.Context, id, userID uuid.UUID) (model.Order, error)
	GetByPaymentIntent(ctx context.Context, intentID string) (model.Order, error)
	ListItems(ctx context.Context, orderID uuid.UUID) ([]model.OrderItem, error)
	ListForUser(ctx context.Context, userID uuid.UUID) ([]model.Order, error)
	ListAll(ctx context.Context, limit, offset int) ([]model.Order, error)
	RevertToPending(ctx context.Context, id uuid.UUID) (bool, error)
}

type orderRepo struct {
	db *sql.DB
}

// NewOrderRepo creates a new OrderRepo instance
func NewOrderRepo(db *sql.DB) OrderRepo {
	return &orderRepo{db: db}
}

const orderColumns = `id, user_id, status, total_amount, currency, shipping_address, notes, payment_intent_id, created_at, updated_at`

func scanOrder(row rowScanner) (model.Order, error) {
	var o model.Order
	var address []byte
	var intent sql.NullString
	err := row.Scan(
		&o.ID,
		&o.UserID,
		&o.Status,
		&o.TotalAmount,
		&o.Currency,
		&address,
		&o.Notes,
		&intent,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Order{}, fmt.Errorf("order: %w", ErrNotFound)
		}
		return model.Order{}, fmt.Errorf("scan order: %w", err)
	}
	if err := json.Unmarshal(address, &o.ShippingAddress); err != nil {
		return model.Order{}, fmt.Errorf("decode shipping address: %w", err)
	}
	if intent.Valid {
		o.PaymentIntentID = &intent.String
	}
	return o, nil
}

// CreateWithItems persists the order, its items and the stock reservation in one transaction.
// A product whose stock no longer covers its line aborts everything with a *StockError.
func (r *orderRepo) CreateWithItems(ctx context.Context, o *model.Order, items []model.OrderItem) error {
	address, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return fmt.Errorf("encode shipping address: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO orders (user_id, status, total_amount, currency, shipping_address, notes)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`, o.UserID, o.Status, o.TotalAmount, o.Currency, string(address), o.Notes).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for i := range items {
		items[i].OrderID = o.ID
		err := tx.QueryRowContext(ctx, `
			INSERT INTO order_items (order_id, product_id, product_name, unit_price, quantity, subtotal)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id
		`, o.ID, items[i].ProductID, items[i].ProductName, items[i].UnitPrice, items[i].Quantity, items[i].Subtotal,
		).Scan(&items[i].ID)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	for _, it := range items {
		result, err := tx.ExecContext(ctx, `
			UPDATE products SET stock = stock - $2, updated_at = now() WHERE id = $1 AND stock >= $2
		`, it.ProductID, it.Quantity)
		if err != nil {
			return fmt.Errorf("reserve stock: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return &StockError{ProductID: it.ProductID, Requested: it.Quantity}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// DeleteWithRestock removes an order that never reached the gateway and gives its reserved stock back
func (r *orderRepo) DeleteWithRestock(ctx context.Context, orderID uuid.UUID, items []model.OrderItem) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM order_items WHERE order_id = $1`, orderID); err != nil {
		return fmt.Errorf("delete order items: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, orderID); err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	for _, it := range items {
		if _, err := tx.ExecContext(ctx, `
			UPDATE products SET stock = stock + $2, updated_at = now() WHERE id = $1
		`, it.ProductID, it.Quantity); err != nil {
			return fmt.Errorf("restore stock: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (r *orderRepo) SetPaymentIntent(ctx context.Context, orderID uuid.UUID, intentID string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE orders SET payment_intent_id = $2, updated_at = now() WHERE id = $1
	`, orderID, intentID)
	if err != nil {
		return fmt.Errorf("set payment intent: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("set payment intent: %w", ErrNotFound)
	}
	return nil
}

func (r *orderRepo) GetByID(ctx context.Context, id uuid.UUID) (model.Order, error) {
	return scanOrder(r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
}

func (r *orderRepo) GetForUser(ctx context.Context, id, userID uuid.UUID) (model.Order, error) {
	return scanOrder(r.db.QueryRowContext(ctx, `
		SELECT `+orderColumns+` FROM orders WHERE id = $1 AND user_id = $2
	`, id, userID))
}

func (r *orderRepo) GetByPaymentIntent(ctx context.Context, intentID string) (model.Order, error) {
	return scanOrder(r.db.QueryRowContext(ctx, `
		SELECT `+orderColumns+` FROM orders WHERE payment_intent_id = $1
	`, intentID))
}

func (r *orderRepo) ListItems(ctx context.Context, orderID uuid.UUID) ([]model.OrderItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, product_id, product_name, unit_price, quantity, subtotal
		FROM order_items WHERE order_id = $1 ORDER BY product_name, id
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list order items: %w", err)
	}
	defer rows.Close()

	items := make([]model.OrderItem, 0)
	for rows.Next() {
		var it model.OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.ProductName, &it.UnitPrice, &it.Quantity, &it.Subtotal); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *orderRepo) ListForUser(ctx context.Context, userID uuid.UUID) ([]model.Order, error) {
	return r.list(ctx, `SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY created_at DESC`, userID)
}

func (r *orderRepo) ListAll(ctx context.Context, limit, offset int) ([]model.Order, error) {
	return r.list(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
}

func (r *orderRepo) list(ctx context.Context, query string, args ...any) ([]model.Order, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := make([]model.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// RevertToPending moves an unpaid order back to pending_payment; paid orders are left alone
func (r *orderRepo) RevertToPending(ctx context.Context, id uuid.UUID) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE orders SET status = 'pending_payment', updated_at = now() WHERE id = $1 AND status <> 'paid'
	`, id)
	if err != nil {
		return false, fmt.Errorf("revert order to pending: %w", err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}
