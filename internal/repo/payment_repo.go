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

// PaymentRepo defines the interface for payment repository operations.
// raw_response is append-only: events go to raw_response.events, never replacing earlier entries.
type PaymentRepo interface {
	Create(ctx context.Context, p *model.Payment) error
	GetForOrder(ctx context.Context, orderID uuid.UUID, gateway string) (model.Payment, error)
	FindOrCreate(ctx context.Context, p model.Payment) (model.Payment, error)
	SettleCapture(ctx context.Context, paymentID uuid.UUID, transactionID string, event json.RawMessage) (model.Payment, bool, error)
	SetStatus(ctx context.Context, paymentID uuid.UUID, status string, event json.RawMessage) (model.Payment, error)
	AppendEvent(ctx context.Context, paymentID uuid.UUID, event json.RawMessage) error
}

type paymentRepo struct {
	db *sql.DB
}

// NewPaymentRepo creates a new PaymentRepo instance
func NewPaymentRepo(db *sql.DB) PaymentRepo {
	return &paymentRepo{db: db}
}

const paymentColumns = `id, order_id, user_id, gateway, status, amount, currency, transaction_id, raw_response, created_at, updated_at`

// appendEventExpr appends the jsonb parameter $n to raw_response.events
func appendEventExpr(n int) string {
	return fmt.Sprintf(`jsonb_set(raw_response, '{events}', COALESCE(raw_response->'events', '[]'::jsonb) || jsonb_build_array($%d::jsonb))`, n)
}

func eventParam(event json.RawMessage) string {
	if len(event) == 0 {
		return "{}"
	}
	return string(event)
}

func scanPayment(row rowScanner) (model.Payment, error) {
	var p model.Payment
	var txn sql.NullString
	var raw []byte
	err := row.Scan(
		&p.ID,
		&p.OrderID,
		&p.UserID,
		&p.Gateway,
		&p.Status,
		&p.Amount,
		&p.Currency,
		&txn,
		&raw,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Payment{}, fmt.Errorf("payment: %w", ErrNotFound)
		}
		return model.Payment{}, fmt.Errorf("scan payment: %w", err)
	}
	if txn.Valid {
		p.TransactionID = &txn.String
	}
	p.RawResponse = json.RawMessage(raw)
	return p, nil
}

func (r *paymentRepo) Create(ctx context.Context, p *model.Payment) error {
	raw := p.RawResponse
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO payments (order_id, user_id, gateway, status, amount, currency, transaction_id, raw_response)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`, p.OrderID, p.UserID, p.Gateway, p.Status, p.Amount, p.Currency, p.TransactionID, string(raw),
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert payment: %w", ErrConflict)
		}
		return fmt.Errorf("insert payment: %w", err)
	}
	p.RawResponse = raw
	return nil
}

func (r *paymentRepo) GetForOrder(ctx context.Context, orderID uuid.UUID, gateway string) (model.Payment, error) {
	return scanPayment(r.db.QueryRowContext(ctx, `
		SELECT `+paymentColumns+` FROM payments WHERE order_id = $1 AND gateway = $2
	`, orderID, gateway))
}

// FindOrCreate returns the payment for (order, gateway), inserting p when none exists
func (r *paymentRepo) FindOrCreate(ctx context.Context, p model.Payment) (model.Payment, error) {
	raw := p.RawResponse
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO payments (order_id, user_id, gateway, status, amount, currency, raw_response)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (order_id, gateway) DO NOTHING
	`, p.OrderID, p.UserID, p.Gateway, p.Status, p.Amount, p.Currency, string(raw))
	if err != nil {
		return model.Payment{}, fmt.Errorf("upsert payment: %w", err)
	}
	return r.GetForOrder(ctx, p.OrderID, p.Gateway)
}

// SettleCapture moves the payment to captured, marks its order paid and
// deducts the order's items from stock, all in one transaction under a row
// lock on the payment. Only initiated, authorized and failed payments
// transition; for captured and refunded payments the event is appended and
// nothing else changes. The boolean is true only for the transitioning call.
func (r *paymentRepo) SettleCapture(ctx context.Context, paymentID uuid.UUID, transactionID string, event json.RawMessage) (model.Payment, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Payment{}, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var status string
	var orderID uuid.UUID
	err = tx.QueryRowContext(ctx, `SELECT status, order_id FROM payments WHERE id = $1 FOR UPDATE`, paymentID).Scan(&status, &orderID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Payment{}, false, fmt.Errorf("settle capture: %w", ErrNotFound)
		}
		return model.Payment{}, false, fmt.Errorf("lock payment: %w", err)
	}

	if !CanCapture(status) {
		p, err := scanPayment(tx.QueryRowContext(ctx, `
			UPDATE payments
			SET transaction_id = COALESCE(transaction_id, NULLIF($2, '')),
			    raw_response = `+appendEventExpr(3)+`,
			    updated_at = now()
			WHERE id = $1
			RETURNING `+paymentColumns,
			paymentID, transactionID, eventParam(event)))
		if err != nil {
			return model.Payment{}, false, fmt.Errorf("record capture event: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return model.Payment{}, false, fmt.Errorf("commit tx: %w", err)
		}
		return p, false, nil
	}

	p, err := scanPayment(tx.QueryRowContext(ctx, `
		UPDATE payments
		SET status = 'captured',
		    transaction_id = COALESCE(NULLIF($2, ''), transaction_id),
		    raw_response = `+appendEventExpr(3)+`,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+paymentColumns,
		paymentID, transactionID, eventParam(event)))
	if err != nil {
		return model.Payment{}, false, fmt.Errorf("capture payment: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE orders SET status = 'paid', updated_at = now() WHERE id = $1
	`, orderID)
	if err != nil {
		return model.Payment{}, false, fmt.Errorf("mark order paid: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return model.Payment{}, false, fmt.Errorf("mark order paid: %w", ErrNotFound)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE products
		SET stock = GREATEST(products.stock - oi.quantity, 0), updated_at = now()
		FROM order_items oi
		WHERE oi.order_id = $1 AND products.id = oi.product_id
	`, orderID)
	if err != nil {
		return model.Payment{}, false, fmt.Errorf("deduct stock: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return model.Payment{}, false, fmt.Errorf("commit tx: %w", err)
	}
	return p, true, nil
}

// CanCapture reports whether a payment in status may still move to captured
func CanCapture(status string) bool {
	switch status {
	case model.PaymentInitiated, model.PaymentAuthorized, model.PaymentFailed:
		return true
	}
	return false
}

// SetStatus records a gateway status. A captured payment only moves on to
// refunded, and a refunded payment keeps its status.
func (r *paymentRepo) SetStatus(ctx context.Context, paymentID uuid.UUID, status string, event json.RawMessage) (model.Payment, error) {
	p, err := scanPayment(r.db.QueryRowContext(ctx, `
		UPDATE payments
		SET status = CASE
		        WHEN status = 'refunded' THEN status
		        WHEN status = 'captured' AND $2 <> 'refunded' THEN status
		        ELSE $2 END,
		    raw_response = `+appendEventExpr(3)+`,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+paymentColumns,
		paymentID, status, eventParam(event)))
	if err != nil {
		return model.Payment{}, fmt.Errorf("set payment status: %w", err)
	}
	return p, nil
}

func (r *paymentRepo) AppendEvent(ctx context.Context, paymentID uuid.UUID, event json.RawMessage) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE payments SET raw_response = `+appendEventExpr(2)+`, updated_at = now() WHERE id = $1
	`, paymentID, eventParam(event))
	if err != nil {
		return fmt.Errorf("append payment event: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("append payment event: %w", ErrNotFound)
	}
	return nil
}
