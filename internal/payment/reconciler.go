// Package payment verifies gateway payments and reconciles webhook events
// into order and payment state.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/annavaram/storefront/internal/apperr"
	"github.com/annavaram/storefront/internal/events"
	"github.com/annavaram/storefront/internal/model"
	"github.com/annavaram/storefront/internal/repo"
	"github.com/google/uuid"
)

var (
	ErrGatewayNotConfigured = apperr.New(apperr.UpstreamUnavailable, "gateway_not_configured", "payment gateway is not configured")
	ErrIncompletePayload    = apperr.New(apperr.Validation, "incomplete_payload", "incomplete payment verification payload")
	ErrOrderNotFound        = apperr.New(apperr.NotFound, "order_not_found", "order not found")
	ErrPaymentNotFound      = apperr.New(apperr.NotFound, "payment_not_found", "payment record not found")
	ErrGatewayOrderMissing  = apperr.New(apperr.UpstreamUnavailable, "gateway_order_missing", "gateway order id is not available for this order")
	ErrGatewayOrderMismatch = apperr.New(apperr.Validation, "gateway_order_mismatch", "payment order mismatch")
	ErrInvalidSignature     = apperr.New(apperr.InvalidSignature, "invalid_signature", "payment signature verification failed")
	ErrInvalidWebhook       = apperr.New(apperr.InvalidSignature, "invalid_webhook_signature", "invalid webhook signature")
)

// Webhook outcomes
const (
	WebhookProcessed = "processed"
	WebhookIgnored   = "ignored"
	WebhookDuplicate = "duplicate"
)

// CartClearer converts a user's active cart
type CartClearer interface {
	Clear(ctx context.Context, userID uuid.UUID) error
}

// Options carries the secrets and the optional event ledger
type Options struct {
	PaymentSecret string
	WebhookSecret string
	Ledger        EventLedger
}

// Reconciler drives orders and payments to their settled state from client
// verification calls and from gateway webhooks. Both paths may run
// concurrently for one order; only the call that moves the payment to
// captured deducts stock, clears the cart and publishes order.paid.
type Reconciler struct {
	orders    repo.OrderRepo
	payments  repo.PaymentRepo
	carts     CartClearer
	publisher events.Publisher
	opts      Options
	now       func() time.Time
}

// NewReconciler creates a reconciler
func NewReconciler(orders repo.OrderRepo, payments repo.PaymentRepo, carts CartClearer, publisher events.Publisher, opts Options) *Reconciler {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &Reconciler{
		orders:    orders,
		payments:  payments,
		carts:     carts,
		publisher: publisher,
		opts:      opts,
		now:       time.Now,
	}
}

// VerifyInput is what the checkout widget hands back after payment
type VerifyInput struct {
	OrderID        uuid.UUID
	PaymentID      string
	Signature      string
	GatewayOrderID string
	Payload        json.RawMessage
}

// VerifyResult is the settled state after verification
type VerifyResult struct {
	Order           model.Order
	Payment         model.Payment
	AlreadyCaptured bool
}

// Verify checks a client-confirmed payment and settles the order. Calling it
// again for a captured or refunded payment returns the current state unchanged.
func (r *Reconciler) Verify(ctx context.Context, userID uuid.UUID, in VerifyInput) (*VerifyResult, error) {
	if r.opts.PaymentSecret == "" {
		return nil, ErrGatewayNotConfigured
	}
	if in.OrderID == uuid.Nil || strings.TrimSpace(in.PaymentID) == "" || strings.TrimSpace(in.Signature) == "" {
		return nil, ErrIncompletePayload
	}

	order, err := r.orders.GetForUser(ctx, in.OrderID, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("load order: %w", err)
	}
	p, err := r.payments.GetForOrder(ctx, order.ID, model.GatewayRazorpay)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("load payment: %w", err)
	}

	gatewayOrderID := strings.TrimSpace(in.GatewayOrderID)
	if gatewayOrderID == "" && order.PaymentIntentID != nil {
		gatewayOrderID = *order.PaymentIntentID
	}
	if gatewayOrderID == "" {
		gatewayOrderID = p.GatewayOrderID()
	}
	if gatewayOrderID == "" {
		return nil, ErrGatewayOrderMissing
	}
	if order.PaymentIntentID != nil && *order.PaymentIntentID != "" && *order.PaymentIntentID != gatewayOrderID {
		return nil, ErrGatewayOrderMismatch
	}

	if p.Captured() || p.Status == model.PaymentRefunded {
		return &VerifyResult{Order: order, Payment: p, AlreadyCaptured: true}, nil
	}

	if !VerifyPaymentSignature(r.opts.PaymentSecret, gatewayOrderID, in.PaymentID, in.Signature) {
		log.Printf("payment: signature mismatch for order %s", order.ID)
		return nil, ErrInvalidSignature
	}

	event, err := json.Marshal(map[string]any{
		"source":              "verify",
		"razorpay_order_id":   gatewayOrderID,
		"razorpay_payment_id": in.PaymentID,
		"razorpay_signature":  in.Signature,
		"payload":             rawOrNull(in.Payload),
		"received_at":         r.now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("encode verification event: %w", err)
	}
	captured, transitioned, err := r.payments.SettleCapture(ctx, p.ID, in.PaymentID, event)
	if err != nil {
		return nil, fmt.Errorf("settle capture: %w", err)
	}
	if transitioned {
		r.afterCapture(ctx, order, captured)
	}

	order, err = r.orders.GetByID(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("reload order: %w", err)
	}
	return &VerifyResult{Order: order, Payment: captured, AlreadyCaptured: !transitioned}, nil
}

// afterCapture runs the side effects of a committed capture. The payment,
// the order and the stock are already settled, so failures here are logged.
func (r *Reconciler) afterCapture(ctx context.Context, order model.Order, p model.Payment) {
	ev := events.OrderPaid{
		OrderID:  order.ID,
		UserID:   order.UserID,
		Amount:   order.TotalAmount,
		Currency: order.Currency,
		Gateway:  p.Gateway,
		PaidAt:   r.now().UTC(),
	}
	if err := r.publisher.PublishOrderPaid(ctx, ev); err != nil {
		log.Printf("payment: failed to publish order.paid for order %s: %v", order.ID, err)
	}
	if err := r.carts.Clear(ctx, order.UserID); err != nil {
		log.Printf("payment: failed to clear cart for user %s: %v", order.UserID, err)
	}
}

// WebhookResult tells the handler how the event was treated. Every result is acknowledged.
type WebhookResult struct {
	Status string
	Event  string
}

type webhookEnvelope struct {
	Event   string `json:"event"`
	Payload struct {
		Payment *struct {
			Entity paymentEntity `json:"entity"`
		} `json:"payment"`
		Order *struct {
			Entity orderEntity `json:"entity"`
		} `json:"order"`
	} `json:"payload"`
}

type paymentEntity struct {
	ID      string `json:"id"`
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
	Amount  int64  `json:"amount"`
}

type orderEntity struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// HandleWebhook authenticates and applies a gateway event. Events for orders
// this store does not know are acknowledged without changes.
func (r *Reconciler) HandleWebhook(ctx context.Context, body []byte, signature, eventID string) (*WebhookResult, error) {
	if r.opts.WebhookSecret == "" || signature == "" || !VerifyWebhookSignature(r.opts.WebhookSecret, body, signature) {
		return nil, ErrInvalidWebhook
	}

	var env webhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		log.Printf("payment: unparseable webhook acknowledged: %v", err)
		return &WebhookResult{Status: WebhookIgnored}, nil
	}

	if r.opts.Ledger != nil && eventID != "" {
		claimed, err := r.opts.Ledger.Claim(ctx, eventID)
		if err != nil {
			log.Printf("payment: webhook ledger unavailable, processing %s without it: %v", eventID, err)
		} else if !claimed {
			return &WebhookResult{Status: WebhookDuplicate, Event: env.Event}, nil
		} else {
			res, err := r.dispatch(ctx, env, body)
			if err != nil {
				if relErr := r.opts.Ledger.Release(ctx, eventID); relErr != nil {
					log.Printf("payment: failed to release webhook event %s: %v", eventID, relErr)
				}
				return nil, err
			}
			return res, nil
		}
	}
	return r.dispatch(ctx, env, body)
}

func (r *Reconciler) dispatch(ctx context.Context, env webhookEnvelope, body []byte) (*WebhookResult, error) {
	var status string
	var err error
	switch {
	case strings.HasPrefix(env.Event, "payment."):
		status, err = r.handlePaymentEvent(ctx, env, body)
	case strings.HasPrefix(env.Event, "order."):
		status, err = r.handleOrderEvent(ctx, env, body)
	default:
		status = WebhookIgnored
	}
	if err != nil {
		return nil, err
	}
	log.Printf("payment: webhook %s %s", env.Event, status)
	return &WebhookResult{Status: status, Event: env.Event}, nil
}

func (r *Reconciler) handlePaymentEvent(ctx context.Context, env webhookEnvelope, body []byte) (string, error) {
	if env.Payload.Payment == nil || env.Payload.Payment.Entity.OrderID == "" {
		return WebhookIgnored, nil
	}
	entity := env.Payload.Payment.Entity

	order, ok, err := r.orderForGatewayOrder(ctx, entity.OrderID)
	if err != nil || !ok {
		return WebhookIgnored, err
	}
	p, err := r.paymentFor(ctx, order, entity.OrderID)
	if err != nil {
		return "", err
	}

	status := entity.Status
	if status == "" {
		status = strings.TrimPrefix(env.Event, "payment.")
	}

	switch status {
	case model.PaymentCaptured:
		if err := r.settleCapture(ctx, order, p, entity.ID, json.RawMessage(body)); err != nil {
			return "", err
		}
	case model.PaymentFailed:
		if _, err := r.payments.SetStatus(ctx, p.ID, model.PaymentFailed, json.RawMessage(body)); err != nil {
			return "", err
		}
		if _, err := r.orders.RevertToPending(ctx, order.ID); err != nil {
			return "", err
		}
	case model.PaymentAuthorized, model.PaymentRefunded:
		if _, err := r.payments.SetStatus(ctx, p.ID, status, json.RawMessage(body)); err != nil {
			return "", err
		}
	default:
		if err := r.payments.AppendEvent(ctx, p.ID, json.RawMessage(body)); err != nil {
			return "", err
		}
	}
	return WebhookProcessed, nil
}

func (r *Reconciler) handleOrderEvent(ctx context.Context, env webhookEnvelope, body []byte) (string, error) {
	gatewayOrderID := ""
	if env.Payload.Order != nil {
		gatewayOrderID = env.Payload.Order.Entity.ID
	}
	if gatewayOrderID == "" && env.Payload.Payment != nil {
		gatewayOrderID = env.Payload.Payment.Entity.OrderID
	}
	if gatewayOrderID == "" {
		return WebhookIgnored, nil
	}

	order, ok, err := r.orderForGatewayOrder(ctx, gatewayOrderID)
	if err != nil || !ok {
		return WebhookIgnored, err
	}
	p, err := r.paymentFor(ctx, order, gatewayOrderID)
	if err != nil {
		return "", err
	}

	if env.Event != "order.paid" {
		if err := r.payments.AppendEvent(ctx, p.ID, json.RawMessage(body)); err != nil {
			return "", err
		}
		return WebhookProcessed, nil
	}

	transactionID := ""
	if env.Payload.Payment != nil {
		transactionID = env.Payload.Payment.Entity.ID
	}
	if err := r.settleCapture(ctx, order, p, transactionID, json.RawMessage(body)); err != nil {
		return "", err
	}
	return WebhookProcessed, nil
}

func (r *Reconciler) settleCapture(ctx context.Context, order model.Order, p model.Payment, transactionID string, event json.RawMessage) error {
	captured, transitioned, err := r.payments.SettleCapture(ctx, p.ID, transactionID, event)
	if err != nil {
		return fmt.Errorf("settle capture: %w", err)
	}
	if transitioned {
		r.afterCapture(ctx, order, captured)
	}
	return nil
}

func (r *Reconciler) orderForGatewayOrder(ctx context.Context, gatewayOrderID string) (model.Order, bool, error) {
	order, err := r.orders.GetByPaymentIntent(ctx, gatewayOrderID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			log.Printf("payment: webhook for unknown gateway order %s acknowledged", gatewayOrderID)
			return model.Order{}, false, nil
		}
		return model.Order{}, false, fmt.Errorf("load order by gateway order: %w", err)
	}
	return order, true, nil
}

func (r *Reconciler) paymentFor(ctx context.Context, order model.Order, gatewayOrderID string) (model.Payment, error) {
	gatewayOrder, err := json.Marshal(map[string]string{"id": gatewayOrderID})
	if err != nil {
		return model.Payment{}, fmt.Errorf("encode gateway order: %w", err)
	}
	raw, err := json.Marshal(model.PaymentRaw{GatewayOrder: gatewayOrder})
	if err != nil {
		return model.Payment{}, fmt.Errorf("encode payment raw: %w", err)
	}
	p, err := r.payments.FindOrCreate(ctx, model.Payment{
		OrderID:     order.ID,
		UserID:      order.UserID,
		Gateway:     model.GatewayRazorpay,
		Status:      model.PaymentInitiated,
		Amount:      order.TotalAmount,
		Currency:    order.Currency,
		RawResponse: raw,
	})
	if err != nil {
		return model.Payment{}, fmt.Errorf("find or create payment: %w", err)
	}
	return p, nil
}

func rawOrNull(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || !json.Valid(raw) {
		return json.RawMessage("null")
	}
	return raw
}
