// Package order turns a user's cart into an order, reserves stock and opens
// the gateway payment.
package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/annavaram/storefront/internal/apperr"
	"github.com/annavaram/storefront/internal/cart"
	"github.com/annavaram/storefront/internal/events"
	"github.com/annavaram/storefront/internal/model"
	"github.com/annavaram/storefront/internal/payment"
	"github.com/annavaram/storefront/internal/repo"
	"github.com/google/uuid"
)

const (
	defaultGatewayTimeout = 10 * time.Second
	compensationTimeout   = 5 * time.Second
	manualTransactionID   = "offline"
)

var (
	ErrEmptyCart               = apperr.New(apperr.Validation, "empty_cart", "cart is empty")
	ErrInsufficientStock       = apperr.New(apperr.Validation, "insufficient_stock", "insufficient stock")
	ErrInvalidAddress          = apperr.New(apperr.Validation, "invalid_address", "shipping address is incomplete")
	ErrPaymentInitiationFailed = apperr.New(apperr.UpstreamUnavailable, "payment_initiation_failed", "unable to initiate payment, please try again")
	ErrOrderNotFound           = apperr.New(apperr.NotFound, "order_not_found", "order not found")
)

// CartSource is the cart behaviour checkout depends on
type CartSource interface {
	GetOrCreateActive(ctx context.Context, userID uuid.UUID) (model.Cart, error)
	BuildSnapshot(ctx context.Context, cartID uuid.UUID) (cart.Snapshot, error)
	Clear(ctx context.Context, userID uuid.UUID) error
}

// Options configures checkout
type Options struct {
	Currency       string
	KeyID          string
	StoreName      string
	GatewayTimeout time.Duration
}

// Orchestrator runs checkout. A nil gateway selects the manual flow, where
// orders are paid on creation.
type Orchestrator struct {
	carts     CartSource
	orders    repo.OrderRepo
	payments  repo.PaymentRepo
	gateway   payment.Gateway
	publisher events.Publisher
	opts      Options
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(carts CartSource, orders repo.OrderRepo, payments repo.PaymentRepo, gateway payment.Gateway, publisher events.Publisher, opts Options) *Orchestrator {
	if opts.Currency == "" {
		opts.Currency = "INR"
	}
	if opts.GatewayTimeout <= 0 {
		opts.GatewayTimeout = defaultGatewayTimeout
	}
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &Orchestrator{
		carts:     carts,
		orders:    orders,
		payments:  payments,
		gateway:   gateway,
		publisher: publisher,
		opts:      opts,
	}
}

// CheckoutHandle is what the client needs to open the gateway checkout widget
type CheckoutHandle struct {
	GatewayOrderID string `json:"order_id"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	KeyID          string `json:"key"`
	Name           string `json:"name"`
	Description    string `json:"description"`
}

// Checkout is the result of CreateOrder
type Checkout struct {
	Order   model.Order
	Items   []model.OrderItem
	Payment model.Payment
	Gateway *CheckoutHandle
}

// CreateOrder converts the user's active cart into an order
func (o *Orchestrator) CreateOrder(ctx context.Context, user model.User, address model.ShippingAddress, notes string) (*Checkout, error) {
	address, err := normalizeAddress(address)
	if err != nil {
		return nil, err
	}

	c, err := o.carts.GetOrCreateActive(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	snap, err := o.carts.BuildSnapshot(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	if snap.Empty() {
		return nil, ErrEmptyCart
	}

	for _, it := range snap.Items {
		if !it.IsActive {
			return nil, ErrInsufficientStock.WithMessage("%s is no longer available", it.Name)
		}
		if it.Stock < it.Quantity {
			return nil, ErrInsufficientStock.WithMessage("insufficient stock for %s", it.Name)
		}
	}

	status := model.OrderPaid
	if o.gateway != nil {
		status = model.OrderPendingPayment
	}
	order := model.Order{
		UserID:          user.ID,
		Status:          status,
		TotalAmount:     snap.Totals.Amount,
		Currency:        o.opts.Currency,
		ShippingAddress: address,
		Notes:           strings.TrimSpace(notes),
	}
	items := make([]model.OrderItem, 0, len(snap.Items))
	for _, it := range snap.Items {
		items = append(items, model.OrderItem{
			ProductID:   it.ProductID,
			ProductName: it.Name,
			UnitPrice:   it.UnitPrice,
			Quantity:    it.Quantity,
			Subtotal:    it.Subtotal,
		})
	}

	if err := o.orders.CreateWithItems(ctx, &order, items); err != nil {
		var stockErr *repo.StockError
		if errors.As(err, &stockErr) {
			return nil, ErrInsufficientStock.WithMessage("insufficient stock for %s", productName(snap, stockErr.ProductID))
		}
		return nil, fmt.Errorf("create order: %w", err)
	}

	out := &Checkout{Order: order, Items: items}
	if o.gateway != nil {
		gwOrder, err := o.openGatewayOrder(ctx, order)
		if err != nil {
			o.compensate(ctx, order, items)
			return nil, err
		}
		out.Order.PaymentIntentID = &gwOrder.ID
		out.Gateway = &CheckoutHandle{
			GatewayOrderID: gwOrder.ID,
			Amount:         order.TotalAmount,
			Currency:       order.Currency,
			KeyID:          o.opts.KeyID,
			Name:           o.opts.StoreName,
			Description:    fmt.Sprintf("Order %s", order.ID),
		}

		raw, err := json.Marshal(model.PaymentRaw{GatewayOrder: gwOrder.Raw})
		if err != nil {
			return nil, fmt.Errorf("encode gateway order: %w", err)
		}
		out.Payment = model.Payment{
			OrderID:     order.ID,
			UserID:      user.ID,
			Gateway:     model.GatewayRazorpay,
			Status:      model.PaymentInitiated,
			Amount:      order.TotalAmount,
			Currency:    order.Currency,
			RawResponse: raw,
		}
	} else {
		txn := manualTransactionID
		out.Payment = model.Payment{
			OrderID:       order.ID,
			UserID:        user.ID,
			Gateway:       model.GatewayManual,
			Status:        model.PaymentCaptured,
			Amount:        order.TotalAmount,
			Currency:      order.Currency,
			TransactionID: &txn,
		}
	}

	if err := o.payments.Create(ctx, &out.Payment); err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}
	if err := o.carts.Clear(ctx, user.ID); err != nil {
		return nil, fmt.Errorf("clear cart: %w", err)
	}

	if o.gateway == nil {
		ev := events.OrderPaid{
			OrderID:  order.ID,
			UserID:   user.ID,
			Amount:   order.TotalAmount,
			Currency: order.Currency,
			Gateway:  model.GatewayManual,
			PaidAt:   time.Now().UTC(),
		}
		if err := o.publisher.PublishOrderPaid(ctx, ev); err != nil {
			log.Printf("order: failed to publish order.paid for order %s: %v", order.ID, err)
		}
	}

	log.Printf("order: created %s for user %s (%s %d, %d lines)", order.ID, user.ID, order.Currency, order.TotalAmount, len(items))
	return out, nil
}

// openGatewayOrder creates the gateway order and records its id on the order
func (o *Orchestrator) openGatewayOrder(ctx context.Context, order model.Order) (payment.GatewayOrder, error) {
	gctx, cancel := context.WithTimeout(ctx, o.opts.GatewayTimeout)
	defer cancel()

	gwOrder, err := o.gateway.CreateOrder(gctx, payment.GatewayOrderRequest{
		Amount:   order.TotalAmount,
		Currency: order.Currency,
		Receipt:  order.ID.String(),
		Notes:    map[string]string{"orderId": order.ID.String(), "userId": order.UserID.String()},
	})
	if err != nil {
		log.Printf("order: gateway order for %s failed: %v", order.ID, err)
		return payment.GatewayOrder{}, ErrPaymentInitiationFailed.Wrap(err)
	}
	if err := o.orders.SetPaymentIntent(ctx, order.ID, gwOrder.ID); err != nil {
		return payment.GatewayOrder{}, fmt.Errorf("store payment intent: %w", err)
	}
	return gwOrder, nil
}

// compensate removes an order whose payment could not be opened and gives
// back its stock. It runs even if the request context is already done.
func (o *Orchestrator) compensate(ctx context.Context, order model.Order, items []model.OrderItem) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()
	if err := o.orders.DeleteWithRestock(cctx, order.ID, items); err != nil {
		log.Printf("order: compensation for %s failed: %v", order.ID, err)
	}
}

// OrderDetail is an order with its lines and payment
type OrderDetail struct {
	Order   model.Order
	Items   []model.OrderItem
	Payment *model.Payment
}

// ListOrders returns the user's orders, newest first
func (o *Orchestrator) ListOrders(ctx context.Context, userID uuid.UUID) ([]model.Order, error) {
	orders, err := o.orders.ListForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}

// GetOrder returns one of the user's orders
func (o *Orchestrator) GetOrder(ctx context.Context, userID, orderID uuid.UUID) (*OrderDetail, error) {
	order, err := o.orders.GetForUser(ctx, orderID, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("load order: %w", err)
	}
	return o.detail(ctx, order)
}

// ListAllOrders is the admin view across users
func (o *Orchestrator) ListAllOrders(ctx context.Context, limit, offset int) ([]model.Order, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	orders, err := o.orders.ListAll(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list all orders: %w", err)
	}
	return orders, nil
}

func (o *Orchestrator) detail(ctx context.Context, order model.Order) (*OrderDetail, error) {
	items, err := o.orders.ListItems(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	out := &OrderDetail{Order: order, Items: items}
	for _, gw := range []string{model.GatewayRazorpay, model.GatewayManual} {
		p, err := o.payments.GetForOrder(ctx, order.ID, gw)
		if err == nil {
			out.Payment = &p
			break
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("load payment: %w", err)
		}
	}
	return out, nil
}

func normalizeAddress(a model.ShippingAddress) (model.ShippingAddress, error) {
	a.FullName = strings.TrimSpace(a.FullName)
	a.Phone = strings.TrimSpace(a.Phone)
	a.Line1 = strings.TrimSpace(a.Line1)
	a.Line2 = strings.TrimSpace(a.Line2)
	a.City = strings.TrimSpace(a.City)
	a.State = strings.TrimSpace(a.State)
	a.PostalCode = strings.TrimSpace(a.PostalCode)
	a.Country = strings.TrimSpace(a.Country)
	if a.FullName == "" || a.Line1 == "" || a.City == "" || a.PostalCode == "" {
		return a, ErrInvalidAddress
	}
	if a.Country == "" {
		a.Country = "IN"
	}
	return a, nil
}

func productName(snap cart.Snapshot, id uuid.UUID) string {
	for _, it := range snap.Items {
		if it.ProductID == id {
			return it.Name
		}
	}
	return id.String()
}
