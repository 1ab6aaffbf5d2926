package order

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/annavaram/storefront/internal/cart"
	"github.com/annavaram/storefront/internal/events"
	"github.com/annavaram/storefront/internal/model"
	"github.com/annavaram/storefront/internal/payment"
	"github.com/annavaram/storefront/internal/repo"
	"github.com/annavaram/storefront/internal/repo/repotest"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubGateway struct {
	mu    sync.Mutex
	calls []payment.GatewayOrderRequest
	err   error
	hook  func()
}

func (g *stubGateway) CreateOrder(ctx context.Context, req payment.GatewayOrderRequest) (payment.GatewayOrder, error) {
	g.mu.Lock()
	g.calls = append(g.calls, req)
	g.mu.Unlock()
	if g.hook != nil {
		g.hook()
	}
	if g.err != nil {
		return payment.GatewayOrder{}, g.err
	}
	if err := ctx.Err(); err != nil {
		return payment.GatewayOrder{}, err
	}
	raw, _ := json.Marshal(map[string]any{"id": "order_gw_1", "amount": req.Amount, "currency": req.Currency, "receipt": req.Receipt})
	return payment.GatewayOrder{ID: "order_gw_1", Amount: req.Amount, Currency: req.Currency, Receipt: req.Receipt, Status: "created", Raw: raw}, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.OrderPaid
}

func (p *recordingPublisher) PublishOrderPaid(_ context.Context, ev events.OrderPaid) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

// racingOrders lets a test change stock between the snapshot check and the insert
type racingOrders struct {
	repo.OrderRepo
	before func()
}

func (r racingOrders) CreateWithItems(ctx context.Context, o *model.Order, items []model.OrderItem) error {
	r.before()
	return r.OrderRepo.CreateWithItems(ctx, o, items)
}

type fixture struct {
	store     *repotest.Store
	carts     *cart.Service
	publisher *recordingPublisher
	user      model.User
}

func newFixture() *fixture {
	store := repotest.NewStore()
	return &fixture{
		store:     store,
		carts:     cart.NewService(store.Carts(), store.Products()),
		publisher: &recordingPublisher{},
		user:      model.User{ID: uuid.New(), Email: "asha@example.com", FullName: "Asha"},
	}
}

func (f *fixture) orchestrator(gw payment.Gateway) *Orchestrator {
	return NewOrchestrator(f.carts, f.store.Orders(), f.store.Payments(), gw, f.publisher, Options{
		KeyID:     "rzp_test_key",
		StoreName: "Annavaram Store",
	})
}

func testAddress() model.ShippingAddress {
	return model.ShippingAddress{
		FullName:   " Asha Rao ",
		Phone:      "9999999999",
		Line1:      "1 Temple Road",
		City:       "Annavaram",
		State:      "AP",
		PostalCode: "533406",
	}
}

func TestCreateOrder_GatewayFlow(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	p := f.store.AddProduct("ghee", 225, 5)
	_, err := f.carts.AddItem(ctx, f.user.ID, p.ID, 2)
	require.NoError(t, err)

	gw := &stubGateway{}
	out, err := f.orchestrator(gw).CreateOrder(ctx, f.user, testAddress(), " leave at door ")
	require.NoError(t, err)

	assert.Equal(t, model.OrderPendingPayment, out.Order.Status)
	assert.Equal(t, int64(450), out.Order.TotalAmount)
	assert.Equal(t, "INR", out.Order.Currency)
	assert.Equal(t, "Asha Rao", out.Order.ShippingAddress.FullName)
	assert.Equal(t, "IN", out.Order.ShippingAddress.Country)
	assert.Equal(t, "leave at door", out.Order.Notes)
	require.Len(t, out.Items, 1)
	assert.Equal(t, "ghee", out.Items[0].ProductName)

	assert.Equal(t, 3, f.store.Stock(p.ID), "stock is reserved at order time")

	require.Len(t, gw.calls, 1)
	assert.Equal(t, int64(450), gw.calls[0].Amount)
	assert.Equal(t, out.Order.ID.String(), gw.calls[0].Receipt)

	require.NotNil(t, out.Gateway)
	assert.Equal(t, "order_gw_1", out.Gateway.GatewayOrderID)
	assert.Equal(t, "rzp_test_key", out.Gateway.KeyID)
	assert.Equal(t, "Annavaram Store", out.Gateway.Name)

	stored, err := f.store.Orders().GetByID(ctx, out.Order.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.PaymentIntentID)
	assert.Equal(t, "order_gw_1", *stored.PaymentIntentID)

	assert.Equal(t, model.PaymentInitiated, out.Payment.Status)
	assert.Equal(t, "order_gw_1", out.Payment.GatewayOrderID())

	snap, err := f.carts.Current(ctx, f.user.ID)
	require.NoError(t, err)
	assert.True(t, snap.Empty(), "cart is converted after checkout")
	assert.Empty(t, f.publisher.events, "gateway orders are announced on capture")
}

func TestCreateOrder_ManualFlow(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	p := f.store.AddProduct("lamp", 300, 2)
	_, err := f.carts.AddItem(ctx, f.user.ID, p.ID, 1)
	require.NoError(t, err)

	out, err := f.orchestrator(nil).CreateOrder(ctx, f.user, testAddress(), "")
	require.NoError(t, err)

	assert.Equal(t, model.OrderPaid, out.Order.Status)
	assert.Nil(t, out.Gateway)
	assert.Equal(t, model.GatewayManual, out.Payment.Gateway)
	assert.True(t, out.Payment.Captured())
	assert.Equal(t, "offline", *out.Payment.TransactionID)
	assert.Equal(t, 1, f.store.Stock(p.ID))

	require.Len(t, f.publisher.events, 1)
	assert.Equal(t, out.Order.ID, f.publisher.events[0].OrderID)
	assert.Equal(t, int64(300), f.publisher.events[0].Amount)
}

func TestCreateOrder_EmptyCart(t *testing.T) {
	f := newFixture()
	_, err := f.orchestrator(&stubGateway{}).CreateOrder(context.Background(), f.user, testAddress(), "")
	assert.ErrorIs(t, err, ErrEmptyCart)
	assert.Equal(t, 0, f.store.OrderCount())
}

func TestCreateOrder_InvalidAddress(t *testing.T) {
	f := newFixture()
	addr := testAddress()
	addr.Line1 = "  "
	_, err := f.orchestrator(nil).CreateOrder(context.Background(), f.user, addr, "")
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestCreateOrder_InsufficientStock(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	p := f.store.AddProduct("camphor", 50, 5)
	_, err := f.carts.AddItem(ctx, f.user.ID, p.ID, 3)
	require.NoError(t, err)
	f.store.SetProduct(p.ID, 2, true)

	gw := &stubGateway{}
	_, err = f.orchestrator(gw).CreateOrder(ctx, f.user, testAddress(), "")
	require.ErrorIs(t, err, ErrInsufficientStock)
	assert.Contains(t, err.Error(), "camphor")
	assert.Empty(t, gw.calls)
	assert.Equal(t, 0, f.store.OrderCount())
	assert.Equal(t, 2, f.store.Stock(p.ID))
}

func TestCreateOrder_InactiveProduct(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	p := f.store.AddProduct("kumkum", 40, 5)
	_, err := f.carts.AddItem(ctx, f.user.ID, p.ID, 1)
	require.NoError(t, err)
	f.store.SetProduct(p.ID, 5, false)

	_, err = f.orchestrator(nil).CreateOrder(ctx, f.user, testAddress(), "")
	require.ErrorIs(t, err, ErrInsufficientStock)
	assert.Contains(t, err.Error(), "kumkum")
}

func TestCreateOrder_StockRaceNamesProduct(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	p := f.store.AddProduct("turmeric", 60, 4)
	_, err := f.carts.AddItem(ctx, f.user.ID, p.ID, 4)
	require.NoError(t, err)

	orders := racingOrders{OrderRepo: f.store.Orders(), before: func() { f.store.SetProduct(p.ID, 1, true) }}
	o := NewOrchestrator(f.carts, orders, f.store.Payments(), nil, f.publisher, Options{})

	_, err = o.CreateOrder(ctx, f.user, testAddress(), "")
	require.ErrorIs(t, err, ErrInsufficientStock)
	assert.Contains(t, err.Error(), "turmeric")
	assert.Equal(t, 0, f.store.OrderCount())
}

func TestCreateOrder_GatewayFailureCompensates(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	p := f.store.AddProduct("ghee", 225, 5)
	_, err := f.carts.AddItem(ctx, f.user.ID, p.ID, 2)
	require.NoError(t, err)

	gw := &stubGateway{err: errors.New("gateway down")}
	_, err = f.orchestrator(gw).CreateOrder(ctx, f.user, testAddress(), "")
	require.ErrorIs(t, err, ErrPaymentInitiationFailed)

	assert.Equal(t, 0, f.store.OrderCount(), "order is removed")
	assert.Equal(t, 5, f.store.Stock(p.ID), "stock is restored")

	snap, err := f.carts.Current(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Len(t, snap.Items, 1, "cart is kept for a retry")
}

func TestCreateOrder_CompensatesAfterClientGoesAway(t *testing.T) {
	f := newFixture()
	p := f.store.AddProduct("ghee", 225, 5)
	_, err := f.carts.AddItem(context.Background(), f.user.ID, p.ID, 2)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gw := &stubGateway{hook: cancel}

	_, err = f.orchestrator(gw).CreateOrder(ctx, f.user, testAddress(), "")
	require.ErrorIs(t, err, ErrPaymentInitiationFailed)
	assert.Equal(t, 0, f.store.OrderCount())
	assert.Equal(t, 5, f.store.Stock(p.ID))
}

func TestGetOrder(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	p := f.store.AddProduct("ghee", 225, 5)
	_, err := f.carts.AddItem(ctx, f.user.ID, p.ID, 1)
	require.NoError(t, err)
	o := f.orchestrator(&stubGateway{})
	out, err := o.CreateOrder(ctx, f.user, testAddress(), "")
	require.NoError(t, err)

	detail, err := o.GetOrder(ctx, f.user.ID, out.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, out.Order.ID, detail.Order.ID)
	assert.Len(t, detail.Items, 1)
	require.NotNil(t, detail.Payment)
	assert.Equal(t, model.GatewayRazorpay, detail.Payment.Gateway)

	_, err = o.GetOrder(ctx, uuid.New(), out.Order.ID)
	assert.ErrorIs(t, err, ErrOrderNotFound, "orders of other users are invisible")
	_, err = o.GetOrder(ctx, f.user.ID, uuid.New())
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestListOrders(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	p := f.store.AddProduct("incense", 20, 50)
	o := f.orchestrator(nil)

	for i := 0; i < 3; i++ {
		_, err := f.carts.AddItem(ctx, f.user.ID, p.ID, 1)
		require.NoError(t, err)
		_, err = o.CreateOrder(ctx, f.user, testAddress(), "")
		require.NoError(t, err)
	}
	other := model.User{ID: uuid.New()}
	_, err := f.carts.AddItem(ctx, other.ID, p.ID, 1)
	require.NoError(t, err)
	_, err = o.CreateOrder(ctx, other, testAddress(), "")
	require.NoError(t, err)

	mine, err := o.ListOrders(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Len(t, mine, 3)
	assert.False(t, mine[0].CreatedAt.Before(mine[1].CreatedAt), "newest first")

	all, err := o.ListAllOrders(ctx, 0, 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	page, err := o.ListAllOrders(ctx, 2, 3)
	require.NoError(t, err)
	assert.Len(t, page, 1)
}
