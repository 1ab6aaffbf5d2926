// Package repotest provides in-memory implementations of the repo interfaces
// for service-level tests.
package repotest

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/annavaram/storefront/internal/model"
	"github.com/annavaram/storefront/internal/repo"
	"github.com/google/uuid"
)

// Store keeps catalog, carts, orders and payments in one mutex so
// multi-table operations stay atomic like their SQL counterparts
type Store struct {
	mu        sync.Mutex
	products  map[uuid.UUID]*model.Product
	carts     map[uuid.UUID]*model.Cart
	cartItems map[uuid.UUID]*model.CartItem
	orders    map[uuid.UUID]*model.Order
	items     map[uuid.UUID][]model.OrderItem
	payments  map[uuid.UUID]*model.Payment
	seq       int
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		products:  make(map[uuid.UUID]*model.Product),
		carts:     make(map[uuid.UUID]*model.Cart),
		cartItems: make(map[uuid.UUID]*model.CartItem),
		orders:    make(map[uuid.UUID]*model.Order),
		items:     make(map[uuid.UUID][]model.OrderItem),
		payments:  make(map[uuid.UUID]*model.Payment),
	}
}

// tick returns strictly increasing timestamps so ordering is deterministic
func (s *Store) tick() time.Time {
	s.seq++
	return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(s.seq) * time.Millisecond)
}

// Products returns the ProductRepo view
func (s *Store) Products() repo.ProductRepo { return (*products)(s) }

// Carts returns the CartRepo view
func (s *Store) Carts() repo.CartRepo { return (*carts)(s) }

// Orders returns the OrderRepo view
func (s *Store) Orders() repo.OrderRepo { return (*orders)(s) }

// Payments returns the PaymentRepo view
func (s *Store) Payments() repo.PaymentRepo { return (*payments)(s) }

// AddProduct seeds an active product and returns it
func (s *Store) AddProduct(name string, price int64, stock int) model.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.tick()
	p := model.Product{
		ID:        uuid.New(),
		Name:      name,
		Slug:      fmt.Sprintf("%s-%d", name, s.seq),
		Price:     price,
		Stock:     stock,
		Category:  "general",
		Images:    []string{},
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.products[p.ID] = &p
	return p
}

// Stock returns the current stock of a product
func (s *Store) Stock(id uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.products[id]; ok {
		return p.Stock
	}
	return -1
}

// SetProduct overwrites mutable product fields
func (s *Store) SetProduct(id uuid.UUID, stock int, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.products[id]; ok {
		p.Stock = stock
		p.IsActive = active
	}
}

// OrderCount returns the number of stored orders
func (s *Store) OrderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

// PaymentEvents decodes the event log of a payment
func (s *Store) PaymentEvents(id uuid.UUID) []json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return nil
	}
	var raw model.PaymentRaw
	_ = json.Unmarshal(p.RawResponse, &raw)
	return raw.Events
}

type products Store

func (r *products) Create(_ context.Context, p *model.Product) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.products {
		if existing.Slug == p.Slug {
			return repo.ErrConflict
		}
	}
	p.ID = uuid.New()
	p.CreatedAt = s.tick()
	p.UpdatedAt = p.CreatedAt
	cp := *p
	s.products[p.ID] = &cp
	return nil
}

func (r *products) GetByID(_ context.Context, id uuid.UUID) (model.Product, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return model.Product{}, repo.ErrNotFound
	}
	return *p, nil
}

func (r *products) GetBySlug(_ context.Context, slug string) (model.Product, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.products {
		if p.Slug == slug {
			return *p, nil
		}
	}
	return model.Product{}, repo.ErrNotFound
}

func (r *products) ListActive(_ context.Context, limit, offset int) ([]model.Product, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Product, 0)
	for _, p := range s.products {
		if p.IsActive {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, limit, offset), nil
}

type carts Store

func (r *carts) GetOrCreateActive(ctx context.Context, userID uuid.UUID) (model.Cart, error) {
	s := (*Store)(r)
	s.mu.Lock()
	if c := s.activeCart(userID); c != nil {
		s.mu.Unlock()
		return *c, nil
	}
	now := s.tick()
	c := &model.Cart{ID: uuid.New(), UserID: userID, Status: model.CartActive, CreatedAt: now, UpdatedAt: now}
	s.carts[c.ID] = c
	s.mu.Unlock()
	return *c, nil
}

func (r *carts) FindActive(_ context.Context, userID uuid.UUID) (model.Cart, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if c := s.activeCart(userID); c != nil {
		return *c, nil
	}
	return model.Cart{}, repo.ErrNotFound
}

func (s *Store) activeCart(userID uuid.UUID) *model.Cart {
	for _, c := range s.carts {
		if c.UserID == userID && c.Status == model.CartActive {
			return c
		}
	}
	return nil
}

func (r *carts) ListLines(_ context.Context, cartID uuid.UUID) ([]model.CartLine, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	lines := make([]model.CartLine, 0)
	for _, it := range s.cartItems {
		if it.CartID != cartID {
			continue
		}
		p, ok := s.products[it.ProductID]
		if !ok {
			continue
		}
		lines = append(lines, model.CartLine{Item: *it, Product: *p})
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].Item.CreatedAt.Before(lines[j].Item.CreatedAt) })
	return lines, nil
}

func (r *carts) GetItem(_ context.Context, cartID, itemID uuid.UUID) (model.CartItem, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.cartItems[itemID]
	if !ok || it.CartID != cartID {
		return model.CartItem{}, repo.ErrNotFound
	}
	return *it, nil
}

func (r *carts) AddItem(_ context.Context, cartID, productID uuid.UUID, qty int, unitPrice int64) (model.CartItem, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.tick()
	for _, it := range s.cartItems {
		if it.CartID == cartID && it.ProductID == productID {
			it.Quantity += qty
			it.UpdatedAt = now
			return *it, nil
		}
	}
	it := &model.CartItem{
		ID:              uuid.New(),
		CartID:          cartID,
		ProductID:       productID,
		Quantity:        qty,
		PriceAtAddition: unitPrice,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	s.cartItems[it.ID] = it
	return *it, nil
}

func (r *carts) SetItemQuantity(_ context.Context, cartID, itemID uuid.UUID, qty int) (model.CartItem, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.cartItems[itemID]
	if !ok || it.CartID != cartID {
		return model.CartItem{}, repo.ErrNotFound
	}
	it.Quantity = qty
	it.UpdatedAt = s.tick()
	return *it, nil
}

func (r *carts) DeleteItem(_ context.Context, cartID, itemID uuid.UUID) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.cartItems[itemID]
	if !ok || it.CartID != cartID {
		return repo.ErrNotFound
	}
	delete(s.cartItems, itemID)
	return nil
}

func (r *carts) Convert(_ context.Context, cartID uuid.UUID) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, it := range s.cartItems {
		if it.CartID == cartID {
			delete(s.cartItems, id)
		}
	}
	if c, ok := s.carts[cartID]; ok {
		c.Status = model.CartConverted
		c.UpdatedAt = s.tick()
	}
	return nil
}

type orders Store

func (r *orders) CreateWithItems(_ context.Context, o *model.Order, items []model.OrderItem) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range items {
		p, ok := s.products[it.ProductID]
		if !ok || p.Stock < it.Quantity {
			return &repo.StockError{ProductID: it.ProductID, Requested: it.Quantity}
		}
	}
	for _, it := range items {
		s.products[it.ProductID].Stock -= it.Quantity
	}
	o.ID = uuid.New()
	o.CreatedAt = s.tick()
	o.UpdatedAt = o.CreatedAt
	for i := range items {
		items[i].ID = uuid.New()
		items[i].OrderID = o.ID
	}
	cp := *o
	s.orders[o.ID] = &cp
	s.items[o.ID] = append([]model.OrderItem(nil), items...)
	return nil
}

func (r *orders) DeleteWithRestock(_ context.Context, orderID uuid.UUID, items []model.OrderItem) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.orders, orderID)
	delete(s.items, orderID)
	for _, it := range items {
		if p, ok := s.products[it.ProductID]; ok {
			p.Stock += it.Quantity
		}
	}
	return nil
}

func (r *orders) SetPaymentIntent(_ context.Context, orderID uuid.UUID, intentID string) error {
	return r.update(orderID, func(o *model.Order) { o.PaymentIntentID = &intentID })
}

func (r *orders) GetByID(_ context.Context, id uuid.UUID) (model.Order, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return model.Order{}, repo.ErrNotFound
	}
	return *o, nil
}

func (r *orders) GetForUser(ctx context.Context, id, userID uuid.UUID) (model.Order, error) {
	o, err := r.GetByID(ctx, id)
	if err != nil {
		return model.Order{}, err
	}
	if o.UserID != userID {
		return model.Order{}, repo.ErrNotFound
	}
	return o, nil
}

func (r *orders) GetByPaymentIntent(_ context.Context, intentID string) (model.Order, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.PaymentIntentID != nil && *o.PaymentIntentID == intentID {
			return *o, nil
		}
	}
	return model.Order{}, repo.ErrNotFound
}

func (r *orders) ListItems(_ context.Context, orderID uuid.UUID) ([]model.OrderItem, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	items := append([]model.OrderItem{}, s.items[orderID]...)
	sort.Slice(items, func(i, j int) bool { return items[i].ProductName < items[j].ProductName })
	return items, nil
}

func (r *orders) ListForUser(_ context.Context, userID uuid.UUID) ([]model.Order, error) {
	return r.list(func(o *model.Order) bool { return o.UserID == userID }, 0, 0), nil
}

func (r *orders) ListAll(_ context.Context, limit, offset int) ([]model.Order, error) {
	return r.list(func(*model.Order) bool { return true }, limit, offset), nil
}

func (r *orders) list(keep func(o *model.Order) bool, limit, offset int) []model.Order {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Order, 0)
	for _, o := range s.orders {
		if keep(o) {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, limit, offset)
}

func (r *orders) RevertToPending(_ context.Context, id uuid.UUID) (bool, error) {
	changed := false
	err := r.update(id, func(o *model.Order) {
		if o.Status != model.OrderPaid {
			o.Status = model.OrderPendingPayment
			changed = true
		}
	})
	if err == repo.ErrNotFound {
		return false, nil
	}
	return changed, err
}

func (r *orders) update(id uuid.UUID, fn func(o *model.Order)) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return repo.ErrNotFound
	}
	fn(o)
	o.UpdatedAt = s.tick()
	return nil
}

type payments Store

func (r *payments) Create(_ context.Context, p *model.Payment) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paymentFor(p.OrderID, p.Gateway) != nil {
		return repo.ErrConflict
	}
	s.insertPayment(p)
	return nil
}

func (s *Store) insertPayment(p *model.Payment) {
	if len(p.RawResponse) == 0 {
		p.RawResponse = json.RawMessage(`{}`)
	}
	p.ID = uuid.New()
	p.CreatedAt = s.tick()
	p.UpdatedAt = p.CreatedAt
	cp := *p
	s.payments[p.ID] = &cp
}

func (s *Store) paymentFor(orderID uuid.UUID, gateway string) *model.Payment {
	for _, p := range s.payments {
		if p.OrderID == orderID && p.Gateway == gateway {
			return p
		}
	}
	return nil
}

func (r *payments) GetForOrder(_ context.Context, orderID uuid.UUID, gateway string) (model.Payment, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if p := s.paymentFor(orderID, gateway); p != nil {
		return *p, nil
	}
	return model.Payment{}, repo.ErrNotFound
}

func (r *payments) FindOrCreate(_ context.Context, p model.Payment) (model.Payment, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing := s.paymentFor(p.OrderID, p.Gateway); existing != nil {
		return *existing, nil
	}
	p.TransactionID = nil
	s.insertPayment(&p)
	return p, nil
}

func (r *payments) SettleCapture(_ context.Context, paymentID uuid.UUID, transactionID string, event json.RawMessage) (model.Payment, bool, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[paymentID]
	if !ok {
		return model.Payment{}, false, repo.ErrNotFound
	}
	if !repo.CanCapture(p.Status) {
		if p.TransactionID == nil && transactionID != "" {
			p.TransactionID = &transactionID
		}
		p.RawResponse = appendEvent(p.RawResponse, event)
		p.UpdatedAt = s.tick()
		return *p, false, nil
	}

	o, ok := s.orders[p.OrderID]
	if !ok {
		return model.Payment{}, false, repo.ErrNotFound
	}
	now := s.tick()
	p.Status = model.PaymentCaptured
	if transactionID != "" {
		p.TransactionID = &transactionID
	}
	p.RawResponse = appendEvent(p.RawResponse, event)
	p.UpdatedAt = now
	o.Status = model.OrderPaid
	o.UpdatedAt = now
	for _, it := range s.items[o.ID] {
		if prod, ok := s.products[it.ProductID]; ok {
			prod.Stock -= it.Quantity
			if prod.Stock < 0 {
				prod.Stock = 0
			}
			prod.UpdatedAt = now
		}
	}
	return *p, true, nil
}

func (r *payments) SetStatus(_ context.Context, paymentID uuid.UUID, status string, event json.RawMessage) (model.Payment, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[paymentID]
	if !ok {
		return model.Payment{}, repo.ErrNotFound
	}
	switch {
	case p.Status == model.PaymentRefunded:
	case p.Status == model.PaymentCaptured && status != model.PaymentRefunded:
	default:
		p.Status = status
	}
	p.RawResponse = appendEvent(p.RawResponse, event)
	p.UpdatedAt = s.tick()
	return *p, nil
}

func (r *payments) AppendEvent(_ context.Context, paymentID uuid.UUID, event json.RawMessage) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[paymentID]
	if !ok {
		return repo.ErrNotFound
	}
	p.RawResponse = appendEvent(p.RawResponse, event)
	return nil
}

func appendEvent(raw, event json.RawMessage) json.RawMessage {
	doc := map[string]json.RawMessage{}
	_ = json.Unmarshal(raw, &doc)
	var events []json.RawMessage
	if existing, ok := doc["events"]; ok {
		_ = json.Unmarshal(existing, &events)
	}
	if len(event) == 0 {
		event = json.RawMessage(`{}`)
	}
	events = append(events, event)
	encoded, _ := json.Marshal(events)
	doc["events"] = encoded
	out, _ := json.Marshal(doc)
	return out
}

func page[T any](in []T, limit, offset int) []T {
	if offset > len(in) {
		return in[:0]
	}
	in = in[offset:]
	if limit > 0 && limit < len(in) {
		in = in[:limit]
	}
	return in
}
