package handlers

import (
	"net/http"
	"time"

	"github.com/annavaram/storefront/internal/middleware"
	"github.com/annavaram/storefront/internal/model"
	"github.com/annavaram/storefront/internal/order"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// OrderHandler handles checkout and order history
type OrderHandler struct {
	orders *order.Orchestrator
}

// NewOrderHandler creates a new order handler
func NewOrderHandler(orders *order.Orchestrator) *OrderHandler {
	return &OrderHandler{orders: orders}
}

type createOrderRequest struct {
	ShippingAddress model.ShippingAddress `json:"shipping_address"`
	Notes           string                `json:"notes"`
}

type orderResponse struct {
	ID              string                `json:"id"`
	UserID          string                `json:"user_id"`
	Status          string                `json:"status"`
	TotalAmount     int64                 `json:"total_amount"`
	Currency        string                `json:"currency"`
	ShippingAddress model.ShippingAddress `json:"shipping_address"`
	Notes           string                `json:"notes,omitempty"`
	PaymentIntentID *string               `json:"payment_intent_id,omitempty"`
	CreatedAt       time.Time             `json:"created_at"`
	UpdatedAt       time.Time             `json:"updated_at"`
}

type orderItemResponse struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	UnitPrice   int64  `json:"unit_price"`
	Quantity    int    `json:"quantity"`
	Subtotal    int64  `json:"subtotal"`
}

type paymentResponse struct {
	ID            string    `json:"id"`
	Gateway       string    `json:"gateway"`
	Status        string    `json:"status"`
	Amount        int64     `json:"amount"`
	Currency      string    `json:"currency"`
	TransactionID *string   `json:"transaction_id,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type orderDetailResponse struct {
	Order   orderResponse         `json:"order"`
	Items   []orderItemResponse   `json:"items"`
	Payment *paymentResponse      `json:"payment,omitempty"`
	Gateway *order.CheckoutHandle `json:"gateway,omitempty"`
}

func newOrderResponse(o model.Order) orderResponse {
	return orderResponse{
		ID:              o.ID.String(),
		UserID:          o.UserID.String(),
		Status:          o.Status,
		TotalAmount:     o.TotalAmount,
		Currency:        o.Currency,
		ShippingAddress: o.ShippingAddress,
		Notes:           o.Notes,
		PaymentIntentID: o.PaymentIntentID,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
}

func newOrderItems(items []model.OrderItem) []orderItemResponse {
	out := make([]orderItemResponse, 0, len(items))
	for _, it := range items {
		out = append(out, orderItemResponse{
			ProductID:   it.ProductID.String(),
			ProductName: it.ProductName,
			UnitPrice:   it.UnitPrice,
			Quantity:    it.Quantity,
			Subtotal:    it.Subtotal,
		})
	}
	return out
}

func newPaymentResponse(p model.Payment) *paymentResponse {
	return &paymentResponse{
		ID:            p.ID.String(),
		Gateway:       p.Gateway,
		Status:        p.Status,
		Amount:        p.Amount,
		Currency:      p.Currency,
		TransactionID: p.TransactionID,
		UpdatedAt:     p.UpdatedAt,
	}
}

func newOrderList(orders []model.Order) []orderResponse {
	out := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, newOrderResponse(o))
	}
	return out
}

// HandleCreate handles POST /orders
func (h *OrderHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req createOrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	checkout, err := h.orders.CreateOrder(r.Context(), *user, req.ShippingAddress, req.Notes)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, orderDetailResponse{
		Order:   newOrderResponse(checkout.Order),
		Items:   newOrderItems(checkout.Items),
		Payment: newPaymentResponse(checkout.Payment),
		Gateway: checkout.Gateway,
	})
}

// HandleList handles GET /orders
func (h *OrderHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	orders, err := h.orders.ListOrders(r.Context(), userID)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"orders": newOrderList(orders)})
}

// HandleGet handles GET /orders/{orderID}
func (h *OrderHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	orderID, err := uuid.Parse(chi.URLParam(r, "orderID"))
	if err != nil {
		respondWithError(w, http.StatusNotFound, "order not found")
		return
	}

	detail, err := h.orders.GetOrder(r.Context(), userID, orderID)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	resp := orderDetailResponse{
		Order: newOrderResponse(detail.Order),
		Items: newOrderItems(detail.Items),
	}
	if detail.Payment != nil {
		resp.Payment = newPaymentResponse(*detail.Payment)
	}
	respondJSON(w, http.StatusOK, resp)
}

// HandleAdminList handles GET /admin/orders (admin only)
func (h *OrderHandler) HandleAdminList(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r, 50)
	orders, err := h.orders.ListAllOrders(r.Context(), limit, offset)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"orders": newOrderList(orders), "limit": limit, "offset": offset})
}
