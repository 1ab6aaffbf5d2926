package handlers

import (
	"context"
	"net/http"

	"github.com/annavaram/storefront/internal/cart"
	"github.com/annavaram/storefront/internal/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// CartService is the cart behaviour the cart endpoints need
type CartService interface {
	Current(ctx context.Context, userID uuid.UUID) (cart.Snapshot, error)
	AddItem(ctx context.Context, userID, productID uuid.UUID, qty int) (cart.Snapshot, error)
	UpdateItem(ctx context.Context, userID, itemID uuid.UUID, qty int) (cart.Snapshot, error)
	RemoveItem(ctx context.Context, userID, itemID uuid.UUID) (cart.Snapshot, error)
}

// CartHandler handles the signed-in user's cart
type CartHandler struct {
	carts CartService
}

// NewCartHandler creates a new cart handler
func NewCartHandler(carts CartService) *CartHandler {
	return &CartHandler{carts: carts}
}

type addItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type updateItemRequest struct {
	Quantity int `json:"quantity"`
}

// HandleGet handles GET /cart
func (h *CartHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	snap, err := h.carts.Current(r.Context(), userID)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

// HandleAddItem handles POST /cart/items
func (h *CartHandler) HandleAddItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req addItemRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	productID, err := uuid.Parse(req.ProductID)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "product_id must be a valid id")
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}

	snap, err := h.carts.AddItem(r.Context(), userID, productID, req.Quantity)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

// HandleUpdateItem handles PATCH /cart/items/{itemID}
func (h *CartHandler) HandleUpdateItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	itemID, err := uuid.Parse(chi.URLParam(r, "itemID"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid item id")
		return
	}
	var req updateItemRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	snap, err := h.carts.UpdateItem(r.Context(), userID, itemID, req.Quantity)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

// HandleRemoveItem handles DELETE /cart/items/{itemID}
func (h *CartHandler) HandleRemoveItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	itemID, err := uuid.Parse(chi.URLParam(r, "itemID"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid item id")
		return
	}

	snap, err := h.carts.RemoveItem(r.Context(), userID, itemID)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}
