package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/annavaram/storefront/internal/model"
	"github.com/annavaram/storefront/internal/repo"
	"github.com/go-chi/chi/v5"
)

// ProductHandler serves the read-only catalog
type ProductHandler struct {
	products repo.ProductRepo
}

// NewProductHandler creates a new product handler
func NewProductHandler(products repo.ProductRepo) *ProductHandler {
	return &ProductHandler{products: products}
}

type productResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	Description string    `json:"description"`
	Price       int64     `json:"price"`
	Stock       int       `json:"stock"`
	Category    string    `json:"category"`
	Images      []string  `json:"images"`
	CreatedAt   time.Time `json:"created_at"`
}

func newProductResponse(p model.Product) productResponse {
	images := p.Images
	if images == nil {
		images = []string{}
	}
	return productResponse{
		ID:          p.ID.String(),
		Name:        p.Name,
		Slug:        p.Slug,
		Description: p.Description,
		Price:       p.Price,
		Stock:       p.Stock,
		Category:    p.Category,
		Images:      images,
		CreatedAt:   p.CreatedAt,
	}
}

// HandleList handles GET /products
func (h *ProductHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r, 24)
	if limit > 100 {
		limit = 100
	}
	products, err := h.products.ListActive(r.Context(), limit, offset)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	out := make([]productResponse, 0, len(products))
	for _, p := range products {
		out = append(out, newProductResponse(p))
	}
	respondJSON(w, http.StatusOK, map[string]any{"products": out, "limit": limit, "offset": offset})
}

// HandleGet handles GET /products/{slug}
func (h *ProductHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	slug := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "slug")))
	p, err := h.products.GetBySlug(r.Context(), slug)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			respondWithError(w, http.StatusNotFound, "product not found")
			return
		}
		respondErr(w, r, err)
		return
	}
	if !p.IsActive {
		respondWithError(w, http.StatusNotFound, "product not found")
		return
	}
	respondJSON(w, http.StatusOK, newProductResponse(p))
}
