package cart

import (
	"context"
	"errors"
	"fmt"

	"github.com/annavaram/storefront/internal/apperr"
	"github.com/annavaram/storefront/internal/model"
	"github.com/annavaram/storefront/internal/repo"
	"github.com/google/uuid"
)

var (
	ErrProductUnavailable = apperr.New(apperr.NotFound, "product_unavailable", "product not found or unavailable")
	ErrInvalidQuantity    = apperr.New(apperr.Validation, "invalid_quantity", "quantity must be at least 1")
	ErrNotEnoughStock     = apperr.New(apperr.Validation, "not_enough_stock", "requested quantity exceeds available stock")
	ErrItemNotFound       = apperr.New(apperr.NotFound, "cart_item_not_found", "cart item not found")
)

// ProductLookup reads catalog rows
type ProductLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (model.Product, error)
}

// Service owns the active cart of each user
type Service struct {
	carts    repo.CartRepo
	products ProductLookup
}

// NewService creates a cart service
func NewService(carts repo.CartRepo, products ProductLookup) *Service {
	return &Service{carts: carts, products: products}
}

// GetOrCreateActive returns the user's active cart, creating one if needed
func (s *Service) GetOrCreateActive(ctx context.Context, userID uuid.UUID) (model.Cart, error) {
	c, err := s.carts.GetOrCreateActive(ctx, userID)
	if err != nil {
		return model.Cart{}, fmt.Errorf("get active cart: %w", err)
	}
	return c, nil
}

// BuildSnapshot prices the cart's current lines
func (s *Service) BuildSnapshot(ctx context.Context, cartID uuid.UUID) (Snapshot, error) {
	lines, err := s.carts.ListLines(ctx, cartID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load cart lines: %w", err)
	}
	return NewSnapshot(cartID, lines), nil
}

// Current returns the snapshot of the user's active cart
func (s *Service) Current(ctx context.Context, userID uuid.UUID) (Snapshot, error) {
	c, err := s.GetOrCreateActive(ctx, userID)
	if err != nil {
		return Snapshot{}, err
	}
	return s.BuildSnapshot(ctx, c.ID)
}

// Clear empties the active cart and marks it converted. A user without an
// active cart is left as is.
func (s *Service) Clear(ctx context.Context, userID uuid.UUID) error {
	c, err := s.carts.FindActive(ctx, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("find active cart: %w", err)
	}
	if err := s.carts.Convert(ctx, c.ID); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}

// AddItem adds qty of a product, merging with an existing line
func (s *Service) AddItem(ctx context.Context, userID, productID uuid.UUID, qty int) (Snapshot, error) {
	if qty < 1 {
		return Snapshot{}, ErrInvalidQuantity
	}
	p, err := s.activeProduct(ctx, productID)
	if err != nil {
		return Snapshot{}, err
	}
	c, err := s.GetOrCreateActive(ctx, userID)
	if err != nil {
		return Snapshot{}, err
	}
	lines, err := s.carts.ListLines(ctx, c.ID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load cart lines: %w", err)
	}
	inCart := 0
	for _, l := range lines {
		if l.Item.ProductID == productID {
			inCart = l.Item.Quantity
		}
	}
	if inCart+qty > p.Stock {
		return Snapshot{}, ErrNotEnoughStock.WithMessage("only %d of %s available", p.Stock, p.Name)
	}
	if _, err := s.carts.AddItem(ctx, c.ID, productID, qty, p.Price); err != nil {
		return Snapshot{}, fmt.Errorf("add cart item: %w", err)
	}
	return s.BuildSnapshot(ctx, c.ID)
}

// UpdateItem sets the quantity of a line
func (s *Service) UpdateItem(ctx context.Context, userID, itemID uuid.UUID, qty int) (Snapshot, error) {
	if qty < 1 {
		return Snapshot{}, ErrInvalidQuantity
	}
	c, err := s.GetOrCreateActive(ctx, userID)
	if err != nil {
		return Snapshot{}, err
	}
	item, err := s.carts.GetItem(ctx, c.ID, itemID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return Snapshot{}, ErrItemNotFound
		}
		return Snapshot{}, fmt.Errorf("load cart item: %w", err)
	}
	p, err := s.activeProduct(ctx, item.ProductID)
	if err != nil {
		return Snapshot{}, err
	}
	if qty > p.Stock {
		return Snapshot{}, ErrNotEnoughStock.WithMessage("only %d of %s available", p.Stock, p.Name)
	}
	if _, err := s.carts.SetItemQuantity(ctx, c.ID, itemID, qty); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return Snapshot{}, ErrItemNotFound
		}
		return Snapshot{}, fmt.Errorf("update cart item: %w", err)
	}
	return s.BuildSnapshot(ctx, c.ID)
}

// RemoveItem deletes a line
func (s *Service) RemoveItem(ctx context.Context, userID, itemID uuid.UUID) (Snapshot, error) {
	c, err := s.GetOrCreateActive(ctx, userID)
	if err != nil {
		return Snapshot{}, err
	}
	if err := s.carts.DeleteItem(ctx, c.ID, itemID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return Snapshot{}, ErrItemNotFound
		}
		return Snapshot{}, fmt.Errorf("remove cart item: %w", err)
	}
	return s.BuildSnapshot(ctx, c.ID)
}

func (s *Service) activeProduct(ctx context.Context, id uuid.UUID) (model.Product, error) {
	p, err := s.products.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return model.Product{}, ErrProductUnavailable
		}
		return model.Product{}, fmt.Errorf("load product: %w", err)
	}
	if !p.IsActive {
		return model.Product{}, ErrProductUnavailable
	}
	return p, nil
}
