// Package cart builds priced views of a user's active cart and edits its lines.
package cart

import (
	"github.com/annavaram/storefront/internal/model"
	"github.com/google/uuid"
)

// SnapshotItem is one cart line with live product details for display and the
// price captured when the line was added for money
type SnapshotItem struct {
	ItemID    uuid.UUID `json:"id"`
	ProductID uuid.UUID `json:"product_id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	Category  string    `json:"category"`
	Images    []string  `json:"images"`
	Stock     int       `json:"stock"`
	IsActive  bool      `json:"is_active"`
	UnitPrice int64     `json:"unit_price"`
	Quantity  int       `json:"quantity"`
	Subtotal  int64     `json:"subtotal"`
}

// Totals are plain sums over the snapshot lines
type Totals struct {
	Quantity int   `json:"quantity"`
	Amount   int64 `json:"amount"`
}

// Snapshot is a read-only priced view of a cart
type Snapshot struct {
	CartID uuid.UUID      `json:"cart_id"`
	Items  []SnapshotItem `json:"items"`
	Totals Totals         `json:"totals"`
}

// Empty reports whether the cart has no lines
func (s Snapshot) Empty() bool { return len(s.Items) == 0 }

// NewSnapshot prices lines without touching storage
func NewSnapshot(cartID uuid.UUID, lines []model.CartLine) Snapshot {
	snap := Snapshot{CartID: cartID, Items: make([]SnapshotItem, 0, len(lines))}
	for _, l := range lines {
		images := l.Product.Images
		if images == nil {
			images = []string{}
		}
		subtotal := l.Item.PriceAtAddition * int64(l.Item.Quantity)
		snap.Items = append(snap.Items, SnapshotItem{
			ItemID:    l.Item.ID,
			ProductID: l.Item.ProductID,
			Name:      l.Product.Name,
			Slug:      l.Product.Slug,
			Category:  l.Product.Category,
			Images:    images,
			Stock:     l.Product.Stock,
			IsActive:  l.Product.IsActive,
			UnitPrice: l.Item.PriceAtAddition,
			Quantity:  l.Item.Quantity,
			Subtotal:  subtotal,
		})
		snap.Totals.Quantity += l.Item.Quantity
		snap.Totals.Amount += subtotal
	}
	return snap
}
