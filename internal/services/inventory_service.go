package services

import (
	"context"
	"errors"

	"storefront/internal/domain"
	"storefront/internal/log"
	"storefront/internal/repos"
)

const lowStockThreshold = 5

type InventoryService struct {
	Store repos.Store
}

func NewInventoryService(store repos.Store) *InventoryService {
	return &InventoryService{Store: store}
}

// Band converts a stock count into IN_STOCK / LOW_STOCK / OUT_OF_STOCK.
func Band(qty int) domain.Availability {
	status := "OUT_OF_STOCK"
	switch {
	case qty >= lowStockThreshold:
		status = "IN_STOCK"
	case qty > 0:
		status = "LOW_STOCK"
	}
	return domain.Availability{Status: status, Qty: qty}
}

// CheckAvailability reads live stock. Unknown products report OUT_OF_STOCK.
func (s *InventoryService) CheckAvailability(ctx context.Context, productID string) (domain.Availability, error) {
	p, err := s.Store.Catalog().GetProduct(ctx, productID)
	if errors.Is(err, repos.ErrNotFound) {
		return Band(0), nil
	}
	if err != nil {
		return domain.Availability{}, storeErr("get product", err)
	}
	if !p.Active {
		return Band(0), nil
	}
	return Band(p.Stock), nil
}

// SetStock overwrites a product's stock count (admin restock).
func (s *InventoryService) SetStock(ctx context.Context, productID string, qty int, caller domain.Caller) error {
	if !caller.IsAdmin() {
		return domain.Forbidden("admin only")
	}
	if qty < 0 {
		return domain.InvalidInput("stock cannot be negative")
	}
	if err := s.Store.Catalog().SetStock(ctx, productID, qty); err != nil {
		return lookupErr("set stock", "product", productID, err)
	}
	log.Op(ctx, "audit", "inventory.set", nil, map[string]any{"product_id": productID, "stock": qty, "actor": caller.UserID})
	return nil
}
