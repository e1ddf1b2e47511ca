package services

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"storefront/internal/domain"
	"storefront/internal/repos"
)

// CartService owns cart mutations. Work for one user is serialized by Locks,
// which it shares with OrderService so a cart cannot change mid-checkout.
type CartService struct {
	Store repos.Store
	Locks *KeyedMutex
}

func NewCartService(store repos.Store, locks *KeyedMutex) *CartService {
	return &CartService{Store: store, Locks: locks}
}

func (s *CartService) product(ctx context.Context, id string) (domain.Product, error) {
	p, err := s.Store.Catalog().GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, lookupErr("get product", "product", id, err)
	}
	if !p.Active {
		return domain.Product{}, domain.NotFound("product", id)
	}
	return p, nil
}

func (s *CartService) lineQty(ctx context.Context, userID, productID string) (int, bool, error) {
	lines, err := s.Store.Carts().GetCart(ctx, userID)
	if err != nil {
		return 0, false, storeErr("load cart", err)
	}
	for _, l := range lines {
		if l.ProductID == productID {
			return l.Quantity, true, nil
		}
	}
	return 0, false, nil
}

func short(p domain.Product, want int) error {
	return &domain.OutOfStockError{Lines: []domain.InsufficientLine{{
		ProductID: p.ID, Name: p.Name, Requested: want, Available: p.Stock,
	}}}
}

// Add puts qty more units of a product in the cart.
func (s *CartService) Add(ctx context.Context, userID, productID string, qty int) error {
	if qty <= 0 {
		return domain.InvalidInput("quantity must be at least 1")
	}
	unlock := s.Locks.Lock(userID)
	defer unlock()

	p, err := s.product(ctx, productID)
	if err != nil {
		return err
	}
	have, _, err := s.lineQty(ctx, userID, productID)
	if err != nil {
		return err
	}
	if have+qty > p.Stock {
		return short(p, have+qty)
	}
	return storeErr("add to cart", s.Store.Carts().UpsertLine(ctx, userID, productID, have+qty))
}

// UpdateQuantity sets a line's quantity; zero removes the line.
func (s *CartService) UpdateQuantity(ctx context.Context, userID, productID string, qty int) error {
	if qty < 0 {
		return domain.InvalidInput("quantity cannot be negative")
	}
	unlock := s.Locks.Lock(userID)
	defer unlock()

	_, ok, err := s.lineQty(ctx, userID, productID)
	if err != nil {
		return err
	}
	if !ok {
		return domain.NotFound("cart item", productID)
	}
	if qty == 0 {
		return s.remove(ctx, userID, productID)
	}
	p, err := s.product(ctx, productID)
	if err != nil {
		return err
	}
	if qty > p.Stock {
		return short(p, qty)
	}
	return storeErr("update cart", s.Store.Carts().UpsertLine(ctx, userID, productID, qty))
}

func (s *CartService) Remove(ctx context.Context, userID, productID string) error {
	unlock := s.Locks.Lock(userID)
	defer unlock()
	return s.remove(ctx, userID, productID)
}

func (s *CartService) remove(ctx context.Context, userID, productID string) error {
	err := s.Store.Carts().RemoveLine(ctx, userID, productID)
	if errors.Is(err, repos.ErrNotFound) {
		return domain.NotFound("cart item", productID)
	}
	return storeErr("remove from cart", err)
}

func (s *CartService) Clear(ctx context.Context, userID string) error {
	unlock := s.Locks.Lock(userID)
	defer unlock()
	return storeErr("clear cart", s.Store.Carts().ClearCart(ctx, userID))
}

// View prices the cart from the live catalog. Lines whose product is gone are skipped.
func (s *CartService) View(ctx context.Context, userID string) (domain.CartView, error) {
	lines, err := s.Store.Carts().GetCart(ctx, userID)
	if err != nil {
		return domain.CartView{}, storeErr("load cart", err)
	}
	cv := domain.CartView{Items: []domain.CartItem{}, Total: decimal.Zero}
	for _, l := range lines {
		p, err := s.Store.Catalog().GetProduct(ctx, l.ProductID)
		if errors.Is(err, repos.ErrNotFound) {
			continue
		}
		if err != nil {
			return domain.CartView{}, storeErr("load product", err)
		}
		unit := p.UnitPrice()
		it := domain.CartItem{
			ProductID:     p.ID,
			Name:          p.Name,
			Price:         unit,
			OriginalPrice: p.Price,
			Quantity:      l.Quantity,
			Stock:         p.Stock,
			ItemTotal:     unit.Mul(decimal.NewFromInt(int64(l.Quantity))),
		}
		cv.Items = append(cv.Items, it)
		cv.Total = cv.Total.Add(it.ItemTotal)
	}
	return cv, nil
}
