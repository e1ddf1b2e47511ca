package services

import (
	"context"

	"storefront/internal/domain"
	"storefront/internal/repos"
)

type CatalogService struct {
	Store repos.Store
}

func NewCatalogService(store repos.Store) *CatalogService {
	return &CatalogService{Store: store}
}

func (s *CatalogService) ListCategories(ctx context.Context) ([]domain.Category, error) {
	cats, err := s.Store.Catalog().ListCategories(ctx)
	return cats, storeErr("list categories", err)
}

// ListProducts pages through active products, optionally filtered by category and a search term.
func (s *CatalogService) ListProducts(ctx context.Context, catID, q string, page, pageSize int) ([]domain.Product, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 12
	}
	offset := (page - 1) * pageSize
	ps, err := s.Store.Catalog().ListProducts(ctx, repos.ProductQuery{
		CategoryID: catID, Q: q, Limit: pageSize, Offset: offset,
	})
	if ps == nil {
		ps = []domain.Product{}
	}
	return ps, storeErr("list products", err)
}

func (s *CatalogService) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	p, err := s.Store.Catalog().GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, lookupErr("get product", "product", id, err)
	}
	if !p.Active {
		return domain.Product{}, domain.NotFound("product", id)
	}
	return p, nil
}
