package repos

import (
	"context"

	"github.com/jmoiron/sqlx"

	"storefront/internal/domain"
)

func (r *ProductRepo) ListCategories(ctx context.Context) ([]domain.Category, error) {
	var out []domain.Category
	err := sqlx.SelectContext(ctx, r.q, &out, `
  SELECT id, name
  FROM categories
  ORDER BY name
`)
	return out, err
}
