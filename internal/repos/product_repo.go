package repos

import (
	"context"
	"strings"

	"github.com/jmoiron/sqlx"

	"storefront/internal/domain"
)

// ProductRepo is the catalog store: product records and their stock counters.
type ProductRepo struct{ q sqlx.ExtContext }

const productCols = `
    id, category_id, name, description, price, discount_price, stock, active,
    created_at, updated_at`

func (r *ProductRepo) ListProducts(ctx context.Context, pq ProductQuery) ([]domain.Product, error) {
	where := `active = 1`
	args := []any{}
	if pq.Q != "" {
		where += ` AND (LOWER(name) LIKE ? OR LOWER(description) LIKE ?)`
		like := "%" + strings.ToLower(pq.Q) + "%"
		args = append(args, like, like)
	}
	if pq.CategoryID != "" {
		where += ` AND category_id = ?`
		args = append(args, pq.CategoryID)
	}
	if pq.Limit <= 0 {
		pq.Limit = 12
	}
	query := `
  SELECT` + productCols + `
  FROM products
  WHERE ` + where + `
  ORDER BY created_at DESC, id
  LIMIT ? OFFSET ?`
	args = append(args, pq.Limit, pq.Offset)

	var out []domain.Product
	err := sqlx.SelectContext(ctx, r.q, &out, query, args...)
	return out, err
}

func (r *ProductRepo) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	var p domain.Product
	err := sqlx.GetContext(ctx, r.q, &p, `
  SELECT`+productCols+`
  FROM products
  WHERE id = ?
`, id)
	return p, notFound(err)
}
