package postgres

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"storefront/internal/domain"
	"storefront/internal/repos"
)

type productRepo struct{ q querier }

const productCols = `id, category_id, name, description, price::text, discount_price::text, stock, active, created_at, updated_at`

func scanProduct(row pgx.Row) (domain.Product, error) {
	var (
		p        domain.Product
		price    string
		discount *string
	)
	if err := row.Scan(&p.ID, &p.CategoryID, &p.Name, &p.Description, &price, &discount,
		&p.Stock, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return domain.Product{}, err
	}
	var err error
	if p.Price, err = decimal.NewFromString(price); err != nil {
		return domain.Product{}, err
	}
	if discount != nil {
		d, err := decimal.NewFromString(*discount)
		if err != nil {
			return domain.Product{}, err
		}
		p.DiscountPrice = decimal.NewNullDecimal(d)
	}
	return p, nil
}

func (r *productRepo) ListCategories(ctx context.Context) ([]domain.Category, error) {
	rows, err := r.q.Query(ctx, `SELECT id, name FROM categories ORDER BY name`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Category, error) {
		var c domain.Category
		err := row.Scan(&c.ID, &c.Name)
		return c, err
	})
}

func (r *productRepo) ListProducts(ctx context.Context, pq repos.ProductQuery) ([]domain.Product, error) {
	where := []string{"active"}
	var args []any
	if pq.Q != "" {
		args = append(args, "%"+strings.ToLower(pq.Q)+"%")
		where = append(where, "(LOWER(name) LIKE $1 OR LOWER(description) LIKE $1)")
	}
	if pq.CategoryID != "" {
		args = append(args, pq.CategoryID)
		where = append(where, "category_id = $"+itoa(len(args)))
	}
	if pq.Limit <= 0 {
		pq.Limit = 12
	}
	args = append(args, pq.Limit, pq.Offset)
	query := `SELECT ` + productCols + ` FROM products WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY created_at DESC, id LIMIT $` + itoa(len(args)-1) + ` OFFSET $` + itoa(len(args))

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Product, error) { return scanProduct(row) })
}

func (r *productRepo) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	p, err := scanProduct(r.q.QueryRow(ctx, `SELECT `+productCols+` FROM products WHERE id = $1`, id))
	return p, notFound(err)
}

func (r *productRepo) TryDecrementStock(ctx context.Context, id string, qty int) (bool, error) {
	ct, err := r.q.Exec(ctx, `
		UPDATE products SET stock = stock - $2, updated_at = $3
		WHERE id = $1 AND stock >= $2
	`, id, qty, time.Now().UTC())
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func (r *productRepo) IncrementStock(ctx context.Context, id string, qty int) error {
	return exec1(ctx, r.q, `UPDATE products SET stock = stock + $2, updated_at = $3 WHERE id = $1`, id, qty, time.Now().UTC())
}

func (r *productRepo) SetStock(ctx context.Context, id string, qty int) error {
	return exec1(ctx, r.q, `UPDATE products SET stock = $2, updated_at = $3 WHERE id = $1`, id, qty, time.Now().UTC())
}

func exec1(ctx context.Context, q querier, sql string, args ...any) error {
	ct, err := q.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return repos.ErrNotFound
	}
	return nil
}

type cartRepo struct{ q querier }

func (r *cartRepo) ensureCart(ctx context.Context, userID string) error {
	now := time.Now().UTC()
	_, err := r.q.Exec(ctx, `
		INSERT INTO carts(user_id, created_at, updated_at) VALUES($1,$2,$2)
		ON CONFLICT (user_id) DO UPDATE SET updated_at = excluded.updated_at
	`, userID, now)
	return err
}

func (r *cartRepo) GetCart(ctx context.Context, userID string) ([]domain.CartLine, error) {
	rows, err := r.q.Query(ctx, `
		SELECT product_id, quantity FROM cart_items
		WHERE user_id = $1
		ORDER BY added_at, product_id
	`, userID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.CartLine, error) {
		var l domain.CartLine
		err := row.Scan(&l.ProductID, &l.Quantity)
		return l, err
	})
}

func (r *cartRepo) UpsertLine(ctx context.Context, userID, productID string, qty int) error {
	if err := r.ensureCart(ctx, userID); err != nil {
		return err
	}
	_, err := r.q.Exec(ctx, `
		INSERT INTO cart_items(user_id, product_id, quantity, added_at) VALUES($1,$2,$3,$4)
		ON CONFLICT (user_id, product_id) DO UPDATE SET quantity = excluded.quantity
	`, userID, productID, qty, time.Now().UTC())
	return err
}

func (r *cartRepo) RemoveLine(ctx context.Context, userID, productID string) error {
	if err := exec1(ctx, r.q, `DELETE FROM cart_items WHERE user_id = $1 AND product_id = $2`, userID, productID); err != nil {
		return err
	}
	return r.ensureCart(ctx, userID)
}

func (r *cartRepo) ClearCart(ctx context.Context, userID string) error {
	if _, err := r.q.Exec(ctx, `DELETE FROM cart_items WHERE user_id = $1`, userID); err != nil {
		return err
	}
	return r.ensureCart(ctx, userID)
}

func (r *cartRepo) ConsumeLines(ctx context.Context, userID string, lines []domain.CartLine) error {
	b := &pgx.Batch{}
	for _, l := range lines {
		b.Queue(`DELETE FROM cart_items WHERE user_id = $1 AND product_id = $2 AND quantity <= $3`,
			userID, l.ProductID, l.Quantity)
		b.Queue(`UPDATE cart_items SET quantity = quantity - $3
			WHERE user_id = $1 AND product_id = $2 AND quantity > $3`,
			userID, l.ProductID, l.Quantity)
	}
	if err := r.q.SendBatch(ctx, b).Close(); err != nil {
		return err
	}
	return r.ensureCart(ctx, userID)
}

type userRepo struct{ q querier }

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Hash, &u.Role); err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (r *userRepo) ByEmail(ctx context.Context, email string) (*domain.User, error) {
	return scanUser(r.q.QueryRow(ctx, `SELECT id,email,name,password_hash,role FROM users WHERE LOWER(email)=LOWER($1)`, email))
}

func (r *userRepo) ByID(ctx context.Context, id string) (*domain.User, error) {
	return scanUser(r.q.QueryRow(ctx, `SELECT id,email,name,password_hash,role FROM users WHERE id=$1`, id))
}

func (r *userRepo) BindSession(ctx context.Context, sid, userID string) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO sessions(id,user_id,last_seen) VALUES($1,$2,now())
		ON CONFLICT (id) DO UPDATE SET user_id=excluded.user_id, last_seen=now()
	`, sid, userID)
	return err
}

func (r *userRepo) SessionUser(ctx context.Context, sid string) (*domain.User, error) {
	return scanUser(r.q.QueryRow(ctx, `
		SELECT u.id,u.email,u.name,u.password_hash,u.role
		FROM sessions s JOIN users u ON u.id=s.user_id
		WHERE s.id=$1`, sid))
}

func (r *userRepo) UnbindSession(ctx context.Context, sid string) error {
	_, err := r.q.Exec(ctx, `UPDATE sessions SET user_id=NULL, last_seen=now() WHERE id=$1`, sid)
	return err
}

func itoa(n int) string { return strconv.Itoa(n) }
