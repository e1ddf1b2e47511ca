package repos

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"storefront/internal/domain"
)

type CartRepo struct{ q sqlx.ExtContext }

func (r *CartRepo) ensureCart(ctx context.Context, userID string, now time.Time) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO carts(user_id, created_at, updated_at) VALUES(?,?,?)
		ON CONFLICT(user_id) DO UPDATE SET updated_at = excluded.updated_at
	`, userID, now, now)
	return err
}

func (r *CartRepo) GetCart(ctx context.Context, userID string) ([]domain.CartLine, error) {
	var out []domain.CartLine
	err := sqlx.SelectContext(ctx, r.q, &out, `
	  SELECT product_id, quantity
	  FROM cart_items
	  WHERE user_id = ?
	  ORDER BY added_at, product_id
	`, userID)
	return out, err
}

func (r *CartRepo) UpsertLine(ctx context.Context, userID, productID string, qty int) error {
	now := time.Now().UTC()
	if err := r.ensureCart(ctx, userID, now); err != nil {
		return err
	}
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO cart_items(user_id, product_id, quantity, added_at)
		VALUES(?,?,?,?)
		ON CONFLICT(user_id, product_id) DO UPDATE SET quantity = excluded.quantity
	`, userID, productID, qty, now)
	return err
}

func (r *CartRepo) RemoveLine(ctx context.Context, userID, productID string) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM cart_items WHERE user_id = ? AND product_id = ?`, userID, productID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return r.ensureCart(ctx, userID, time.Now().UTC())
}

func (r *CartRepo) ClearCart(ctx context.Context, userID string) error {
	if _, err := r.q.ExecContext(ctx, `DELETE FROM cart_items WHERE user_id = ?`, userID); err != nil {
		return err
	}
	return r.ensureCart(ctx, userID, time.Now().UTC())
}

func (r *CartRepo) ConsumeLines(ctx context.Context, userID string, lines []domain.CartLine) error {
	for _, l := range lines {
		if _, err := r.q.ExecContext(ctx, `
			DELETE FROM cart_items WHERE user_id = ? AND product_id = ? AND quantity <= ?
		`, userID, l.ProductID, l.Quantity); err != nil {
			return err
		}
		if _, err := r.q.ExecContext(ctx, `
			UPDATE cart_items SET quantity = quantity - ?
			WHERE user_id = ? AND product_id = ? AND quantity > ?
		`, l.Quantity, userID, l.ProductID, l.Quantity); err != nil {
			return err
		}
	}
	return r.ensureCart(ctx, userID, time.Now().UTC())
}
