package repos

import (
	"context"
	"time"
)

// TryDecrementStock atomically subtracts qty units if enough stock exists.
func (r *ProductRepo) TryDecrementStock(ctx context.Context, id string, qty int) (bool, error) {
	res, err := r.q.ExecContext(ctx, `
		UPDATE products
		SET stock = stock - ?, updated_at = ?
		WHERE id = ? AND stock >= ?
	`, qty, time.Now().UTC(), id, qty)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *ProductRepo) IncrementStock(ctx context.Context, id string, qty int) error {
	return r.exec1(ctx, `UPDATE products SET stock = stock + ?, updated_at = ? WHERE id = ?`,
		qty, time.Now().UTC(), id)
}

// SetStock overwrites the stock counter (admin restock).
func (r *ProductRepo) SetStock(ctx context.Context, id string, qty int) error {
	return r.exec1(ctx, `UPDATE products SET stock = ?, updated_at = ? WHERE id = ?`,
		qty, time.Now().UTC(), id)
}

func (r *ProductRepo) exec1(ctx context.Context, query string, args ...any) error {
	res, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrNotFound
	}
	return nil
}
