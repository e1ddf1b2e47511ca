package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"storefront/internal/domain"
	"storefront/internal/repos"
)

type orderRepo struct{ q querier }

const orderCols = `id, user_id, total_amount::text, shipping_address::text, payment_method, payment_status,
	transaction_id, order_status, stock_restored, created_at, updated_at`

func scanOrder(row pgx.Row) (domain.Order, error) {
	var (
		o           domain.Order
		total, addr string
		pm, ps, st  string
	)
	if err := row.Scan(&o.ID, &o.UserID, &total, &addr, &pm, &ps, &o.TransactionID, &st,
		&o.StockRestored, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return domain.Order{}, err
	}
	var err error
	if o.TotalAmount, err = decimal.NewFromString(total); err != nil {
		return domain.Order{}, err
	}
	if err := json.Unmarshal([]byte(addr), &o.ShippingAddress); err != nil {
		return domain.Order{}, fmt.Errorf("order %s shipping address: %w", o.ID, err)
	}
	o.PaymentMethod = domain.PaymentMethod(pm)
	o.PaymentStatus = domain.PaymentStatus(ps)
	o.OrderStatus = domain.OrderStatus(st)
	return o, nil
}

func (r *orderRepo) InsertOrder(ctx context.Context, o domain.Order) (string, error) {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = o.CreatedAt
	}
	addr, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return "", err
	}
	if _, err := r.q.Exec(ctx, `
		INSERT INTO orders(id, user_id, total_amount, shipping_address, payment_method, payment_status,
		                   transaction_id, order_status, stock_restored, created_at, updated_at)
		VALUES ($1,$2,$3::text::numeric,$4::text::jsonb,$5,$6,$7,$8,$9,$10,$11)
	`, o.ID, o.UserID, o.TotalAmount.String(), string(addr), string(o.PaymentMethod), string(o.PaymentStatus),
		o.TransactionID, string(o.OrderStatus), o.StockRestored, o.CreatedAt, o.UpdatedAt); err != nil {
		return "", err
	}

	batch := &pgx.Batch{}
	for i, li := range o.LineItems {
		batch.Queue(`
			INSERT INTO order_items(order_id, position, product_id, name, quantity, unit_price, line_total)
			VALUES ($1,$2,$3,$4,$5,$6::text::numeric,$7::text::numeric)
		`, o.ID, i, li.ProductID, li.Name, li.Quantity, li.UnitPrice.String(), li.LineTotal.String())
	}
	if batch.Len() > 0 {
		if err := r.q.SendBatch(ctx, batch).Close(); err != nil {
			return "", err
		}
	}
	return o.ID, nil
}

func (r *orderRepo) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	o, err := scanOrder(r.q.QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE id = $1`, id))
	if err != nil {
		return domain.Order{}, notFound(err)
	}
	out, err := r.withItems(ctx, []domain.Order{o})
	if err != nil {
		return domain.Order{}, err
	}
	return out[0], nil
}

func (r *orderRepo) withItems(ctx context.Context, orders []domain.Order) ([]domain.Order, error) {
	if len(orders) == 0 {
		return orders, nil
	}
	ids := make([]string, len(orders))
	idx := make(map[string]int, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		idx[o.ID] = i
	}
	rows, err := r.q.Query(ctx, `
		SELECT order_id, product_id, name, quantity, unit_price::text, line_total::text
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, position
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			orderID     string
			li          domain.LineItem
			unit, total string
		)
		if err := rows.Scan(&orderID, &li.ProductID, &li.Name, &li.Quantity, &unit, &total); err != nil {
			return nil, err
		}
		if li.UnitPrice, err = decimal.NewFromString(unit); err != nil {
			return nil, err
		}
		if li.LineTotal, err = decimal.NewFromString(total); err != nil {
			return nil, err
		}
		i := idx[orderID]
		orders[i].LineItems = append(orders[i].LineItems, li)
	}
	return orders, rows.Err()
}

func (r *orderRepo) UpdateOrderFields(ctx context.Context, id string, p domain.OrderPatch) error {
	args := []any{id}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	var set []string
	where := []string{"id = $1"}
	if p.OrderStatus != nil {
		set = append(set, "order_status = "+arg(string(*p.OrderStatus)))
	}
	if p.PaymentStatus != nil {
		set = append(set, "payment_status = "+arg(string(*p.PaymentStatus)))
	}
	if p.TransactionID != nil {
		set = append(set, "transaction_id = "+arg(*p.TransactionID))
	}
	if p.StockRestored != nil {
		set = append(set, "stock_restored = "+arg(*p.StockRestored))
	}
	if len(set) == 0 {
		return fmt.Errorf("update order %s: empty patch", id)
	}
	set = append(set, "updated_at = "+arg(time.Now().UTC()))
	if p.WhereStatus != nil {
		where = append(where, "order_status = "+arg(string(*p.WhereStatus)))
	}
	if p.WherePaymentStatus != nil {
		where = append(where, "payment_status = "+arg(string(*p.WherePaymentStatus)))
	}
	if p.WhereStockRestored != nil {
		where = append(where, "stock_restored = "+arg(*p.WhereStockRestored))
	}
	return exec1(ctx, r.q, `UPDATE orders SET `+strings.Join(set, ", ")+` WHERE `+strings.Join(where, " AND "), args...)
}

func (r *orderRepo) ListOrders(ctx context.Context, f domain.OrderFilter) ([]domain.Order, int, error) {
	var args []any
	where := []string{"TRUE"}
	if f.UserID != "" {
		args = append(args, f.UserID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("order_status = $%d", len(args)))
	}
	if f.PaymentStatus != "" {
		args = append(args, string(f.PaymentStatus))
		where = append(where, fmt.Sprintf("payment_status = $%d", len(args)))
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM orders WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	args = append(args, limit, f.Skip)
	rows, err := r.q.Query(ctx, fmt.Sprintf(`SELECT %s FROM orders WHERE %s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`,
		orderCols, cond, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	orders, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Order, error) { return scanOrder(row) })
	if err != nil {
		return nil, 0, err
	}
	orders, err = r.withItems(ctx, orders)
	return orders, total, err
}

func (r *orderRepo) PendingRestorations(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.q.Query(ctx, `
		SELECT id FROM orders
		WHERE order_status = 'cancelled' AND NOT stock_restored
		ORDER BY updated_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (r *orderRepo) Stats(ctx context.Context, now time.Time) (domain.OrderStats, error) {
	rows, err := r.q.Query(ctx, `SELECT order_status, payment_status, total_amount::text, stock_restored, created_at FROM orders`)
	if err != nil {
		return domain.OrderStats{}, err
	}
	srows, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.StatsRow, error) {
		var (
			s      domain.StatsRow
			st, ps string
			total  string
		)
		if err := row.Scan(&st, &ps, &total, &s.StockRestored, &s.CreatedAt); err != nil {
			return s, err
		}
		s.Status, s.PaymentStatus = domain.OrderStatus(st), domain.PaymentStatus(ps)
		var err error
		s.Total, err = decimal.NewFromString(total)
		return s, err
	})
	if err != nil {
		return domain.OrderStats{}, err
	}
	return domain.Summarize(srows, now), nil
}

var _ repos.Ledger = (*orderRepo)(nil)
