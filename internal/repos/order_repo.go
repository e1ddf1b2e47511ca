package repos

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"storefront/internal/domain"
)

type OrderRepo struct{ q sqlx.ExtContext }

// orderRow is the orders table as stored; shipping_address is a JSON document.
type orderRow struct {
	ID              string          `db:"id"`
	UserID          string          `db:"user_id"`
	TotalAmount     decimal.Decimal `db:"total_amount"`
	ShippingAddress string          `db:"shipping_address"`
	PaymentMethod   string          `db:"payment_method"`
	PaymentStatus   string          `db:"payment_status"`
	TransactionID   string          `db:"transaction_id"`
	OrderStatus     string          `db:"order_status"`
	StockRestored   bool            `db:"stock_restored"`
	CreatedAt       time.Time       `db:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at"`
}

type itemRow struct {
	OrderID string `db:"order_id"`
	domain.LineItem
}

const orderCols = `id, user_id, total_amount, shipping_address, payment_method, payment_status,
    transaction_id, order_status, stock_restored, created_at, updated_at`

func (r orderRow) toDomain() (domain.Order, error) {
	o := domain.Order{
		ID:            r.ID,
		UserID:        r.UserID,
		TotalAmount:   r.TotalAmount,
		PaymentMethod: domain.PaymentMethod(r.PaymentMethod),
		PaymentStatus: domain.PaymentStatus(r.PaymentStatus),
		TransactionID: r.TransactionID,
		OrderStatus:   domain.OrderStatus(r.OrderStatus),
		StockRestored: r.StockRestored,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
	if err := json.Unmarshal([]byte(r.ShippingAddress), &o.ShippingAddress); err != nil {
		return domain.Order{}, fmt.Errorf("order %s shipping address: %w", r.ID, err)
	}
	return o, nil
}

// InsertOrder writes the header and line items. Callers run it inside InTx.
func (r *OrderRepo) InsertOrder(ctx context.Context, o domain.Order) (string, error) {
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

	if _, err := r.q.ExecContext(ctx, `
	  INSERT INTO orders
	    (id, user_id, total_amount, shipping_address, payment_method, payment_status,
	     transaction_id, order_status, stock_restored, created_at, updated_at)
	  VALUES (?,?,?,?,?,?,?,?,?,?,?)
	`, o.ID, o.UserID, o.TotalAmount.String(), string(addr), string(o.PaymentMethod),
		string(o.PaymentStatus), o.TransactionID, string(o.OrderStatus), o.StockRestored,
		o.CreatedAt, o.UpdatedAt); err != nil {
		return "", err
	}

	for i, li := range o.LineItems {
		if _, err := r.q.ExecContext(ctx, `
		  INSERT INTO order_items(order_id, position, product_id, name, quantity, unit_price, line_total)
		  VALUES(?, ?, ?, ?, ?, ?, ?)
		`, o.ID, i, li.ProductID, li.Name, li.Quantity, li.UnitPrice.String(), li.LineTotal.String()); err != nil {
			return "", err
		}
	}
	return o.ID, nil
}

func (r *OrderRepo) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	var row orderRow
	if err := sqlx.GetContext(ctx, r.q, &row, `SELECT `+orderCols+` FROM orders WHERE id = ?`, id); err != nil {
		return domain.Order{}, notFound(err)
	}
	orders, err := r.withItems(ctx, []orderRow{row})
	if err != nil {
		return domain.Order{}, err
	}
	return orders[0], nil
}

// withItems converts rows and attaches their line items in one query.
func (r *OrderRepo) withItems(ctx context.Context, rows []orderRow) ([]domain.Order, error) {
	out := make([]domain.Order, 0, len(rows))
	if len(rows) == 0 {
		return out, nil
	}
	ids := make([]string, 0, len(rows))
	idx := make(map[string]int, len(rows))
	for _, row := range rows {
		o, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		idx[o.ID] = len(out)
		ids = append(ids, o.ID)
		out = append(out, o)
	}

	query, args, err := sqlx.In(`
	  SELECT order_id, product_id, name, quantity, unit_price, line_total
	  FROM order_items
	  WHERE order_id IN (?)
	  ORDER BY order_id, position
	`, ids)
	if err != nil {
		return nil, err
	}
	var items []itemRow
	if err := sqlx.SelectContext(ctx, r.q, &items, r.q.Rebind(query), args...); err != nil {
		return nil, err
	}
	for _, it := range items {
		i := idx[it.OrderID]
		out[i].LineItems = append(out[i].LineItems, it.LineItem)
	}
	return out, nil
}

func (r *OrderRepo) UpdateOrderFields(ctx context.Context, id string, p domain.OrderPatch) error {
	var (
		set   []string
		where = []string{"id = ?"}
		args  []any
		wargs = []any{id}
	)
	if p.OrderStatus != nil {
		set = append(set, "order_status = ?")
		args = append(args, string(*p.OrderStatus))
	}
	if p.PaymentStatus != nil {
		set = append(set, "payment_status = ?")
		args = append(args, string(*p.PaymentStatus))
	}
	if p.TransactionID != nil {
		set = append(set, "transaction_id = ?")
		args = append(args, *p.TransactionID)
	}
	if p.StockRestored != nil {
		set = append(set, "stock_restored = ?")
		args = append(args, *p.StockRestored)
	}
	if len(set) == 0 {
		return fmt.Errorf("update order %s: empty patch", id)
	}
	set = append(set, "updated_at = ?")
	args = append(args, time.Now().UTC())

	if p.WhereStatus != nil {
		where = append(where, "order_status = ?")
		wargs = append(wargs, string(*p.WhereStatus))
	}
	if p.WherePaymentStatus != nil {
		where = append(where, "payment_status = ?")
		wargs = append(wargs, string(*p.WherePaymentStatus))
	}
	if p.WhereStockRestored != nil {
		where = append(where, "stock_restored = ?")
		wargs = append(wargs, *p.WhereStockRestored)
	}

	query := `UPDATE orders SET ` + strings.Join(set, ", ") + ` WHERE ` + strings.Join(where, " AND ")
	res, err := r.q.ExecContext(ctx, query, append(args, wargs...)...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *OrderRepo) ListOrders(ctx context.Context, f domain.OrderFilter) ([]domain.Order, int, error) {
	where := []string{"1 = 1"}
	var args []any
	if f.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.Status != "" {
		where = append(where, "order_status = ?")
		args = append(args, string(f.Status))
	}
	if f.PaymentStatus != "" {
		where = append(where, "payment_status = ?")
		args = append(args, string(f.PaymentStatus))
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := sqlx.GetContext(ctx, r.q, &total, `SELECT COUNT(*) FROM orders WHERE `+cond, args...); err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	var rows []orderRow
	if err := sqlx.SelectContext(ctx, r.q, &rows, `
	  SELECT `+orderCols+`
	  FROM orders
	  WHERE `+cond+`
	  ORDER BY created_at DESC, id
	  LIMIT ? OFFSET ?
	`, append(args, limit, f.Skip)...); err != nil {
		return nil, 0, err
	}
	orders, err := r.withItems(ctx, rows)
	return orders, total, err
}

func (r *OrderRepo) PendingRestorations(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	var ids []string
	err := sqlx.SelectContext(ctx, r.q, &ids, `
	  SELECT id FROM orders
	  WHERE order_status = 'cancelled' AND stock_restored = 0
	  ORDER BY updated_at
	  LIMIT ?
	`, limit)
	return ids, err
}

// Stats aggregates in Go because money is stored as decimal text.
func (r *OrderRepo) Stats(ctx context.Context, now time.Time) (domain.OrderStats, error) {
	var rows []struct {
		Status        string          `db:"order_status"`
		PaymentStatus string          `db:"payment_status"`
		Total         decimal.Decimal `db:"total_amount"`
		Restored      bool            `db:"stock_restored"`
		CreatedAt     time.Time       `db:"created_at"`
	}
	if err := sqlx.SelectContext(ctx, r.q, &rows, `
	  SELECT order_status, payment_status, total_amount, stock_restored, created_at FROM orders
	`); err != nil {
		return domain.OrderStats{}, err
	}

	rows2 := make([]domain.StatsRow, 0, len(rows))
	for _, x := range rows {
		rows2 = append(rows2, domain.StatsRow{
			Status:        domain.OrderStatus(x.Status),
			PaymentStatus: domain.PaymentStatus(x.PaymentStatus),
			Total:         x.Total,
			StockRestored: x.Restored,
			CreatedAt:     x.CreatedAt,
		})
	}
	return domain.Summarize(rows2, now), nil
}
