package services

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"storefront/internal/domain"
	"storefront/internal/events"
	"storefront/internal/log"
	"storefront/internal/repos"
)

// Idempotency maps a client-supplied key to the order it produced.
type Idempotency interface {
	Reserve(ctx context.Context, userID, key string) (orderID string, reserved bool, err error)
	Complete(ctx context.Context, userID, key, orderID string) error
	Release(ctx context.Context, userID, key string) error
}

type PlaceOrderInput struct {
	UserID          string
	ShippingAddress domain.ShippingAddress
	PaymentMethod   domain.PaymentMethod
	TransactionID   string
	IdempotencyKey  string
}

// RestorePolicy bounds the retries of the compensating stock increment.
type RestorePolicy struct {
	InitialInterval time.Duration
	MaxElapsed      time.Duration
}

func (p RestorePolicy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxElapsed > 0 {
		b.MaxElapsedTime = p.MaxElapsed
	}
	return b
}

type OrderService struct {
	Store    repos.Store
	Locks    *KeyedMutex
	Events   events.Publisher
	Idem     Idempotency
	Restore  RestorePolicy
	Producer string
	Now      func() time.Time
}

func NewOrderService(store repos.Store, locks *KeyedMutex, pub events.Publisher) *OrderService {
	if pub == nil {
		pub = events.LogPublisher{}
	}
	return &OrderService{
		Store:    store,
		Locks:    locks,
		Events:   pub,
		Restore:  RestorePolicy{InitialInterval: 100 * time.Millisecond, MaxElapsed: 10 * time.Second},
		Producer: "storefront",
		Now:      time.Now,
	}
}

var errAlreadyRestored = errors.New("stock already restored")

// PlaceOrder turns the caller's cart into an order. Stock decrements, the order
// insert and the cart clear commit together; any failure leaves all three untouched.
func (s *OrderService) PlaceOrder(ctx context.Context, in PlaceOrderInput) (domain.Order, error) {
	if in.UserID == "" {
		return domain.Order{}, domain.InvalidInput("missing user")
	}
	if !in.PaymentMethod.Valid() {
		return domain.Order{}, domain.InvalidInput("payment method must be cod or esewa")
	}

	if in.IdempotencyKey != "" && s.Idem != nil {
		prev, reserved, err := s.Idem.Reserve(ctx, in.UserID, in.IdempotencyKey)
		if err != nil {
			return domain.Order{}, domain.Transient("idempotency reserve", err)
		}
		if !reserved {
			if prev == "" {
				return domain.Order{}, domain.Conflict("an order with this idempotency key is still being placed")
			}
			log.Op(ctx, "info", "order.place.replay", nil, map[string]any{"order_id": prev})
			o, err := s.Store.Orders().GetOrder(ctx, prev)
			return o, lookupErr("get order", "order", prev, err)
		}
	}

	o, err := s.place(ctx, in)
	if in.IdempotencyKey != "" && s.Idem != nil {
		if err != nil {
			if rerr := s.Idem.Release(ctx, in.UserID, in.IdempotencyKey); rerr != nil {
				log.Op(ctx, "error", "order.place.idem_release", rerr, nil)
			}
		} else if cerr := s.completeWithRetry(ctx, in, o.ID); cerr != nil {
			// the pending marker expires on its own, freeing the key
			log.Op(ctx, "error", "order.place.idem_complete", cerr, map[string]any{"order_id": o.ID})
		}
	}
	if err != nil {
		log.Op(ctx, "warn", "order.place.rejected", err, map[string]any{"user_id": in.UserID, "kind": domain.KindOf(err)})
		return domain.Order{}, err
	}

	log.Op(ctx, "audit", "order.place", nil, map[string]any{
		"order_id": o.ID, "user_id": o.UserID, "total": o.TotalAmount.String(), "lines": len(o.LineItems),
	})
	if env, err := events.Placed(s.Producer, o); err == nil {
		s.publish(ctx, env)
	}
	return o, nil
}

// idemCompleteRetries bounds the retries of recording a key's order id after commit.
const idemCompleteRetries = 3

// completeWithRetry records the placed order against its idempotency key. The order
// is already committed, so it runs detached from the request's cancellation.
func (s *OrderService) completeWithRetry(ctx context.Context, in PlaceOrderInput, orderID string) error {
	ctx = context.WithoutCancel(ctx)
	op := func() error { return s.Idem.Complete(ctx, in.UserID, in.IdempotencyKey, orderID) }
	notify := func(err error, wait time.Duration) {
		log.Op(ctx, "warn", "order.place.idem_complete.retry", err, map[string]any{"order_id": orderID, "wait_ms": wait.Milliseconds()})
	}
	b := backoff.WithMaxRetries(s.Restore.backOff(), idemCompleteRetries)
	return backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify)
}

func (s *OrderService) place(ctx context.Context, in PlaceOrderInput) (domain.Order, error) {
	unlock := s.Locks.Lock(in.UserID)
	defer unlock()

	var placed domain.Order
	err := s.Store.InTx(ctx, func(tx repos.Store) error {
		lines, err := tx.Carts().GetCart(ctx, in.UserID)
		if err != nil {
			return storeErr("load cart", err)
		}
		if len(lines) == 0 {
			return domain.ErrEmptyCart
		}
		sort.Slice(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })

		var (
			items   = make([]domain.LineItem, 0, len(lines))
			short   []domain.InsufficientLine
			total   = decimal.Zero
			catalog = tx.Catalog()
		)
		for _, l := range lines {
			p, err := catalog.GetProduct(ctx, l.ProductID)
			if err != nil {
				return lookupErr("load product", "product", l.ProductID, err)
			}
			if !p.Active {
				return domain.NotFound("product", l.ProductID)
			}
			ok, err := catalog.TryDecrementStock(ctx, p.ID, l.Quantity)
			if err != nil {
				return storeErr("decrement stock", err)
			}
			if !ok {
				short = append(short, domain.InsufficientLine{
					ProductID: p.ID, Name: p.Name, Requested: l.Quantity, Available: p.Stock,
				})
				continue
			}
			unit := p.UnitPrice()
			lineTotal := unit.Mul(decimal.NewFromInt(int64(l.Quantity)))
			total = total.Add(lineTotal)
			items = append(items, domain.LineItem{
				ProductID: p.ID, Name: p.Name, Quantity: l.Quantity, UnitPrice: unit, LineTotal: lineTotal,
			})
		}
		if len(short) > 0 {
			return &domain.OutOfStockError{Lines: short}
		}

		now := s.Now().UTC()
		o := domain.Order{
			ID:              uuid.NewString(),
			UserID:          in.UserID,
			LineItems:       items,
			TotalAmount:     total,
			ShippingAddress: in.ShippingAddress,
			PaymentMethod:   in.PaymentMethod,
			PaymentStatus:   domain.PaymentPending,
			TransactionID:   in.TransactionID,
			OrderStatus:     domain.StatusPlaced,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if in.PaymentMethod.Prepaid() {
			o.PaymentStatus = domain.PaymentPaid
		}
		if _, err := tx.Orders().InsertOrder(ctx, o); err != nil {
			return storeErr("insert order", err)
		}
		if err := tx.Carts().ConsumeLines(ctx, in.UserID, lines); err != nil {
			return storeErr("consume cart", err)
		}
		placed = o
		return nil
	})
	if err != nil {
		return domain.Order{}, storeErr("place order", err)
	}
	return placed, nil
}

// GetOrder returns the order to its owner or an admin. Anyone else sees NotFound.
func (s *OrderService) GetOrder(ctx context.Context, id string, caller domain.Caller) (domain.Order, error) {
	o, err := s.Store.Orders().GetOrder(ctx, id)
	if err != nil {
		return domain.Order{}, lookupErr("get order", "order", id, err)
	}
	if !caller.IsAdmin() && o.UserID != caller.UserID {
		return domain.Order{}, domain.NotFound("order", id)
	}
	return o, nil
}

func (s *OrderService) ListUserOrders(ctx context.Context, userID string, limit, skip int) ([]domain.Order, int, error) {
	orders, total, err := s.Store.Orders().ListOrders(ctx, domain.OrderFilter{UserID: userID, Limit: limit, Skip: skip})
	return orders, total, storeErr("list orders", err)
}

func (s *OrderService) ListAllOrders(ctx context.Context, f domain.OrderFilter, caller domain.Caller) ([]domain.Order, int, error) {
	if !caller.IsAdmin() {
		return nil, 0, domain.Forbidden("admin only")
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, domain.InvalidInput("unknown order status " + string(f.Status))
	}
	if f.PaymentStatus != "" && !f.PaymentStatus.Valid() {
		return nil, 0, domain.InvalidInput("unknown payment status " + string(f.PaymentStatus))
	}
	orders, total, err := s.Store.Orders().ListOrders(ctx, f)
	return orders, total, storeErr("list orders", err)
}

func (s *OrderService) Stats(ctx context.Context, caller domain.Caller) (domain.OrderStats, error) {
	if !caller.IsAdmin() {
		return domain.OrderStats{}, domain.Forbidden("admin only")
	}
	st, err := s.Store.Orders().Stats(ctx, s.Now())
	return st, storeErr("order stats", err)
}

func (s *OrderService) publish(ctx context.Context, env events.Envelope) {
	env.TraceID = log.RequestID(ctx)
	if err := s.Events.Publish(ctx, env); err != nil {
		log.Op(ctx, "error", "order.event.publish", err, map[string]any{"event": env.EventType, "order_id": env.CorrelationID})
	}
}

func (s *OrderService) publishEvent(ctx context.Context, eventType, orderID string, payload any) {
	env, err := events.New(s.Producer, eventType, orderID, payload)
	if err != nil {
		log.Op(ctx, "error", "order.event.encode", err, map[string]any{"event": eventType})
		return
	}
	s.publish(ctx, env)
}
