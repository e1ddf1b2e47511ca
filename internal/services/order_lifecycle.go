package services

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"storefront/internal/domain"
	"storefront/internal/events"
	"storefront/internal/log"
	"storefront/internal/repos"
)

// guarded updates that lose a race are retried against the fresh status this many times
const casAttempts = 3

// CancelOrder moves an order to cancelled and puts its stock back.
// The stock restoration is retried; if it still fails the order stays cancelled
// with its stock pending and ResumeRestorations finishes the job.
func (s *OrderService) CancelOrder(ctx context.Context, id string, caller domain.Caller) (domain.Order, error) {
	ledger := s.Store.Orders()
	o, err := ledger.GetOrder(ctx, id)
	if err != nil {
		return domain.Order{}, lookupErr("get order", "order", id, err)
	}
	if !caller.IsAdmin() && o.UserID != caller.UserID {
		return domain.Order{}, domain.Forbidden("only the owner or an admin may cancel this order")
	}

	from := o.OrderStatus
	for attempt := 0; ; attempt++ {
		if !o.OrderStatus.Cancellable() {
			return domain.Order{}, domain.NotCancellable(o.OrderStatus)
		}
		from = o.OrderStatus
		to := domain.StatusCancelled
		err = ledger.UpdateOrderFields(ctx, id, domain.OrderPatch{OrderStatus: &to, WhereStatus: &from})
		if err == nil {
			break
		}
		if !errors.Is(err, repos.ErrNotFound) {
			return domain.Order{}, storeErr("cancel order", err)
		}
		if attempt+1 >= casAttempts {
			return domain.Order{}, domain.Conflict("order changed while cancelling, try again")
		}
		if o, err = ledger.GetOrder(ctx, id); err != nil {
			return domain.Order{}, lookupErr("get order", "order", id, err)
		}
	}

	log.Op(ctx, "audit", "order.cancel", nil, map[string]any{"order_id": id, "from": from, "actor": caller.UserID})
	s.publishEvent(ctx, events.OrderCancelled, id, events.StatusPayload{
		OrderID: id, From: string(from), To: string(domain.StatusCancelled), ActorID: caller.UserID,
	})

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.restoreBudget())
	defer cancel()
	if _, err := s.restoreWithRetry(rctx, id); err != nil {
		log.Op(ctx, "error", "order.restore.deferred", err, map[string]any{"order_id": id})
	}

	fresh, err := ledger.GetOrder(ctx, id)
	if err != nil {
		o.OrderStatus = domain.StatusCancelled
		return o, nil
	}
	return fresh, nil
}

func (s *OrderService) restoreBudget() time.Duration {
	if s.Restore.MaxElapsed > 0 {
		return s.Restore.MaxElapsed + time.Second
	}
	return 16 * time.Second
}

// restoreWithRetry reports whether this call performed the restoration.
func (s *OrderService) restoreWithRetry(ctx context.Context, id string) (bool, error) {
	var restored bool
	op := func() error {
		ok, err := s.restoreStock(ctx, id)
		switch {
		case errors.Is(err, errAlreadyRestored):
			return nil
		case err != nil && domain.KindOf(err) == domain.KindNotFound:
			return backoff.Permanent(err)
		case err != nil:
			return err
		}
		restored = ok
		return nil
	}
	notify := func(err error, wait time.Duration) {
		log.Op(ctx, "warn", "order.restore.retry", err, map[string]any{"order_id": id, "wait_ms": wait.Milliseconds()})
	}
	err := backoff.RetryNotify(op, backoff.WithContext(s.Restore.backOff(), ctx), notify)
	return restored, err
}

// restoreStock flips stockRestored and increments every line in one transaction.
// The flip is guarded on stockRestored=false so a second caller gets errAlreadyRestored.
func (s *OrderService) restoreStock(ctx context.Context, id string) (bool, error) {
	var o domain.Order
	err := s.Store.InTx(ctx, func(tx repos.Store) error {
		var err error
		o, err = tx.Orders().GetOrder(ctx, id)
		if err != nil {
			return lookupErr("get order", "order", id, err)
		}
		if o.OrderStatus != domain.StatusCancelled || o.StockRestored {
			return errAlreadyRestored
		}
		yes, no, cancelled := true, false, domain.StatusCancelled
		err = tx.Orders().UpdateOrderFields(ctx, id, domain.OrderPatch{
			StockRestored:      &yes,
			WhereStockRestored: &no,
			WhereStatus:        &cancelled,
		})
		if errors.Is(err, repos.ErrNotFound) {
			return errAlreadyRestored
		}
		if err != nil {
			return err
		}
		for _, li := range o.LineItems {
			err := tx.Catalog().IncrementStock(ctx, li.ProductID, li.Quantity)
			if errors.Is(err, repos.ErrNotFound) {
				log.Op(ctx, "warn", "order.restore.product_gone", nil, map[string]any{"order_id": id, "product_id": li.ProductID})
				continue
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	log.Op(ctx, "audit", "order.restore", nil, map[string]any{"order_id": id, "lines": len(o.LineItems)})
	s.publishEvent(ctx, events.OrderStockRestored, id, events.StockRestoredPayload{OrderID: id, Items: events.Items(o.LineItems)})
	return true, nil
}

// ResumeRestorations finishes stock restoration for cancelled orders left pending
// by an earlier failure. It returns how many orders it restored.
func (s *OrderService) ResumeRestorations(ctx context.Context) (int, error) {
	ids, err := s.Store.Orders().PendingRestorations(ctx, 100)
	if err != nil {
		return 0, storeErr("pending restorations", err)
	}
	n := 0
	var firstErr error
	for _, id := range ids {
		ok, err := s.restoreWithRetry(ctx, id)
		if err != nil {
			log.Op(ctx, "error", "order.restore.resume", err, map[string]any{"order_id": id})
			if firstErr == nil {
				firstErr = storeErr("restore stock", err)
			}
			continue
		}
		if ok {
			n++
		}
	}
	log.Op(ctx, "info", "order.restore.sweep", firstErr, map[string]any{"pending": len(ids), "restored": n})
	return n, firstErr
}

// UpdateOrderStatus advances an order along the fulfilment path. Cancellation is
// delegated to CancelOrder so it always restores stock.
func (s *OrderService) UpdateOrderStatus(ctx context.Context, id string, to domain.OrderStatus, caller domain.Caller) (domain.Order, error) {
	if to == domain.StatusCancelled {
		return s.CancelOrder(ctx, id, caller)
	}
	if !to.Valid() {
		return domain.Order{}, domain.InvalidInput("unknown order status " + string(to))
	}
	if !caller.IsAdmin() {
		return domain.Order{}, domain.Forbidden("only admins may change order status")
	}

	ledger := s.Store.Orders()
	o, err := ledger.GetOrder(ctx, id)
	if err != nil {
		return domain.Order{}, lookupErr("get order", "order", id, err)
	}
	from := o.OrderStatus
	if !domain.CanTransition(from, to) {
		return domain.Order{}, domain.InvalidTransition(from, to)
	}
	err = ledger.UpdateOrderFields(ctx, id, domain.OrderPatch{OrderStatus: &to, WhereStatus: &from})
	if errors.Is(err, repos.ErrNotFound) {
		if cur, gerr := ledger.GetOrder(ctx, id); gerr == nil && !domain.CanTransition(cur.OrderStatus, to) {
			return domain.Order{}, domain.InvalidTransition(cur.OrderStatus, to)
		}
		return domain.Order{}, domain.Conflict("order changed concurrently, try again")
	}
	if err != nil {
		return domain.Order{}, storeErr("update order status", err)
	}

	log.Op(ctx, "audit", "order.status", nil, map[string]any{"order_id": id, "from": from, "to": to, "actor": caller.UserID})
	s.publishEvent(ctx, events.OrderStatusChanged, id, events.StatusPayload{
		OrderID: id, From: string(from), To: string(to), ActorID: caller.UserID,
	})
	o.OrderStatus = to
	if fresh, err := ledger.GetOrder(ctx, id); err == nil {
		o = fresh
	}
	return o, nil
}

// UpdatePaymentStatus records a payment outcome. Admin only; terminal orders are frozen.
func (s *OrderService) UpdatePaymentStatus(ctx context.Context, id string, to domain.PaymentStatus, transactionID string, caller domain.Caller) (domain.Order, error) {
	if !to.Valid() {
		return domain.Order{}, domain.InvalidInput("unknown payment status " + string(to))
	}
	if !caller.IsAdmin() {
		return domain.Order{}, domain.Forbidden("only admins may change payment status")
	}

	ledger := s.Store.Orders()
	o, err := ledger.GetOrder(ctx, id)
	if err != nil {
		return domain.Order{}, lookupErr("get order", "order", id, err)
	}
	if o.OrderStatus.Terminal() {
		return domain.Order{}, domain.InvalidInput("order is " + string(o.OrderStatus) + " and can no longer change")
	}
	from := o.PaymentStatus
	if !domain.CanTransitionPayment(from, to) {
		return domain.Order{}, domain.InvalidInput("cannot move payment from " + string(from) + " to " + string(to))
	}

	status := o.OrderStatus
	patch := domain.OrderPatch{PaymentStatus: &to, WherePaymentStatus: &from, WhereStatus: &status}
	if transactionID != "" {
		patch.TransactionID = &transactionID
	}
	err = ledger.UpdateOrderFields(ctx, id, patch)
	if errors.Is(err, repos.ErrNotFound) {
		return domain.Order{}, domain.Conflict("order changed concurrently, try again")
	}
	if err != nil {
		return domain.Order{}, storeErr("update payment status", err)
	}

	log.Op(ctx, "audit", "order.payment", nil, map[string]any{"order_id": id, "from": from, "to": to, "actor": caller.UserID})
	s.publishEvent(ctx, events.OrderPaymentUpdate, id, events.PaymentPayload{
		OrderID: id, From: string(from), To: string(to), TransactionID: transactionID,
	})
	if fresh, err := ledger.GetOrder(ctx, id); err == nil {
		return fresh, nil
	}
	o.PaymentStatus = to
	return o, nil
}
