package services_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/domain"
	"storefront/internal/events"
	"storefront/internal/repos"
	"storefront/internal/services"
)

var (
	alice = domain.Caller{UserID: "u-alice", Role: domain.RoleUser}
	bob   = domain.Caller{UserID: "u-bob", Role: domain.RoleUser}
	admin = domain.Caller{UserID: "u-admin", Role: domain.RoleAdmin}
)

type env struct {
	store  *repos.SQLStore
	orders *services.OrderService
	carts  *services.CartService
	inv    *services.InventoryService
	events *events.Recorder
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store, err := repos.OpenDB(":memory:", true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return newEnvWith(t, store, store)
}

// newEnvWith lets the order service see a different Store than the helpers (fault injection).
func newEnvWith(t *testing.T, base *repos.SQLStore, orderStore repos.Store) *env {
	t.Helper()
	rec := &events.Recorder{}
	locks := services.NewKeyedMutex()
	orders := services.NewOrderService(orderStore, locks, rec)
	orders.Restore = services.RestorePolicy{InitialInterval: time.Millisecond, MaxElapsed: 200 * time.Millisecond}
	return &env{
		store:  base,
		orders: orders,
		carts:  services.NewCartService(base, locks),
		inv:    services.NewInventoryService(base),
		events: rec,
	}
}

func (e *env) stock(t *testing.T, id string) int {
	t.Helper()
	p, err := e.store.Catalog().GetProduct(context.Background(), id)
	require.NoError(t, err)
	return p.Stock
}

func (e *env) setStock(t *testing.T, id string, n int) {
	t.Helper()
	require.NoError(t, e.store.Catalog().SetStock(context.Background(), id, n))
}

// putCart writes cart lines directly so tests can hold more than is in stock.
func (e *env) putCart(t *testing.T, user string, lines map[string]int) {
	t.Helper()
	for id, q := range lines {
		require.NoError(t, e.store.Carts().UpsertLine(context.Background(), user, id, q))
	}
}

func (e *env) cartLen(t *testing.T, user string) int {
	t.Helper()
	lines, err := e.store.Carts().GetCart(context.Background(), user)
	require.NoError(t, err)
	return len(lines)
}

func placeInput(user string, m domain.PaymentMethod) services.PlaceOrderInput {
	return services.PlaceOrderInput{
		UserID: user,
		ShippingAddress: domain.ShippingAddress{
			FullName: "Test Buyer", PhoneNumber: "9812345678", Address: "42 Lakeside",
			City: "Pokhara", State: "Gandaki", ZipCode: "33700",
		},
		PaymentMethod: m,
	}
}

func TestPlaceOrder_CommitsDecrementOrderAndCartClear(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	require.NoError(t, e.carts.Add(ctx, "u-alice", "gbc-001", 2))
	require.NoError(t, e.carts.Add(ctx, "u-alice", "snes-001", 1))

	o, err := e.orders.PlaceOrder(ctx, placeInput("u-alice", domain.PaymentCOD))
	require.NoError(t, err)

	assert.Equal(t, domain.StatusPlaced, o.OrderStatus)
	assert.Equal(t, domain.PaymentPending, o.PaymentStatus)
	require.Len(t, o.LineItems, 2)
	assert.Equal(t, "gbc-001", o.LineItems[0].ProductID)
	assert.True(t, o.LineItems[1].UnitPrice.Equal(decimal.RequireFromString("179")), "discount price applies")
	assert.True(t, o.TotalAmount.Equal(decimal.RequireFromString("438.98")), "total %s", o.TotalAmount)

	assert.Equal(t, 6, e.stock(t, "gbc-001"))
	assert.Equal(t, 6, e.stock(t, "snes-001"))
	assert.Equal(t, 0, e.cartLen(t, "u-alice"))

	stored, err := e.orders.GetOrder(ctx, o.ID, alice)
	require.NoError(t, err)
	assert.True(t, stored.TotalAmount.Equal(o.TotalAmount))
	assert.Equal(t, "Pokhara", stored.ShippingAddress.City)

	assert.Equal(t, []string{events.OrderPlaced}, e.events.Types())
}

func TestPlaceOrder_PrepaidStartsPaid(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.putCart(t, "u-alice", map[string]int{"walkman-001": 1})

	in := placeInput("u-alice", domain.PaymentESewa)
	in.TransactionID = "esewa-123"
	o, err := e.orders.PlaceOrder(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPaid, o.PaymentStatus)
	assert.Equal(t, "esewa-123", o.TransactionID)
}

func TestPlaceOrder_EmptyCart(t *testing.T) {
	e := newEnv(t)
	_, err := e.orders.PlaceOrder(context.Background(), placeInput("u-alice", domain.PaymentCOD))
	assert.ErrorIs(t, err, domain.ErrEmptyCart)
}

func TestPlaceOrder_RejectsUnknownPaymentMethod(t *testing.T) {
	e := newEnv(t)
	e.putCart(t, "u-alice", map[string]int{"walkman-001": 1})
	_, err := e.orders.PlaceOrder(context.Background(), placeInput("u-alice", "card"))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Equal(t, 5, e.stock(t, "walkman-001"))
}

// Scenario B: one short line aborts the whole placement.
func TestPlaceOrder_OutOfStockLeavesEverythingUntouched(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.setStock(t, "gbc-001", 1)
	e.setStock(t, "walkman-001", 5)
	e.putCart(t, "u-alice", map[string]int{"gbc-001": 2, "walkman-001": 1})

	_, err := e.orders.PlaceOrder(ctx, placeInput("u-alice", domain.PaymentCOD))
	require.ErrorIs(t, err, domain.ErrOutOfStock)

	var oos *domain.OutOfStockError
	require.True(t, errors.As(err, &oos))
	require.Len(t, oos.Lines, 1)
	assert.Equal(t, domain.InsufficientLine{ProductID: "gbc-001", Name: "Game Boy Color", Requested: 2, Available: 1}, oos.Lines[0])

	assert.Equal(t, 1, e.stock(t, "gbc-001"))
	assert.Equal(t, 5, e.stock(t, "walkman-001"))
	assert.Equal(t, 2, e.cartLen(t, "u-alice"))

	_, total, err := e.orders.ListUserOrders(ctx, "u-alice", 10, 0)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, e.events.Types())
}

func TestPlaceOrder_ReportsEveryShortLine(t *testing.T) {
	e := newEnv(t)
	e.putCart(t, "u-alice", map[string]int{"radio-001": 3, "nes-001": 1, "walkman-001": 1})

	_, err := e.orders.PlaceOrder(context.Background(), placeInput("u-alice", domain.PaymentCOD))
	var oos *domain.OutOfStockError
	require.True(t, errors.As(err, &oos))
	require.Len(t, oos.Lines, 2)
	assert.Equal(t, "nes-001", oos.Lines[0].ProductID)
	assert.Equal(t, 0, oos.Lines[0].Available)
	assert.Equal(t, "radio-001", oos.Lines[1].ProductID)
	assert.Equal(t, 2, oos.Lines[1].Available)
	assert.Equal(t, 5, e.stock(t, "walkman-001"))
}

func TestPlaceOrder_MissingProduct(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.putCart(t, "u-alice", map[string]int{"walkman-001": 1})
	_, err := e.store.DB().Exec(`UPDATE products SET active = 0 WHERE id = 'walkman-001'`)
	require.NoError(t, err)

	_, err = e.orders.PlaceOrder(ctx, placeInput("u-alice", domain.PaymentCOD))
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, 5, e.stock(t, "walkman-001"))
}

// Scenario A: two buyers race for 3 of 5 units; exactly one wins.
func TestPlaceOrder_ConcurrentBuyersNeverOversell(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.setStock(t, "walkman-001", 5)
	e.putCart(t, "u-alice", map[string]int{"walkman-001": 3})
	e.putCart(t, "u-bob", map[string]int{"walkman-001": 3})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, u := range []string{"u-alice", "u-bob"} {
		wg.Add(1)
		go func(i int, u string) {
			defer wg.Done()
			_, errs[i] = e.orders.PlaceOrder(ctx, placeInput(u, domain.PaymentCOD))
		}(i, u)
	}
	wg.Wait()

	wins, losses := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, domain.ErrOutOfStock):
			losses++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, losses)
	assert.Equal(t, 2, e.stock(t, "walkman-001"))
}

func TestPlaceOrder_ManyConcurrentBuyersStockNeverNegative(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.setStock(t, "gbc-001", 4)
	users := []string{"u-alice", "u-bob", "u-admin"}
	for _, u := range users {
		e.putCart(t, u, map[string]int{"gbc-001": 2})
	}

	var wg sync.WaitGroup
	var ok atomic.Int32
	for _, u := range users {
		wg.Add(1)
		go func(u string) {
			defer wg.Done()
			if _, err := e.orders.PlaceOrder(ctx, placeInput(u, domain.PaymentCOD)); err == nil {
				ok.Add(1)
			}
		}(u)
	}
	wg.Wait()

	assert.Equal(t, int32(2), ok.Load())
	assert.Equal(t, 0, e.stock(t, "gbc-001"))
}

// Scenario C: place then cancel returns stock to where it started.
func TestCancelOrder_RoundTripsStock(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.setStock(t, "gbc-001", 10)
	e.putCart(t, "u-alice", map[string]int{"gbc-001": 2})

	o, err := e.orders.PlaceOrder(ctx, placeInput("u-alice", domain.PaymentCOD))
	require.NoError(t, err)
	assert.Equal(t, 8, e.stock(t, "gbc-001"))

	got, err := e.orders.CancelOrder(ctx, o.ID, alice)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, got.OrderStatus)
	assert.True(t, got.StockRestored)
	assert.Equal(t, 10, e.stock(t, "gbc-001"))

	assert.Equal(t, []string{events.OrderPlaced, events.OrderCancelled, events.OrderStockRestored}, e.events.Types())
}

func TestCancelOrder_TwiceRestoresOnce(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.putCart(t, "u-alice", map[string]int{"snes-001": 3})
	o, err := e.orders.PlaceOrder(ctx, placeInput("u-alice", domain.PaymentCOD))
	require.NoError(t, err)
	assert.Equal(t, 4, e.stock(t, "snes-001"))

	_, err = e.orders.CancelOrder(ctx, o.ID, alice)
	require.NoError(t, err)
	_, err = e.orders.CancelOrder(ctx, o.ID, admin)
	assert.ErrorIs(t, err, domain.ErrNotCancellable)
	assert.Equal(t, 7, e.stock(t, "snes-001"))

	n, err := e.orders.ResumeRestorations(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 7, e.stock(t, "snes-001"))
}

func TestCancelOrder_ConcurrentCancelsHaveOneWinner(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.putCart(t, "u-alice", map[string]int{"gbc-001": 2})
	o, err := e.orders.PlaceOrder(ctx, placeInput("u-alice", domain.PaymentCOD))
	require.NoError(t, err)

	var wg sync.WaitGroup
	var ok, notCancellable atomic.Int32
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.orders.CancelOrder(ctx, o.ID, alice)
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, domain.ErrNotCancellable):
				notCancellable.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(3), notCancellable.Load())
	assert.Equal(t, 8, e.stock(t, "gbc-001"))
}

func TestCancelOrder_Authorization(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.putCart(t, "u-alice", map[string]int{"walkman-001": 1})
	o, err := e.orders.PlaceOrder(ctx, placeInput("u-alice", domain.PaymentCOD))
	require.NoError(t, err)

	_, err = e.orders.CancelOrder(ctx, o.ID, bob)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = e.orders.GetOrder(ctx, o.ID, bob)
	assert.ErrorIs(t, err, domain.ErrNotFound, "non-owners must not learn the order exists")
	_, err = e.orders.CancelOrder(ctx, "missing", alice)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = e.orders.CancelOrder(ctx, o.ID, admin)
	require.NoError(t, err)
	assert.Equal(t, 5, e.stock(t, "walkman-001"))
}

// Scenario D plus the full fulfilment path.
func TestUpdateOrderStatus_StateMachine(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.putCart(t, "u-alice", map[string]int{"walkman-001": 1})
	o, err := e.orders.PlaceOrder(ctx, placeInput("u-alice", domain.PaymentCOD))
	require.NoError(t, err)

	_, err = e.orders.UpdateOrderStatus(ctx, o.ID, domain.StatusShipped, admin)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	got, _ := e.orders.GetOrder(ctx, o.ID, admin)
	assert.Equal(t, domain.StatusPlaced, got.OrderStatus)

	_, err = e.orders.UpdateOrderStatus(ctx, o.ID, domain.StatusProcessing, alice)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	for _, to := range []domain.OrderStatus{domain.StatusProcessing, domain.StatusShipped, domain.StatusDelivered} {
		got, err = e.orders.UpdateOrderStatus(ctx, o.ID, to, admin)
		require.NoError(t, err, "to %s", to)
		assert.Equal(t, to, got.OrderStatus)
	}

	_, err = e.orders.CancelOrder(ctx, o.ID, admin)
	assert.ErrorIs(t, err, domain.ErrNotCancellable)
	_, err = e.orders.UpdateOrderStatus(ctx, o.ID, domain.StatusProcessing, admin)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = e.orders.UpdateOrderStatus(ctx, o.ID, "lost", admin)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Equal(t, 4, e.stock(t, "walkman-001"))
}

func TestUpdateOrderStatus_CancelRoutesThroughRestoration(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.putCart(t, "u-alice", map[string]int{"walkman-001": 2})
	o, err := e.orders.PlaceOrder(ctx, placeInput("u-alice", domain.PaymentCOD))
	require.NoError(t, err)
	_, err = e.orders.UpdateOrderStatus(ctx, o.ID, domain.StatusProcessing, admin)
	require.NoError(t, err)

	got, err := e.orders.UpdateOrderStatus(ctx, o.ID, domain.StatusCancelled, alice)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, got.OrderStatus)
	assert.Equal(t, 5, e.stock(t, "walkman-001"))
}

func TestUpdatePaymentStatus(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.putCart(t, "u-alice", map[string]int{"walkman-001": 1})
	o, err := e.orders.PlaceOrder(ctx, placeInput("u-alice", domain.PaymentCOD))
	require.NoError(t, err)

	_, err = e.orders.UpdatePaymentStatus(ctx, o.ID, domain.PaymentPaid, "", alice)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	got, err := e.orders.UpdatePaymentStatus(ctx, o.ID, domain.PaymentFailed, "", admin)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentFailed, got.PaymentStatus)

	got, err = e.orders.UpdatePaymentStatus(ctx, o.ID, domain.PaymentPaid, "txn-9", admin)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPaid, got.PaymentStatus)
	assert.Equal(t, "txn-9", got.TransactionID)

	_, err = e.orders.UpdatePaymentStatus(ctx, o.ID, domain.PaymentFailed, "", admin)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = e.orders.CancelOrder(ctx, o.ID, alice)
	require.NoError(t, err)
	_, err = e.orders.UpdatePaymentStatus(ctx, o.ID, domain.PaymentPaid, "", admin)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestStockAccounting_InitialMinusLiveOrders(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.setStock(t, "gbc-001", 20)

	var kept int
	for i, qty := range []int{1, 2, 3, 4} {
		e.putCart(t, "u-alice", map[string]int{"gbc-001": qty})
		o, err := e.orders.PlaceOrder(ctx, placeInput("u-alice", domain.PaymentCOD))
		require.NoError(t, err)
		if i%2 == 0 {
			_, err = e.orders.CancelOrder(ctx, o.ID, alice)
			require.NoError(t, err)
			continue
		}
		kept += qty
	}
	assert.Equal(t, 20-kept, e.stock(t, "gbc-001"))
}

func TestListAndStats_AdminOnly(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.putCart(t, "u-alice", map[string]int{"walkman-001": 1})
	_, err := e.orders.PlaceOrder(ctx, placeInput("u-alice", domain.PaymentESewa))
	require.NoError(t, err)
	e.putCart(t, "u-bob", map[string]int{"gbc-001": 1})
	_, err = e.orders.PlaceOrder(ctx, placeInput("u-bob", domain.PaymentCOD))
	require.NoError(t, err)

	_, _, err = e.orders.ListAllOrders(ctx, domain.OrderFilter{}, alice)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = e.orders.Stats(ctx, bob)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	all, total, err := e.orders.ListAllOrders(ctx, domain.OrderFilter{PaymentStatus: domain.PaymentPaid}, admin)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, all, 1)
	assert.Equal(t, "u-alice", all[0].UserID)

	_, _, err = e.orders.ListAllOrders(ctx, domain.OrderFilter{Status: "bogus"}, admin)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	st, err := e.orders.Stats(ctx, admin)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Total)
	assert.Equal(t, 2, st.ByStatus["placed"])
	assert.True(t, st.Revenue.Equal(decimal.RequireFromString("89")))

	mine, total, err := e.orders.ListUserOrders(ctx, "u-bob", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, mine, 1)
}

type memIdem struct {
	mu   sync.Mutex
	keys map[string]string
}

func (m *memIdem) Reserve(_ context.Context, user, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := user + ":" + key
	if v, ok := m.keys[k]; ok {
		return v, false, nil
	}
	m.keys[k] = ""
	return "", true, nil
}

func (m *memIdem) Complete(_ context.Context, user, key, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[user+":"+key] = orderID
	return nil
}

func (m *memIdem) Release(_ context.Context, user, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, user+":"+key)
	return nil
}

func TestPlaceOrder_IdempotencyKey(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	idem := &memIdem{keys: map[string]string{}}
	e.orders.Idem = idem

	in := placeInput("u-alice", domain.PaymentCOD)
	in.IdempotencyKey = "k-1"

	_, err := e.orders.PlaceOrder(ctx, in)
	require.ErrorIs(t, err, domain.ErrEmptyCart)
	assert.Empty(t, idem.keys, "failed placement releases its key")

	e.putCart(t, "u-alice", map[string]int{"walkman-001": 2})
	first, err := e.orders.PlaceOrder(ctx, in)
	require.NoError(t, err)

	e.putCart(t, "u-alice", map[string]int{"walkman-001": 1})
	replay, err := e.orders.PlaceOrder(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, first.ID, replay.ID)
	assert.Equal(t, 3, e.stock(t, "walkman-001"), "replay must not decrement again")
	assert.Equal(t, 1, e.cartLen(t, "u-alice"))

	idem.keys["u-alice:k-2"] = ""
	in.IdempotencyKey = "k-2"
	_, err = e.orders.PlaceOrder(ctx, in)
	assert.ErrorIs(t, err, domain.ErrConflict)
}

// flakyStore fails the first n stock increments, inside or outside transactions.
type flakyStore struct {
	repos.Store
	n *atomic.Int32
}

func (f flakyStore) Catalog() repos.Catalog { return flakyCatalog{f.Store.Catalog(), f.n} }

func (f flakyStore) InTx(ctx context.Context, fn func(repos.Store) error) error {
	return f.Store.InTx(ctx, func(tx repos.Store) error { return fn(flakyStore{tx, f.n}) })
}

type flakyCatalog struct {
	repos.Catalog
	n *atomic.Int32
}

var errDisk = errors.New("disk I/O error")

func (c flakyCatalog) IncrementStock(ctx context.Context, id string, qty int) error {
	if c.n.Add(-1) >= 0 {
		return errDisk
	}
	return c.Catalog.IncrementStock(ctx, id, qty)
}

func TestCancelOrder_RetriesTransientRestoreFailures(t *testing.T) {
	ctx := context.Background()
	base, err := repos.OpenDB(":memory:", true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = base.Close() })
	fails := &atomic.Int32{}
	e := newEnvWith(t, base, flakyStore{base, fails})

	e.putCart(t, "u-alice", map[string]int{"gbc-001": 3})
	o, err := e.orders.PlaceOrder(ctx, placeInput("u-alice", domain.PaymentCOD))
	require.NoError(t, err)

	fails.Store(2)
	got, err := e.orders.CancelOrder(ctx, o.ID, alice)
	require.NoError(t, err)
	assert.True(t, got.StockRestored)
	assert.Equal(t, 8, e.stock(t, "gbc-001"))
}

func TestCancelOrder_ExhaustedRetriesAreResumedLater(t *testing.T) {
	ctx := context.Background()
	base, err := repos.OpenDB(":memory:", true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = base.Close() })
	fails := &atomic.Int32{}
	e := newEnvWith(t, base, flakyStore{base, fails})

	e.putCart(t, "u-alice", map[string]int{"gbc-001": 3})
	o, err := e.orders.PlaceOrder(ctx, placeInput("u-alice", domain.PaymentCOD))
	require.NoError(t, err)

	fails.Store(1 << 20)
	got, err := e.orders.CancelOrder(ctx, o.ID, alice)
	require.NoError(t, err, "cancel succeeds even when restoration is deferred")
	assert.Equal(t, domain.StatusCancelled, got.OrderStatus)
	assert.False(t, got.StockRestored)
	assert.Equal(t, 5, e.stock(t, "gbc-001"))

	st, err := e.orders.Stats(ctx, admin)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Unrestored)

	fails.Store(0)
	n, err := e.orders.ResumeRestorations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 8, e.stock(t, "gbc-001"))

	n, err = e.orders.ResumeRestorations(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 8, e.stock(t, "gbc-001"))
}

// flakyIdem fails the first n Complete calls.
type flakyIdem struct {
	*memIdem
	n *atomic.Int32
}

func (f flakyIdem) Complete(ctx context.Context, user, key, orderID string) error {
	if f.n.Add(-1) >= 0 {
		return errDisk
	}
	return f.memIdem.Complete(ctx, user, key, orderID)
}

func TestPlaceOrder_IdempotencyCompleteIsRetried(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	fails := &atomic.Int32{}
	fails.Store(2)
	idem := flakyIdem{&memIdem{keys: map[string]string{}}, fails}
	e.orders.Idem = idem

	in := placeInput("u-alice", domain.PaymentCOD)
	in.IdempotencyKey = "k-retry-1"
	e.putCart(t, "u-alice", map[string]int{"gbc-001": 1})
	first, err := e.orders.PlaceOrder(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, first.ID, idem.keys["u-alice:k-retry-1"])

	e.putCart(t, "u-alice", map[string]int{"gbc-001": 1})
	replay, err := e.orders.PlaceOrder(ctx, in)
	require.NoError(t, err, "a retried key replays the committed order")
	assert.Equal(t, first.ID, replay.ID)
	assert.Equal(t, 7, e.stock(t, "gbc-001"))
}

// failingLedgerStore rejects every order insert, inside or outside transactions.
type failingLedgerStore struct{ repos.Store }

func (f failingLedgerStore) Orders() repos.Ledger { return failingLedger{f.Store.Orders()} }

func (f failingLedgerStore) InTx(ctx context.Context, fn func(repos.Store) error) error {
	return f.Store.InTx(ctx, func(tx repos.Store) error { return fn(failingLedgerStore{tx}) })
}

type failingLedger struct{ repos.Ledger }

func (failingLedger) InsertOrder(context.Context, domain.Order) (string, error) {
	return "", errDisk
}

func TestPlaceOrder_InsertFailureRollsBackStock(t *testing.T) {
	ctx := context.Background()
	base, err := repos.OpenDB(":memory:", true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = base.Close() })
	e := newEnvWith(t, base, failingLedgerStore{base})

	e.putCart(t, "u-alice", map[string]int{"gbc-001": 2, "walkman-001": 1})
	_, err = e.orders.PlaceOrder(ctx, placeInput("u-alice", domain.PaymentCOD))
	require.ErrorIs(t, err, domain.ErrTransientStorage)
	assert.ErrorIs(t, err, errDisk)

	assert.Equal(t, 8, e.stock(t, "gbc-001"))
	assert.Equal(t, 5, e.stock(t, "walkman-001"))
	assert.Equal(t, 2, e.cartLen(t, "u-alice"))
	assert.Empty(t, e.events.Types())
}

// lateCartStore simulates another writer touching the cart right after checkout reads it.
type lateCartStore struct {
	repos.Store
	late func(ctx context.Context, c repos.Carts)
}

func (s lateCartStore) Carts() repos.Carts { return lateCarts{s.Store.Carts(), s.late} }

func (s lateCartStore) InTx(ctx context.Context, fn func(repos.Store) error) error {
	return s.Store.InTx(ctx, func(tx repos.Store) error { return fn(lateCartStore{tx, s.late}) })
}

type lateCarts struct {
	repos.Carts
	late func(ctx context.Context, c repos.Carts)
}

func (c lateCarts) GetCart(ctx context.Context, userID string) ([]domain.CartLine, error) {
	lines, err := c.Carts.GetCart(ctx, userID)
	if err == nil {
		c.late(ctx, c.Carts)
	}
	return lines, err
}

func TestPlaceOrder_KeepsCartChangesMadeDuringCheckout(t *testing.T) {
	ctx := context.Background()
	base, err := repos.OpenDB(":memory:", true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = base.Close() })
	e := newEnvWith(t, base, lateCartStore{base, func(ctx context.Context, c repos.Carts) {
		require.NoError(t, c.UpsertLine(ctx, "u-alice", "walkman-001", 1))
		require.NoError(t, c.UpsertLine(ctx, "u-alice", "gbc-001", 3))
	}})

	e.putCart(t, "u-alice", map[string]int{"gbc-001": 2})
	o, err := e.orders.PlaceOrder(ctx, placeInput("u-alice", domain.PaymentCOD))
	require.NoError(t, err)
	require.Len(t, o.LineItems, 1)
	assert.Equal(t, 2, o.LineItems[0].Quantity)

	lines, err := base.Carts().GetCart(ctx, "u-alice")
	require.NoError(t, err)
	got := map[string]int{}
	for _, l := range lines {
		got[l.ProductID] = l.Quantity
	}
	assert.Equal(t, map[string]int{"gbc-001": 1, "walkman-001": 1}, got)
}
