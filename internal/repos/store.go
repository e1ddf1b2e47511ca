package repos

import (
	"context"
	"errors"
	"time"

	"storefront/internal/domain"
)

// ErrNotFound is returned when a lookup or guarded update matches no row.
var ErrNotFound = errors.New("not found")

type ProductQuery struct {
	CategoryID string
	Q          string
	Limit      int
	Offset     int
}

type Catalog interface {
	ListCategories(ctx context.Context) ([]domain.Category, error)
	ListProducts(ctx context.Context, q ProductQuery) ([]domain.Product, error)
	GetProduct(ctx context.Context, id string) (domain.Product, error)
	// TryDecrementStock subtracts qty only if at least qty units are in stock.
	// It reports false, with no change, when stock is insufficient.
	TryDecrementStock(ctx context.Context, id string, qty int) (bool, error)
	IncrementStock(ctx context.Context, id string, qty int) error
	SetStock(ctx context.Context, id string, qty int) error
}

type Carts interface {
	GetCart(ctx context.Context, userID string) ([]domain.CartLine, error)
	// UpsertLine sets the quantity of a line, creating the cart and the line as needed.
	UpsertLine(ctx context.Context, userID, productID string, qty int) error
	RemoveLine(ctx context.Context, userID, productID string) error
	ClearCart(ctx context.Context, userID string) error
	// ConsumeLines subtracts checked-out quantities, deleting lines that reach zero.
	// Lines added or raised after the cart was read keep the difference.
	ConsumeLines(ctx context.Context, userID string, lines []domain.CartLine) error
}

type Ledger interface {
	InsertOrder(ctx context.Context, o domain.Order) (string, error)
	GetOrder(ctx context.Context, id string) (domain.Order, error)
	// UpdateOrderFields applies patch and returns ErrNotFound if the id or a guard did not match.
	UpdateOrderFields(ctx context.Context, id string, patch domain.OrderPatch) error
	ListOrders(ctx context.Context, f domain.OrderFilter) ([]domain.Order, int, error)
	// PendingRestorations lists cancelled orders whose stock has not been put back yet.
	PendingRestorations(ctx context.Context, limit int) ([]string, error)
	Stats(ctx context.Context, now time.Time) (domain.OrderStats, error)
}

type Users interface {
	ByEmail(ctx context.Context, email string) (*domain.User, error)
	ByID(ctx context.Context, id string) (*domain.User, error)
	BindSession(ctx context.Context, sid, userID string) error
	SessionUser(ctx context.Context, sid string) (*domain.User, error)
	UnbindSession(ctx context.Context, sid string) error
}

// Store groups the collaborators of the order core. InTx runs fn against a Store
// bound to a single storage transaction; fn's error rolls everything back.
type Store interface {
	Catalog() Catalog
	Carts() Carts
	Orders() Ledger
	Users() Users
	InTx(ctx context.Context, fn func(Store) error) error
	Ping(ctx context.Context) error
	Close() error
}
