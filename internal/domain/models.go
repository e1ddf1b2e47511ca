package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Category struct {
	ID   string `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
}

type Product struct {
	ID            string              `db:"id" json:"id"`
	CategoryID    string              `db:"category_id" json:"categoryId"`
	Name          string              `db:"name" json:"name"`
	Description   string              `db:"description" json:"description"`
	Price         decimal.Decimal     `db:"price" json:"price"`
	DiscountPrice decimal.NullDecimal `db:"discount_price" json:"discountPrice"`
	Stock         int                 `db:"stock" json:"stock"`
	Active        bool                `db:"active" json:"active"`
	CreatedAt     time.Time           `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time           `db:"updated_at" json:"updatedAt"`
}

// UnitPrice is the price a buyer pays: the discount price when one is set and positive.
func (p Product) UnitPrice() decimal.Decimal {
	if p.DiscountPrice.Valid && p.DiscountPrice.Decimal.IsPositive() {
		return p.DiscountPrice.Decimal
	}
	return p.Price
}

type Availability struct {
	Status string `json:"status"` // IN_STOCK | LOW_STOCK | OUT_OF_STOCK
	Qty    int    `json:"qty,omitempty"`
}

type CartLine struct {
	ProductID string `db:"product_id" json:"productId"`
	Quantity  int    `db:"quantity" json:"quantity"`
}

// CartItem is a cart line joined with live catalog data for display.
type CartItem struct {
	ProductID     string          `json:"productId"`
	Name          string          `json:"name"`
	Price         decimal.Decimal `json:"price"`
	OriginalPrice decimal.Decimal `json:"originalPrice"`
	Quantity      int             `json:"quantity"`
	Stock         int             `json:"stock"`
	ItemTotal     decimal.Decimal `json:"itemTotal"`
}

type CartView struct {
	Items []CartItem      `json:"items"`
	Total decimal.Decimal `json:"total"`
}

type PaymentMethod string

const (
	PaymentCOD   PaymentMethod = "cod"
	PaymentESewa PaymentMethod = "esewa"
)

func (m PaymentMethod) Valid() bool {
	return m == PaymentCOD || m == PaymentESewa
}

// Prepaid reports whether the method is settled before the order is placed.
// eSewa payments are OTP-verified at checkout; cash on delivery is not.
func (m PaymentMethod) Prepaid() bool { return m == PaymentESewa }

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

type ShippingAddress struct {
	FullName    string `json:"fullName"`
	PhoneNumber string `json:"phoneNumber"`
	Address     string `json:"address"`
	City        string `json:"city"`
	State       string `json:"state"`
	ZipCode     string `json:"zipCode"`
}

type LineItem struct {
	ProductID string          `db:"product_id" json:"productId"`
	Name      string          `db:"name" json:"name"`
	Quantity  int             `db:"quantity" json:"quantity"`
	UnitPrice decimal.Decimal `db:"unit_price" json:"unitPrice"`
	LineTotal decimal.Decimal `db:"line_total" json:"lineTotal"`
}

type Order struct {
	ID              string          `json:"id"`
	UserID          string          `json:"userId"`
	LineItems       []LineItem      `json:"lineItems"`
	TotalAmount     decimal.Decimal `json:"totalAmount"`
	ShippingAddress ShippingAddress `json:"shippingAddress"`
	PaymentMethod   PaymentMethod   `json:"paymentMethod"`
	PaymentStatus   PaymentStatus   `json:"paymentStatus"`
	TransactionID   string          `json:"transactionId,omitempty"`
	OrderStatus     OrderStatus     `json:"orderStatus"`
	StockRestored   bool            `json:"-"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// OrderPatch is a partial update for the ledger. Nil fields are left alone.
// The Where* fields guard the update: it applies only if the stored row still matches.
type OrderPatch struct {
	OrderStatus   *OrderStatus
	PaymentStatus *PaymentStatus
	TransactionID *string
	StockRestored *bool

	WhereStatus        *OrderStatus
	WherePaymentStatus *PaymentStatus
	WhereStockRestored *bool
}

type OrderFilter struct {
	Status        OrderStatus
	PaymentStatus PaymentStatus
	UserID        string
	Limit         int
	Skip          int
}

type OrderStats struct {
	Total      int             `json:"total"`
	Today      int             `json:"today"`
	ByStatus   map[string]int  `json:"byStatus"`
	Revenue    decimal.Decimal `json:"revenue"`
	Monthly    decimal.Decimal `json:"monthlyRevenue"`
	Unrestored int             `json:"pendingRestorations"`
}
