package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorKindsMatch(t *testing.T) {
	err := fmt.Errorf("place: %w", NotFound("product", "p1"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatal("wrapped NotFound should match ErrNotFound")
	}
	if errors.Is(err, ErrForbidden) {
		t.Fatal("NotFound must not match Forbidden")
	}
	if KindOf(err) != KindNotFound {
		t.Fatalf("want NOT_FOUND, got %q", KindOf(err))
	}
}

func TestOutOfStockError(t *testing.T) {
	var err error = &OutOfStockError{Lines: []InsufficientLine{{ProductID: "a", Requested: 2, Available: 1}}}
	if !errors.Is(err, ErrOutOfStock) {
		t.Fatal("OutOfStockError should match ErrOutOfStock")
	}
	if KindOf(err) != KindOutOfStock {
		t.Fatalf("want OUT_OF_STOCK, got %q", KindOf(err))
	}
	if err.Error() != "out of stock: a (need 2, have 1)" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestTransientUnwraps(t *testing.T) {
	base := errors.New("connection reset")
	err := Transient("orders.insert", base)
	if !errors.Is(err, base) || !errors.Is(err, ErrTransientStorage) {
		t.Fatal("transient should match both its cause and ErrTransientStorage")
	}
}

func TestUnitPricePrefersDiscount(t *testing.T) {
	p := Product{Price: mustDec("10.00")}
	if !p.UnitPrice().Equal(mustDec("10")) {
		t.Fatal("no discount: want price")
	}
	p.DiscountPrice.Decimal, p.DiscountPrice.Valid = mustDec("7.50"), true
	if !p.UnitPrice().Equal(mustDec("7.5")) {
		t.Fatal("discount set: want discount price")
	}
	p.DiscountPrice.Decimal = mustDec("0")
	if !p.UnitPrice().Equal(mustDec("10")) {
		t.Fatal("zero discount: want price")
	}
}
