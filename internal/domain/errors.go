package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is the stable, machine-readable class of a service error.
type Kind string

const (
	KindEmptyCart         Kind = "EMPTY_CART"
	KindOutOfStock        Kind = "OUT_OF_STOCK"
	KindNotFound          Kind = "NOT_FOUND"
	KindForbidden         Kind = "FORBIDDEN"
	KindInvalidTransition Kind = "INVALID_TRANSITION"
	KindNotCancellable    Kind = "NOT_CANCELLABLE"
	KindInvalidInput      Kind = "INVALID_INPUT"
	KindConflict          Kind = "CONFLICT"
	KindTransientStorage  Kind = "TRANSIENT_STORAGE"
)

// Error is the service-boundary error. Two Errors match under errors.Is when
// their kinds are equal, so the sentinels below can be used as targets.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrEmptyCart         = &Error{Kind: KindEmptyCart, Message: "cart is empty"}
	ErrOutOfStock        = &Error{Kind: KindOutOfStock, Message: "some items are out of stock"}
	ErrNotFound          = &Error{Kind: KindNotFound, Message: "not found"}
	ErrForbidden         = &Error{Kind: KindForbidden, Message: "forbidden"}
	ErrInvalidTransition = &Error{Kind: KindInvalidTransition, Message: "invalid status transition"}
	ErrNotCancellable    = &Error{Kind: KindNotCancellable, Message: "order cannot be cancelled in its current status"}
	ErrInvalidInput      = &Error{Kind: KindInvalidInput, Message: "invalid input"}
	ErrConflict          = &Error{Kind: KindConflict, Message: "conflicting request in progress"}
	ErrTransientStorage  = &Error{Kind: KindTransientStorage, Message: "storage unavailable"}
)

func NotFound(what, id string) error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s %s not found", what, id)}
}

func Forbidden(msg string) error {
	return &Error{Kind: KindForbidden, Message: msg}
}

func InvalidInput(msg string) error {
	return &Error{Kind: KindInvalidInput, Message: msg}
}

func InvalidTransition(from, to OrderStatus) error {
	return &Error{Kind: KindInvalidTransition, Message: fmt.Sprintf("cannot move order from %s to %s", from, to)}
}

func NotCancellable(status OrderStatus) error {
	return &Error{Kind: KindNotCancellable, Message: fmt.Sprintf("order cannot be cancelled while %s", status)}
}

func Conflict(msg string) error {
	return &Error{Kind: KindConflict, Message: msg}
}

// Transient wraps an underlying store failure.
func Transient(op string, err error) error {
	return &Error{Kind: KindTransientStorage, Message: op, Err: err}
}

// InsufficientLine names one cart line that the catalog could not satisfy.
type InsufficientLine struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

// OutOfStockError lists every insufficient line of a rejected placement.
type OutOfStockError struct {
	Lines []InsufficientLine
}

func (e *OutOfStockError) Error() string {
	names := make([]string, 0, len(e.Lines))
	for _, l := range e.Lines {
		names = append(names, fmt.Sprintf("%s (need %d, have %d)", l.ProductID, l.Requested, l.Available))
	}
	return "out of stock: " + strings.Join(names, ", ")
}

func (e *OutOfStockError) Is(target error) bool { return target == ErrOutOfStock }

// KindOf returns the kind of err, or "" when err is not a service error.
func KindOf(err error) Kind {
	var oos *OutOfStockError
	if errors.As(err, &oos) {
		return KindOutOfStock
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
