package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"storefront/internal/domain"
	applog "storefront/internal/log"
)

var kindStatus = map[domain.Kind]int{
	domain.KindEmptyCart:         fiber.StatusBadRequest,
	domain.KindOutOfStock:        fiber.StatusConflict,
	domain.KindNotFound:          fiber.StatusNotFound,
	domain.KindForbidden:         fiber.StatusForbidden,
	domain.KindInvalidTransition: fiber.StatusBadRequest,
	domain.KindNotCancellable:    fiber.StatusBadRequest,
	domain.KindInvalidInput:      fiber.StatusBadRequest,
	domain.KindConflict:          fiber.StatusConflict,
	domain.KindTransientStorage:  fiber.StatusServiceUnavailable,
}

type errorBody struct {
	Kind    domain.Kind               `json:"kind"`
	Message string                    `json:"message"`
	Lines   []domain.InsufficientLine `json:"lines,omitempty"`
}

// fail writes err as {"error": {...}}. Storage and unknown errors are logged and
// answered without their internals.
func fail(c *fiber.Ctx, err error) error {
	kind := domain.KindOf(err)
	status, ok := kindStatus[kind]
	if !ok {
		applog.Error(c, "server.error", err, nil)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": errorBody{Kind: "INTERNAL", Message: "Something went wrong. Please try again."},
		})
	}

	body := errorBody{Kind: kind, Message: err.Error()}
	var oos *domain.OutOfStockError
	if errors.As(err, &oos) {
		body.Lines = oos.Lines
		body.Message = domain.ErrOutOfStock.Message
	}
	var de *domain.Error
	if errors.As(err, &de) {
		body.Message = de.Message
	}
	if kind == domain.KindTransientStorage {
		applog.Error(c, "storage.error", err, nil)
		body.Message = "Storage is temporarily unavailable. Please retry."
	}
	return c.Status(status).JSON(fiber.Map{"error": body})
}

func badRequest(c *fiber.Ctx, field string) error {
	applog.Security(c, "validation.fail", map[string]any{"field": field})
	return fail(c, domain.InvalidInput("invalid "+field))
}
