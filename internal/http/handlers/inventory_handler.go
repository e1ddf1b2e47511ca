package handlers

import (
	"github.com/gofiber/fiber/v2"

	"storefront/internal/services"
	"storefront/internal/validate"
)

type InventoryHandler struct {
	Inv *services.InventoryService
}

func (h *InventoryHandler) Check(c *fiber.Ctx) error {
	productID, ok := validate.ID(c.Query("productId"))
	if !ok {
		return badRequest(c, "productId")
	}
	a, err := h.Inv.CheckAvailability(c.UserContext(), productID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(a)
}
