package handlers

import (
	"github.com/gofiber/fiber/v2"

	"storefront/internal/log"
	"storefront/internal/services"
	"storefront/internal/validate"
)

type CartHandler struct {
	Cart *services.CartService
}

type cartLineRequest struct {
	ProductID string `json:"productId" form:"productId"`
	Quantity  int    `json:"quantity" form:"quantity"`
}

func (h *CartHandler) View(c *fiber.Ctx) error {
	cv, err := h.Cart.View(c.UserContext(), currentUser(c).ID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(cv)
}

func (h *CartHandler) parse(c *fiber.Ctx, allowZero bool) (cartLineRequest, error) {
	var req cartLineRequest
	if err := c.BodyParser(&req); err != nil {
		return req, badRequest(c, "body")
	}
	var ok bool
	if req.ProductID, ok = validate.ID(req.ProductID); !ok {
		return req, badRequest(c, "productId")
	}
	if !validate.Qty(req.Quantity, allowZero) {
		return req, badRequest(c, "quantity")
	}
	return req, nil
}

func (h *CartHandler) Add(c *fiber.Ctx) error {
	req, err := h.parse(c, false)
	if err != nil {
		return err
	}
	u := currentUser(c)
	if err := h.Cart.Add(c.UserContext(), u.ID, req.ProductID, req.Quantity); err != nil {
		return fail(c, err)
	}
	log.Info(c, "cart.add", map[string]any{"product_id": req.ProductID, "qty": req.Quantity})
	return h.View(c)
}

func (h *CartHandler) Update(c *fiber.Ctx) error {
	req, err := h.parse(c, true)
	if err != nil {
		return err
	}
	u := currentUser(c)
	if err := h.Cart.UpdateQuantity(c.UserContext(), u.ID, req.ProductID, req.Quantity); err != nil {
		return fail(c, err)
	}
	log.Info(c, "cart.update", map[string]any{"product_id": req.ProductID, "qty": req.Quantity})
	return h.View(c)
}

func (h *CartHandler) Remove(c *fiber.Ctx) error {
	productID, ok := validate.ID(c.Params("productId"))
	if !ok {
		return badRequest(c, "productId")
	}
	if err := h.Cart.Remove(c.UserContext(), currentUser(c).ID, productID); err != nil {
		return fail(c, err)
	}
	return h.View(c)
}

func (h *CartHandler) Clear(c *fiber.Ctx) error {
	if err := h.Cart.Clear(c.UserContext(), currentUser(c).ID); err != nil {
		return fail(c, err)
	}
	return h.View(c)
}
