package handlers

import (
	"github.com/gofiber/fiber/v2"

	"storefront/internal/domain"
	applog "storefront/internal/log"
	"storefront/internal/services"
	"storefront/internal/validate"
)

type AdminHandler struct {
	Order *services.OrderService
	Inv   *services.InventoryService
}

// GET /api/v1/admin/orders?status=&paymentStatus=&userId=&limit=&skip=
func (h *AdminHandler) Orders(c *fiber.Ctx) error {
	f := domain.OrderFilter{
		Status:        domain.OrderStatus(c.Query("status")),
		PaymentStatus: domain.PaymentStatus(c.Query("paymentStatus")),
		Limit:         c.QueryInt("limit", 20),
		Skip:          c.QueryInt("skip", 0),
	}
	if f.Status != "" {
		var ok bool
		if f.Status, ok = validate.OrderStatus(string(f.Status)); !ok {
			return badRequest(c, "status")
		}
	}
	if f.PaymentStatus != "" {
		var ok bool
		if f.PaymentStatus, ok = validate.PaymentStatus(string(f.PaymentStatus)); !ok {
			return badRequest(c, "paymentStatus")
		}
	}
	if uid := c.Query("userId"); uid != "" {
		var ok bool
		if f.UserID, ok = validate.ID(uid); !ok {
			return badRequest(c, "userId")
		}
	}
	if f.Limit < 1 || f.Limit > 100 || f.Skip < 0 {
		return badRequest(c, "paging")
	}

	orders, total, err := h.Order.ListAllOrders(c.UserContext(), f, caller(c))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"orders": orders, "total": total})
}

// GET /api/v1/admin/stats
func (h *AdminHandler) Stats(c *fiber.Ctx) error {
	st, err := h.Order.Stats(c.UserContext(), caller(c))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(st)
}

type stockRequest struct {
	ProductID string `json:"productId"`
	Stock     *int   `json:"stock"`
}

// PUT /api/v1/admin/stock
func (h *AdminHandler) SetStock(c *fiber.Ctx) error {
	var req stockRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "body")
	}
	pid, ok := validate.ID(req.ProductID)
	if !ok {
		return badRequest(c, "productId")
	}
	if req.Stock == nil || *req.Stock < 0 {
		return badRequest(c, "stock")
	}
	if err := h.Inv.SetStock(c.UserContext(), pid, *req.Stock, caller(c)); err != nil {
		applog.Error(c, "admin.inventory.save.fail", err, map[string]any{"product": pid, "qty": *req.Stock})
		return fail(c, err)
	}
	applog.Audit(c, "admin.inventory.save", map[string]any{"product": pid, "qty": *req.Stock})
	return c.JSON(services.Band(*req.Stock))
}

// POST /api/v1/admin/restorations finishes stock restoration left pending by failed cancels.
func (h *AdminHandler) Restorations(c *fiber.Ctx) error {
	n, err := h.Order.ResumeRestorations(c.UserContext())
	if err != nil {
		return fail(c, err)
	}
	applog.Audit(c, "admin.restorations.resume", map[string]any{"restored": n})
	return c.JSON(fiber.Map{"restored": n})
}
