package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"storefront/internal/domain"
	applog "storefront/internal/log"
	"storefront/internal/services"
	"storefront/internal/validate"
)

type OrderHandler struct {
	Order *services.OrderService
}

type placeRequest struct {
	ShippingAddress domain.ShippingAddress `json:"shippingAddress"`
	PaymentMethod   string                 `json:"paymentMethod"`
	TransactionID   string                 `json:"transactionId"`
}

// Place checks out the caller's cart. POST /api/v1/orders
func (h *OrderHandler) Place(c *fiber.Ctx) error {
	var req placeRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "body")
	}
	addr, bad := validate.ShippingAddress(req.ShippingAddress)
	if len(bad) > 0 {
		applog.Security(c, "validation.fail", map[string]any{"fields": bad})
		return fail(c, domain.InvalidInput("invalid shipping address: "+strings.Join(bad, ", ")))
	}
	method, ok := validate.PaymentMethod(req.PaymentMethod)
	if !ok {
		return badRequest(c, "paymentMethod")
	}
	in := services.PlaceOrderInput{
		UserID:          currentUser(c).ID,
		ShippingAddress: addr,
		PaymentMethod:   method,
		TransactionID:   strings.TrimSpace(req.TransactionID),
	}
	if raw := c.Get("Idempotency-Key"); raw != "" {
		if in.IdempotencyKey, ok = validate.IdempotencyKey(raw); !ok {
			return badRequest(c, "Idempotency-Key")
		}
	}

	o, err := h.Order.PlaceOrder(c.UserContext(), in)
	if err != nil {
		return fail(c, err)
	}
	c.Location("/order/" + o.ID)
	return c.Status(fiber.StatusCreated).JSON(o)
}

// List returns the caller's own orders, newest first.
func (h *OrderHandler) List(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 20)
	skip := c.QueryInt("skip", 0)
	if limit < 1 || limit > 100 || skip < 0 {
		return badRequest(c, "paging")
	}
	orders, total, err := h.Order.ListUserOrders(c.UserContext(), currentUser(c).ID, limit, skip)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"orders": orders, "total": total})
}

func (h *OrderHandler) Get(c *fiber.Ctx) error {
	id, ok := validate.ID(c.Params("id"))
	if !ok {
		return badRequest(c, "id")
	}
	o, err := h.Order.GetOrder(c.UserContext(), id, caller(c))
	if err != nil {
		if domain.KindOf(err) == domain.KindNotFound {
			applog.Security(c, "access.denied.order", map[string]any{"order_id": id})
		}
		return fail(c, err)
	}
	return c.JSON(o)
}

func (h *OrderHandler) Cancel(c *fiber.Ctx) error {
	id, ok := validate.ID(c.Params("id"))
	if !ok {
		return badRequest(c, "id")
	}
	o, err := h.Order.CancelOrder(c.UserContext(), id, caller(c))
	if err != nil {
		if domain.KindOf(err) == domain.KindForbidden {
			applog.Security(c, "access.denied.order", map[string]any{"order_id": id, "op": "cancel"})
		}
		return fail(c, err)
	}
	applog.Audit(c, "order.cancel", map[string]any{"order_id": id, "stock_restored": o.StockRestored})
	return c.JSON(o)
}

type statusRequest struct {
	Status        string `json:"status"`
	TransactionID string `json:"transactionId"`
}

// Status moves an order along its lifecycle. PUT /api/v1/orders/:id/status
func (h *OrderHandler) Status(c *fiber.Ctx) error {
	id, ok := validate.ID(c.Params("id"))
	if !ok {
		return badRequest(c, "id")
	}
	var req statusRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "body")
	}
	to, ok := validate.OrderStatus(req.Status)
	if !ok {
		return badRequest(c, "status")
	}
	o, err := h.Order.UpdateOrderStatus(c.UserContext(), id, to, caller(c))
	if err != nil {
		return fail(c, err)
	}
	applog.Audit(c, "admin.orders.status", map[string]any{"order_id": id, "status": to})
	return c.JSON(o)
}

// Payment records a payment outcome. PUT /api/v1/orders/:id/payment
func (h *OrderHandler) Payment(c *fiber.Ctx) error {
	id, ok := validate.ID(c.Params("id"))
	if !ok {
		return badRequest(c, "id")
	}
	var req statusRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "body")
	}
	to, ok := validate.PaymentStatus(req.Status)
	if !ok {
		return badRequest(c, "status")
	}
	o, err := h.Order.UpdatePaymentStatus(c.UserContext(), id, to, strings.TrimSpace(req.TransactionID), caller(c))
	if err != nil {
		return fail(c, err)
	}
	applog.Audit(c, "admin.orders.payment", map[string]any{"order_id": id, "status": to})
	return c.JSON(o)
}

// View renders the confirmation page. GET /order/:id
func (h *OrderHandler) View(c *fiber.Ctx) error {
	id, ok := validate.ID(c.Params("id"))
	if !ok {
		return notFoundPage(c, "Order not found")
	}
	if currentUser(c) == nil {
		return notFoundPage(c, "Order not found")
	}
	o, err := h.Order.GetOrder(c.UserContext(), id, caller(c))
	if err != nil {
		if domain.KindOf(err) == domain.KindNotFound {
			applog.Security(c, "access.denied.order", map[string]any{"order_id": id})
			return notFoundPage(c, "Order not found")
		}
		applog.Error(c, "order.view.fail", err, map[string]any{"order_id": id})
		return c.Status(fiber.StatusInternalServerError).Render("notfound", fiber.Map{"Message": "Could not load your order"})
	}
	return render(c, "order", fiber.Map{"Order": o, "PayOnDelivery": o.PaymentMethod == domain.PaymentCOD})
}
