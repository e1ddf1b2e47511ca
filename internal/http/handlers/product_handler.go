package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"storefront/internal/log"
	"storefront/internal/services"
	"storefront/internal/validate"
)

type ProductHandler struct {
	Catalog *services.CatalogService
}

// List serves browsing and search: ?category=&q=&page=&pageSize=
func (h *ProductHandler) List(c *fiber.Ctx) error {
	catID := strings.TrimSpace(c.Query("category"))
	if catID != "" {
		var ok bool
		if catID, ok = validate.ID(catID); !ok {
			return badRequest(c, "category")
		}
	}
	q := c.Query("q")
	if strings.TrimSpace(q) != "" {
		var ok bool
		if q, ok = validate.Q(q); !ok {
			log.Security(c, "search.q.invalid", map[string]any{"q": q})
			return badRequest(c, "q")
		}
	}
	page := c.QueryInt("page", 1)
	pageSize := c.QueryInt("pageSize", 12)
	if pageSize > 48 {
		pageSize = 48
	}

	ps, err := h.Catalog.ListProducts(c.UserContext(), catID, q, page, pageSize)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"products": ps, "page": page, "pageSize": pageSize})
}

func (h *ProductHandler) Get(c *fiber.Ctx) error {
	id, ok := validate.ID(c.Params("id"))
	if !ok {
		return badRequest(c, "id")
	}
	p, err := h.Catalog.GetProduct(c.UserContext(), id)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(p)
}
