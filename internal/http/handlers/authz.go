package handlers

import (
	"github.com/gofiber/fiber/v2"

	"storefront/internal/domain"
	applog "storefront/internal/log"
	"storefront/internal/services"
)

// Authenticate attaches the session user, if any, to Locals("user").
func Authenticate(auth *services.AuthService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if sid := c.Cookies("sid"); sid != "" {
			if u, err := auth.CurrentUser(c.UserContext(), sid); err == nil && u != nil {
				c.Locals("user", u)
			}
		}
		return c.Next()
	}
}

func currentUser(c *fiber.Ctx) *domain.User {
	u, _ := c.Locals("user").(*domain.User)
	return u
}

func caller(c *fiber.Ctx) domain.Caller {
	if u := currentUser(c); u != nil {
		return u.Caller()
	}
	return domain.Caller{}
}

func unauthorized(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"error": errorBody{Kind: "UNAUTHENTICATED", Message: "Please log in."},
	})
}

// RequireUser enforces that a user is logged in.
func RequireUser() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if currentUser(c) == nil {
			return unauthorized(c)
		}
		return c.Next()
	}
}

func RequireAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		u := currentUser(c)
		if u == nil {
			return unauthorized(c)
		}
		if u.Role != domain.RoleAdmin {
			applog.Security(c, "access.denied.admin", map[string]any{"user_id": u.ID})
			return fail(c, domain.Forbidden("admin only"))
		}
		return c.Next()
	}
}
