package handlers

import (
	"context"
	"embed"
	"errors"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/csrf"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	html "github.com/gofiber/template/html/v2"

	"storefront/internal/config"
	"storefront/internal/domain"
	applog "storefront/internal/log"
)

//go:embed views/*.html
var viewsFS embed.FS

func views() *html.Engine {
	sub, err := fs.Sub(viewsFS, "views")
	if err != nil {
		panic(err)
	}
	return html.NewFileSystem(http.FS(sub), ".html")
}

func isAPI(c *fiber.Ctx) bool { return strings.HasPrefix(c.Path(), "/api/") }

func errorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) && fe.Code < fiber.StatusInternalServerError {
		kind := domain.KindInvalidInput
		if fe.Code == fiber.StatusNotFound {
			kind = domain.KindNotFound
		}
		return c.Status(fe.Code).JSON(fiber.Map{"error": errorBody{Kind: kind, Message: fe.Message}})
	}
	applog.Error(c, "server.error", err, nil)
	if isAPI(c) {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": errorBody{Kind: "INTERNAL", Message: "Something went wrong. Please try again."},
		})
	}
	if rerr := c.Status(fiber.StatusInternalServerError).Render("notfound", fiber.Map{
		"Message": "Something went wrong. Please try again.",
	}); rerr != nil {
		return c.Status(fiber.StatusInternalServerError).SendString("Something went wrong. Please try again.")
	}
	return nil
}

// requestContext carries the request id and a deadline into service calls.
func requestContext(timeout time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		rid, _ := c.Locals("requestid").(string)
		ctx := applog.WithRequestID(c.UserContext(), rid)
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		c.SetUserContext(ctx)
		return c.Next()
	}
}

func rateLimited(c *fiber.Ctx, action string) error {
	applog.Security(c, action, nil)
	return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
		"error": errorBody{Kind: "RATE_LIMITED", Message: "Too many requests. Please try again later."},
	})
}

// NewApp builds the HTTP surface: JSON API under /api/v1 plus the order confirmation page.
func NewApp(d *Deps, cfg config.Config) *fiber.App {
	app := fiber.New(fiber.Config{
		Views:        views(),
		ErrorHandler: errorHandler,
	})
	// Global body size guard
	app.Server().MaxRequestBodySize = 1 << 20 // 1 MiB

	// ---------- Middlewares ----------
	app.Use(requestid.New())
	app.Use(logger.New())
	app.Use(helmet.New())
	app.Use(requestContext(cfg.RequestTimeout))
	app.Use(Authenticate(d.Auth))
	if cfg.RateLimit > 0 {
		app.Use(limiter.New(limiter.Config{
			Max:        cfg.RateLimit,
			Expiration: time.Minute,
			Next: func(c *fiber.Ctx) bool {
				return c.Path() == "/healthz"
			},
			LimitReached: func(c *fiber.Ctx) error { return rateLimited(c, "rate.global.hit") },
		}))
	}
	app.Use(csrf.New(csrf.Config{
		KeyLookup:      "header:X-Csrf-Token",
		CookieName:     "csrf_",
		CookieSameSite: "Lax",
		CookieSecure:   false, // set true behind HTTPS
		ContextKey:     "csrf",
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			applog.Security(c, "csrf.fail", map[string]any{"reason": err.Error()})
			return fail(c, domain.Forbidden("Security check failed. Please refresh and try again."))
		},
	}))

	// ---------- API ----------
	api := app.Group("/api/v1")

	api.Post("/login", limiter.New(limiter.Config{
		Max:          5,
		Expiration:   10 * time.Minute,
		LimitReached: func(c *fiber.Ctx) error { return rateLimited(c, "rate.login.hit") },
	}), d.AuthHandler.Login)
	api.Post("/logout", d.AuthHandler.Logout)

	api.Get("/categories", d.CategoryHandler.List)
	api.Get("/products", d.ProductHandler.List)
	api.Get("/products/:id", d.ProductHandler.Get)
	api.Get("/availability", limiter.New(limiter.Config{
		Max:        15,
		Expiration: 30 * time.Second,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP() + "|avail"
		},
		LimitReached: func(c *fiber.Ctx) error { return rateLimited(c, "rate.availability.hit") },
	}), d.InventoryHandler.Check)

	user := RequireUser()
	api.Get("/cart", user, d.CartHandler.View)
	api.Post("/cart", user, d.CartHandler.Add)
	api.Put("/cart", user, d.CartHandler.Update)
	api.Delete("/cart", user, d.CartHandler.Clear)
	api.Delete("/cart/:productId", user, d.CartHandler.Remove)

	api.Post("/orders", user, d.OrderHandler.Place)
	api.Get("/orders", user, d.OrderHandler.List)
	api.Get("/orders/:id", user, d.OrderHandler.Get)
	api.Put("/orders/:id/cancel", user, d.OrderHandler.Cancel)
	// owners may route a status change to "cancelled"; the service enforces the rest
	api.Put("/orders/:id/status", user, d.OrderHandler.Status)
	api.Put("/orders/:id/payment", RequireAdmin(), d.OrderHandler.Payment)

	admin := api.Group("/admin", RequireAdmin())
	admin.Get("/orders", d.AdminHandler.Orders)
	admin.Get("/stats", d.AdminHandler.Stats)
	admin.Put("/stock", d.AdminHandler.SetStock)
	admin.Post("/restorations", d.AdminHandler.Restorations)

	// ---------- Pages ----------
	app.Get("/order/:id", d.OrderHandler.View)

	// Health & 404
	app.Get("/healthz", func(c *fiber.Ctx) error {
		if err := d.Store.Ping(c.UserContext()); err != nil {
			applog.Error(c, "health.store", err, nil)
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"ok": false})
		}
		return c.JSON(fiber.Map{"ok": true})
	})
	app.Use(func(c *fiber.Ctx) error {
		if isAPI(c) {
			return fail(c, domain.NotFound("route", c.Path()))
		}
		return notFoundPage(c, "Page not found")
	})

	return app
}
