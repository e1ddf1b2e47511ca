package handlers

import (
	"storefront/internal/config"
	"storefront/internal/events"
	"storefront/internal/repos"
	"storefront/internal/services"
)

type Deps struct {
	Store repos.Store
	Auth  *services.AuthService
	Order *services.OrderService

	AuthHandler      *AuthHandler
	CategoryHandler  *CategoryHandler
	ProductHandler   *ProductHandler
	InventoryHandler *InventoryHandler
	CartHandler      *CartHandler
	OrderHandler     *OrderHandler
	AdminHandler     *AdminHandler
}

// NewDeps wires services over store. Cart edits and checkout share one per-user lock set.
// idem may be nil, in which case Idempotency-Key headers are accepted but not enforced.
func NewDeps(store repos.Store, cfg config.Config, pub events.Publisher, idem services.Idempotency) *Deps {
	locks := services.NewKeyedMutex()

	authSvc := services.NewAuthService(store)
	catalogSvc := services.NewCatalogService(store)
	invSvc := services.NewInventoryService(store)
	cartSvc := services.NewCartService(store, locks)
	orderSvc := services.NewOrderService(store, locks, pub)
	orderSvc.Idem = idem
	if cfg.ServiceName != "" {
		orderSvc.Producer = cfg.ServiceName
	}
	if cfg.RestoreInitialInterval > 0 || cfg.RestoreMaxElapsed > 0 {
		orderSvc.Restore = services.RestorePolicy{
			InitialInterval: cfg.RestoreInitialInterval,
			MaxElapsed:      cfg.RestoreMaxElapsed,
		}
	}

	return &Deps{
		Store:            store,
		Auth:             authSvc,
		Order:            orderSvc,
		AuthHandler:      &AuthHandler{Auth: authSvc},
		CategoryHandler:  &CategoryHandler{Catalog: catalogSvc},
		ProductHandler:   &ProductHandler{Catalog: catalogSvc},
		InventoryHandler: &InventoryHandler{Inv: invSvc},
		CartHandler:      &CartHandler{Cart: cartSvc},
		OrderHandler:     &OrderHandler{Order: orderSvc},
		AdminHandler:     &AdminHandler{Order: orderSvc, Inv: invSvc},
	}
}
