package repos

import "storefront/internal/domain"

// Demo data loaded into an empty database. Both store adapters use it.

type SeedProduct struct {
	ID, CategoryID, Name, Description string
	Price, Discount                   string // Discount "" means none
	Stock                             int
}

type SeedUser struct {
	ID, Email, Name, Role, Password string
}

var DemoCategories = []domain.Category{
	{ID: "retro-consoles", Name: "Retro Gaming Consoles"},
	{ID: "vintage-radios", Name: "Vintage Radios"},
	{ID: "retro-electronics", Name: "Retro Electronics"},
}

var DemoProducts = []SeedProduct{
	{"gbc-001", "retro-consoles", "Game Boy Color", "Handheld console", "129.99", "", 8},
	{"nes-001", "retro-consoles", "NES Console", "Classic 8-bit console", "199.00", "", 0},
	{"snes-001", "retro-consoles", "Super Nintendo (SNES) Console", "Classic 16-bit console with controller", "199.00", "179.00", 7},
	{"radio-001", "vintage-radios", "Philco 1939", "Vintage vacuum tube radio", "349.50", "", 2},
	{"walkman-001", "retro-electronics", "Sony Walkman WM-2", "Cassette player, serviced belts", "89.00", "", 5},
}

var DemoUsers = []SeedUser{
	{"u-alice", "alice@storefront.test", "Alice", domain.RoleUser, "Passw0rd!"},
	{"u-bob", "bob@storefront.test", "Bob", domain.RoleUser, "Passw0rd!"},
	{"u-admin", "admin@storefront.test", "Admin", domain.RoleAdmin, "Passw0rd!"},
}

// DiscountValue returns the discount as a driver value, nil when unset.
func (p SeedProduct) DiscountValue() any {
	if p.Discount == "" {
		return nil
	}
	return p.Discount
}
