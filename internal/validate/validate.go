package validate

import (
	"regexp"
	"strings"

	"storefront/internal/domain"
)

var (
	reEmail = regexp.MustCompile(`^[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}$`)
	reQ     = regexp.MustCompile(`^[A-Za-z0-9 _'\\-]{1,50}$`)
	reID    = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
	rePhone = regexp.MustCompile(`^[0-9]{10}$`)
	reZIP   = regexp.MustCompile(`^[A-Za-z0-9 -]{3,10}$`)
	reKey   = regexp.MustCompile(`^[A-Za-z0-9_.:-]{8,128}$`)
)

const maxQty = 50

func Email(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if len(s) == 0 || len(s) > 50 {
		return "", false
	}
	return s, reEmail.MatchString(s)
}

// Q validates a search query: trims, enforces allowed characters and max length
func Q(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	if len(s) > 50 {
		s = s[:50]
	}
	return s, reQ.MatchString(s)
}

// Qty checks a requested cart quantity. allowZero admits 0 (remove line).
func Qty(n int, allowZero bool) bool {
	if n == 0 {
		return allowZero
	}
	return n > 0 && n <= maxQty
}

// ID validates a simple resource identifier (product/category/order ids).
func ID(s string) (string, bool) {
	s = strings.TrimSpace(s)
	return s, s != "" && reID.MatchString(s)
}

// IdempotencyKey accepts opaque client keys such as UUIDs.
func IdempotencyKey(s string) (string, bool) {
	s = strings.TrimSpace(s)
	return s, reKey.MatchString(s)
}

// Password enforces a simple length window for login checks.
func Password(s string) bool {
	l := len(s)
	if l < 8 || l > 20 {
		return false
	}
	var hasLower, hasUpper, hasDigit, hasSymbol bool
	for _, r := range s {
		switch {
		case 'a' <= r && r <= 'z':
			hasLower = true
		case 'A' <= r && r <= 'Z':
			hasUpper = true
		case '0' <= r && r <= '9':
			hasDigit = true
		default:
			hasSymbol = true
		}
	}
	return hasLower && hasUpper && hasDigit && hasSymbol
}

func text(s string, max int) (string, bool) {
	s = strings.TrimSpace(s)
	return s, s != "" && len(s) <= max
}

// ShippingAddress trims every field and returns the names of the fields that failed.
func ShippingAddress(a domain.ShippingAddress) (domain.ShippingAddress, []string) {
	var bad []string
	var ok bool
	if a.FullName, ok = text(a.FullName, 100); !ok {
		bad = append(bad, "fullName")
	}
	a.PhoneNumber = strings.TrimSpace(a.PhoneNumber)
	if !rePhone.MatchString(a.PhoneNumber) {
		bad = append(bad, "phoneNumber")
	}
	if a.Address, ok = text(a.Address, 200); !ok {
		bad = append(bad, "address")
	}
	if a.City, ok = text(a.City, 60); !ok {
		bad = append(bad, "city")
	}
	if a.State, ok = text(a.State, 60); !ok {
		bad = append(bad, "state")
	}
	a.ZipCode = strings.TrimSpace(a.ZipCode)
	if !reZIP.MatchString(a.ZipCode) {
		bad = append(bad, "zipCode")
	}
	return a, bad
}

func PaymentMethod(s string) (domain.PaymentMethod, bool) {
	m := domain.PaymentMethod(strings.ToLower(strings.TrimSpace(s)))
	return m, m.Valid()
}

func OrderStatus(s string) (domain.OrderStatus, bool) {
	st := domain.OrderStatus(strings.ToLower(strings.TrimSpace(s)))
	return st, st.Valid()
}

func PaymentStatus(s string) (domain.PaymentStatus, bool) {
	st := domain.PaymentStatus(strings.ToLower(strings.TrimSpace(s)))
	return st, st.Valid()
}
