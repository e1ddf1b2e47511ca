package domain

type OrderStatus string

const (
	StatusPlaced     OrderStatus = "placed"
	StatusProcessing OrderStatus = "processing"
	StatusShipped    OrderStatus = "shipped"
	StatusDelivered  OrderStatus = "delivered"
	StatusCancelled  OrderStatus = "cancelled"
)

var validNext = map[OrderStatus]map[OrderStatus]bool{
	StatusPlaced:     {StatusProcessing: true, StatusCancelled: true},
	StatusProcessing: {StatusShipped: true, StatusCancelled: true},
	StatusShipped:    {StatusDelivered: true},
	StatusDelivered:  {},
	StatusCancelled:  {},
}

func (s OrderStatus) Valid() bool {
	_, ok := validNext[s]
	return ok
}

// Terminal orders are immutable.
func (s OrderStatus) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

func (s OrderStatus) Cancellable() bool {
	return validNext[s][StatusCancelled]
}

func CanTransition(from, to OrderStatus) bool {
	return validNext[from][to]
}

var validPayment = map[PaymentStatus]map[PaymentStatus]bool{
	PaymentPending: {PaymentPaid: true, PaymentFailed: true},
	PaymentFailed:  {PaymentPaid: true},
	PaymentPaid:    {},
}

func (s PaymentStatus) Valid() bool {
	_, ok := validPayment[s]
	return ok
}

func CanTransitionPayment(from, to PaymentStatus) bool {
	return validPayment[from][to]
}
