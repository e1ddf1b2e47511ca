package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"storefront/internal/domain"
	"storefront/internal/log"
)

const (
	OrderPlaced        = "order.placed"
	OrderCancelled     = "order.cancelled"
	OrderStockRestored = "order.stock_restored"
	OrderStatusChanged = "order.status_changed"
	OrderPaymentUpdate = "order.payment_updated"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

type ItemQty struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

type OrderPlacedPayload struct {
	OrderID       string          `json:"order_id"`
	UserID        string          `json:"user_id"`
	Items         []ItemQty       `json:"items"`
	Total         decimal.Decimal `json:"total"`
	PaymentMethod string          `json:"payment_method"`
	PaymentStatus string          `json:"payment_status"`
}

type StatusPayload struct {
	OrderID string `json:"order_id"`
	From    string `json:"from"`
	To      string `json:"to"`
	ActorID string `json:"actor_id,omitempty"`
}

type StockRestoredPayload struct {
	OrderID string    `json:"order_id"`
	Items   []ItemQty `json:"items"`
}

type PaymentPayload struct {
	OrderID       string `json:"order_id"`
	From          string `json:"from"`
	To            string `json:"to"`
	TransactionID string `json:"transaction_id,omitempty"`
}

// Publisher delivers order events. Implementations must not block on a slow broker
// past ctx's deadline.
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
}

// New wraps payload in an envelope stamped with a fresh event id.
func New(producer, eventType, orderID string, payload any) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		CorrelationID: orderID,
		Payload:       b,
	}, nil
}

func Items(lines []domain.LineItem) []ItemQty {
	out := make([]ItemQty, 0, len(lines))
	for _, li := range lines {
		out = append(out, ItemQty{ProductID: li.ProductID, Qty: li.Quantity})
	}
	return out
}

func Placed(producer string, o domain.Order) (Envelope, error) {
	return New(producer, OrderPlaced, o.ID, OrderPlacedPayload{
		OrderID:       o.ID,
		UserID:        o.UserID,
		Items:         Items(o.LineItems),
		Total:         o.TotalAmount,
		PaymentMethod: string(o.PaymentMethod),
		PaymentStatus: string(o.PaymentStatus),
	})
}

// Decode unmarshals an envelope's payload into T.
func Decode[T any](env Envelope) (T, error) {
	var t T
	if err := json.Unmarshal(env.Payload, &t); err != nil {
		return t, fmt.Errorf("decode %s payload: %w", env.EventType, err)
	}
	return t, nil
}

// LogPublisher writes events to the structured log. Used when no broker is configured.
type LogPublisher struct{}

func (LogPublisher) Publish(ctx context.Context, env Envelope) error {
	log.Op(ctx, "info", "event."+env.EventType, nil, map[string]any{
		"event_id": env.EventID,
		"order_id": env.CorrelationID,
		"payload":  env.Payload,
	})
	return nil
}

// Recorder keeps published envelopes in memory.
type Recorder struct {
	mu  sync.Mutex
	evs []Envelope
}

func (r *Recorder) Publish(_ context.Context, env Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evs = append(r.evs, env)
	return nil
}

func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.evs))
	for _, e := range r.evs {
		out = append(out, e.EventType)
	}
	return out
}

func (r *Recorder) Events() []Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Envelope(nil), r.evs...)
}
