// Package events publishes and consumes domain events over RabbitMQ.
package events

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
)

// OrderPaidQueue is the durable queue carrying OrderPaid events
const OrderPaidQueue = "order.paid"

// OrderPaid is emitted once per order, when its payment is first captured
type OrderPaid struct {
	OrderID  uuid.UUID `json:"orderId"`
	UserID   uuid.UUID `json:"userId"`
	Amount   int64     `json:"amount"`
	Currency string    `json:"currency"`
	Gateway  string    `json:"gateway"`
	PaidAt   time.Time `json:"paidAt"`
}

// Publisher emits domain events. Callers log publish errors and carry on.
type Publisher interface {
	PublishOrderPaid(ctx context.Context, ev OrderPaid) error
}

// NoopPublisher drops events; used when no broker is configured
type NoopPublisher struct{}

func (NoopPublisher) PublishOrderPaid(_ context.Context, ev OrderPaid) error {
	log.Printf("events: broker not configured; dropping order.paid for order %s", ev.OrderID)
	return nil
}
