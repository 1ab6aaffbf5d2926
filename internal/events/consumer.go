package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/annavaram/storefront/internal/mailer"
	"github.com/annavaram/storefront/internal/model"
	"github.com/annavaram/storefront/internal/repo"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

var errMalformed = errors.New("malformed message")

// UserReader loads the buyer of an order
type UserReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (model.User, error)
}

// OrderReader loads the order lines for the confirmation email
type OrderReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (model.Order, error)
	ListItems(ctx context.Context, orderID uuid.UUID) ([]model.OrderItem, error)
}

// Consumer sends order confirmations for order.paid events
type Consumer struct {
	url    string
	users  UserReader
	orders OrderReader
	mail   mailer.Mailer
}

// NewConsumer creates a consumer for the broker at url
func NewConsumer(url string, users UserReader, orders OrderReader, m mailer.Mailer) *Consumer {
	return &Consumer{url: url, users: users, orders: orders, mail: m}
}

// Run consumes until ctx is cancelled, reconnecting with exponential backoff
func (c *Consumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn, err := dialBroker(c.url)
		if err != nil {
			log.Printf("order-consumer: failed to dial broker: %v; retrying in %s", err, backoff)
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consume(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Printf("order-consumer: consume loop ended: %v; reconnecting", err)
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func (c *Consumer) consume(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(20, 0, false); err != nil {
		log.Printf("order-consumer: set QoS failed: %v", err)
	}
	if _, err := ch.QueueDeclare(OrderPaidQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(OrderPaidQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := c.Handle(ctx, d.Body); err != nil {
				log.Printf("order-consumer: handle message failed: %v", err)
				_ = d.Nack(false, retryable(err))
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// Handle processes one order.paid body. Mail delivery failures are logged and
// do not fail the message.
func (c *Consumer) Handle(ctx context.Context, body []byte) error {
	var ev OrderPaid
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("%w: %v", errMalformed, err)
	}
	if ev.OrderID == uuid.Nil || ev.UserID == uuid.Nil {
		return fmt.Errorf("%w: missing order or user id", errMalformed)
	}

	user, err := c.users.GetByID(ctx, ev.UserID)
	if err != nil {
		return fmt.Errorf("load user %s: %w", ev.UserID, err)
	}
	order, err := c.orders.GetByID(ctx, ev.OrderID)
	if err != nil {
		return fmt.Errorf("load order %s: %w", ev.OrderID, err)
	}
	items, err := c.orders.ListItems(ctx, ev.OrderID)
	if err != nil {
		return fmt.Errorf("load order items %s: %w", ev.OrderID, err)
	}

	lines := make([]mailer.OrderLine, 0, len(items))
	for _, it := range items {
		lines = append(lines, mailer.OrderLine{Name: it.ProductName, Quantity: it.Quantity, Subtotal: it.Subtotal})
	}
	msg := mailer.OrderConfirmationEmail(user.Email, user.FullName, order.ID.String(), order.Currency, order.TotalAmount, lines)
	if err := c.mail.Send(ctx, msg); err != nil {
		log.Printf("order-consumer: failed to mail confirmation for order %s to %s: %v", order.ID, mailer.MaskEmail(user.Email), err)
	}
	return nil
}

// retryable reports whether a failed message should go back on the queue.
// Malformed bodies and events for rows that no longer exist never succeed.
func retryable(err error) bool {
	return !errors.Is(err, errMalformed) && !errors.Is(err, repo.ErrNotFound)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
