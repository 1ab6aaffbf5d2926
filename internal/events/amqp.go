package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	dialTimeout  = 2 * time.Second
	redialPeriod = 5 * time.Second
)

// ErrBrokerUnavailable is returned without dialing while a failed dial is cooling off
var ErrBrokerUnavailable = errors.New("message broker unavailable")

// AMQPPublisher publishes persistent JSON messages to the default exchange.
// The connection is opened lazily and reopened after a failure. A dial is
// capped at dialTimeout, and after a failed dial publishes fail fast with
// ErrBrokerUnavailable for redialPeriod.
type AMQPPublisher struct {
	url  string
	dial func(url string) (*amqp.Connection, error)
	now  func() time.Time

	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	nextDial time.Time
}

// NewAMQPPublisher creates a publisher for the broker at url
func NewAMQPPublisher(url string) *AMQPPublisher {
	return &AMQPPublisher{url: url, dial: dialBroker, now: time.Now}
}

func dialBroker(url string) (*amqp.Connection, error) {
	return amqp.DialConfig(url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(dialTimeout),
	})
}

// NewPublisher returns an AMQP publisher when url is set and a no-op publisher otherwise
func NewPublisher(url string) Publisher {
	if url == "" {
		return NoopPublisher{}
	}
	return NewAMQPPublisher(url)
}

func (p *AMQPPublisher) PublishOrderPaid(ctx context.Context, ev OrderPaid) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal order.paid: %w", err)
	}
	return p.publish(ctx, OrderPaidQueue, body)
}

func (p *AMQPPublisher) publish(ctx context.Context, queue string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.channel(queue)
	if err != nil {
		return err
	}
	err = ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		p.reset()
		return fmt.Errorf("publish %s: %w", queue, err)
	}
	return nil
}

// channel returns an open channel with queue declared; caller holds mu
func (p *AMQPPublisher) channel(queue string) (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	p.reset()

	if p.now().Before(p.nextDial) {
		return nil, ErrBrokerUnavailable
	}
	conn, err := p.dial(p.url)
	if err != nil {
		p.nextDial = p.now().Add(redialPeriod)
		return nil, fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare %s: %w", queue, err)
	}
	p.conn, p.ch = conn, ch
	return ch, nil
}

func (p *AMQPPublisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

// Close releases the broker connection
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset()
	log.Printf("events: publisher closed")
	return nil
}
