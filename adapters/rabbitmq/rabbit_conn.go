package rabbitmq

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	werr "github.com/next-trace/scg-owner-watch/contract/errors"
)

// Concrete AMQP connection-backed Broker and constructor.

const (
	signalExchange   = "signals"
	signalExchangeTy = "topic"
)

type Config struct {
	URL         string
	ConnTimeout time.Duration
}

type amqpBroker struct {
	mu    sync.Mutex
	ch    *amqp.Channel
	queue string
}

func (b *amqpBroker) Bind(ctx context.Context, routingKey string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ch == nil {
		return werr.ErrNotConnected
	}

	return b.ch.QueueBind(b.queue, routingKey, signalExchange, false, nil)
}

func (b *amqpBroker) Unbind(ctx context.Context, routingKey string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ch == nil {
		return werr.ErrNotConnected
	}

	return b.ch.QueueUnbind(b.queue, routingKey, signalExchange, nil)
}

func (b *amqpBroker) Publish(ctx context.Context, routingKey string, body []byte, headers map[string]string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ch == nil {
		return werr.ErrNotConnected
	}

	var h amqp.Table
	if len(headers) > 0 {
		h = amqp.Table{}
		for k, v := range headers {
			h[k] = v
		}
	}

	return b.ch.PublishWithContext(
		ctx,
		signalExchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			DeliveryMode: amqp.Transient,
			Headers:      h,
			ContentType:  "application/json",
			Body:         body,
		},
	)
}

func (b *amqpBroker) close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ch != nil {
		_ = b.ch.Close()
		b.ch = nil
	}
}

// NewWithAMQPConn dials RabbitMQ, declares the signal exchange and an
// exclusive server-named queue for this connection, starts the consume
// loop, and returns the Conn and a cleanup.
func NewWithAMQPConn(cfg Config) (*Conn, func(), error) {
	if cfg.URL == "" {
		return nil, nil, fmt.Errorf("%w: rabbitmq url required", werr.ErrNotConnected)
	}

	aconn, err := amqp.DialConfig(cfg.URL, amqp.Config{
		Locale:     "en_US",
		Properties: amqp.Table{"product": "scg-owner-watch"},
		Dial:       amqp.DefaultDial(cfg.ConnTimeout),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: rabbitmq dial: %w", werr.ErrNotConnected, err)
	}

	ch, err := aconn.Channel()
	if err != nil {
		_ = aconn.Close()
		return nil, nil, fmt.Errorf("%w: rabbitmq channel: %w", werr.ErrNotConnected, err)
	}

	if err := ch.ExchangeDeclare(signalExchange, signalExchangeTy, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = aconn.Close()

		return nil, nil, fmt.Errorf("%w: rabbitmq exchange declare: %w", werr.ErrNotConnected, err)
	}

	// Server-named, exclusive, auto-delete: bindings die with the
	// connection, matching the process-lifetime scope of match rules.
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		_ = ch.Close()
		_ = aconn.Close()

		return nil, nil, fmt.Errorf("%w: rabbitmq queue declare: %w", werr.ErrNotConnected, err)
	}

	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		_ = ch.Close()
		_ = aconn.Close()

		return nil, nil, fmt.Errorf("%w: rabbitmq consume: %w", werr.ErrNotConnected, err)
	}

	broker := &amqpBroker{ch: ch, queue: q.Name}
	conn := New(broker)

	go func() {
		for d := range deliveries {
			conn.HandleDelivery(d.Body)
		}
	}()

	cleanup := func() {
		broker.close()
		_ = aconn.Close()
	}

	return conn, cleanup, nil
}
