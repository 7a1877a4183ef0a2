// Package rabbitmq carries hub notifications between server instances over a
// fanout exchange. Each instance publishes to the exchange and reads from its
// own server-named queue bound to it.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const NotificationsExchange = "trivia_notifications"

type Options struct {
	Exchange string
	// Prefetch bounds unacked deliveries per instance; zero means unlimited.
	Prefetch       int
	PublishTimeout time.Duration
	ConnectionName string
}

func DefaultOptions() Options {
	return Options{
		Exchange:       NotificationsExchange,
		Prefetch:       256,
		PublishTimeout: 2 * time.Second,
		ConnectionName: "triviarush-server",
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Exchange == "" {
		o.Exchange = d.Exchange
	}
	if o.Prefetch < 0 {
		o.Prefetch = 0
	}
	if o.PublishTimeout <= 0 {
		o.PublishTimeout = d.PublishTimeout
	}
	if o.ConnectionName == "" {
		o.ConnectionName = d.ConnectionName
	}
	return o
}

// RabbitMQClient owns one connection and one channel. The channel is shared by
// Publish and Consume, which amqp091 allows.
type RabbitMQClient struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	opts   Options
	tag    string
	logger *slog.Logger
}

// Dial connects, applies the prefetch limit and declares the exchange. A
// broker-side close after Dial returns is logged; the consumer notices it
// through its closed delivery channel.
func Dial(url string, opts Options, logger *slog.Logger) (*RabbitMQClient, error) {
	opts = opts.withDefaults()

	props := amqp.NewConnectionProperties()
	props.SetClientConnectionName(opts.ConnectionName)
	conn, err := amqp.DialConfig(url, amqp.Config{Properties: props})
	if err != nil {
		return nil, fmt.Errorf("failed to dial broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	c := &RabbitMQClient{
		conn:   conn,
		ch:     ch,
		opts:   opts,
		tag:    opts.ConnectionName + "-" + uuid.NewString(),
		logger: logger,
	}
	if err := c.declare(); err != nil {
		c.Close()
		return nil, err
	}

	go c.watch(conn.NotifyClose(make(chan *amqp.Error, 1)))

	logger.Info("Connected to RabbitMQ", "exchange", opts.Exchange, "prefetch", opts.Prefetch)
	return c, nil
}

func (c *RabbitMQClient) declare() error {
	if c.opts.Prefetch > 0 {
		if err := c.ch.Qos(c.opts.Prefetch, 0, false); err != nil {
			return fmt.Errorf("failed to set prefetch: %w", err)
		}
	}
	// durable, not auto-deleted, not internal, wait for the broker
	if err := c.ch.ExchangeDeclare(c.opts.Exchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", c.opts.Exchange, err)
	}
	return nil
}

func (c *RabbitMQClient) watch(closed <-chan *amqp.Error) {
	if err, ok := <-closed; ok && err != nil {
		c.logger.Error("RabbitMQ connection lost", "code", err.Code, "reason", err.Reason)
	}
}

// Exchange is the fanout exchange this client publishes to and consumes from.
func (c *RabbitMQClient) Exchange() string {
	return c.opts.Exchange
}

// Publish sends body to exchange. The routing key is ignored by the fanout
// but delivered with the message; the hub encodes the target in it.
func (c *RabbitMQClient) Publish(ctx context.Context, exchange, routingKey string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.PublishTimeout)
	defer cancel()

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Transient,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := c.ch.PublishWithContext(ctx, exchange, routingKey, false, false, msg); err != nil {
		return fmt.Errorf("failed to publish %s to %s: %w", routingKey, exchange, err)
	}
	return nil
}

// Consume binds an exclusive, server-named queue to the exchange so this
// instance sees every notification. Deliveries must be acked by the caller.
func (c *RabbitMQClient) Consume() (<-chan amqp.Delivery, error) {
	// not durable, auto-deleted, exclusive to this connection
	q, err := c.ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}
	if err := c.ch.QueueBind(q.Name, "", c.opts.Exchange, false, nil); err != nil {
		return nil, fmt.Errorf("failed to bind %s to %s: %w", q.Name, c.opts.Exchange, err)
	}

	deliveries, err := c.ch.Consume(q.Name, c.tag, false, true, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to consume %s: %w", q.Name, err)
	}

	c.logger.Info("Consuming notifications", "queue", q.Name, "consumer", c.tag)
	return deliveries, nil
}

// Close shuts the channel and then the connection.
func (c *RabbitMQClient) Close() error {
	var errs []error
	if c.ch != nil {
		if err := c.ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
	}
	c.logger.Info("RabbitMQ connection closed")
	return errors.Join(errs...)
}
