package consumer

import (
	"context"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Dispatcher delivers a fanned-out notification to local sessions.
type Dispatcher interface {
	Dispatch(routingKey string, body []byte) error
}

// Source yields notification deliveries.
type Source interface {
	Consume() (<-chan amqp.Delivery, error)
}

// Acknowledger settles a delivery; amqp.Delivery satisfies it.
type Acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

// NotificationConsumer feeds notifications from every instance into the local hub.
type NotificationConsumer struct {
	source     Source
	dispatcher Dispatcher
	logger     *slog.Logger
}

func NewNotificationConsumer(source Source, dispatcher Dispatcher, logger *slog.Logger) *NotificationConsumer {
	return &NotificationConsumer{
		source:     source,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Start consumes in a background goroutine until ctx is cancelled or the
// delivery channel closes.
func (c *NotificationConsumer) Start(ctx context.Context) error {
	msgs, err := c.source.Consume()
	if err != nil {
		return err
	}

	c.logger.Info("Notification consumer started")

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.logger.Info("Notification consumer stopping")
				return

			case msg, ok := <-msgs:
				if !ok {
					c.logger.Error("Notification channel closed")
					return
				}

				c.processMessage(msg.RoutingKey, msg.Body, msg)
			}
		}
	}()

	return nil
}

func (c *NotificationConsumer) processMessage(routingKey string, body []byte, ack Acknowledger) {
	if err := c.dispatcher.Dispatch(routingKey, body); err != nil {
		c.logger.Error("Failed to dispatch notification", "routing_key", routingKey, "error", err)
		// Don't requeue malformed notifications
		ack.Nack(false, false)
		return
	}

	ack.Ack(false)
}
