package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const consumerTag = "onboard-worker"

type RabbitMQConsumer struct {
	client   *RabbitMQ
	prefetch int
	logger   *zap.Logger
}

func NewRabbitMQConsumer(client *RabbitMQ, prefetch int, logger *zap.Logger) *RabbitMQConsumer {
	if prefetch < 1 {
		prefetch = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RabbitMQConsumer{
		client:   client,
		prefetch: prefetch,
		logger:   logger,
	}
}

// Consume runs the delivery loop until context cancellation, reconnecting with
// exponential backoff when the channel drops.
func (c *RabbitMQConsumer) Consume(ctx context.Context, queue string, handler MessageHandler) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("consumer is not initialized")
	}
	if queue == "" {
		return fmt.Errorf("queue name is required")
	}
	if handler == nil {
		return fmt.Errorf("message handler is required")
	}

	backoff := reconnectBackoff
	for {
		err := c.consumeOnce(ctx, queue, handler)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			backoff = reconnectBackoff
			continue
		}

		c.logger.Warn("consume loop interrupted, reconnecting",
			zap.String("queue", queue),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (c *RabbitMQConsumer) consumeOnce(ctx context.Context, queue string, handler MessageHandler) error {
	ch, err := c.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck // best-effort channel close

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := ch.Consume(queue, consumerTag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume queue %q: %w", queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}

			park := func(d amqp.Delivery) error { return c.parkDelivery(ctx, ch, d) }
			if err := c.handleDelivery(ctx, d, handler, park); err != nil {
				return err
			}
		}
	}
}

type parkFunc func(d amqp.Delivery) error

// handleDelivery acks tasks the handler fully owns, parks deliveries the
// handler gave up on (and undecodable payloads) on the dead-letter queue, and
// nacks everything else into the retry queue for delayed redelivery.
func (c *RabbitMQConsumer) handleDelivery(ctx context.Context, d amqp.Delivery, handler MessageHandler, park parkFunc) error {
	msg, decodeErr := decodeDelivery(d)
	if decodeErr != nil {
		c.logger.Warn("parking undecodable onboarding task",
			zap.String("routingKey", d.RoutingKey),
			zap.Bool("redelivered", d.Redelivered),
			zap.Error(decodeErr),
		)
		return park(d)
	}

	err := handler(ctx, msg)
	if err == nil {
		if ackErr := d.Ack(false); ackErr != nil {
			return fmt.Errorf("failed to ack delivery: %w", ackErr)
		}
		return nil
	}

	if errors.Is(err, ErrDeadLetter) {
		c.logger.Warn("parking onboarding task",
			zap.String("messageId", d.MessageId),
			zap.Int("deliveries", msg.Deliveries),
			zap.Error(err),
		)
		return park(d)
	}

	if nackErr := d.Nack(false, false); nackErr != nil {
		return fmt.Errorf("handler failed and nack failed: %w", nackErr)
	}
	return nil
}

// parkDelivery moves a delivery to the dead-letter queue and acks the
// original, removing it from the retry cycle.
func (c *RabbitMQConsumer) parkDelivery(ctx context.Context, ch *amqp.Channel, d amqp.Delivery) error {
	publishing := amqp.Publishing{
		ContentType:   d.ContentType,
		DeliveryMode:  amqp.Persistent,
		Headers:       d.Headers,
		MessageId:     d.MessageId,
		CorrelationId: d.CorrelationId,
		Body:          d.Body,
	}

	if err := ch.PublishWithContext(ctx, dlxExchangeName, OnboardingQueue, false, false, publishing); err != nil {
		return fmt.Errorf("failed to park delivery on dead-letter queue: %w", err)
	}

	if err := d.Ack(false); err != nil {
		return fmt.Errorf("failed to ack parked delivery: %w", err)
	}
	return nil
}

func decodeDelivery(d amqp.Delivery) (OnboardingMessage, error) {
	var msg OnboardingMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		return OnboardingMessage{}, fmt.Errorf("invalid JSON payload: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return OnboardingMessage{}, err
	}
	msg.Deliveries = deliveryCount(d) + 1
	return msg, nil
}

// deliveryCount reads how many times the delivery has already died from the
// work queue into the retry cycle. First deliveries carry no x-death header.
func deliveryCount(d amqp.Delivery) int {
	deaths, ok := d.Headers["x-death"].([]interface{})
	if !ok {
		return 0
	}

	for _, raw := range deaths {
		death, ok := raw.(amqp.Table)
		if !ok {
			continue
		}
		if q, _ := death["queue"].(string); q != OnboardingQueue {
			continue
		}
		switch count := death["count"].(type) {
		case int64:
			return int(count)
		case int32:
			return int(count)
		case int:
			return count
		}
	}
	return 0
}

func (c *RabbitMQConsumer) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
