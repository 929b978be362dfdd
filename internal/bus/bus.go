// Package bus wraps RabbitMQ for the probe event pipeline.
//
// Topology is two durable topic exchanges. The pinger publishes raw events to
// the first; the LLM worker republishes enriched events to the second. Every
// queue is durable and bound with a fixed routing key, so events survive a
// broker restart and each consumer group sees its own copy.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pingtower/pingtower/internal/config"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Conn is a connection to the broker with its topology declared.
type Conn struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	logger  *slog.Logger
}

// Dial connects to the broker and declares the pipeline topology.
func Dial(url string, cfg config.RabbitConfig, logger *slog.Logger) (*Conn, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connecting to rabbitmq: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening channel: %w", err)
	}
	b := &Conn{conn: conn, channel: channel, logger: logger}
	if err := b.declareTopology(cfg); err != nil {
		b.Close()
		return nil, fmt.Errorf("declaring topology: %w", err)
	}
	return b, nil
}

// Close shuts down the channel and the connection.
func (b *Conn) Close() error {
	if b.channel != nil {
		b.channel.Close()
	}
	return b.conn.Close()
}

func (b *Conn) declareTopology(cfg config.RabbitConfig) error {
	for _, exchange := range []string{cfg.PingerExchange, cfg.LLMExchange} {
		if err := b.channel.ExchangeDeclare(
			exchange, "topic",
			true,  // durable
			false, // auto-delete
			false, false, nil,
		); err != nil {
			return fmt.Errorf("exchange %s: %w", exchange, err)
		}
	}

	bindings := []struct {
		queue, exchange, key string
	}{
		{cfg.PingerLLMQueue, cfg.PingerExchange, cfg.PingerRoutingKey},
		{cfg.PingerWebQueue, cfg.PingerExchange, cfg.PingerRoutingKey},
		{cfg.DispatcherQueue, cfg.LLMExchange, cfg.LLMRoutingKey},
		{cfg.LegacySenderQueue, cfg.LLMExchange, cfg.LLMRoutingKey},
		{cfg.LLMWebQueue, cfg.LLMExchange, cfg.LLMRoutingKey},
	}
	for _, bind := range bindings {
		if _, err := b.channel.QueueDeclare(
			bind.queue,
			true,  // durable
			false, // auto-delete
			false, false, nil,
		); err != nil {
			return fmt.Errorf("queue %s: %w", bind.queue, err)
		}
		if err := b.channel.QueueBind(bind.queue, bind.key, bind.exchange, false, nil); err != nil {
			return fmt.Errorf("binding %s to %s: %w", bind.queue, bind.exchange, err)
		}
	}
	return nil
}

// Publish sends a JSON-encoded message to the exchange with the routing key.
// Messages are persistent so they survive broker restarts along with the
// durable queues.
func (b *Conn) Publish(ctx context.Context, exchange, key string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}
	return b.channel.PublishWithContext(ctx, exchange, key,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    uuid.NewString(),
			Timestamp:    time.Now(),
			Body:         body,
		})
}

// Handler processes one delivery body. A non-nil error rejects the message
// without requeue; returning nil acknowledges it.
type Handler func(ctx context.Context, body []byte) error

// Consume reads messages from the queue until the context is canceled or the
// delivery channel closes. Each message is acked on handler success and
// nacked without requeue on handler error, so a poison message cannot wedge
// the queue.
func (b *Conn) Consume(ctx context.Context, queue string, handler Handler) error {
	deliveries, err := b.channel.Consume(
		queue,
		"",    // consumer tag
		false, // auto-ack
		false, false, false, nil,
	)
	if err != nil {
		return fmt.Errorf("consuming %s: %w", queue, err)
	}

	b.logger.Info("consuming queue", "queue", queue)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel for %s closed", queue)
			}
			if err := handler(ctx, delivery.Body); err != nil {
				b.logger.Error("message rejected", "queue", queue, "error", err)
				delivery.Nack(false, false)
				continue
			}
			delivery.Ack(false)
		}
	}
}
