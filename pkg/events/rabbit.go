package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitBus implements Publisher and the consumer side over RabbitMQ.
type RabbitBus struct {
	conn    *amqp.Connection
	channel *amqp.Channel
}

// NewRabbitBus dials the broker and declares the queue and exchange.
func NewRabbitBus(url string) (*RabbitBus, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("rabbitmq url required")
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := channel.QueueDeclare(SentQueue, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", SentQueue, err)
	}
	if err := channel.ExchangeDeclare(CancelExchange, "fanout", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", CancelExchange, err)
	}
	return &RabbitBus{conn: conn, channel: channel}, nil
}

// Close tears down the channel and connection.
func (b *RabbitBus) Close() error {
	if b.channel != nil {
		_ = b.channel.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}

// PublishMessageSent enqueues a submission for the agent workers.
func (b *RabbitBus) PublishMessageSent(ctx context.Context, evt MessageSent) error {
	if evt.EventID == "" {
		evt.EventID = uuid.NewString()
	}
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal message.sent: %w", err)
	}
	err = b.channel.PublishWithContext(ctx, "", SentQueue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    evt.EventID,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish message.sent: %w", err)
	}
	return nil
}

// PublishMessageCancel broadcasts a cancel notice to every worker.
func (b *RabbitBus) PublishMessageCancel(ctx context.Context, evt MessageCancel) error {
	if evt.EventID == "" {
		evt.EventID = uuid.NewString()
	}
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal message.cancel: %w", err)
	}
	err = b.channel.PublishWithContext(ctx, CancelExchange, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		MessageId:   evt.EventID,
		Body:        body,
	})
	if err != nil {
		return fmt.Errorf("publish message.cancel: %w", err)
	}
	return nil
}

// ConsumeSent delivers submitted messages to the handler one at a time.
// A handler error requeues the delivery; malformed payloads are dropped.
// Blocks until ctx is cancelled or the channel closes.
func (b *RabbitBus) ConsumeSent(ctx context.Context, consumerName string, handler func(context.Context, MessageSent) error) error {
	if consumerName == "" {
		consumerName = "agent-" + uuid.NewString()
	}
	if err := b.channel.Qos(1, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	deliveries, err := b.channel.Consume(SentQueue, consumerName, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", SentQueue, err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-deliveries:
			if !ok {
				return errors.New("message.sent channel closed")
			}
			var evt MessageSent
			if err := json.Unmarshal(delivery.Body, &evt); err != nil || evt.MessageID == "" {
				slog.Warn("dropping malformed message.sent delivery", "error", err)
				_ = delivery.Ack(false)
				continue
			}
			if err := handler(ctx, evt); err != nil {
				_ = delivery.Nack(false, true)
				continue
			}
			_ = delivery.Ack(false)
		}
	}
}

// SubscribeCancel binds an exclusive queue to the cancel exchange and feeds
// notices to the handler. Blocks until ctx is cancelled or the channel
// closes.
func (b *RabbitBus) SubscribeCancel(ctx context.Context, handler func(context.Context, MessageCancel)) error {
	// separate channel so the work-queue Qos does not apply here
	channel, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("open cancel channel: %w", err)
	}
	defer channel.Close()
	queue, err := channel.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("declare cancel queue: %w", err)
	}
	if err := channel.QueueBind(queue.Name, "", CancelExchange, false, nil); err != nil {
		return fmt.Errorf("bind cancel queue: %w", err)
	}
	deliveries, err := channel.Consume(queue.Name, "", true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume cancel queue: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-deliveries:
			if !ok {
				return errors.New("message.cancel channel closed")
			}
			var evt MessageCancel
			if err := json.Unmarshal(delivery.Body, &evt); err != nil {
				slog.Warn("dropping malformed message.cancel delivery", "error", err)
				continue
			}
			handler(ctx, evt)
		}
	}
}
