package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	maxReconnectAttempts = 5
	reconnectDelay       = 5 * time.Second
)

// QueueConfig настройки очереди.
type QueueConfig struct {
	Name       string
	Durable    bool
	AutoDelete bool
	Exclusive  bool
	NoWait     bool
}

// DeliveryHandler обрабатывает сообщение. true - подтвердить (ack),
// false - вернуть в очередь (nack с requeue).
type DeliveryHandler interface {
	HandleDelivery(ctx context.Context, msg amqp091.Delivery) bool
}

// DeliveryHandlerFunc - функция как DeliveryHandler.
type DeliveryHandlerFunc func(ctx context.Context, msg amqp091.Delivery) bool

func (f DeliveryHandlerFunc) HandleDelivery(ctx context.Context, msg amqp091.Delivery) bool {
	return f(ctx, msg)
}

// Connect подключается к RabbitMQ, повторяя попытки maxReconnectAttempts раз.
func Connect(ctx context.Context, url string, logger *zap.Logger) (*amqp091.Connection, error) {
	var lastErr error
	for attempt := 1; attempt <= maxReconnectAttempts; attempt++ {
		conn, err := amqp091.Dial(url)
		if err == nil {
			logger.Info("RabbitMQ connected successfully", zap.Int("attempt", attempt))
			return conn, nil
		}
		lastErr = err
		logger.Error("Failed to connect to RabbitMQ", zap.Int("attempt", attempt), zap.Error(err))
		if attempt == maxReconnectAttempts {
			break
		}
		select {
		case <-time.After(reconnectDelay):
			logger.Info("Retrying RabbitMQ connection...")
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("rabbitmq unreachable after %d attempts: %w", maxReconnectAttempts, lastErr)
}

// Consume слушает очередь до отмены ctx или закрытия канала брокером.
// Prefetch = 1: следующее сообщение приходит только после ack текущего.
func Consume(ctx context.Context, conn *amqp091.Connection, queue QueueConfig, consumerName string, handler DeliveryHandler, logger *zap.Logger) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel for consumer: %w", err)
	}
	defer ch.Close()

	q, err := ch.QueueDeclare(queue.Name, queue.Durable, queue.AutoDelete, queue.Exclusive, queue.NoWait, nil)
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", queue.Name, err)
	}
	logger.Info("Queue declared", zap.String("queue", q.Name), zap.Int("messages", q.Messages), zap.Int("consumers", q.Consumers))

	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := ch.Consume(q.Name, consumerName, false, queue.Exclusive, false, queue.NoWait, nil)
	if err != nil {
		return fmt.Errorf("failed to register consumer on %s: %w", q.Name, err)
	}
	logger.Info("Consumer started, waiting for messages...", zap.String("queue", q.Name))

	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				logger.Warn("Consumer channel closed by RabbitMQ", zap.String("queue", q.Name))
				return fmt.Errorf("consumer channel for %s closed", q.Name)
			}
			logger.Debug("Received a message", zap.Uint64("delivery_tag", msg.DeliveryTag))
			if handler.HandleDelivery(ctx, msg) {
				if err := msg.Ack(false); err != nil {
					logger.Error("Failed to ack message", zap.Uint64("delivery_tag", msg.DeliveryTag), zap.Error(err))
				}
			} else {
				if err := msg.Nack(false, true); err != nil {
					logger.Error("Failed to nack message", zap.Uint64("delivery_tag", msg.DeliveryTag), zap.Error(err))
				}
			}
		case <-ctx.Done():
			logger.Info("Context cancelled, stopping consumer...", zap.String("queue", q.Name))
			return nil
		}
	}
}
