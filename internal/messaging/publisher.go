package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Publisher отправляет JSON-сообщения в брокер.
type Publisher interface {
	Publish(ctx context.Context, payload any, correlationID string) error
	Close() error
}

var _ Publisher = (*RabbitMQPublisher)(nil)

// RabbitMQPublisher публикует в очередь через default exchange, либо в
// заданный exchange с routing key.
type RabbitMQPublisher struct {
	ch           *amqp091.Channel
	exchangeName string
	routingKey   string
	logger       *zap.Logger
	mu           sync.Mutex
}

// NewRabbitMQPublisher открывает канал. Если exchange пуст, объявляется
// durable-очередь queueName и сообщения идут в нее напрямую.
func NewRabbitMQPublisher(conn *amqp091.Connection, exchange, routingKey, queueName string, logger *zap.Logger) (*RabbitMQPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel for publisher: %w", err)
	}

	if exchange == "" {
		if queueName == "" {
			ch.Close()
			return nil, errors.New("either exchange or queue name is required")
		}
		if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
			ch.Close()
			return nil, fmt.Errorf("failed to declare queue %s: %w", queueName, err)
		}
		if routingKey == "" {
			routingKey = queueName
		}
	} else {
		if err := ch.ExchangeDeclare(exchange, "direct", true, false, false, false, nil); err != nil {
			ch.Close()
			return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
		}
	}

	return &RabbitMQPublisher{
		ch:           ch,
		exchangeName: exchange,
		routingKey:   routingKey,
		logger:       logger.Named("RabbitMQPublisher"),
	}, nil
}

func (p *RabbitMQPublisher) Publish(ctx context.Context, payload any, correlationID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch == nil {
		return errors.New("publisher channel is closed")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	err = p.ch.PublishWithContext(ctx,
		p.exchangeName,
		p.routingKey,
		false, // mandatory
		false, // immediate
		amqp091.Publishing{
			ContentType:   "application/json",
			CorrelationId: correlationID,
			Body:          body,
			DeliveryMode:  amqp091.Persistent,
			Timestamp:     time.Now(),
		},
	)
	if err != nil {
		p.logger.Error("Failed to publish message", zap.String("routing_key", p.routingKey), zap.Error(err))
		return fmt.Errorf("failed to publish message: %w", err)
	}
	p.logger.Debug("Message published", zap.String("routing_key", p.routingKey), zap.String("correlation_id", correlationID))
	return nil
}

func (p *RabbitMQPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		err := p.ch.Close()
		p.ch = nil
		return err
	}
	return nil
}
