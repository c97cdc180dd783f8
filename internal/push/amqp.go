package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/mealwave/ordernotify/internal/model"
)

// AMQPSource consumes order events from a per-user RabbitMQ queue. Backends
// that fan out order events through a broker publish one queue per customer.
type AMQPSource struct {
	addr   string
	userID string
	logger *zap.Logger
}

// NewAMQPSource creates a RabbitMQ push source.
func NewAMQPSource(addr, userID string, logger *zap.Logger) *AMQPSource {
	return &AMQPSource{addr: addr, userID: userID, logger: logger}
}

func (s *AMQPSource) queueName() string {
	return fmt.Sprintf("order-events.%s", s.userID)
}

// Run consumes the queue until ctx is cancelled, redialling after failures.
func (s *AMQPSource) Run(ctx context.Context, wake chan<- struct{}) error {
	for {
		if err := s.consume(ctx, wake); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Warn("push connection lost", zap.Error(err))
		}

		sleepCtx(ctx, reconnectDelay)
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (s *AMQPSource) consume(ctx context.Context, wake chan<- struct{}) error {
	conn, err := amqp.Dial(s.addr)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	queue, err := ch.QueueDeclare(
		s.queueName(),
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	deliveries, err := ch.Consume(
		queue.Name,
		"ordernotify",
		true,  // autoAck
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,
	)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	s.logger.Info("push channel connected", zap.String("queue", queue.Name))

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}

			var ev model.PushEvent
			if err := json.Unmarshal(d.Body, &ev); err != nil {
				s.logger.Debug("undecodable push event", zap.Error(err))
			} else {
				s.logger.Debug("push event received", zap.String("type", ev.Type))
			}
			// Any delivery on the per-user queue is a reconcile trigger.
			signal(wake)
		}
	}
}
