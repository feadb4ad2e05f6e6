package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// AMQPPublisher relays engine events onto a RabbitMQ topic exchange for
// downstream consumers (notifications, reporting). Routing key is the
// event type.
type AMQPPublisher struct {
	conn     *amqp091.Connection
	exchange string
	logger   *zap.Logger
}

// NewAMQPPublisher dials the broker and declares the exchange.
func NewAMQPPublisher(url, exchange string, logger *zap.Logger) (*AMQPPublisher, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, err
	}

	return &AMQPPublisher{conn: conn, exchange: exchange, logger: logger}, nil
}

// Handler returns an EventHandler suitable for Dispatcher.Subscribe.
func (p *AMQPPublisher) Handler() EventHandler {
	return func(ctx context.Context, event Event) error {
		if err := p.publish(ctx, event); err != nil {
			p.logger.Warn("amqp publish failed",
				zap.String("event_type", string(event.Type)),
				zap.String("assignment_id", event.AssignmentID),
				zap.Error(err))
			return err
		}
		return nil
	}
}

func (p *AMQPPublisher) publish(ctx context.Context, event Event) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msgID := event.ID
	if msgID == "" {
		msgID = uuid.NewString()
	}

	return ch.PublishWithContext(
		ctx, p.exchange, string(event.Type), false, false,
		amqp091.Publishing{
			ContentType:   "application/json",
			DeliveryMode:  amqp091.Persistent,
			MessageId:     msgID,
			CorrelationId: event.AssignmentID,
			Timestamp:     time.Now(),
			Body:          body,
		},
	)
}

// Close releases the broker connection.
func (p *AMQPPublisher) Close() error {
	return p.conn.Close()
}
