package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// publisher is the part of *amqp.Channel the gateway uses.
type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPGateway publishes notifications to a topic exchange with routing key
// notify.<kind>, leaving delivery channels (push, sms, email) to consumers.
type AMQPGateway struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	pub      publisher
	exchange string
}

// DialAMQP connects and declares the exchange.
func DialAMQP(url, exchange string) (*AMQPGateway, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect amqp: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}

	if err := channel.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	return &AMQPGateway{conn: conn, channel: channel, pub: channel, exchange: exchange}, nil
}

func newAMQPGateway(pub publisher, exchange string) *AMQPGateway {
	return &AMQPGateway{pub: pub, exchange: exchange}
}

func RoutingKey(kind Kind) string {
	return "notify." + string(kind)
}

func (g *AMQPGateway) Notify(ctx context.Context, userID uuid.UUID, kind Kind, payload map[string]any) error {
	msg := newMessage(userID, kind, payload)
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	err = g.pub.PublishWithContext(ctx, g.exchange, RoutingKey(kind), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID,
		Timestamp:    msg.CreatedAt,
		Type:         string(kind),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

func (g *AMQPGateway) Close() error {
	if g == nil || g.channel == nil {
		return nil
	}
	if err := g.channel.Close(); err != nil {
		g.conn.Close()
		return err
	}
	return g.conn.Close()
}
