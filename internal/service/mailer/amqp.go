package mailer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPSender publishes messages to a durable queue consumed by a separate mail worker.
type AMQPSender struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   amqp.Queue
}

func NewAMQPSender(url, queueName string) (*AMQPSender, error) {
	const op = "mailer.NewAMQPSender"

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	q, err := ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &AMQPSender{
		conn:    conn,
		channel: ch,
		queue:   q,
	}, nil
}

func (s *AMQPSender) Send(ctx context.Context, msg Message) error {
	const op = "mailer.AMQPSender.Send"

	publishing, err := newPublishing(msg, time.Now())
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	err = s.channel.PublishWithContext(ctx, "", s.queue.Name, false, false, publishing)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func newPublishing(msg Message, now time.Time) (amqp.Publishing, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return amqp.Publishing{}, err
	}

	return amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    now,
		Type:         msg.Kind,
	}, nil
}

func (s *AMQPSender) Name() string {
	return "amqp"
}

func (s *AMQPSender) Close() error {
	_ = s.channel.Close()
	return s.conn.Close()
}
