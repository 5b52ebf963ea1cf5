package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPNotifier publishes notifications to a durable RabbitMQ queue.
// Delivery is at-least-once; the NotificationID on each message lets
// consumers deduplicate.
type AMQPNotifier struct {
	conn  *amqp.Connection
	chn   *amqp.Channel
	queue string
}

func NewAMQPNotifier(url, queue string) (*AMQPNotifier, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	chn, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if _, err := chn.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = chn.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	return &AMQPNotifier{conn: conn, chn: chn, queue: queue}, nil
}

func (a *AMQPNotifier) Send(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return a.chn.PublishWithContext(ctx, "", a.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    n.NotificationID,
		Body:         body,
	})
}

func (a *AMQPNotifier) Close() error {
	if err := a.chn.Close(); err != nil {
		return err
	}
	return a.conn.Close()
}
