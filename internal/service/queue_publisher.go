// Package queue_publisher publishes domain events to RabbitMQ.  Errors are
// logged and returned so callers can ignore failures without interrupting
// the main request flow.
package queue_publisher

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	q "github.com/iliyamo/import-brokerage/internal/queue"
)

// dialTimeout keeps an unreachable broker from stalling the transition
// that triggered the publish.
const dialTimeout = 3 * time.Second

// Publisher sends order events to the default exchange, routed by queue
// name.  It dials per publish; transitions are rare enough that a pooled
// connection is not needed.
type Publisher struct {
	url string
	log *zap.SugaredLogger
}

// NewPublisher returns a Publisher for the broker at url.
func NewPublisher(url string, log *zap.SugaredLogger) *Publisher {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Publisher{url: url, log: log}
}

// PublishStatusChanged publishes ev to the order.status_changed queue as a
// persistent message.
func (p *Publisher) PublishStatusChanged(ctx context.Context, ev q.OrderStatusChangedEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		p.log.Errorw("rabbitmq: marshal event failed", "order_id", ev.OrderID, "error", err)
		return err
	}
	return p.publish(ctx, q.StatusChangedQueue, ev.OrderID, body)
}

func (p *Publisher) publish(ctx context.Context, queueName, messageID string, body []byte) error {
	conn, err := amqp.DialConfig(p.url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(dialTimeout),
	})
	if err != nil {
		p.log.Warnw("rabbitmq: dial failed", "error", err)
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		p.log.Warnw("rabbitmq: channel open failed", "error", err)
		return err
	}
	defer func() { _ = ch.Close() }()

	// Durable so messages survive broker restarts.
	if _, err := ch.QueueDeclare(
		queueName, // name
		true,      // durable
		false,     // autoDelete
		false,     // exclusive
		false,     // noWait
		nil,       // args
	); err != nil {
		p.log.Warnw("rabbitmq: queue declare failed", "queue", queueName, "error", err)
		return err
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    messageID,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx,
		"",        // default exchange
		queueName, // routing key = queue name
		false,     // mandatory
		false,     // immediate
		pub,
	); err != nil {
		p.log.Warnw("rabbitmq: publish failed", "queue", queueName, "error", err)
		return err
	}
	return nil
}
