// Package queue contains the message payloads exchanged over the broker and
// the background consumer that turns order transitions into customer
// emails.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/iliyamo/import-brokerage/internal/notify"
)

// StatusNotifier emails the customer about a transition.
type StatusNotifier struct {
	Mailer notify.EmailSender
	Log    *zap.SugaredLogger
}

// Handle processes one order.status_changed message.  Events without a
// contact email are acknowledged and dropped.
func (n StatusNotifier) Handle(ctx context.Context, body []byte) error {
	var ev OrderStatusChangedEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if ev.OrderID == "" || ev.ToStatus == "" {
		return errors.New("event missing order_id or to_status")
	}
	if ev.ContactEmail == "" {
		n.Log.Infow("status change without contact email", "order_id", ev.OrderID, "to", ev.ToStatus)
		return nil
	}
	subject, html, text := notify.StatusChangedEmail(ev.ContactName, ev.OrderID, ev.ToStatus, ev.Notes)
	if !n.Mailer.Send(ctx, ev.ContactEmail, subject, html, text) {
		return fmt.Errorf("email to %s not delivered", ev.ContactEmail)
	}
	n.Log.Infow("status email sent", "order_id", ev.OrderID, "to", ev.ToStatus)
	return nil
}

// StartStatusConsumer connects to RabbitMQ, declares the durable
// order.status_changed queue and feeds each delivery to n.  It reconnects
// with exponential backoff and returns only when ctx is cancelled.
// Messages n cannot process are rejected without requeue so one bad
// payload cannot wedge the queue.
func StartStatusConsumer(ctx context.Context, url string, n StatusNotifier) error {
	if n.Log == nil {
		n.Log = zap.NewNop().Sugar()
	}
	backoff := time.Second
	for {
		conn, err := amqp.Dial(url)
		if err != nil {
			n.Log.Warnw("status-consumer: failed to dial broker", "error", err, "retry_in", backoff)
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = consumeLoop(ctx, conn, n)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n.Log.Warnw("status-consumer: consume loop ended, reconnecting", "error", err)
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func consumeLoop(ctx context.Context, conn *amqp.Connection, n StatusNotifier) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		n.Log.Warnw("status-consumer: set QoS failed", "error", err)
	}
	if _, err := ch.QueueDeclare(StatusChangedQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(StatusChangedQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := n.Handle(ctx, d.Body); err != nil {
				n.Log.Errorw("status-consumer: handle message failed", "message_id", d.MessageId, "error", err)
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
