package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const callEventsQueue = "call.events"

// Dispatcher fans lifecycle events out to a user. Implementations must
// never block a lifecycle transition on delivery.
type Dispatcher interface {
	Notify(ctx context.Context, userID, event string, payload CallEvent)
}

// AMQPDispatcher publishes events to a durable RabbitMQ queue, one
// message per recipient. The connection is opened lazily and re-opened
// after broker failures; publish errors are logged and dropped.
type AMQPDispatcher struct {
	url string
	log *slog.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewAMQPDispatcher(url string, log *slog.Logger) *AMQPDispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &AMQPDispatcher{url: url, log: log}
}

func (d *AMQPDispatcher) Notify(ctx context.Context, userID, event string, payload CallEvent) {
	body, err := json.Marshal(struct {
		UserID string    `json:"user_id"`
		Event  string    `json:"event"`
		Data   CallEvent `json:"data"`
	}{UserID: userID, Event: event, Data: payload})
	if err != nil {
		d.log.Error("notify marshal failed", "event", event, "err", err)
		return
	}

	ch, err := d.channel()
	if err != nil {
		d.log.Warn("notify broker unavailable", "event", event, "user_id", userID, "err", err)
		return
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", callEventsQueue, false, false, pub); err != nil {
		d.log.Warn("notify publish failed", "event", event, "user_id", userID, "err", err)
		// Drop the channel so the next publish re-dials.
		d.reset()
	}
}

// Close shuts the broker connection down. Safe to call multiple times.
func (d *AMQPDispatcher) Close() {
	d.reset()
}

func (d *AMQPDispatcher) channel() (*amqp.Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ch != nil && !d.conn.IsClosed() {
		return d.ch, nil
	}

	conn, err := amqp.Dial(d.url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	// Durable queue so events survive broker restarts.
	if _, err := ch.QueueDeclare(callEventsQueue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	d.conn = conn
	d.ch = ch
	return ch, nil
}

func (d *AMQPDispatcher) reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ch != nil {
		_ = d.ch.Close()
		d.ch = nil
	}
	if d.conn != nil {
		_ = d.conn.Close()
		d.conn = nil
	}
}

// LogDispatcher writes events to the structured log only. Used when no
// broker is configured (local development).
type LogDispatcher struct {
	Log *slog.Logger
}

func (d LogDispatcher) Notify(ctx context.Context, userID, event string, payload CallEvent) {
	l := d.Log
	if l == nil {
		l = slog.Default()
	}
	l.Info("call event", "user_id", userID, "event", event, "call_id", payload.CallID, "status", payload.Status)
}
