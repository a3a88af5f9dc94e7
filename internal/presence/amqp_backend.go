// Cross-process broadcast backend over a fanout exchange, for multi-process
// deployment where the Presence & Subscription Registry is partitioned by
// connection and broadcasts must cross processes.

package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPBackend publishes presence events to a fanout exchange and relays
// every message received back on the exchange into the local Registry.
type AMQPBackend struct {
	conn *amqp.Connection
	exchange string
	logger *slog.Logger
}

type wireEvent struct {
	Room string `json:"room"`
	Name string `json:"name"`
	Data []byte `json:"data"`
}

// NewAMQPBackend dials url, declares a fanout exchange, and starts a
// consumer that republishes every message into registry's local rooms.
// queueName should be unique per process so each replica gets its own
// fan-out copy.
func NewAMQPBackend(ctx context.Context, url, exchange, queueName string, registry *Registry, logger *slog.Logger) (*AMQPBackend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "presence-amqp")

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dialing amqp: %w", err)
	}

	publishCh, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening publish channel: %w", err)
	}
	if err := publishCh.ExchangeDeclare(exchange, "fanout", true, false, false, false, nil); err != nil {
		publishCh.Close()
		conn.Close()
		return nil, fmt.Errorf("declaring exchange: %w", err)
	}
	publishCh.Close()

	b := &AMQPBackend{conn: conn, exchange: exchange, logger: logger}

	if err := b.startConsumer(queueName, registry); err != nil {
		conn.Close()
		return nil, fmt.Errorf("starting consumer: %w", err)
	}

	return b, nil
}

func (b *AMQPBackend) startConsumer(queueName string, registry *Registry) error {
	ch, err := b.conn.Channel()
	if err != nil {
		return err
	}
	q, err := ch.QueueDeclare(queueName, false, true, true, false, nil)
	if err != nil {
		ch.Close()
		return err
	}
	if err := ch.QueueBind(q.Name, "", b.exchange, false, nil); err != nil {
		ch.Close()
		return err
	}
	deliveries, err := ch.Consume(q.Name, "", true, false, false, false, nil)
	if err != nil {
		ch.Close()
		return err
	}

	go func() {
		defer ch.Close()
		for d := range deliveries {
			var we wireEvent
			if err := json.Unmarshal(d.Body, &we); err != nil {
				b.logger.Warn("dropping malformed event", "err", err)
				continue
			}
			registry.broadcastLocal(we.Room, Event{Name: we.Name, Payload: we.Data}, "")
		}
	}()
	return nil
}

// Publish sends event to every sibling process subscribed to the exchange.
func (b *AMQPBackend) Publish(ctx context.Context, room string, event Event) error {
	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("opening channel: %w", err)
	}
	defer ch.Close()

	body, err := json.Marshal(wireEvent{Room: room, Name: event.Name, Data: event.Payload})
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	return ch.PublishWithContext(ctx, b.exchange, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		Body: body,
	})
}

// Close releases the underlying connection.
func (b *AMQPBackend) Close() error {
	return b.conn.Close()
}
