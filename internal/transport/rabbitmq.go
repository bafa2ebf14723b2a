package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// RabbitMQConfig holds the AMQP transport settings
type RabbitMQConfig struct {
	URL      string
	Prefix   string
	Prefetch int
}

// RabbitMQTransport publishes each address to its own durable queue
type RabbitMQTransport struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	prefix   string
	prefetch int
	declared map[string]bool
	mu       sync.Mutex
	log      zerolog.Logger
}

// NewRabbitMQTransport dials the broker and opens the publish channel
func NewRabbitMQTransport(cfg RabbitMQConfig, log zerolog.Logger) (*RabbitMQTransport, error) {
	if cfg.URL == "" {
		return nil, errors.New("rabbitmq url is required")
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open rabbitmq channel: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "nexus.tasks"
	}
	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 10
	}

	return &RabbitMQTransport{
		conn:     conn,
		ch:       ch,
		prefix:   prefix,
		prefetch: prefetch,
		declared: make(map[string]bool),
		log:      log.With().Str("component", "rabbitmq_transport").Logger(),
	}, nil
}

func (t *RabbitMQTransport) queueName(address string) string {
	return t.prefix + "." + address
}

// declare must be called with mu held
func (t *RabbitMQTransport) declare(ch *amqp.Channel, name string) error {
	if t.declared[name] {
		return nil
	}
	if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", name, err)
	}
	t.declared[name] = true
	return nil
}

// Send publishes the encoded envelope to the address queue
func (t *RabbitMQTransport) Send(ctx context.Context, env Envelope) error {
	data, err := Marshal(env)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ch == nil {
		return ErrClosed
	}
	name := t.queueName(env.Address())
	if err := t.declare(t.ch, name); err != nil {
		return err
	}
	err = t.ch.PublishWithContext(ctx, "", name, false, false, amqp.Publishing{
		ContentType:  "application/msgpack",
		DeliveryMode: amqp.Persistent,
		MessageId:    env.TaskID,
		Body:         data,
	})
	if err != nil {
		return fmt.Errorf("failed to publish to rabbitmq: %w", err)
	}
	return nil
}

// Consume reads the address queue on a dedicated channel with manual acks
func (t *RabbitMQTransport) Consume(ctx context.Context, address string, h Handler) error {
	t.mu.Lock()
	if t.conn == nil {
		t.mu.Unlock()
		return ErrClosed
	}
	ch, err := t.conn.Channel()
	if err != nil {
		t.mu.Unlock()
		return fmt.Errorf("failed to open rabbitmq channel: %w", err)
	}
	t.mu.Unlock()
	defer ch.Close()

	name := t.queueName(address)
	if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", name, err)
	}

	if err := ch.Qos(t.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set rabbitmq qos: %w", err)
	}
	msgs, err := ch.Consume(name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume rabbitmq queue: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return ErrClosed
			}
			env, err := Unmarshal(msg.Body)
			if err != nil {
				t.log.Error().Err(err).Str("queue", name).Msg("Dropping malformed frame")
				_ = msg.Ack(false)
				continue
			}
			if err := h(ctx, env); err != nil {
				t.log.Warn().Err(err).Str("queue", name).Str("task_id", env.TaskID).Msg("Envelope handler failed")
			}
			_ = msg.Ack(false)
		}
	}
}

// Close closes the channel and connection
func (t *RabbitMQTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ch != nil {
		_ = t.ch.Close()
		t.ch = nil
	}
	if t.conn != nil {
		err := t.conn.Close()
		t.conn = nil
		return err
	}
	return nil
}
