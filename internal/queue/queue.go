package queue

import (
	"context"
	"encoding/json"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/tierstore/tierstore/pkg/errors"
	"github.com/tierstore/tierstore/pkg/types"
)

const (
	exchangeName = "tierstore"
	queueName    = "tierstore.migrations"
	routingKey   = "migration.task"
)

// Connection wraps the AMQP connection and declared topology shared by the
// publisher and consumer.
type Connection struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	logger  *slog.Logger
}

// Connect dials RabbitMQ and declares the exchange, queue, and binding.
func Connect(url string, logger *slog.Logger) (*Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, errors.Wrap(errors.KindBackendUnavailable, err, "dial rabbitmq").
			WithComponent("queue")
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(errors.KindBackendUnavailable, err, "open channel").
			WithComponent("queue")
	}

	if err := ch.ExchangeDeclare(exchangeName, "direct", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, errors.Wrap(errors.KindBackendUnavailable, err, "declare exchange").
			WithComponent("queue")
	}

	q, err := ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(errors.KindBackendUnavailable, err, "declare queue").
			WithComponent("queue")
	}

	if err := ch.QueueBind(q.Name, routingKey, exchangeName, false, nil); err != nil {
		conn.Close()
		return nil, errors.Wrap(errors.KindBackendUnavailable, err, "bind queue").
			WithComponent("queue")
	}

	logger.Info("rabbitmq topology ready", "exchange", exchangeName, "queue", queueName)
	return &Connection{conn: conn, channel: ch, logger: logger.With("component", "queue")}, nil
}

// Healthy reports whether the broker connection is still up.
func (c *Connection) Healthy() error {
	if c.conn.IsClosed() {
		return errors.New(errors.KindBackendUnavailable, "rabbitmq connection closed").
			WithComponent("queue")
	}
	return nil
}

// Close tears the connection down.
func (c *Connection) Close() error {
	if c.channel != nil {
		c.channel.Close()
	}
	return c.conn.Close()
}

// PublishTask emits a migration task onto the queue as a persistent
// message.
func (c *Connection) PublishTask(ctx context.Context, task *types.MigrationTask) error {
	body, err := json.Marshal(task)
	if err != nil {
		return errors.Wrap(errors.KindInternal, err, "encode migration task").
			WithComponent("queue").WithDetail("task", task.ID)
	}

	err = c.channel.PublishWithContext(ctx, exchangeName, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    task.ID,
		Body:         body,
	})
	if err != nil {
		return errors.Wrap(errors.KindBackendUnavailable, err, "publish migration task").
			WithComponent("queue").WithDetail("task", task.ID)
	}

	c.logger.Debug("task published", "task", task.ID, "file", task.FileID, "dest", task.DestTier)
	return nil
}
