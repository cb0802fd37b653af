package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/tierstore/tierstore/internal/catalog"
	"github.com/tierstore/tierstore/pkg/errors"
	"github.com/tierstore/tierstore/pkg/retry"
	"github.com/tierstore/tierstore/pkg/types"
)

// Migrator executes one tier move. Implemented by the gateway.
type Migrator interface {
	Migrate(ctx context.Context, fileID string, dest types.TierID, reason types.MigrationReason) error
}

// Worker consumes migration tasks and executes them through the gateway.
type Worker struct {
	conn     *Connection
	tasks    catalog.TaskStore
	migrator Migrator
	retryer  *retry.Retryer
	logger   *slog.Logger
}

// NewWorker creates a migration worker. Transient backend failures are
// retried with backoff before the task is marked failed.
func NewWorker(conn *Connection, tasks catalog.TaskStore, migrator Migrator, logger *slog.Logger) *Worker {
	cfg := retry.DefaultConfig()
	cfg.MaxAttempts = 3
	cfg.InitialDelay = 2 * time.Second
	return &Worker{
		conn:     conn,
		tasks:    tasks,
		migrator: migrator,
		retryer:  retry.New(cfg),
		logger:   logger.With("component", "queue.worker"),
	}
}

// Run consumes deliveries until the context is canceled.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.conn.channel.Qos(1, 0, false); err != nil {
		return errors.Wrap(errors.KindBackendUnavailable, err, "set qos").
			WithComponent("queue.worker")
	}

	deliveries, err := w.conn.channel.Consume(queueName, "", false, false, false, false, nil)
	if err != nil {
		return errors.Wrap(errors.KindBackendUnavailable, err, "start consumer").
			WithComponent("queue.worker")
	}

	w.logger.Info("migration worker started")
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("migration worker stopping")
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New(errors.KindBackendUnavailable, "delivery channel closed").
					WithComponent("queue.worker")
			}
			w.handle(ctx, d)
		}
	}
}

func (w *Worker) handle(ctx context.Context, d amqp.Delivery) {
	var task types.MigrationTask
	if err := json.Unmarshal(d.Body, &task); err != nil {
		w.logger.Error("undecodable task dropped", "message_id", d.MessageId, "error", err)
		d.Nack(false, false)
		return
	}

	if err := w.Process(ctx, &task); err != nil {
		d.Nack(false, false)
		return
	}
	d.Ack(false)
}

// Process executes one task: mark in-flight, migrate with retries, record
// the outcome. Conflicts are terminal for the task; the optimizer will
// re-evaluate the file on its next pass.
func (w *Worker) Process(ctx context.Context, task *types.MigrationTask) error {
	if err := w.tasks.SetTaskStatus(ctx, task.ID, types.TaskInFlight, ""); err != nil {
		w.logger.Error("cannot mark task in-flight", "task", task.ID, "error", err)
		return err
	}

	err := w.retryer.DoWithContext(ctx, func(ctx context.Context) error {
		return w.migrator.Migrate(ctx, task.FileID, task.DestTier, task.Reason)
	})
	if err != nil {
		// A vanished file means a delete won the race; that resolves the
		// task rather than failing it.
		if errors.IsKind(err, errors.KindNotFound) {
			w.logger.Info("file gone before migration, task resolved",
				"task", task.ID, "file", task.FileID)
			return w.tasks.SetTaskStatus(ctx, task.ID, types.TaskDone, "")
		}

		w.logger.Warn("migration failed",
			"task", task.ID, "file", task.FileID, "dest", task.DestTier, "error", err)
		if setErr := w.tasks.SetTaskStatus(ctx, task.ID, types.TaskFailed, err.Error()); setErr != nil {
			w.logger.Error("cannot record task failure", "task", task.ID, "error", setErr)
		}
		return err
	}

	return w.tasks.SetTaskStatus(ctx, task.ID, types.TaskDone, "")
}
