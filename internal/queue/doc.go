// Package queue moves migration tasks between the lifecycle optimizer and
// the migration worker over RabbitMQ. The optimizer publishes tasks after
// persisting them; the worker consumes, executes through the gateway, and
// records the outcome on the task row. Task state in the database is the
// source of truth, the queue is only the wakeup signal.
package queue
