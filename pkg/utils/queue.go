package utils

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Durable queue; jobs and results are published Persistent
func DeclareQueue(ch *amqp.Channel, name string, prefetch int) (*amqp.Queue, error) {
	queue, err := ch.QueueDeclare(
		name,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("declare queue %s: %w", name, err)
	}
	// Fair dispatch: a consumer holds at most prefetch unacknowledged messages
	if err := ch.Qos(prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("set prefetch on %s: %w", name, err)
	}
	return &queue, nil
}

// Requeue a delivery that could not be handled here; another consumer gets it
func FailOnNack(d amqp.Delivery, err error) {
	WarnLog("queue", "Requeueing message %d: %v", d.DeliveryTag, err)
	if err := d.Nack(false, true); err != nil {
		FailOnError("Could not requeue message %d", err, d.DeliveryTag)
	}
}

// Drop every message still in the queue
func PurgeQueue(ch *amqp.Channel, name string) {
	count, err := ch.QueuePurge(name, false)
	if err != nil {
		WarnLog("queue", "Could not purge %s: %v", name, err)
		return
	}
	ServerLog("Purged %d message(s) from %s", count, name)
}
