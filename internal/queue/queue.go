package queue

import (
	"context"
	"fmt"
)

// Publisher publishes dispatch messages to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg DispatchMessage) error
	Close() error
}

// MessageHandler handles a consumed queue message.
type MessageHandler func(ctx context.Context, msg DispatchMessage) error

// Consumer consumes dispatch messages from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

const (
	// DispatchQueue carries due (campaign, contact, step) triples.
	DispatchQueue = "sequence.dispatch"

	dispatchRoutingKey = "sequence.dispatch"
)

// DLQName returns the dead-letter queue name for a work queue, e.g. dlq.sequence.dispatch.
func DLQName(queue string) string {
	return fmt.Sprintf("dlq.%s", queue)
}

// WorkQueueNames returns all work queues.
func WorkQueueNames() []string {
	return []string{DispatchQueue}
}

// DLQNames returns all dead-letter queues.
func DLQNames() []string {
	return []string{DLQName(DispatchQueue)}
}
