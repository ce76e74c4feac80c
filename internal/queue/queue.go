package queue

import (
	"context"
	"fmt"
	"time"
)

// Pipeline work queue names. Chunks carry generation work, emails carry
// fully composed send work.
const (
	ChunkQueue = "chunks"
	EmailQueue = "emails"
)

// Publisher publishes pipeline messages to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg Message) error
	// PublishWithDelay parks the message on the queue's retry queue with a
	// per-message TTL. When the TTL expires the broker dead-letters it back
	// onto the work queue, which gives delayed redelivery without a poller.
	PublishWithDelay(ctx context.Context, queue string, msg Message, delay time.Duration) error
	Close() error
}

// MessageHandler handles one consumed delivery. Returning an error requeues
// the raw delivery; handlers that manage their own retries should republish
// with a delay and return nil instead.
type MessageHandler func(ctx context.Context, body []byte) error

// Consumer consumes pipeline messages from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

var workQueues = []string{ChunkQueue, EmailQueue}

// RetryQueueName returns the delay queue for a work queue, e.g. retry.chunks.
func RetryQueueName(queue string) string {
	return fmt.Sprintf("retry.%s", queue)
}

// DLQName returns the dead-letter queue name for a work queue, e.g. dlq.chunks.
func DLQName(queue string) string {
	return fmt.Sprintf("dlq.%s", queue)
}

// WorkQueueNames returns all pipeline work queues.
func WorkQueueNames() []string {
	out := make([]string, len(workQueues))
	copy(out, workQueues)
	return out
}

// DLQNames returns all dead-letter queues.
func DLQNames() []string {
	queues := make([]string, 0, len(workQueues))
	for _, q := range workQueues {
		queues = append(queues, DLQName(q))
	}
	return queues
}

// RetryDelay computes the exponential backoff before a retry attempt.
// Attempt is 1-based: the first retry waits base, the second 2*base.
func RetryDelay(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay > maxRetryDelay {
			return maxRetryDelay
		}
	}
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	return delay
}

const maxRetryDelay = 5 * time.Minute
