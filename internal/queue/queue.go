// Package queue implements the pending-message queue shared between
// collection scanners and the publisher.
package queue

import (
	"context"
	"sync"

	"github.com/jentle/kafka-connect-mongo/internal/envelope"
	"github.com/jentle/kafka-connect-mongo/pkg/metrics"
)

// Queue is an unbounded, insertion-ordered queue safe for many concurrent
// producers and a single consumer. It enforces no maximum itself; the
// high-water policy lives in the producers via WaitBelow. Instead of
// sleep/poll loops, state changes are signaled through edge-triggered
// channels: Grown for the consumer, an internal shrink signal for blocked
// producers.
type Queue struct {
	mu     sync.Mutex
	items  []envelope.Message
	head   int
	grown  chan struct{}
	shrunk chan struct{}
}

// compactThreshold is the number of consumed slots the backing slice may
// accumulate before Dequeue shifts the live entries down and truncates.
const compactThreshold = 1024

// New creates an empty queue
func New() *Queue {
	return &Queue{
		grown:  make(chan struct{}),
		shrunk: make(chan struct{}),
	}
}

// Enqueue appends a message. Never blocks.
func (q *Queue) Enqueue(msg envelope.Message) {
	q.mu.Lock()
	q.items = append(q.items, msg)
	close(q.grown)
	q.grown = make(chan struct{})
	depth := len(q.items) - q.head
	q.mu.Unlock()

	metrics.QueueDepth.Set(float64(depth))
}

// Dequeue removes and returns the oldest message, or false when empty.
// Never blocks. Single-consumer use only.
func (q *Queue) Dequeue() (envelope.Message, bool) {
	q.mu.Lock()
	if q.head == len(q.items) {
		q.mu.Unlock()
		return envelope.Message{}, false
	}

	msg := q.items[q.head]
	q.items[q.head] = envelope.Message{}
	q.head++
	switch {
	case q.head == len(q.items):
		q.items = q.items[:0]
		q.head = 0
	case q.head >= compactThreshold && q.head*2 >= len(q.items):
		// Reclaim the consumed prefix without waiting for the queue to
		// drain; under sustained load it may never be observed empty.
		n := copy(q.items, q.items[q.head:])
		clear(q.items[n:])
		q.items = q.items[:n]
		q.head = 0
	}

	close(q.shrunk)
	q.shrunk = make(chan struct{})
	depth := len(q.items) - q.head
	q.mu.Unlock()

	metrics.QueueDepth.Set(float64(depth))
	return msg, true
}

// Size returns the current number of pending messages
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

// IsEmpty returns true if no messages are pending
func (q *Queue) IsEmpty() bool {
	return q.Size() == 0
}

// Grown returns a channel closed on the next enqueue. Callers re-fetch the
// channel after each wake-up.
func (q *Queue) Grown() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.grown
}

// WaitBelow blocks until the queue size is at or below max, or the context
// is cancelled. This is the producer-side backpressure point.
func (q *Queue) WaitBelow(ctx context.Context, max int) error {
	for {
		q.mu.Lock()
		if len(q.items)-q.head <= max {
			q.mu.Unlock()
			return nil
		}
		shrunk := q.shrunk
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-shrunk:
		}
	}
}
