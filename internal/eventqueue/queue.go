// Package eventqueue provides a bounded FIFO queue that transfers events from
// multiple producers to a single consumer.
package eventqueue

import (
	"context"
	"errors"
	"sync"

	"github.com/simplesurance/automerger/internal/provider"
)

// DefSize is the default capacity of a Queue.
const DefSize = 1024

// ErrClosed is returned when an event is enqueued into a closed queue.
var ErrClosed = errors.New("event queue is closed")

// Queue is a bounded multi-producer, single-consumer queue.
// Events are delivered to the consumer in the order they were enqueued.
//
// When the queue is full, Enqueue blocks until space is available, the
// queue is closed or the passed context is cancelled. Events are never
// dropped silently.
type Queue struct {
	ch chan *provider.Event

	// closing is closed when Close() is called, it wakes up blocked
	// producers.
	closing   chan struct{}
	closeOnce sync.Once

	// lock protects closed and ensures that ch is not closed while a
	// producer sends to it. Producers hold a read-lock while sending.
	lock   sync.RWMutex
	closed bool
}

// New returns a queue with the given capacity.
// If size is <=0, DefSize is used.
func New(size int) *Queue {
	if size <= 0 {
		size = DefSize
	}

	return &Queue{
		ch:      make(chan *provider.Event, size),
		closing: make(chan struct{}),
	}
}

// Enqueue appends ev to the queue.
// It returns ErrClosed if the queue was closed before ev could be enqueued
// and the error of the context if ctx was cancelled while waiting for free
// space.
func (q *Queue) Enqueue(ctx context.Context, ev *provider.Event) error {
	q.lock.RLock()
	defer q.lock.RUnlock()

	if q.closed {
		metrics.enqueueResultInc(enqueueResultClosed)
		return ErrClosed
	}

	select {
	case q.ch <- ev:
		metrics.enqueueResultInc(enqueueResultEnqueued)
		return nil

	case <-q.closing:
		metrics.enqueueResultInc(enqueueResultClosed)
		return ErrClosed

	case <-ctx.Done():
		metrics.enqueueResultInc(enqueueResultCancelled)
		return ctx.Err()
	}
}

// C returns the channel from that the consumer receives events.
// The channel is closed after Close() was called and all producers returned.
// Events that were enqueued before remain receivable until the channel is
// drained.
func (q *Queue) C() <-chan *provider.Event {
	return q.ch
}

// Len returns the number of events in the queue.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close closes the queue.
// Blocked and future Enqueue() calls fail with ErrClosed.
// Close can be called multiple times.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.closing)

		q.lock.Lock()
		defer q.lock.Unlock()

		q.closed = true
		close(q.ch)
	})
}
