package cm11

import (
	"context"
	"fmt"
	"sync"
)

// QueueCapacity is the fixed number of pending device updates held before
// new requests are dropped.
const QueueCapacity = 256

// CommandQueue is a bounded FIFO of pending device updates, deduplicated by
// device ID.
//
// Re-scheduling a queued device moves it to the tail. When the queue is full
// the new request is dropped; Schedule never blocks.
//
// Thread Safety: all methods are safe for concurrent use.
type CommandQueue struct {
	mu       sync.Mutex
	items    []Device
	capacity int

	// signal has capacity 1 and wakes a blocked Dequeue.
	signal chan struct{}
}

// NewCommandQueue creates a queue holding at most capacity devices.
// A non-positive capacity uses QueueCapacity.
func NewCommandQueue(capacity int) *CommandQueue {
	if capacity <= 0 {
		capacity = QueueCapacity
	}
	return &CommandQueue{
		items:    make([]Device, 0, capacity),
		capacity: capacity,
		signal:   make(chan struct{}, 1),
	}
}

// Schedule appends d, first removing any queued entry with the same ID.
//
// Returns:
//   - error: ErrQueueFull if the queue is at capacity (d is dropped)
func (q *CommandQueue) Schedule(d Device) error {
	id := d.ID()

	q.mu.Lock()
	for i, queued := range q.items {
		if queued.ID() == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			break
		}
	}
	if len(q.items) >= q.capacity {
		q.mu.Unlock()
		return fmt.Errorf("%w: dropping update for %s", ErrQueueFull, id)
	}
	q.items = append(q.items, d)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return nil
}

// Dequeue removes and returns the head of the queue, blocking until an item
// is available or ctx is done.
func (q *CommandQueue) Dequeue(ctx context.Context) (Device, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			d := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			more := len(q.items) > 0
			q.mu.Unlock()

			if more {
				select {
				case q.signal <- struct{}{}:
				default:
				}
			}
			return d, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.signal:
		}
	}
}

// Len returns the number of queued devices.
func (q *CommandQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// IDs returns the queued device IDs, head first.
func (q *CommandQueue) IDs() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	ids := make([]string, len(q.items))
	for i, d := range q.items {
		ids[i] = d.ID()
	}
	return ids
}
