package device

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/banshee-data/eventcam/internal/events"
)

// ContainerQueue is the bounded ring between a driver's acquisition
// goroutine and DataGet. When full, the oldest container is dropped to make
// room, the way the libcaer data exchange buffer behaves.
type ContainerQueue struct {
	mu       sync.Mutex
	items    []*events.PacketContainer
	capacity int
	dropped  uint64
	closed   bool
	notify   chan struct{}
}

// NewContainerQueue returns a queue holding at most capacity containers.
// A capacity below one is treated as one.
func NewContainerQueue(capacity int) *ContainerQueue {
	return &ContainerQueue{capacity: max(capacity, 1), notify: make(chan struct{})}
}

// SetCapacity changes the bound, dropping the oldest entries if needed.
func (q *ContainerQueue) SetCapacity(capacity int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.capacity = max(capacity, 1)
	q.trimLocked()
}

func (q *ContainerQueue) trimLocked() {
	if over := len(q.items) - q.capacity; over > 0 {
		clear(q.items[:over])
		q.items = q.items[over:]
		q.dropped += uint64(over)
	}
}

// Push appends c. It reports whether an older container had to be dropped.
// Pushing to a closed queue is a no-op.
func (q *ContainerQueue) Push(c *events.PacketContainer) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	before := q.dropped
	q.items = append(q.items, c)
	q.trimLocked()
	q.wakeLocked()
	return q.dropped != before
}

// ErrQueueClosed is returned by PushWait once the input has been closed.
var ErrQueueClosed = errors.New("container queue closed")

// PushWait appends c, waiting for room instead of dropping. It is meant
// for producers that can be paced, such as recordings.
func (q *ContainerQueue) PushWait(ctx context.Context, c *events.PacketContainer) error {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return ErrQueueClosed
		}
		if len(q.items) < q.capacity {
			q.items = append(q.items, c)
			q.wakeLocked()
			q.mu.Unlock()
			return nil
		}
		wait := q.notify
		q.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// CloseInput marks the end of the stream. Queued containers can still be
// popped; after that Pop returns io.EOF.
func (q *ContainerQueue) CloseInput() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		q.wakeLocked()
	}
}

func (q *ContainerQueue) wakeLocked() {
	close(q.notify)
	q.notify = make(chan struct{})
}

// Pop removes the oldest container. Without block it returns nil, nil on an
// empty queue; with block it waits for a container, the end of input or
// ctx. It returns io.EOF once the input is closed and the queue drained.
func (q *ContainerQueue) Pop(ctx context.Context, block bool) (*events.PacketContainer, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			c := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.wakeLocked()
			q.mu.Unlock()
			return c, nil
		}
		if q.closed {
			q.mu.Unlock()
			return nil, io.EOF
		}
		wait := q.notify
		q.mu.Unlock()

		if !block {
			return nil, nil
		}
		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Len returns the number of queued containers.
func (q *ContainerQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped returns how many containers were discarded because the queue was
// full.
func (q *ContainerQueue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
