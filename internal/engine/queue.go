package engine

import (
	"sync"

	"github.com/flightdeck-io/flightdeck/internal/command"
	"github.com/flightdeck-io/flightdeck/internal/pkg/metrics"
)

// Queue is the ordered sequence of command instances not yet started. Depth
// is bounded; admission that would exceed it fails rather than silently
// dropping. FIFO within a submission and across back-to-back appends.
type Queue struct {
	mu    sync.Mutex
	items []*command.Instance
	depth int
}

// NewQueue creates a queue with the given maximum depth.
func NewQueue(depth int) *Queue {
	return &Queue{depth: depth}
}

// Append adds instances after everything currently queued. It fails with
// ErrQueueFull if the result would exceed the depth bound, admitting nothing.
func (q *Queue) Append(insts []*command.Instance) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items)+len(insts) > q.depth {
		return ErrQueueFull
	}
	q.items = append(q.items, insts...)
	metrics.QueueDepth.Set(float64(len(q.items)))
	return nil
}

// Replace discards all pending instances and installs insts in their place.
func (q *Queue) Replace(insts []*command.Instance) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(insts) > q.depth {
		return ErrQueueFull
	}
	q.items = append([]*command.Instance(nil), insts...)
	metrics.QueueDepth.Set(float64(len(q.items)))
	return nil
}

// Pop removes and returns the head, or nil when empty.
func (q *Queue) Pop() *command.Instance {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil
	}
	head := q.items[0]
	q.items = q.items[1:]
	metrics.QueueDepth.Set(float64(len(q.items)))
	return head
}

// Clear discards all pending instances.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
	metrics.QueueDepth.Set(0)
}

// Len returns the number of pending instances.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Pending returns a copy of the queued instances, head first.
func (q *Queue) Pending() []*command.Instance {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*command.Instance(nil), q.items...)
}
