package pipeline

import (
	"encoding/json"
	"sync"
)

// item is one serialized entry awaiting delivery.
type item struct {
	id      string
	payload json.RawMessage
}

// pendingQueue is a bounded FIFO with head re-insertion for failed batches.
// The capacity is enforced on push (the oldest unsent item is dropped to
// bound memory); requeue may exceed it transiently so a failed batch is
// never truncated.
type pendingQueue struct {
	mu      sync.Mutex
	items   []item
	cap     int
	dropped uint64
}

func newPendingQueue(capacity int) *pendingQueue {
	return &pendingQueue{cap: capacity}
}

// push appends it at the tail. Returns true when the oldest item was dropped
// to stay within capacity.
func (q *pendingQueue) push(it item) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = append(q.items, it)
	if len(q.items) <= q.cap {
		return false
	}
	q.items = q.items[1:]
	q.dropped++
	return true
}

// take removes and returns up to n items from the head.
func (q *pendingQueue) take(n int) []item {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n > len(q.items) {
		n = len(q.items)
	}
	if n == 0 {
		return nil
	}
	batch := make([]item, n)
	copy(batch, q.items)
	q.items = append([]item(nil), q.items[n:]...)
	return batch
}

// requeue re-inserts a failed batch at the head, preserving its original
// order ahead of anything enqueued in the meantime.
func (q *pendingQueue) requeue(batch []item) {
	if len(batch) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(append([]item(nil), batch...), q.items...)
}

func (q *pendingQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *pendingQueue) droppedCount() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
