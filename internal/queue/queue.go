// Package queue holds outbound sync messages in priority order until a
// delivery pass drains them. Admission is gated by a dynamic priority
// floor, the primary battery-saving lever: traffic below the floor is
// dropped, not deferred.
package queue

import (
	"sync"
	"time"

	"github.com/fairwaylabs/caddielink/internal/message"
)

// DefaultCapacity bounds the queue when the caller passes a non-positive
// capacity.
const DefaultCapacity = 200

// Stats counts admission outcomes. Policy drops are metrics, not errors.
type Stats struct {
	Admitted      int64
	RejectedFloor int64
	RejectedFull  int64
	EvictedFloor  int64
	EvictedFull   int64
	Expired       int64
}

// Queue is a bounded, priority-ordered holding area for outbound messages.
// Insertion is stable within a priority band (FIFO among equals).
type Queue struct {
	mu       sync.Mutex
	items    []message.Message // kept sorted: highest priority first
	capacity int
	floor    message.Priority
	stats    Stats
	now      func() time.Time
}

// New creates a queue with the given capacity and a floor of Low (admit
// everything).
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{
		items:    make([]message.Message, 0, capacity),
		capacity: capacity,
		floor:    message.PriorityLow,
		now:      time.Now,
	}
}

// Enqueue inserts the message respecting priority order. It returns false
// when the message is rejected: priority below the current floor, or the
// queue is full of equal-or-higher-priority traffic.
func (q *Queue) Enqueue(m message.Message) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if m.Priority < q.floor {
		q.stats.RejectedFloor++
		return false
	}

	if len(q.items) >= q.capacity {
		// Evict the lowest-priority tail element to admit strictly
		// higher-priority traffic; otherwise drop the newcomer.
		tail := len(q.items) - 1
		if q.items[tail].Priority >= m.Priority {
			q.stats.RejectedFull++
			return false
		}
		q.items = q.items[:tail]
		q.stats.EvictedFull++
	}

	// Insert after the last element with priority >= m.Priority to keep
	// FIFO order within the band.
	idx := len(q.items)
	for i := len(q.items) - 1; i >= 0; i-- {
		if q.items[i].Priority >= m.Priority {
			break
		}
		idx = i
	}
	q.items = append(q.items, message.Message{})
	copy(q.items[idx+1:], q.items[idx:])
	q.items[idx] = m
	q.stats.Admitted++
	return true
}

// DequeueBatch removes and returns up to max highest-priority messages.
// Expired messages encountered during the drain are dropped silently.
func (q *Queue) DequeueBatch(max int) []message.Message {
	return q.DequeueBatchAbove(max, message.PriorityLow)
}

// DequeueBatchAbove is DequeueBatch restricted to messages at or above
// the given send floor; lower-priority messages stay queued for a later,
// less urgent tick.
func (q *Queue) DequeueBatchAbove(max int, floor message.Priority) []message.Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	if max <= 0 {
		return nil
	}

	now := q.now()
	batch := make([]message.Message, 0, max)
	kept := q.items[:0]
	for _, m := range q.items {
		if m.Expired(now) {
			q.stats.Expired++
			continue
		}
		if len(batch) < max && m.Priority >= floor {
			batch = append(batch, m)
			continue
		}
		kept = append(kept, m)
	}
	q.items = kept
	return batch
}

// SetPriorityFloor raises or lowers the admission floor and retroactively
// evicts queued messages below it. Battery emergencies shed load, they do
// not merely stop admitting it.
func (q *Queue) SetPriorityFloor(p message.Priority) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.floor = p
	kept := q.items[:0]
	for _, m := range q.items {
		if m.Priority < p {
			q.stats.EvictedFloor++
			continue
		}
		kept = append(kept, m)
	}
	q.items = kept
}

// PriorityFloor returns the current admission floor.
func (q *Queue) PriorityFloor() message.Priority {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.floor
}

// Len returns the number of queued messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Contains reports whether a message with the given ID is queued.
func (q *Queue) Contains(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, m := range q.items {
		if m.ID == id {
			return true
		}
	}
	return false
}

// Stats returns a snapshot of admission counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}
