package provider

import (
	"sync"

	"github.com/pvmon/pvmon/internal/pvdata"
)

const DefaultQueueSize = 16

// Queue is a bounded Monitor. When full, the oldest update is dropped so a
// slow consumer always converges on the latest value.
type Queue struct {
	mu        sync.Mutex
	items     []pvdata.Structure
	limit     int
	dropped   uint64
	cancelled bool

	cb       func(EventKind)
	onCancel func()
}

func NewQueue(limit int, cb func(EventKind), onCancel func()) *Queue {
	if limit <= 0 {
		limit = DefaultQueueSize
	}
	return &Queue{limit: limit, cb: cb, onCancel: onCancel}
}

// Push appends an update and signals EventData. It reports false once the
// queue was cancelled.
func (q *Queue) Push(s pvdata.Structure) bool {
	q.mu.Lock()
	if q.cancelled {
		q.mu.Unlock()
		return false
	}
	if len(q.items) >= q.limit {
		q.items[0] = nil
		q.items = q.items[1:]
		q.dropped++
	}
	q.items = append(q.items, s)
	q.mu.Unlock()

	if q.cb != nil {
		q.cb(EventData)
	}
	return true
}

// Notify forwards a non-data event unless the queue was cancelled.
func (q *Queue) Notify(ev EventKind) {
	q.mu.Lock()
	cancelled := q.cancelled
	q.mu.Unlock()
	if cancelled || q.cb == nil {
		return
	}
	q.cb(ev)
}

func (q *Queue) Poll() (pvdata.Structure, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	s := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return s, true
}

func (q *Queue) Cancel() {
	q.mu.Lock()
	if q.cancelled {
		q.mu.Unlock()
		return
	}
	q.cancelled = true
	q.items = nil
	q.mu.Unlock()

	if q.onCancel != nil {
		q.onCancel()
	}
}

func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
