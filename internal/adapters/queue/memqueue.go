package queue

import (
	"sync"

	"github.com/ghalamif/ColdAnchor/internal/domain"
	"github.com/ghalamif/ColdAnchor/internal/ports"
)

// MemQueue is a bounded FIFO of emitted artifacts backed by a ring buffer.
// A handle whose batch ID is already waiting is accepted without being
// queued twice, since recovery may emit the same batch again.
type MemQueue struct {
	mu      sync.Mutex
	ring    []domain.ArtifactHandle
	head    int
	size    int
	waiting map[string]struct{}
}

func NewMemQueue(capacity int) *MemQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &MemQueue{
		ring:    make([]domain.ArtifactHandle, capacity),
		waiting: make(map[string]struct{}, capacity),
	}
}

func (q *MemQueue) Enqueue(h domain.ArtifactHandle) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, dup := q.waiting[h.BatchID]; dup {
		return true
	}
	if q.size == len(q.ring) {
		return false
	}
	q.ring[(q.head+q.size)%len(q.ring)] = h
	q.size++
	q.waiting[h.BatchID] = struct{}{}
	return true
}

// DequeueBatch removes up to max handles in arrival order; max <= 0 drains
// the queue.
func (q *MemQueue) DequeueBatch(max int) []domain.ArtifactHandle {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.size == 0 {
		return nil
	}
	if max <= 0 || max > q.size {
		max = q.size
	}
	out := make([]domain.ArtifactHandle, max)
	for i := range out {
		out[i] = q.ring[q.head]
		q.ring[q.head] = domain.ArtifactHandle{}
		q.head = (q.head + 1) % len(q.ring)
		delete(q.waiting, out[i].BatchID)
	}
	q.size -= max
	return out
}

func (q *MemQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

var _ ports.ArtifactQueue = (*MemQueue)(nil)
