package pipeline

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ghalamif/ColdAnchor/internal/core/accumulator"
	"github.com/ghalamif/ColdAnchor/internal/domain"
	"github.com/ghalamif/ColdAnchor/internal/ports"
)

// StrandedBatch is a sealed batch whose artifact could not be written. Its
// records stay uncommitted in the recovery log until a retry succeeds.
type StrandedBatch struct {
	ID          string    `json:"id"`
	BatchKey    string    `json:"batch_key"`
	BatchID     string    `json:"batch_id"`
	RecordCount int       `json:"record_count"`
	MerkleRoot  string    `json:"merkle_root"`
	Since       time.Time `json:"since"`
	Attempts    int       `json:"attempts"`
	LastError   string    `json:"last_error"`
}

type inflightBatch struct {
	sealed  *accumulator.Sealed
	marked  bool // seal marker durable in the log
	busy    bool // a goroutine is emitting it
	emitted bool // artifact durable, waiting to be published

	stranded *StrandedBatch
}

// inflight tracks sealed batches from the seal decision until the batch is
// published, including stranded ones.
type inflight struct {
	mu      sync.Mutex
	next    uint64
	batches map[uint64]*inflightBatch
}

func newInflight() *inflight {
	return &inflight{batches: make(map[uint64]*inflightBatch)}
}

func (f *inflight) register(s *accumulator.Sealed, marked bool) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	f.batches[f.next] = &inflightBatch{sealed: s, marked: marked}
	return f.next
}

// claim reserves the batch for one emission attempt.
func (f *inflight) claim(token uint64) (s *accumulator.Sealed, marked bool, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, found := f.batches[token]
	if !found || b.busy {
		return nil, false, false
	}
	b.busy = true
	return b.sealed, b.marked, true
}

func (f *inflight) done(token uint64) {
	f.mu.Lock()
	delete(f.batches, token)
	f.mu.Unlock()
}

// emitted moves the batch to the waiting-for-publish state. It can no longer
// be claimed.
func (f *inflight) emitted(token uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.batches[token]; ok {
		b.emitted = true
		b.busy = true
		b.stranded = nil
	}
}

// awaiting finds the emitted batch with the given batch ID.
func (f *inflight) awaiting(batchID string) (uint64, *accumulator.Sealed, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for t, b := range f.batches {
		if b.emitted && b.sealed.ID() == batchID {
			return t, b.sealed, true
		}
	}
	return 0, nil, false
}

func (f *inflight) unpublishedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.batches {
		if b.emitted {
			n++
		}
	}
	return n
}

// strand parks the batch and returns its operator-facing record.
func (f *inflight) strand(token uint64, batch *domain.Batch, err error, now time.Time) *StrandedBatch {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.batches[token]
	if !ok {
		return nil
	}
	b.busy = false
	if b.stranded == nil {
		b.stranded = &StrandedBatch{
			ID:          uuid.NewString(),
			BatchKey:    b.sealed.Key,
			BatchID:     b.sealed.ID(),
			RecordCount: len(b.sealed.Records),
			Since:       now,
		}
	}
	if batch != nil {
		b.stranded.MerkleRoot = batch.MerkleRoot.String()
	}
	b.stranded.Attempts++
	b.stranded.LastError = err.Error()
	cp := *b.stranded
	return &cp
}

func (f *inflight) markSealed(token uint64) {
	f.mu.Lock()
	if b, ok := f.batches[token]; ok {
		b.marked = true
	}
	f.mu.Unlock()
}

// strandedTokens lists idle parked batches oldest first.
func (f *inflight) strandedTokens() []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []uint64
	for t, b := range f.batches {
		if b.stranded != nil && !b.busy {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (f *inflight) strandedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.batches {
		if b.stranded != nil {
			n++
		}
	}
	return n
}

func (f *inflight) stranded() []StrandedBatch {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]StrandedBatch, 0)
	for _, b := range f.batches {
		if b.stranded != nil {
			out = append(out, *b.stranded)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Since.Before(out[j].Since) })
	return out
}

// oldestRef is the lowest log reference held by any tracked batch.
func (f *inflight) oldestRef() (ports.WALEntryID, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var (
		min   ports.WALEntryID
		found bool
	)
	for _, b := range f.batches {
		if o := b.sealed.Oldest(); !found || o < min {
			min, found = o, true
		}
	}
	return min, found
}
