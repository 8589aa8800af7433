// Package accumulator groups hashed records into per-key open batches and
// seals them when the flush policy holds.
//
// Each batch key owns an entry guarded by its own mutex. Sealing snapshots the
// entry's records and clears it under that mutex; callers aggregate and emit
// the snapshot after the lock is released.
package accumulator

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/ghalamif/ColdAnchor/internal/domain"
	"github.com/ghalamif/ColdAnchor/internal/ports"
)

// ErrDuplicate is returned when within-batch dedup drops a record.
var ErrDuplicate = errors.New("accumulator: duplicate record in open batch")

type Config struct {
	// Threshold seals a batch once it holds this many records.
	Threshold int
	// IdleTimeout seals non-empty batches that saw no arrivals for this long.
	// Zero disables idle sealing.
	IdleTimeout time.Duration
	// DedupWithinBatch drops records whose fingerprint is already in the open batch.
	DedupWithinBatch bool
	Now              func() time.Time
}

// Sealed is the snapshot handed off when a batch leaves the open state.
type Sealed struct {
	Key      string
	Records  []domain.HashedRecord
	Refs     []ports.WALEntryID
	SealedAt time.Time
}

// Through is the highest recovery-log reference covered by this batch.
func (s *Sealed) Through() ports.WALEntryID {
	var max ports.WALEntryID
	for _, r := range s.Refs {
		if r > max {
			max = r
		}
	}
	return max
}

// Oldest is the lowest recovery-log reference covered by this batch.
func (s *Sealed) Oldest() ports.WALEntryID {
	if len(s.Refs) == 0 {
		return 0
	}
	min := s.Refs[0]
	for _, r := range s.Refs[1:] {
		if r < min {
			min = r
		}
	}
	return min
}

func (s *Sealed) ID() string {
	return (&domain.Batch{Key: s.Key, SealedAt: s.SealedAt}).ID()
}

type entry struct {
	mu          sync.Mutex
	records     []domain.HashedRecord
	refs        []ports.WALEntryID
	seen        map[domain.Digest]struct{}
	lastArrival time.Time
	lastSealed  time.Time
	dead        bool
}

type Accumulator struct {
	cfg Config

	mu      sync.Mutex
	entries map[string]*entry
}

func New(cfg Config) *Accumulator {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 4
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Accumulator{cfg: cfg, entries: make(map[string]*entry)}
}

// lock returns the live entry for key with its mutex held.
func (a *Accumulator) lock(key string) *entry {
	for {
		a.mu.Lock()
		e, ok := a.entries[key]
		if !ok {
			e = &entry{}
			a.entries[key] = e
		}
		a.mu.Unlock()

		e.mu.Lock()
		if !e.dead {
			return e
		}
		// Evicted between lookup and lock; a fresh entry is now (or soon) in the table.
		e.mu.Unlock()
	}
}

// Add appends rec to its key's open batch. When the append reaches the
// threshold the batch is sealed and returned; the key is left empty so the
// next arrival opens a fresh batch.
func (a *Accumulator) Add(rec domain.HashedRecord, ref ports.WALEntryID) (*Sealed, error) {
	e := a.lock(rec.BatchKey)
	defer e.mu.Unlock()

	if a.cfg.DedupWithinBatch {
		if _, dup := e.seen[rec.Fingerprint]; dup {
			return nil, ErrDuplicate
		}
		if e.seen == nil {
			e.seen = make(map[domain.Digest]struct{})
		}
		e.seen[rec.Fingerprint] = struct{}{}
	}

	e.records = append(e.records, rec)
	e.refs = append(e.refs, ref)
	e.lastArrival = a.cfg.Now()

	if len(e.records) < a.cfg.Threshold {
		return nil, nil
	}
	return a.sealLocked(rec.BatchKey, e), nil
}

func (a *Accumulator) sealLocked(key string, e *entry) *Sealed {
	sealedAt := a.cfg.Now().UTC()
	if !sealedAt.After(e.lastSealed) {
		// Keeps batch IDs of one key unique even with a coarse clock.
		sealedAt = e.lastSealed.Add(time.Nanosecond)
	}
	e.lastSealed = sealedAt

	s := &Sealed{
		Key:      key,
		Records:  e.records,
		Refs:     e.refs,
		SealedAt: sealedAt,
	}
	e.records = nil
	e.refs = nil
	e.seen = nil
	return s
}

// SealIdle seals every non-empty batch whose last arrival is older than the
// idle timeout and evicts long-empty entries.
func (a *Accumulator) SealIdle() []*Sealed {
	if a.cfg.IdleTimeout <= 0 {
		return nil
	}
	now := a.cfg.Now()

	a.mu.Lock()
	keys := make([]string, 0, len(a.entries))
	for k := range a.entries {
		keys = append(keys, k)
	}
	a.mu.Unlock()
	sort.Strings(keys)

	var out []*Sealed
	for _, key := range keys {
		a.mu.Lock()
		e, ok := a.entries[key]
		a.mu.Unlock()
		if !ok {
			continue
		}

		e.mu.Lock()
		idle := !e.dead && now.Sub(e.lastArrival) >= a.cfg.IdleTimeout
		switch {
		case idle && len(e.records) > 0:
			out = append(out, a.sealLocked(key, e))
		case idle:
			a.mu.Lock()
			if a.entries[key] == e {
				delete(a.entries, key)
			}
			a.mu.Unlock()
			e.dead = true
		}
		e.mu.Unlock()
	}
	return out
}

// Restore reinstates an open record read back from the recovery log. Records
// must be restored in log order.
func (a *Accumulator) Restore(rec domain.HashedRecord, ref ports.WALEntryID) (*Sealed, error) {
	return a.Add(rec, ref)
}

// Open reports the number of records held per key.
func (a *Accumulator) Open() map[string]int {
	a.mu.Lock()
	entries := make(map[string]*entry, len(a.entries))
	for k, e := range a.entries {
		entries[k] = e
	}
	a.mu.Unlock()

	out := make(map[string]int, len(entries))
	for k, e := range entries {
		e.mu.Lock()
		if n := len(e.records); n > 0 && !e.dead {
			out[k] = n
		}
		e.mu.Unlock()
	}
	return out
}

// Contains reports whether the open batch for key already holds fingerprint d.
func (a *Accumulator) Contains(key string, d domain.Digest) bool {
	a.mu.Lock()
	e, ok := a.entries[key]
	a.mu.Unlock()
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range e.records {
		if r.Fingerprint == d {
			return true
		}
	}
	return false
}

// Pending returns a copy of the open records for key in arrival order.
func (a *Accumulator) Pending(key string) []domain.HashedRecord {
	a.mu.Lock()
	e, ok := a.entries[key]
	a.mu.Unlock()
	if !ok {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.HashedRecord, len(e.records))
	copy(out, e.records)
	return out
}

// OldestRef is the lowest recovery-log reference still held by an open batch.
func (a *Accumulator) OldestRef() (ports.WALEntryID, bool) {
	a.mu.Lock()
	entries := make([]*entry, 0, len(a.entries))
	for _, e := range a.entries {
		entries = append(entries, e)
	}
	a.mu.Unlock()

	var (
		min   ports.WALEntryID
		found bool
	)
	for _, e := range entries {
		e.mu.Lock()
		for _, r := range e.refs {
			if !found || r < min {
				min, found = r, true
			}
		}
		e.mu.Unlock()
	}
	return min, found
}
