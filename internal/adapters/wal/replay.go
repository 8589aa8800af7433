package wal

import (
	"fmt"
	"sort"
	"time"

	"github.com/ghalamif/ColdAnchor/internal/domain"
	"github.com/ghalamif/ColdAnchor/internal/ports"
)

// Pending is a logged record together with its entry ID.
type Pending struct {
	ID     ports.WALEntryID
	Record domain.HashedRecord
}

// InFlight is a sealed batch that was never confirmed published. Emitted is
// set when its artifact had already been written.
type InFlight struct {
	Key      string
	SealedAt time.Time
	From     ports.WALEntryID
	Through  ports.WALEntryID
	Records  []Pending
	Emitted  bool
}

// Recovered is the state rebuilt from the uncommitted tail of the log.
type Recovered struct {
	// Open holds records of batches that were never sealed, in log order.
	Open []Pending
	// InFlight holds sealed batches that must be emitted and published again.
	InFlight []InFlight
}

// Replay walks every uncommitted entry and rebuilds open and in-flight batches.
func Replay(w ports.WAL) (*Recovered, error) {
	stats := w.Stats()
	from := stats.OldestUncommitted
	if from == 0 {
		from = 1
	}

	type sealKey struct {
		key     string
		through ports.WALEntryID
	}
	pending := make(map[string][]Pending)
	inflight := make(map[sealKey]*InFlight)

	err := w.Iterate(from, func(id ports.WALEntryID, e *ports.WALEntry) error {
		switch e.Kind {
		case ports.WALRecord:
			if e.Record == nil {
				return fmt.Errorf("wal entry %d: record entry without record", id)
			}
			pending[e.BatchKey] = append(pending[e.BatchKey], Pending{ID: id, Record: *e.Record})
		case ports.WALSeal:
			var sealed, rest []Pending
			for _, p := range pending[e.BatchKey] {
				if p.ID >= e.SealedFrom && p.ID <= e.SealedThrough {
					sealed = append(sealed, p)
				} else {
					rest = append(rest, p)
				}
			}
			pending[e.BatchKey] = rest
			if len(sealed) > 0 {
				inflight[sealKey{e.BatchKey, e.SealedThrough}] = &InFlight{
					Key:      e.BatchKey,
					SealedAt: e.SealedAt,
					From:     e.SealedFrom,
					Through:  e.SealedThrough,
					Records:  sealed,
				}
			}
		case ports.WALEmitted:
			if f, ok := inflight[sealKey{e.BatchKey, e.SealedThrough}]; ok {
				f.Emitted = true
			}
		case ports.WALPublished:
			delete(inflight, sealKey{e.BatchKey, e.SealedThrough})
		default:
			return fmt.Errorf("wal entry %d: unknown kind %q", id, e.Kind)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := &Recovered{}
	for _, ps := range pending {
		out.Open = append(out.Open, ps...)
	}
	sort.Slice(out.Open, func(i, j int) bool { return out.Open[i].ID < out.Open[j].ID })

	for _, f := range inflight {
		out.InFlight = append(out.InFlight, *f)
	}
	sort.Slice(out.InFlight, func(i, j int) bool { return out.InFlight[i].Through < out.InFlight[j].Through })
	return out, nil
}
