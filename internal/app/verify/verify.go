// Package verify recomputes a batch's fingerprints from its stored artifact
// and checks them against the metadata index and the ledger history.
package verify

import (
	"context"
	"fmt"

	"github.com/ghalamif/ColdAnchor/internal/core/emitter"
	"github.com/ghalamif/ColdAnchor/internal/core/hasher"
	"github.com/ghalamif/ColdAnchor/internal/core/merkle"
	"github.com/ghalamif/ColdAnchor/internal/domain"
	"github.com/ghalamif/ColdAnchor/internal/ports"
)

type MismatchKind string

const (
	RecordHash  MismatchKind = "record_hash"
	RecordCount MismatchKind = "record_count"
	RootHash    MismatchKind = "merkle_root"
	NotAnchored MismatchKind = "ledger_missing"
	LedgerField MismatchKind = "ledger_field"
)

type Mismatch struct {
	Kind   MismatchKind `json:"kind"`
	Index  int          `json:"index"`
	Detail string       `json:"detail"`
}

// Report is the outcome of verifying one batch key.
type Report struct {
	BatchKey      string        `json:"batch_key"`
	ContentID     string        `json:"content_id"`
	MerkleRoot    domain.Digest `json:"merkle_root"`
	Recomputed    domain.Digest `json:"recomputed_root"`
	RecordCount   int           `json:"record_count"`
	LedgerEntries int           `json:"ledger_entries"`
	LedgerOffset  int           `json:"ledger_offset"`
	Mismatches    []Mismatch    `json:"mismatches"`
}

func (r Report) OK() bool { return len(r.Mismatches) == 0 }

func (r *Report) add(kind MismatchKind, index int, format string, args ...any) {
	r.Mismatches = append(r.Mismatches, Mismatch{Kind: kind, Index: index, Detail: fmt.Sprintf(format, args...)})
}

type Verifier struct {
	Metadata ports.MetadataStore
	Content  ports.ContentStore
	Ledger   ports.Ledger
}

// Verify returns an error only when a collaborator cannot be read; content
// that fails to check out is reported as mismatches.
func (v *Verifier) Verify(ctx context.Context, batchKey string) (Report, error) {
	rep := Report{BatchKey: batchKey, LedgerOffset: -1}

	row, err := v.Metadata.GetBatch(ctx, batchKey)
	if err != nil {
		return rep, err
	}
	rep.ContentID = row.ContentID
	rep.MerkleRoot = row.MerkleRoot

	data, err := v.Content.Get(ctx, row.ContentID)
	if err != nil {
		return rep, fmt.Errorf("fetch %s: %w", row.ContentID, err)
	}
	records, err := emitter.Decode(data)
	if err != nil {
		return rep, fmt.Errorf("decode %s: %w", row.ContentID, err)
	}
	rep.RecordCount = len(records)
	if len(records) != row.RecordCount {
		rep.add(RecordCount, -1, "artifact has %d records, index says %d", len(records), row.RecordCount)
	}

	leaves := make([]domain.Digest, len(records))
	for i, r := range records {
		leaves[i] = hasher.Fingerprint(r.SensorEvent)
		if leaves[i] != r.Fingerprint {
			rep.add(RecordHash, i, "stored %s, recomputed %s", r.Fingerprint, leaves[i])
		}
	}
	rep.Recomputed, err = merkle.Root(leaves)
	if err != nil {
		return rep, err
	}
	if rep.Recomputed != row.MerkleRoot {
		rep.add(RootHash, -1, "indexed %s, recomputed %s", row.MerkleRoot, rep.Recomputed)
	}

	history, err := v.Ledger.History(ctx, batchKey)
	if err != nil {
		return rep, fmt.Errorf("ledger history: %w", err)
	}
	rep.LedgerEntries = len(history)
	checkLedger(&rep, records, leaves, history)
	return rep, nil
}

// checkLedger finds the recomputed digests as one contiguous run in the
// ledger history and compares the anchored fields of each entry.
func checkLedger(rep *Report, records []domain.HashedRecord, leaves []domain.Digest, history []domain.LedgerEntry) {
	off := findRun(leaves, history)
	if off < 0 {
		rep.add(NotAnchored, -1, "%d recomputed digests not found in order among %d ledger entries", len(leaves), len(history))
		return
	}
	rep.LedgerOffset = off
	for i, r := range records {
		want := domain.LedgerEntryFromRecord(r)
		want.Digest = leaves[i]
		if got := history[off+i]; got != want {
			rep.add(LedgerField, i, "ledger %+v, artifact %+v", got, want)
		}
	}
}

func findRun(leaves []domain.Digest, history []domain.LedgerEntry) int {
	if len(leaves) == 0 {
		return -1
	}
	for off := 0; off+len(leaves) <= len(history); off++ {
		match := true
		for i, d := range leaves {
			if history[off+i].Digest != d {
				match = false
				break
			}
		}
		if match {
			return off
		}
	}
	return -1
}
