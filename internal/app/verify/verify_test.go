package verify

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ghalamif/ColdAnchor/internal/adapters/cas"
	"github.com/ghalamif/ColdAnchor/internal/adapters/ledger"
	"github.com/ghalamif/ColdAnchor/internal/adapters/metadata"
	"github.com/ghalamif/ColdAnchor/internal/core/emitter"
	"github.com/ghalamif/ColdAnchor/internal/core/hasher"
	"github.com/ghalamif/ColdAnchor/internal/core/merkle"
	"github.com/ghalamif/ColdAnchor/internal/domain"
)

type fixture struct {
	v     *Verifier
	cas   *cas.FileStore
	meta  *metadata.Memory
	chain *ledger.Memory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := cas.NewFileStore(filepath.Join(t.TempDir(), "cas"))
	if err != nil {
		t.Fatalf("file store: %v", err)
	}
	f := &fixture{cas: store, meta: metadata.NewMemory(), chain: ledger.NewMemory()}
	f.v = &Verifier{Metadata: f.meta, Content: f.cas, Ledger: f.chain}
	return f
}

func sampleBatch(key string, n int) *domain.Batch {
	sealed := time.Date(2025, 7, 31, 2, 9, 29, 0, time.UTC)
	b := &domain.Batch{Key: key, SealedAt: sealed}
	for i := 0; i < n; i++ {
		b.Records = append(b.Records, hasher.Hash(domain.SensorEvent{
			BatchKey:    key,
			Timestamp:   sealed.Add(-time.Duration(n-i) * time.Minute),
			Temperature: int64(350 + 10*i),
			Humidity:    8025,
			Location:    "Hebei",
			ProductName: "Beef",
		}))
	}
	b.MerkleRoot, _ = merkle.Root(b.Fingerprints())
	return b
}

// anchor stores artifact bytes and indexes them under b's root, anchoring
// the given batch's entries.
func (f *fixture) anchor(t *testing.T, b *domain.Batch, artifact []byte) {
	t.Helper()
	ctx := context.Background()
	cid, err := f.cas.Put(ctx, b.ID()+".json", bytes.NewReader(artifact))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := f.meta.SaveBatch(ctx, domain.AnchorRecord{
		BatchKey: b.Key, ContentID: cid, MerkleRoot: b.MerkleRoot, RecordCount: len(b.Records), CreatedAt: b.SealedAt,
	}); err != nil {
		t.Fatalf("save: %v", err)
	}
	sub := domain.AnchorSubmission{BatchKey: b.Key, BatchID: b.ID(), ContentID: cid, MerkleRoot: b.MerkleRoot}
	for _, r := range b.Records {
		sub.Entries = append(sub.Entries, domain.LedgerEntryFromRecord(r))
	}
	if err := f.chain.Submit(ctx, sub); err != nil {
		t.Fatalf("submit: %v", err)
	}
}

func TestVerifyIntactBatch(t *testing.T) {
	f := newFixture(t)
	b := sampleBatch("batch321", 4)
	data, _ := emitter.Encode(b)
	f.anchor(t, b, data)

	rep, err := f.v.Verify(context.Background(), "batch321")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !rep.OK() {
		t.Fatalf("expected clean report, got %+v", rep.Mismatches)
	}
	if rep.Recomputed != b.MerkleRoot || rep.RecordCount != 4 || rep.LedgerOffset != 0 {
		t.Fatalf("unexpected report %+v", rep)
	}
}

func TestVerifyDetectsEditedReading(t *testing.T) {
	f := newFixture(t)
	b := sampleBatch("batch321", 4)
	data, _ := emitter.Encode(b)
	// Someone warms the second reading after the fact.
	tampered := bytes.Replace(data, []byte(`"temp": 360`), []byte(`"temp": 260`), 1)
	if bytes.Equal(tampered, data) {
		t.Fatalf("fixture did not change the artifact")
	}
	f.anchor(t, b, tampered)

	rep, err := f.v.Verify(context.Background(), "batch321")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	kinds := map[MismatchKind]int{}
	for _, m := range rep.Mismatches {
		kinds[m.Kind]++
	}
	if kinds[RecordHash] != 1 || kinds[RootHash] != 1 || kinds[NotAnchored] != 1 {
		t.Fatalf("unexpected mismatches %+v", rep.Mismatches)
	}
	if rep.Mismatches[0].Index != 1 {
		t.Fatalf("expected record 1 flagged, got %+v", rep.Mismatches[0])
	}
}

func TestVerifyFindsBatchAmongLaterHistory(t *testing.T) {
	f := newFixture(t)
	first := sampleBatch("k", 3)
	data, _ := emitter.Encode(first)
	f.anchor(t, first, data)

	// A later batch of the same key only extends the ledger history.
	later := sampleBatch("k", 2)
	later.SealedAt = later.SealedAt.Add(time.Hour)
	later.Records[0] = hasher.Hash(domain.SensorEvent{BatchKey: "k", Timestamp: later.SealedAt, Temperature: 1})
	sub := domain.AnchorSubmission{BatchKey: "k", BatchID: later.ID()}
	for _, r := range later.Records {
		sub.Entries = append(sub.Entries, domain.LedgerEntryFromRecord(r))
	}
	_ = f.chain.Submit(context.Background(), sub)

	rep, err := f.v.Verify(context.Background(), "k")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !rep.OK() || rep.LedgerEntries != 5 {
		t.Fatalf("unexpected report %+v", rep)
	}
}

func TestVerifyUnknownBatch(t *testing.T) {
	f := newFixture(t)
	if _, err := f.v.Verify(context.Background(), "ghost"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFindRun(t *testing.T) {
	d := func(b byte) domain.Digest { return domain.Digest{b} }
	hist := []domain.LedgerEntry{{Digest: d(1)}, {Digest: d(2)}, {Digest: d(3)}, {Digest: d(2)}, {Digest: d(4)}}
	if off := findRun([]domain.Digest{d(2), d(4)}, hist); off != 3 {
		t.Fatalf("expected offset 3, got %d", off)
	}
	if off := findRun([]domain.Digest{d(1), d(3)}, hist); off != -1 {
		t.Fatalf("non-contiguous digests must not match, got %d", off)
	}
}
