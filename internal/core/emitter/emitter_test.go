package emitter

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ghalamif/ColdAnchor/internal/core/hasher"
	"github.com/ghalamif/ColdAnchor/internal/core/merkle"
	"github.com/ghalamif/ColdAnchor/internal/core/retry"
	"github.com/ghalamif/ColdAnchor/internal/domain"
)

func sampleBatch(t *testing.T) *domain.Batch {
	t.Helper()
	base := time.Date(2025, 7, 31, 1, 56, 14, 0, time.UTC)
	var recs []domain.HashedRecord
	for i, temp := range []int64{100, 200, 350, 400} {
		recs = append(recs, hasher.Hash(domain.SensorEvent{
			BatchKey:    "batch321",
			Timestamp:   base.Add(time.Duration(i) * 630 * time.Second),
			Temperature: temp,
			Humidity:    7500 + int64(i),
			Location:    []string{"Beijing", "Hebei", "Shanghai", "Guangzhou"}[i],
			ProductName: "Beef",
		}))
	}
	b := &domain.Batch{Key: "batch321", Records: recs, SealedAt: time.Date(2025, 7, 31, 2, 9, 29, 0, time.UTC)}
	root, err := merkle.Root(b.Fingerprints())
	if err != nil {
		t.Fatalf("root: %v", err)
	}
	b.MerkleRoot = root
	return b
}

func newTestEmitter(t *testing.T) *Emitter {
	t.Helper()
	e, err := New(Config{Dir: t.TempDir(), Retry: retry.Policy{MaxTries: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}})
	if err != nil {
		t.Fatalf("new emitter: %v", err)
	}
	return e
}

func TestEmitWritesArtifact(t *testing.T) {
	e := newTestEmitter(t)
	b := sampleBatch(t)

	h, err := e.Emit(context.Background(), b)
	if err != nil {
		t.Fatalf("emit: %v", err)
	}
	if filepath.Base(h.Path) != "batch321_20250731T020929.000000000Z.json" {
		t.Fatalf("unexpected artifact name %s", h.Path)
	}
	if h.RecordCount != 4 || h.MerkleRoot != b.MerkleRoot || h.BatchKey != "batch321" {
		t.Fatalf("unexpected handle %+v", h)
	}

	data, err := os.ReadFile(h.Path)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if !strings.Contains(string(data), `"hash": "`+b.Records[0].Fingerprint.String()+`"`) {
		t.Fatalf("artifact should carry lowercase hex hashes:\n%s", data)
	}
}

func TestEmitIsByteIdenticalOnRetry(t *testing.T) {
	e := newTestEmitter(t)
	b := sampleBatch(t)

	h1, err := e.Emit(context.Background(), b)
	if err != nil {
		t.Fatalf("emit 1: %v", err)
	}
	first, _ := os.ReadFile(h1.Path)

	h2, err := e.Emit(context.Background(), b)
	if err != nil {
		t.Fatalf("emit 2: %v", err)
	}
	second, _ := os.ReadFile(h2.Path)

	if h1.Path != h2.Path || !bytes.Equal(first, second) {
		t.Fatalf("re-emitting the same batch changed the artifact")
	}
}

func TestArtifactRoundTripReproducesRoot(t *testing.T) {
	b := sampleBatch(t)
	data, err := Encode(b)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	recs, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	leaves := make([]domain.Digest, len(recs))
	for i, r := range recs {
		if hasher.Fingerprint(r.SensorEvent) != r.Fingerprint {
			t.Fatalf("record %d does not re-hash to its stored digest", i)
		}
		leaves[i] = r.Fingerprint
	}
	root, err := merkle.Root(leaves)
	if err != nil {
		t.Fatalf("root: %v", err)
	}
	if root != b.MerkleRoot {
		t.Fatalf("recomputed root %s != %s", root, b.MerkleRoot)
	}
}

func TestEmitRetriesTransientFailures(t *testing.T) {
	e := newTestEmitter(t)
	calls := 0
	e.writeFile = func(path string, data []byte) error {
		calls++
		if calls < 3 {
			return errors.New("disk busy")
		}
		return atomicWrite(path, data)
	}
	retries := 0
	e.OnRetry(func(error, time.Duration) { retries++ })

	if _, err := e.Emit(context.Background(), sampleBatch(t)); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if calls != 3 || retries != 2 {
		t.Fatalf("expected 3 writes and 2 retries, got %d and %d", calls, retries)
	}
}

func TestEmitSurfacesArtifactWriteFailure(t *testing.T) {
	e := newTestEmitter(t)
	e.writeFile = func(string, []byte) error { return errors.New("read-only filesystem") }

	_, err := e.Emit(context.Background(), sampleBatch(t))
	if !errors.Is(err, domain.ErrArtifactWrite) {
		t.Fatalf("expected ErrArtifactWrite, got %v", err)
	}
}

func TestEncodeEmptyBatch(t *testing.T) {
	if _, err := Encode(&domain.Batch{Key: "k"}); !errors.Is(err, domain.ErrEmptyBatch) {
		t.Fatalf("expected ErrEmptyBatch, got %v", err)
	}
}

func TestDecodeRejectsBadHash(t *testing.T) {
	_, err := Decode([]byte(`[{"batch_id":"k","ts":1,"temp":1,"hum":1,"location":"","productName":"","hash":"zz"}]`))
	if err == nil {
		t.Fatalf("expected decode error for bad hash")
	}
}
