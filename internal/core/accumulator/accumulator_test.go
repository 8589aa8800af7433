package accumulator

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ghalamif/ColdAnchor/internal/core/hasher"
	"github.com/ghalamif/ColdAnchor/internal/domain"
	"github.com/ghalamif/ColdAnchor/internal/ports"
)

func record(key string, temp int64) domain.HashedRecord {
	return hasher.Hash(domain.SensorEvent{
		BatchKey:    key,
		Timestamp:   time.Unix(1753926974+temp, 0),
		Temperature: temp,
		Humidity:    8000,
		Location:    "Beijing",
		ProductName: "Beef",
	})
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestAddSealsAtThresholdAndStartsFresh(t *testing.T) {
	acc := New(Config{Threshold: 4})

	temps := []int64{100, 200, 350, 400}
	for i, temp := range temps {
		sealed, err := acc.Add(record("batch321", temp), ports.WALEntryID(i+1))
		if err != nil {
			t.Fatalf("add %d: %v", i, err)
		}
		if i < 3 && sealed != nil {
			t.Fatalf("sealed early at arrival %d", i+1)
		}
		if i == 3 {
			if sealed == nil {
				t.Fatalf("expected seal on 4th arrival")
			}
			if len(sealed.Records) != 4 {
				t.Fatalf("expected 4 records, got %d", len(sealed.Records))
			}
			for j, r := range sealed.Records {
				if r.Temperature != temps[j] {
					t.Fatalf("arrival order lost at %d: %d", j, r.Temperature)
				}
			}
			if sealed.Oldest() != 1 || sealed.Through() != 4 {
				t.Fatalf("unexpected refs oldest=%d through=%d", sealed.Oldest(), sealed.Through())
			}
		}
	}

	if n := acc.Open()["batch321"]; n != 0 {
		t.Fatalf("expected key to be empty after seal, got %d", n)
	}

	sealed, err := acc.Add(record("batch321", 500), 5)
	if err != nil || sealed != nil {
		t.Fatalf("5th arrival should open a new batch: sealed=%v err=%v", sealed, err)
	}
	pending := acc.Pending("batch321")
	if len(pending) != 1 || pending[0].Temperature != 500 {
		t.Fatalf("new batch should only hold the 5th record, got %+v", pending)
	}
}

func TestKeysAreIndependent(t *testing.T) {
	acc := New(Config{Threshold: 2})
	if s, _ := acc.Add(record("a", 1), 1); s != nil {
		t.Fatalf("unexpected seal")
	}
	if s, _ := acc.Add(record("b", 1), 2); s != nil {
		t.Fatalf("records for another key must not count toward a")
	}
	s, _ := acc.Add(record("a", 2), 3)
	if s == nil || s.Key != "a" || len(s.Records) != 2 {
		t.Fatalf("expected a to seal with two records, got %+v", s)
	}
	if acc.Open()["b"] != 1 {
		t.Fatalf("b should still hold one record")
	}
}

func TestConcurrentAddsNeverLoseOrDoubleCount(t *testing.T) {
	const (
		threshold = 7
		writers   = 16
		perWriter = 250
	)
	acc := New(Config{Threshold: threshold})

	var (
		mu      sync.Mutex
		sealed  int
		batches int
		wg      sync.WaitGroup
	)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			key := fmt.Sprintf("key-%d", w%3)
			for i := 0; i < perWriter; i++ {
				s, err := acc.Add(record(key, int64(w*perWriter+i)), ports.WALEntryID(w*perWriter+i+1))
				if err != nil {
					t.Errorf("add: %v", err)
					return
				}
				if s != nil {
					if len(s.Records) != threshold {
						t.Errorf("sealed batch has %d records", len(s.Records))
					}
					mu.Lock()
					sealed += len(s.Records)
					batches++
					mu.Unlock()
				}
			}
		}(w)
	}
	wg.Wait()

	open := 0
	for _, n := range acc.Open() {
		open += n
	}
	if sealed+open != writers*perWriter {
		t.Fatalf("records lost or duplicated: sealed=%d open=%d want=%d", sealed, open, writers*perWriter)
	}
	if batches == 0 {
		t.Fatalf("expected at least one seal")
	}
}

func TestDedupWithinBatch(t *testing.T) {
	acc := New(Config{Threshold: 3, DedupWithinBatch: true})
	r := record("k", 1)
	if _, err := acc.Add(r, 1); err != nil {
		t.Fatalf("first add: %v", err)
	}
	if _, err := acc.Add(r, 2); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if acc.Open()["k"] != 1 {
		t.Fatalf("duplicate must not advance the count")
	}
	acc.Add(record("k", 2), 3)
	s, _ := acc.Add(record("k", 3), 4)
	if s == nil {
		t.Fatalf("expected seal")
	}
	// A sealed batch's fingerprints no longer block the new open batch.
	if _, err := acc.Add(r, 5); err != nil {
		t.Fatalf("record should be accepted in a fresh batch: %v", err)
	}
}

func TestDuplicatesKeptWhenDedupOff(t *testing.T) {
	acc := New(Config{Threshold: 3})
	r := record("k", 1)
	acc.Add(r, 1)
	if _, err := acc.Add(r, 2); err != nil {
		t.Fatalf("dedup off should accept duplicates: %v", err)
	}
	if acc.Open()["k"] != 2 {
		t.Fatalf("expected 2 open records")
	}
}

func TestSealIdle(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 7, 31, 2, 0, 0, 0, time.UTC)}
	acc := New(Config{Threshold: 10, IdleTimeout: time.Minute, Now: clock.Now})

	acc.Add(record("slow", 1), 1)
	acc.Add(record("slow", 2), 2)
	clock.Advance(30 * time.Second)
	acc.Add(record("busy", 1), 3)

	clock.Advance(40 * time.Second)
	sealed := acc.SealIdle()
	if len(sealed) != 1 || sealed[0].Key != "slow" || len(sealed[0].Records) != 2 {
		t.Fatalf("expected only slow to seal, got %+v", sealed)
	}
	if acc.Open()["busy"] != 1 {
		t.Fatalf("busy should still be open")
	}

	// The now-empty slow entry is evicted after another idle period.
	clock.Advance(2 * time.Minute)
	sealed = acc.SealIdle()
	if len(sealed) != 1 || sealed[0].Key != "busy" {
		t.Fatalf("expected busy to seal, got %+v", sealed)
	}
	acc.mu.Lock()
	_, stillThere := acc.entries["slow"]
	acc.mu.Unlock()
	if stillThere {
		t.Fatalf("expected empty idle entry to be evicted")
	}

	if s, err := acc.Add(record("slow", 3), 4); err != nil || s != nil {
		t.Fatalf("add after eviction: %v %v", s, err)
	}
	if acc.Open()["slow"] != 1 {
		t.Fatalf("evicted key should reopen cleanly")
	}
}

func TestSealIdleDisabled(t *testing.T) {
	acc := New(Config{Threshold: 10})
	acc.Add(record("k", 1), 1)
	if s := acc.SealIdle(); s != nil {
		t.Fatalf("idle sealing should be off, got %+v", s)
	}
}

func TestSealedIDsUniqueWithFrozenClock(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 7, 31, 2, 9, 29, 0, time.UTC)}
	acc := New(Config{Threshold: 1, Now: clock.Now})
	a, _ := acc.Add(record("k", 1), 1)
	b, _ := acc.Add(record("k", 2), 2)
	if a.ID() == b.ID() {
		t.Fatalf("expected distinct batch ids, both %s", a.ID())
	}
	if a.ID() != "k_20250731T020929.000000000Z" {
		t.Fatalf("unexpected id %s", a.ID())
	}
}

func TestOldestRef(t *testing.T) {
	acc := New(Config{Threshold: 3})
	if _, ok := acc.OldestRef(); ok {
		t.Fatalf("empty accumulator has no refs")
	}
	acc.Add(record("a", 1), 7)
	acc.Add(record("b", 1), 4)
	acc.Add(record("a", 2), 9)
	if ref, ok := acc.OldestRef(); !ok || ref != 4 {
		t.Fatalf("expected oldest ref 4, got %d %v", ref, ok)
	}
}

func TestContains(t *testing.T) {
	acc := New(Config{Threshold: 2})
	r := record("k", 1)
	if acc.Contains("k", r.Fingerprint) {
		t.Fatalf("empty accumulator reported a fingerprint")
	}
	if _, err := acc.Add(r, 1); err != nil {
		t.Fatalf("add: %v", err)
	}
	if !acc.Contains("k", r.Fingerprint) {
		t.Fatalf("expected open batch to contain the record")
	}
	if acc.Contains("other", r.Fingerprint) {
		t.Fatalf("fingerprint leaked into another key")
	}
	if _, err := acc.Add(record("k", 2), 2); err != nil {
		t.Fatalf("add: %v", err)
	}
	if acc.Contains("k", r.Fingerprint) {
		t.Fatalf("sealed record must no longer count as open")
	}
}
