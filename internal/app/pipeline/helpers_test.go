package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ghalamif/ColdAnchor/internal/adapters/queue"
	"github.com/ghalamif/ColdAnchor/internal/adapters/wal"
	"github.com/ghalamif/ColdAnchor/internal/core/emitter"
	"github.com/ghalamif/ColdAnchor/internal/core/retry"
	"github.com/ghalamif/ColdAnchor/internal/core/validate"
	"github.com/ghalamif/ColdAnchor/internal/domain"
	"github.com/ghalamif/ColdAnchor/internal/ports"
)

type mockObs struct {
	mu        sync.Mutex
	errors    []error
	critical  []string
	counters  map[string]float64
	gauges    map[string]float64
	rejected  int
	infoCount int
}

func (m *mockObs) LogInfo(string, ...ports.Field) {
	m.mu.Lock()
	m.infoCount++
	m.mu.Unlock()
}

func (m *mockObs) LogError(_ string, err error, _ ...ports.Field) {
	m.mu.Lock()
	m.errors = append(m.errors, err)
	m.mu.Unlock()
}

func (m *mockObs) LogCritical(msg string, _ error, _ ...ports.Field) {
	m.mu.Lock()
	m.critical = append(m.critical, msg)
	m.mu.Unlock()
}

func (m *mockObs) IncCounter(name string, v float64, labels ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counters == nil {
		m.counters = map[string]float64{}
	}
	if len(labels) > 0 {
		name += "{" + strings.Join(labels, ",") + "}"
	}
	m.counters[name] += v
}

func (m *mockObs) ObserveLatency(string, float64) {}

func (m *mockObs) SetGauge(name string, v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gauges == nil {
		m.gauges = map[string]float64{}
	}
	m.gauges[name] = v
}

func (m *mockObs) RecordRejected(string, error) {
	m.mu.Lock()
	m.rejected++
	m.mu.Unlock()
}

func (m *mockObs) counter(name string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[name]
}

// settlement records how each delivery was settled.
type settlement struct {
	mu       sync.Mutex
	acked    int
	rejected int
	requeued int
}

func (s *settlement) delivery(key, body string) ports.Delivery {
	return ports.Delivery{
		RoutingKey: "coldchain/" + key + "/sensor",
		Body:       []byte(body),
		Ack:        func() error { s.mu.Lock(); s.acked++; s.mu.Unlock(); return nil },
		Reject:     func() error { s.mu.Lock(); s.rejected++; s.mu.Unlock(); return nil },
		Requeue:    func() error { s.mu.Lock(); s.requeued++; s.mu.Unlock(); return nil },
	}
}

func (s *settlement) counts() (acked, rejected, requeued int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acked, s.rejected, s.requeued
}

func event(i int) string {
	ts := time.Date(2025, 7, 31, 1, 56, 14, 0, time.UTC).Add(time.Duration(i) * time.Minute)
	return fmt.Sprintf(`{"temp": %d.5, "hum": %d.25, "ts": %q, "location": "Hebei", "productName": "Beef"}`,
		i, 80+i, ts.Format(time.RFC3339))
}

// chanSource feeds deliveries pushed by a test.
type chanSource struct {
	in      chan ports.Delivery
	stopped chan struct{}
	once    sync.Once
}

func newChanSource() *chanSource {
	return &chanSource{in: make(chan ports.Delivery, 64), stopped: make(chan struct{})}
}

func (c *chanSource) Start(out chan<- ports.Delivery) error {
	go func() {
		for {
			select {
			case <-c.stopped:
				return
			case d := <-c.in:
				select {
				case out <- d:
				case <-c.stopped:
					return
				}
			}
		}
	}()
	return nil
}

func (c *chanSource) Stop() error {
	c.once.Do(func() { close(c.stopped) })
	return nil
}

// flakyEmitter fails the first fails calls.
type flakyEmitter struct {
	mu    sync.Mutex
	inner ArtifactWriter
	fails int
	calls int
}

func (f *flakyEmitter) Emit(ctx context.Context, b *domain.Batch) (domain.ArtifactHandle, error) {
	f.mu.Lock()
	f.calls++
	fail := f.calls <= f.fails
	f.mu.Unlock()
	if fail {
		return domain.ArtifactHandle{}, fmt.Errorf("%w: disk full", domain.ErrArtifactWrite)
	}
	return f.inner.Emit(ctx, b)
}

type harness struct {
	dir    string
	wal    *wal.FileWAL
	emit   *emitter.Emitter
	queue  *queue.MemQueue
	obs    *mockObs
	ingest *Ingest
}

func testPolicy() ports.Policy {
	return ports.Policy{
		FlushThreshold: 4,
		Workers:        2,
		MaxQueueLen:    16,
		MaxBatchSize:   8,
		IdleSleep:      time.Millisecond,
		OnWALFull:      "block",
		OnQueueFull:    "block",
	}
}

func newHarness(t *testing.T, dir string, pol ports.Policy, wrap func(ArtifactWriter) ArtifactWriter) *harness {
	t.Helper()
	w, err := wal.NewFileWAL(dir+"/wal", wal.Options{SyncOnAppend: true})
	if err != nil {
		t.Fatalf("new wal: %v", err)
	}
	em, err := emitter.New(emitter.Config{
		Dir:   dir + "/batches",
		Retry: retry.Policy{MaxTries: 1, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond},
	})
	if err != nil {
		t.Fatalf("new emitter: %v", err)
	}
	var writer ArtifactWriter = em
	if wrap != nil {
		writer = wrap(em)
	}
	h := &harness{dir: dir, wal: w, emit: em, queue: queue.NewMemQueue(pol.MaxQueueLen), obs: &mockObs{}}
	h.ingest = NewIngest(Deps{
		Validator: validate.New(validate.Config{}),
		WAL:       w,
		Emitter:   writer,
		Queue:     h.queue,
		Obs:       h.obs,
	}, pol)
	return h
}

// crash closes the log without any shutdown work, like a killed process.
func (h *harness) crash(t *testing.T) {
	t.Helper()
	if err := h.wal.Close(); err != nil && !errors.Is(err, context.Canceled) {
		t.Fatalf("close wal: %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
