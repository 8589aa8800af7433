package pipeline

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ghalamif/ColdAnchor/internal/domain"
	"github.com/ghalamif/ColdAnchor/internal/ports"
)

func TestWaitForWALCapacityBlockThenSucceed(t *testing.T) {
	wal := &sizeWAL{
		sizes: []int64{150, 50},
	}
	pol := ports.Policy{
		MaxWALSizeBytes: 100,
		OnWALFull:       "block",
		IdleSleep:       time.Millisecond,
	}
	obs := &mockObs{}

	if ok := waitForWALCapacity(context.Background(), wal, pol, obs); !ok {
		t.Fatalf("expected waitForWALCapacity to eventually succeed")
	}
	if wal.calls < 2 {
		t.Fatalf("expected multiple stats calls, got %d", wal.calls)
	}
}

func TestWaitForWALCapacityBlockStopsOnCancel(t *testing.T) {
	wal := &sizeWAL{sizes: []int64{200}}
	pol := ports.Policy{MaxWALSizeBytes: 100, OnWALFull: "block", IdleSleep: time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if ok := waitForWALCapacity(ctx, wal, pol, &mockObs{}); ok {
		t.Fatalf("expected cancelled wait to give up")
	}
}

func TestWaitForWALCapacityReject(t *testing.T) {
	wal := &sizeWAL{
		sizes: []int64{200, 200},
	}
	pol := ports.Policy{
		MaxWALSizeBytes: 100,
		OnWALFull:       "reject",
	}
	obs := &mockObs{}

	if ok := waitForWALCapacity(context.Background(), wal, pol, obs); ok {
		t.Fatalf("expected waitForWALCapacity to reject and return false")
	}
	if len(obs.errors) == 0 {
		t.Fatalf("expected error to be logged")
	}
}

func TestEnqueueWithPolicyBlock(t *testing.T) {
	queue := &mockQueue{}
	queue.failures = 1

	pol := ports.Policy{
		OnQueueFull: "block",
		IdleSleep:   time.Millisecond,
	}
	obs := &mockObs{}

	if ok := enqueueWithPolicy(context.Background(), queue, domain.ArtifactHandle{BatchID: "b"}, pol, obs); !ok {
		t.Fatalf("expected enqueue to eventually succeed")
	}
	if queue.calls != 2 {
		t.Fatalf("expected two enqueue attempts, got %d", queue.calls)
	}
}

func TestEnqueueWithPolicyDrop(t *testing.T) {
	queue := &mockQueue{failAlways: true}
	pol := ports.Policy{
		OnQueueFull: "drop",
	}
	obs := &mockObs{}

	if ok := enqueueWithPolicy(context.Background(), queue, domain.ArtifactHandle{BatchID: "b"}, pol, obs); ok {
		t.Fatalf("expected enqueueWithPolicy to fail")
	}
	if len(obs.errors) == 0 {
		t.Fatalf("expected drop to log an error")
	}
}

type sizeWAL struct {
	ports.WAL
	sizes []int64
	calls int
}

func (m *sizeWAL) Stats() ports.WALStats {
	idx := m.calls
	if idx >= len(m.sizes) {
		idx = len(m.sizes) - 1
	}
	m.calls++
	return ports.WALStats{
		SizeBytes: m.sizes[idx],
	}
}

type mockQueue struct {
	failures   int32
	failAlways bool
	calls      int
}

func (m *mockQueue) Enqueue(domain.ArtifactHandle) bool {
	m.calls++
	if m.failAlways {
		return false
	}
	if atomic.LoadInt32(&m.failures) > 0 {
		atomic.AddInt32(&m.failures, -1)
		return false
	}
	return true
}

func (m *mockQueue) DequeueBatch(int) []domain.ArtifactHandle { return nil }
func (m *mockQueue) Len() int                                 { return 0 }
