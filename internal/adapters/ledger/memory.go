package ledger

import (
	"context"
	"sync"

	"github.com/ghalamif/ColdAnchor/internal/domain"
	"github.com/ghalamif/ColdAnchor/internal/ports"
)

// Memory is an append-only ledger held in process memory.
type Memory struct {
	mu       sync.Mutex
	history  map[string][]domain.LedgerEntry
	anchored map[string]domain.Digest
}

func NewMemory() *Memory {
	return &Memory{
		history:  make(map[string][]domain.LedgerEntry),
		anchored: make(map[string]domain.Digest),
	}
}

func (m *Memory) Name() string { return "memory" }

// Submit appends the entries once per batch ID; repeats are no-ops.
func (m *Memory) Submit(ctx context.Context, sub domain.AnchorSubmission) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.anchored[sub.BatchID]; ok {
		return nil
	}
	m.history[sub.BatchKey] = append(m.history[sub.BatchKey], sub.Entries...)
	m.anchored[sub.BatchID] = sub.MerkleRoot
	return nil
}

func (m *Memory) History(ctx context.Context, batchKey string) ([]domain.LedgerEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.history[batchKey]
	out := make([]domain.LedgerEntry, len(h))
	copy(out, h)
	return out, nil
}

// Anchored returns the root recorded for a batch ID.
func (m *Memory) Anchored(batchID string) (domain.Digest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.anchored[batchID]
	return d, ok
}

var _ ports.Ledger = (*Memory)(nil)
