package metadata

import (
	"context"
	"fmt"
	"sync"

	"github.com/ghalamif/ColdAnchor/internal/domain"
	"github.com/ghalamif/ColdAnchor/internal/ports"
)

// Memory keeps anchor records in a map with the same first-write-wins rule
// as the SQL store.
type Memory struct {
	mu   sync.Mutex
	rows map[string]domain.AnchorRecord
}

func NewMemory() *Memory {
	return &Memory{rows: make(map[string]domain.AnchorRecord)}
}

func (m *Memory) Name() string { return "memory" }

func (m *Memory) SaveBatch(ctx context.Context, rec domain.AnchorRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[rec.BatchKey]; !ok {
		m.rows[rec.BatchKey] = rec
	}
	return nil
}

func (m *Memory) GetBatch(ctx context.Context, batchKey string) (domain.AnchorRecord, error) {
	if err := ctx.Err(); err != nil {
		return domain.AnchorRecord{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.rows[batchKey]
	if !ok {
		return rec, fmt.Errorf("batch %s: %w", batchKey, domain.ErrNotFound)
	}
	return rec, nil
}

var _ ports.MetadataStore = (*Memory)(nil)
