package dedup

import (
	"sync"

	"github.com/ghalamif/ColdAnchor/internal/domain"
	"github.com/ghalamif/ColdAnchor/internal/ports"
)

type MemoryIndex struct {
	mu   sync.RWMutex
	seen map[domain.Digest]struct{}
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{seen: make(map[domain.Digest]struct{})}
}

func (m *MemoryIndex) Has(d domain.Digest) (bool, error) {
	m.mu.RLock()
	_, ok := m.seen[d]
	m.mu.RUnlock()
	return ok, nil
}

func (m *MemoryIndex) Add(d domain.Digest) error {
	m.mu.Lock()
	m.seen[d] = struct{}{}
	m.mu.Unlock()
	return nil
}

func (m *MemoryIndex) Close() error { return nil }

var _ ports.DedupIndex = (*MemoryIndex)(nil)
