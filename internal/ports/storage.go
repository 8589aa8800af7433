package ports

import (
	"context"
	"io"

	"github.com/ghalamif/ColdAnchor/internal/domain"
)

// ContentStore is a content-addressable backend. Put returns an identifier
// derived from the bytes; Get returns exactly the bytes stored under it.
type ContentStore interface {
	Put(ctx context.Context, name string, r io.Reader) (string, error)
	Get(ctx context.Context, cid string) ([]byte, error)
	Name() string
}

// MetadataStore indexes anchored batches. SaveBatch is a no-op when the batch
// key already exists.
type MetadataStore interface {
	SaveBatch(ctx context.Context, rec domain.AnchorRecord) error
	GetBatch(ctx context.Context, batchKey string) (domain.AnchorRecord, error)
	Name() string
}
