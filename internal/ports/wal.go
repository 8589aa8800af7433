package ports

import (
	"time"

	"github.com/ghalamif/ColdAnchor/internal/domain"
)

type WALEntryID uint64

type WALEntryKind string

const (
	WALRecord    WALEntryKind = "record"
	WALSeal      WALEntryKind = "seal"
	WALEmitted   WALEntryKind = "emitted"
	WALPublished WALEntryKind = "published"
)

// WALEntry is one of:
//   - record: an accepted record for BatchKey
//   - seal: the decision to seal the open records of BatchKey with IDs in
//     [SealedFrom, SealedThrough], stamped SealedAt
//   - emitted: the artifact for that seal is durable
//   - published: the artifact is stored, indexed and anchored
type WALEntry struct {
	Kind          WALEntryKind         `json:"kind"`
	BatchKey      string               `json:"batch_key"`
	Record        *domain.HashedRecord `json:"record,omitempty"`
	SealedFrom    WALEntryID           `json:"sealed_from,omitempty"`
	SealedThrough WALEntryID           `json:"sealed_through,omitempty"`
	SealedAt      time.Time            `json:"sealed_at"`
}

type WAL interface {
	Append(e *WALEntry) (WALEntryID, error)
	Iterate(from WALEntryID, fn func(id WALEntryID, e *WALEntry) error) error
	Commit(upto WALEntryID) error
	TruncateCommitted() error
	Stats() WALStats
	Close() error
}

type WALStats struct {
	OldestUncommitted WALEntryID
	LatestAppended    WALEntryID
	SizeBytes         int64
}
