package ports

import (
	"context"

	"github.com/ghalamif/ColdAnchor/internal/domain"
)

// Ledger anchors batches on an append-only ledger. History returns entries
// for a batch key in submission order.
type Ledger interface {
	Submit(ctx context.Context, sub domain.AnchorSubmission) error
	History(ctx context.Context, batchKey string) ([]domain.LedgerEntry, error)
	Name() string
}
