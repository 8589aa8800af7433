package ports

import "github.com/ghalamif/ColdAnchor/internal/domain"

// DedupIndex remembers fingerprints that already entered a batch. Add is
// called only once the record is durable.
type DedupIndex interface {
	Has(d domain.Digest) (bool, error)
	Add(d domain.Digest) error
	Close() error
}
