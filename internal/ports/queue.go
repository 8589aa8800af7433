package ports

import "github.com/ghalamif/ColdAnchor/internal/domain"

// ArtifactQueue buffers emitted artifacts waiting for storage and anchoring.
type ArtifactQueue interface {
	Enqueue(h domain.ArtifactHandle) bool
	DequeueBatch(max int) []domain.ArtifactHandle
	Len() int
}
