package coldanchor

import (
	"github.com/ghalamif/ColdAnchor/internal/app/pipeline"
	"github.com/ghalamif/ColdAnchor/internal/app/verify"
	"github.com/ghalamif/ColdAnchor/internal/domain"
	"github.com/ghalamif/ColdAnchor/internal/ports"
)

// SensorEvent is one validated reading. Temperature and humidity are kept in
// hundredths.
type SensorEvent = domain.SensorEvent

// HashedRecord is a SensorEvent with its SHA-256 fingerprint.
type HashedRecord = domain.HashedRecord

// Digest is a SHA-256 fingerprint or Merkle root.
type Digest = domain.Digest

// Batch is a sealed group of records sharing a batch key.
type Batch = domain.Batch

// ArtifactHandle addresses an emitted batch artifact on disk.
type ArtifactHandle = domain.ArtifactHandle

// AnchorRecord is the metadata row indexed for each batch key.
type AnchorRecord = domain.AnchorRecord

// AnchorSubmission is what a Ledger receives for one batch.
type AnchorSubmission = domain.AnchorSubmission

// LedgerEntry is one record as anchored on the ledger.
type LedgerEntry = domain.LedgerEntry

// Delivery is one inbound message with its settlement callbacks.
type Delivery = ports.Delivery

// Source streams deliveries from any transport into the pipeline.
type Source = ports.Source

// ContentStore persists artifacts by content address.
type ContentStore = ports.ContentStore

// MetadataStore indexes anchored batches by batch key.
type MetadataStore = ports.MetadataStore

// Ledger anchors batches and returns their history.
type Ledger = ports.Ledger

// DedupIndex remembers fingerprints for global duplicate suppression.
type DedupIndex = ports.DedupIndex

// ArtifactQueue buffers emitted artifacts for publishing.
type ArtifactQueue = ports.ArtifactQueue

// Observability emits logs and metrics about the pipeline.
type Observability = ports.Observability

// Field is a structured log field used by Observability implementations.
type Field = ports.Field

// WAL abstracts the recovery log.
type WAL = ports.WAL

type (
	WALEntry   = ports.WALEntry
	WALEntryID = ports.WALEntryID
	WALStats   = ports.WALStats
)

// StrandedBatch is a sealed batch whose artifact could not be written yet.
type StrandedBatch = pipeline.StrandedBatch

// VerifyReport is the outcome of verifying one batch key.
type VerifyReport = verify.Report
